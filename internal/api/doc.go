// Package api defines the wire-format types shared by the daemon's HTTP
// server and the CLI client.
//
// # Key Types
//
// ReportRequest/ReportResponse: report submission and the optional release
// sequence it triggered.
//
// ErrorResponse: the uniform error body. Kind is one of the error kinds from
// internal/services so clients can branch without parsing messages.
//
// DaemonStatus: aggregated runtime information including ledger, camera and
// actuator state plus preflight results.
//
// # Converters
//
// ReportRequest.NewReport and IdentityRequest.Parse validate enum strings
// into internal/items values before they reach the store.
//
// # Design Notes
//
// DTOs use camelCase JSON tags. Domain types that already carry camelCase
// tags (store.Report, claims.Claim, actuator.Release) are embedded directly
// rather than mirrored.
package api
