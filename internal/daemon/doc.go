// Package daemon coordinates the long-running lostfound process.
//
// It wires the report store, claims ledger, actuator controller and camera
// broker into a single lifecycle with flock-based locking to prevent
// multiple instances, and serves the HTTP API over them. The daemon owns the
// cross-subsystem operations, such as a found report triggering a
// compartment release.
//
// Keep orchestration logic here: storage, dedup, reconciliation and relay
// sequencing live in their own packages while the daemon focuses on startup,
// shutdown, and request handling.
package daemon
