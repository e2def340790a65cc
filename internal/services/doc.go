// Package services defines the error taxonomy and request context helpers
// shared by the ledger, reconciliation, actuator, and camera components.
//
// Components tag failures with one of the sentinel markers (ErrValidation,
// ErrNotFound, ErrConflict, ...) via Wrap or by wrapping them in their own
// package-level sentinels. The HTTP layer then maps any error to a status code
// and kind string with HTTPStatus and Kind, without knowing which component
// produced it.
package services
