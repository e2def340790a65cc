// Package logging assembles structured slog loggers and attribute helpers used
// across lostfound services.
//
// It owns the console and JSON handlers, level and output plumbing, run log
// retention, and context helpers that tag log lines with request correlation
// ids and claim owners. A no-op logger is provided for tests and wiring code
// that cannot fail.
//
// Prefer these constructors over hand-rolled slog setup so every component
// emits the same field names (component, event_type, error_hint, impact).
package logging
