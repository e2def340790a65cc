// Package notifications pushes operator alerts for locker events via ntfy.
//
// NewService returns a no-op implementation when no topic is configured, so
// callers publish unconditionally. Events cover found items awaiting
// pickup, claims linked to a found item, and relay failures that may leave a
// compartment open.
package notifications
