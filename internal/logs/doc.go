// Package logs reads the daemon log for the `lostfound logs` command and the
// GET /logs endpoint.
//
// Reads are offset based: a negative offset returns the last N lines, and a
// non-negative offset returns everything written after it. Follow mode polls
// until new lines arrive, the wait elapses, or the context ends.
package logs
