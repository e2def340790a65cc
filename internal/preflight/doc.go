// Package preflight provides readiness checks for the directories and
// upstream devices lostfound depends on.
//
// These checks run in two contexts:
//   - The daemon calls RunAll at startup and logs every failure. Failures do
//     not stop the daemon; the relay or camera may come online later.
//   - The CLI "lostfound status" command runs the same checks locally to
//     display service health.
//
// Each upstream check is gated by its config: an unset relay URL or a
// disabled camera is reported, not probed.
package preflight
