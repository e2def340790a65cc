// Package actuator drives the remote relay that locks the item compartments.
//
// Each item category maps to one relay channel. SetChannel issues a single
// HTTP GET of the form {base_url}/external/api/update?V{channel}={0|1}
// authenticated with a static bearer token. ReleaseSequence opens a
// compartment by switching its channel off, then re-locks it after the
// release window on a timer so the triggering request returns immediately.
// Outcomes of the deferred command are logged, counted, and kept per
// category for LastRelease.
package actuator
