// Package config loads, normalizes, and validates lostfound configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// LOSTFOUND_ACTUATOR_TOKEN. The Config type centralizes every knob the daemon
// and CLI need: storage directories, evidence limits, the relay channel table,
// and the camera source.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, a complete channel table, and clear validation errors.
package config
