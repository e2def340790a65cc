package config

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"sort"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateEvidence(); err != nil {
		return err
	}
	if err := c.validateActuator(); err != nil {
		return err
	}
	if err := c.validateCamera(); err != nil {
		return err
	}
	if c.Notifications.NtfyTopic != "" {
		if err := validateHTTPURL(c.Notifications.NtfyTopic); err != nil {
			return fmt.Errorf("notifications.ntfy_topic: %w", err)
		}
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		return errors.New("paths.data_dir must be set")
	}
	evidence := strings.TrimSpace(c.Paths.EvidenceDir)
	if evidence == "" {
		return errors.New("paths.evidence_dir must be set")
	}
	// Unreferenced files in evidence_dir are deleted at startup, so it must
	// not hold or enclose anything else the daemon writes.
	guarded := []struct{ key, dir string }{
		{"paths.data_dir", c.Paths.DataDir},
		{"paths.capture_dir", c.Paths.CaptureDir},
		{"paths.log_dir", c.Paths.LogDir},
	}
	if state := strings.TrimSpace(c.Camera.StateFile); state != "" {
		guarded = append(guarded, struct{ key, dir string }{"camera.state_file directory", filepath.Dir(state)})
	}
	for _, g := range guarded {
		if strings.TrimSpace(g.dir) == "" {
			continue
		}
		if pathWithin(g.dir, evidence) {
			return fmt.Errorf("paths.evidence_dir %q must not be or contain %s %q", evidence, g.key, g.dir)
		}
	}
	for _, g := range guarded[1:3] {
		if strings.TrimSpace(g.dir) != "" && pathWithin(evidence, g.dir) {
			return fmt.Errorf("paths.evidence_dir %q must not be inside %s %q", evidence, g.key, g.dir)
		}
	}
	return nil
}

// pathWithin reports whether path equals dir or lies beneath it.
func pathWithin(path, dir string) bool {
	rel, err := filepath.Rel(filepath.Clean(dir), filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

func (c *Config) validateEvidence() error {
	if c.Evidence.MaxFileBytes > c.Evidence.MaxRequestBytes {
		return fmt.Errorf("evidence.max_file_bytes (%d) must not exceed evidence.max_request_bytes (%d)", c.Evidence.MaxFileBytes, c.Evidence.MaxRequestBytes)
	}
	for _, ext := range c.Evidence.AllowedExtensions {
		if strings.ContainsAny(ext, "/\\ ") {
			return fmt.Errorf("evidence.allowed_extensions: invalid extension %q", ext)
		}
	}
	return nil
}

func (c *Config) validateActuator() error {
	if c.Actuator.BaseURL != "" {
		if err := validateHTTPURL(c.Actuator.BaseURL); err != nil {
			return fmt.Errorf("actuator.base_url: %w", err)
		}
	}
	owners := make(map[int]string, len(c.Actuator.Channels))
	names := make([]string, 0, len(c.Actuator.Channels))
	for name := range c.Actuator.Channels {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		channel := c.Actuator.Channels[name]
		if channel <= 0 {
			return fmt.Errorf("actuator.channels.%s must be positive, got %d", name, channel)
		}
		if other, exists := owners[channel]; exists {
			return fmt.Errorf("actuator.channels: channel %d assigned to both %s and %s", channel, other, name)
		}
		owners[channel] = name
	}
	return nil
}

func (c *Config) validateCamera() error {
	if !c.Camera.Enabled {
		return nil
	}
	if c.Camera.SourceURL == "" {
		return nil
	}
	if err := validateHTTPURL(c.Camera.SourceURL); err != nil {
		return fmt.Errorf("camera.source_url: %w", err)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q (expected console or json)", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}

// ValidateSourceURL reports whether value is usable as a camera source.
func ValidateSourceURL(value string) error {
	return validateHTTPURL(strings.TrimSpace(value))
}

func validateHTTPURL(value string) error {
	parsed, err := url.Parse(value)
	if err != nil {
		return fmt.Errorf("parse %q: %w", value, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("unsupported scheme in %q (expected http or https)", value)
	}
	if parsed.Host == "" {
		return fmt.Errorf("missing host in %q", value)
	}
	return nil
}
