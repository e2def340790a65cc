package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeEvidence()
	c.normalizeActuator()
	if err := c.normalizeCamera(); err != nil {
		return err
	}
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.EvidenceDir) == "" {
		c.Paths.EvidenceDir = filepath.Join(c.Paths.DataDir, "evidence")
	}
	if c.Paths.EvidenceDir, err = expandPath(c.Paths.EvidenceDir); err != nil {
		return fmt.Errorf("paths.evidence_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.CaptureDir) == "" {
		c.Paths.CaptureDir = filepath.Join(c.Paths.DataDir, "captures")
	}
	if c.Paths.CaptureDir, err = expandPath(c.Paths.CaptureDir); err != nil {
		return fmt.Errorf("paths.capture_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	if c.Paths.APIToken == "" {
		if value, ok := os.LookupEnv("LOSTFOUND_API_TOKEN"); ok {
			c.Paths.APIToken = strings.TrimSpace(value)
		}
	}
	return nil
}

func (c *Config) normalizeEvidence() {
	if c.Evidence.MaxFileBytes <= 0 {
		c.Evidence.MaxFileBytes = defaultMaxFileBytes
	}
	if c.Evidence.MaxRequestBytes <= 0 {
		c.Evidence.MaxRequestBytes = defaultMaxRequestBytes
	}
	exts := make([]string, 0, len(c.Evidence.AllowedExtensions))
	seen := make(map[string]struct{}, len(c.Evidence.AllowedExtensions))
	for _, ext := range c.Evidence.AllowedExtensions {
		normalized := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(ext)), ".")
		if normalized == "" {
			continue
		}
		if _, exists := seen[normalized]; exists {
			continue
		}
		seen[normalized] = struct{}{}
		exts = append(exts, normalized)
	}
	if len(exts) == 0 {
		exts = DefaultAllowedExtensions()
	}
	c.Evidence.AllowedExtensions = exts
}

func (c *Config) normalizeActuator() {
	c.Actuator.BaseURL = strings.TrimRight(strings.TrimSpace(c.Actuator.BaseURL), "/")
	c.Actuator.Token = strings.TrimSpace(c.Actuator.Token)
	if c.Actuator.Token == "" {
		if value, ok := os.LookupEnv("LOSTFOUND_ACTUATOR_TOKEN"); ok {
			c.Actuator.Token = strings.TrimSpace(value)
		}
	}
	if c.Actuator.TimeoutSeconds <= 0 {
		c.Actuator.TimeoutSeconds = defaultActuatorTimeout
	}
	if c.Actuator.ReleaseWindowSeconds <= 0 {
		c.Actuator.ReleaseWindowSeconds = defaultReleaseWindowSeconds
	}
	// A configured table overrides individual entries; unset categories keep
	// their default channel.
	channels := DefaultChannels()
	for name, channel := range c.Actuator.Channels {
		key := strings.ToLower(strings.TrimSpace(name))
		if key == "" {
			continue
		}
		channels[key] = channel
	}
	c.Actuator.Channels = channels
}

func (c *Config) normalizeCamera() error {
	c.Camera.SourceURL = strings.TrimSpace(c.Camera.SourceURL)
	if c.Camera.RetryBackoffMS <= 0 {
		c.Camera.RetryBackoffMS = defaultCameraBackoffMS
	}
	if c.Camera.MaxBackoffMS <= 0 {
		c.Camera.MaxBackoffMS = defaultCameraMaxBackoffMS
	}
	if c.Camera.MaxBackoffMS < c.Camera.RetryBackoffMS {
		c.Camera.MaxBackoffMS = c.Camera.RetryBackoffMS
	}
	if c.Camera.ReadTimeoutSeconds <= 0 {
		c.Camera.ReadTimeoutSeconds = defaultCameraReadTimeout
	}
	if strings.TrimSpace(c.Camera.StateFile) == "" {
		c.Camera.StateFile = filepath.Join(c.Paths.DataDir, "camera.json")
	}
	var err error
	if c.Camera.StateFile, err = expandPath(c.Camera.StateFile); err != nil {
		return fmt.Errorf("camera.state_file: %w", err)
	}
	return nil
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeoutSeconds <= 0 {
		c.Notifications.RequestTimeoutSeconds = defaultNotifyTimeout
	}
}

func (c *Config) normalizeLogging() {
	format := strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if format == "" {
		format = defaultLogFormat
	}
	c.Logging.Format = format
	level := strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if level == "" {
		level = defaultLogLevel
	}
	c.Logging.Level = level
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}
