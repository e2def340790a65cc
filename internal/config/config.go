package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir     string `toml:"data_dir"`
	EvidenceDir string `toml:"evidence_dir"`
	CaptureDir  string `toml:"capture_dir"`
	LogDir      string `toml:"log_dir"`
	APIBind     string `toml:"api_bind"`
	APIToken    string `toml:"api_token"`
}

// Evidence contains limits applied to uploaded claim images.
type Evidence struct {
	MaxFileBytes      int64    `toml:"max_file_bytes"`
	MaxRequestBytes   int64    `toml:"max_request_bytes"`
	AllowedExtensions []string `toml:"allowed_extensions"`
}

// Actuator contains configuration for the remote relay controlling the
// locker compartments.
type Actuator struct {
	BaseURL              string `toml:"base_url"`
	Token                string `toml:"token"`
	TokenInQuery         bool   `toml:"token_in_query"`
	TimeoutSeconds       int    `toml:"timeout_seconds"`
	ReleaseWindowSeconds int    `toml:"release_window_seconds"`
	// Channels maps an item category to its relay channel number.
	Channels map[string]int `toml:"channels"`
}

// Camera contains configuration for the frame broker.
type Camera struct {
	Enabled            bool   `toml:"enabled"`
	SourceURL          string `toml:"source_url"`
	RetryBackoffMS     int    `toml:"retry_backoff_ms"`
	MaxBackoffMS       int    `toml:"max_backoff_ms"`
	ReadTimeoutSeconds int    `toml:"read_timeout_seconds"`
	// StateFile persists runtime source URL changes. Defaults to
	// <data_dir>/camera.json.
	StateFile string `toml:"state_file"`
}

// Notifications contains ntfy settings for operator alerts.
type Notifications struct {
	NtfyTopic             string `toml:"ntfy_topic"`
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for lostfound.
//
// Configuration sections by subsystem:
//   - Paths: data, evidence, capture and log directories plus the API bind address
//   - Evidence: upload size limits and accepted image extensions
//   - Actuator: relay endpoint, credentials and category channel table
//   - Camera: frame broker source and reconnect backoff
//   - Notifications: ntfy topic for operator alerts
//   - Logging: log format, level, and retention
type Config struct {
	Paths         Paths         `toml:"paths"`
	Evidence      Evidence      `toml:"evidence"`
	Actuator      Actuator      `toml:"actuator"`
	Camera        Camera        `toml:"camera"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/lostfound/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("lostfound.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.EvidenceDir, c.Paths.CaptureDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the SQLite database holding reports and identities.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "lostfound.db")
}

// LedgerPath returns the claims ledger file.
func (c *Config) LedgerPath() string {
	return filepath.Join(c.Paths.DataDir, "claims.json")
}

// LockPath returns the single-instance lock file used by the daemon.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "lostfound.lock")
}

// CurrentLogPath returns the pointer to the active run log, empty when no
// log_dir is configured.
func (c *Config) CurrentLogPath() string {
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		return ""
	}
	return filepath.Join(c.Paths.LogDir, "lostfound.log")
}

// PIDPath returns the daemon pid file location.
func (c *Config) PIDPath() string {
	return filepath.Join(c.Paths.DataDir, "lostfound.pid")
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// SampleConfig returns the embedded sample configuration.
func SampleConfig() string {
	return sampleConfig
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
