package testsupport

import (
	"path/filepath"
	"testing"

	"lostfound/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.EvidenceDir = filepath.Join(base, "data", "evidence")
	cfgVal.Paths.CaptureDir = filepath.Join(base, "data", "captures")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.Camera.StateFile = filepath.Join(base, "data", "camera.json")
	cfgVal.Actuator.ReleaseWindowSeconds = 1

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return builder.cfg
}

// WithActuatorURL points the relay client at a test server.
func WithActuatorURL(url, token string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Actuator.BaseURL = url
		b.cfg.Actuator.Token = token
	}
}

// WithCameraSource enables the frame broker against the given source URL.
func WithCameraSource(url string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Camera.Enabled = true
		b.cfg.Camera.SourceURL = url
		b.cfg.Camera.RetryBackoffMS = 5
		b.cfg.Camera.MaxBackoffMS = 20
	}
}

// WithAPIToken requires bearer authentication on the test API.
func WithAPIToken(token string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Paths.APIToken = token
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
