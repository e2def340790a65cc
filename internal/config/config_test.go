package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"lostfound/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("LOSTFOUND_ACTUATOR_TOKEN", "relay-secret")
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantData := filepath.Join(tempHome, ".local", "share", "lostfound")
	if cfg.Paths.DataDir != wantData {
		t.Fatalf("unexpected data dir: got %q want %q", cfg.Paths.DataDir, wantData)
	}
	if cfg.Paths.EvidenceDir != filepath.Join(wantData, "evidence") {
		t.Fatalf("unexpected evidence dir: %q", cfg.Paths.EvidenceDir)
	}
	if cfg.Camera.StateFile != filepath.Join(wantData, "camera.json") {
		t.Fatalf("unexpected camera state file: %q", cfg.Camera.StateFile)
	}
	if cfg.Paths.APIBind != "127.0.0.1:7490" {
		t.Fatalf("unexpected api bind: %q", cfg.Paths.APIBind)
	}
	if cfg.Actuator.Token != "relay-secret" {
		t.Fatalf("expected actuator token from env, got %q", cfg.Actuator.Token)
	}
	if cfg.Actuator.TimeoutSeconds != 5 || cfg.Actuator.ReleaseWindowSeconds != 10 {
		t.Fatalf("unexpected actuator timings: %+v", cfg.Actuator)
	}
	for name, want := range config.DefaultChannels() {
		if got := cfg.Actuator.Channels[name]; got != want {
			t.Fatalf("channel %s = %d, want %d", name, got, want)
		}
	}
	if cfg.DatabasePath() != filepath.Join(wantData, "lostfound.db") {
		t.Fatalf("unexpected database path: %q", cfg.DatabasePath())
	}
}

func TestLoadCustomPath(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "lostfound.toml")

	type payload struct {
		Paths struct {
			DataDir string `toml:"data_dir"`
		} `toml:"paths"`
		Evidence struct {
			AllowedExtensions []string `toml:"allowed_extensions"`
		} `toml:"evidence"`
		Actuator struct {
			BaseURL  string         `toml:"base_url"`
			Channels map[string]int `toml:"channels"`
		} `toml:"actuator"`
	}
	custom := payload{}
	custom.Paths.DataDir = filepath.Join(tempDir, "data")
	custom.Evidence.AllowedExtensions = []string{".PNG", "jpg", "png", " "}
	custom.Actuator.BaseURL = "http://relay.local:8080/"
	custom.Actuator.Channels = map[string]int{"random": 9}
	data, err := toml.Marshal(custom)
	if err != nil {
		t.Fatalf("marshal custom config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write custom config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected exists to be true")
	}
	if resolved != configPath {
		t.Fatalf("unexpected resolved path: got %q want %q", resolved, configPath)
	}
	if cfg.Paths.EvidenceDir != filepath.Join(tempDir, "data", "evidence") {
		t.Fatalf("expected evidence dir under data dir, got %q", cfg.Paths.EvidenceDir)
	}
	if got := strings.Join(cfg.Evidence.AllowedExtensions, ","); got != "png,jpg" {
		t.Fatalf("unexpected normalized extensions: %q", got)
	}
	if cfg.Actuator.BaseURL != "http://relay.local:8080" {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.Actuator.BaseURL)
	}
	if cfg.Actuator.Channels["random"] != 9 {
		t.Fatalf("expected random channel override, got %d", cfg.Actuator.Channels["random"])
	}
	if cfg.Actuator.Channels["phone"] != 1 {
		t.Fatalf("expected default phone channel retained, got %d", cfg.Actuator.Channels["phone"])
	}
}

func TestEnvTokenDoesNotOverrideFile(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "lostfound.toml")
	contents := "[paths]\ndata_dir = \"" + filepath.ToSlash(tempDir) + "\"\napi_token = \"from-file\"\n"
	if err := os.WriteFile(configPath, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("LOSTFOUND_API_TOKEN", "from-env")

	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Paths.APIToken != "from-file" {
		t.Fatalf("expected file token to win, got %q", cfg.Paths.APIToken)
	}
}

func TestCreateSample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample failed: %v", err)
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	if !strings.Contains(string(contents), "[actuator.channels]") {
		t.Fatalf("sample config missing channel table: %s", contents)
	}

	var cfg config.Config
	if err := toml.Unmarshal(contents, &cfg); err != nil {
		t.Fatalf("unmarshal sample: %v", err)
	}
	if !strings.Contains(cfg.Paths.DataDir, "lostfound") {
		t.Fatalf("expected data dir to contain lostfound, got %q", cfg.Paths.DataDir)
	}
	if cfg.Actuator.Channels["calculator"] != 4 {
		t.Fatalf("expected calculator channel 4 in sample, got %d", cfg.Actuator.Channels["calculator"])
	}
}

func TestValidateDetectsInvalidValues(t *testing.T) {
	cfg := config.Default()
	cfg.Actuator.Channels["wallet"] = 1
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "channel 1") {
		t.Fatalf("expected duplicate channel error, got %v", err)
	}

	cfg = config.Default()
	cfg.Actuator.Channels["phone"] = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for non-positive channel")
	}

	cfg = config.Default()
	cfg.Actuator.BaseURL = "ftp://relay"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unsupported relay scheme")
	}

	cfg = config.Default()
	cfg.Evidence.MaxFileBytes = cfg.Evidence.MaxRequestBytes + 1
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when file limit exceeds request limit")
	}

	cfg = config.Default()
	cfg.Camera.Enabled = true
	cfg.Camera.SourceURL = "not a url"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for invalid camera url")
	}

	cfg = config.Default()
	cfg.Notifications.NtfyTopic = "ntfy.sh/locker"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for ntfy topic without scheme")
	}

	cfg = config.Default()
	cfg.Logging.Format = "xml"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unsupported log format")
	}

	cfg = config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected defaults to validate, got %v", err)
	}
}

func TestValidateRejectsOverlappingEvidenceDir(t *testing.T) {
	base := t.TempDir()
	layout := func() *config.Config {
		cfg := config.Default()
		cfg.Paths.DataDir = filepath.Join(base, "data")
		cfg.Paths.EvidenceDir = filepath.Join(base, "data", "evidence")
		cfg.Paths.CaptureDir = filepath.Join(base, "data", "captures")
		cfg.Paths.LogDir = filepath.Join(base, "logs")
		cfg.Camera.StateFile = filepath.Join(base, "data", "camera.json")
		return cfg
	}
	if err := layout().Validate(); err != nil {
		t.Fatalf("expected standard layout to validate, got %v", err)
	}

	cases := map[string]string{
		"data dir":         filepath.Join(base, "data"),
		"parent of data":   base,
		"log dir":          filepath.Join(base, "logs"),
		"inside log dir":   filepath.Join(base, "logs", "evidence"),
		"capture dir":      filepath.Join(base, "data", "captures"),
		"inside captures":  filepath.Join(base, "data", "captures", "evidence"),
		"filesystem root":  string(filepath.Separator),
		"unclean data dir": filepath.Join(base, "data") + "/./",
	}
	for name, dir := range cases {
		cfg := layout()
		cfg.Paths.EvidenceDir = dir
		if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "paths.evidence_dir") {
			t.Fatalf("%s: expected evidence_dir overlap error, got %v", name, err)
		}
	}

	cfg := layout()
	cfg.Camera.StateFile = filepath.Join(base, "data", "evidence", "camera.json")
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when the camera state file lives in evidence_dir")
	}
}

func TestEnsureDirectories(t *testing.T) {
	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.EvidenceDir = filepath.Join(base, "data", "evidence")
	cfg.Paths.CaptureDir = filepath.Join(base, "data", "captures")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	for _, dir := range []string{cfg.Paths.EvidenceDir, cfg.Paths.CaptureDir, cfg.Paths.LogDir} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Fatalf("expected directory %s, err=%v", dir, err)
		}
	}
}
