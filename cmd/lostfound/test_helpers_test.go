package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"lostfound/internal/actuator"
	"lostfound/internal/camera"
	"lostfound/internal/claims"
	"lostfound/internal/config"
	"lostfound/internal/daemon"
	"lostfound/internal/evidence"
	"lostfound/internal/items"
	"lostfound/internal/metrics"
	"lostfound/internal/reconcile"
	"lostfound/internal/testsupport"
)

const cliToken = "cli-token"

type relayLog struct {
	mu      sync.Mutex
	queries []string
}

func (r *relayLog) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mu.Lock()
	r.queries = append(r.queries, req.URL.RawQuery)
	r.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (r *relayLog) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.queries...)
}

type cliTestEnv struct {
	cfg        *config.Config
	configPath string
	apiURL     string
	relay      *relayLog
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	relay := &relayLog{}
	relaySrv := httptest.NewServer(relay)
	t.Cleanup(relaySrv.Close)

	cfg := testsupport.NewConfig(t,
		testsupport.WithActuatorURL(relaySrv.URL, "relay"),
		testsupport.WithAPIToken(cliToken),
	)
	configPath := filepath.Join(testsupport.BaseDir(cfg), "lostfound.toml")
	writeTestConfig(t, configPath, cfg)

	st := testsupport.MustOpenStore(t, cfg)
	testsupport.MustRegister(t, st, "S1", items.ReporterStudent)
	testsupport.MustRegister(t, st, "T1", items.ReporterStaff)

	storage, err := evidence.NewStorage(cfg.Paths.EvidenceDir)
	if err != nil {
		t.Fatalf("NewStorage: %v", err)
	}
	reg := metrics.New()
	ledger, err := claims.Open(claims.Options{
		Path:              cfg.LedgerPath(),
		Storage:           storage,
		Registry:          st.Identities(),
		Reconciler:        reconcile.NewService(st.Reports(), nil),
		MaxFileBytes:      cfg.Evidence.MaxFileBytes,
		AllowedExtensions: cfg.Evidence.AllowedExtensions,
		Metrics:           reg,
	})
	if err != nil {
		t.Fatalf("claims.Open: %v", err)
	}
	actOpts := actuator.OptionsFromConfig(cfg)
	actOpts.Metrics = reg
	act := actuator.NewController(actOpts)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = act.Shutdown(ctx)
	})
	broker, err := camera.NewBroker(camera.OptionsFromConfig(cfg))
	if err != nil {
		t.Fatalf("NewBroker: %v", err)
	}
	d, err := daemon.New(daemon.Deps{Config: cfg, Store: st, Ledger: ledger, Actuator: act, Camera: broker, Metrics: reg})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	srv := httptest.NewServer(d.Handler())
	t.Cleanup(srv.Close)

	return &cliTestEnv{cfg: cfg, configPath: configPath, apiURL: srv.URL, relay: relay}
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("encode config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func (e *cliTestEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return runCLI(t, append([]string{"--config", e.configPath, "--api", e.apiURL}, args...))
}

func runCLI(t *testing.T, args []string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), err
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
