package preflight

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"lostfound/internal/testsupport"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckFreeSpace(t *testing.T) {
	dir := t.TempDir()
	if result := CheckFreeSpace("volume", dir, 1); !result.Passed {
		t.Fatalf("expected pass with 1 byte floor, got: %s", result.Detail)
	}
	if result := CheckFreeSpace("volume", dir, 1<<62); result.Passed {
		t.Fatal("expected failure with impossible floor")
	}
	if result := CheckFreeSpace("volume", filepath.Join(dir, "missing"), 1); result.Passed {
		t.Fatal("expected failure for missing path")
	}
}

func TestCheckRelay(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer good" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	if result := CheckRelay(context.Background(), srv.URL, "good"); !result.Passed {
		t.Fatalf("expected pass, got: %s", result.Detail)
	}
	if result := CheckRelay(context.Background(), srv.URL, "bad"); result.Passed {
		t.Fatal("expected auth failure")
	}
	if result := CheckRelay(context.Background(), "", "good"); result.Passed {
		t.Fatal("expected failure for missing url")
	}
}

func TestCheckCamera(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/text" {
			w.Header().Set("Content-Type", "text/plain")
			_, _ = w.Write([]byte("hi"))
			return
		}
		w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	if result := CheckCamera(context.Background(), srv.URL+"/video"); !result.Passed {
		t.Fatalf("expected pass, got: %s", result.Detail)
	}
	if result := CheckCamera(context.Background(), srv.URL+"/text"); result.Passed {
		t.Fatal("expected failure for non-image content")
	}
}

func TestRunAll_NilConfig(t *testing.T) {
	if results := RunAll(context.Background(), nil); results != nil {
		t.Fatal("expected nil results for nil config")
	}
}

func TestRunAll_MinimalConfig(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Actuator.BaseURL = ""
	cfg.Camera.Enabled = false

	results := RunAll(context.Background(), cfg)
	relayFailed := false
	for _, r := range Failed(results) {
		switch r.Name {
		case "Relay":
			relayFailed = true
		case "Evidence volume":
			// depends on the host's temp filesystem
		default:
			t.Errorf("check %q failed: %s", r.Name, r.Detail)
		}
	}
	if !relayFailed {
		t.Fatal("expected unconfigured relay to fail")
	}
}
