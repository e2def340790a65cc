package daemonrun

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

func TestEnsureCurrentLogPointerReplacesLink(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "lostfound-a.log")
	second := filepath.Join(dir, "lostfound-b.log")
	for _, path := range []string{first, second} {
		if err := os.WriteFile(path, []byte(filepath.Base(path)), 0o644); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
	}

	current := filepath.Join(dir, "lostfound.log")
	if err := ensureCurrentLogPointer(current, first); err != nil {
		t.Fatalf("first pointer: %v", err)
	}
	if err := ensureCurrentLogPointer(current, second); err != nil {
		t.Fatalf("second pointer: %v", err)
	}
	data, err := os.ReadFile(current)
	if err != nil {
		t.Fatalf("read pointer: %v", err)
	}
	if string(data) != "lostfound-b.log" {
		t.Fatalf("pointer resolves to %q", data)
	}
}

func TestEnsureCurrentLogPointerNoopWithoutDir(t *testing.T) {
	if err := ensureCurrentLogPointer("", "x"); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestWritePIDFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lostfound.pid")
	if err := writePIDFile(path); err != nil {
		t.Fatalf("writePIDFile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read pid: %v", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid != os.Getpid() {
		t.Fatalf("unexpected pid file contents %q", data)
	}
}
