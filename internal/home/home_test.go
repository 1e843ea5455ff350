package home

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

func TestNew(t *testing.T) {
	t.Run("with explicit path", func(t *testing.T) {
		dir, err := New("/tmp/test-snappify")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if dir.Path() != "/tmp/test-snappify" {
			t.Errorf("expected path /tmp/test-snappify, got %s", dir.Path())
		}
	})

	t.Run("with empty path uses default", func(t *testing.T) {
		dir, err := New("")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		home, _ := os.UserHomeDir()
		expected := filepath.Join(home, DefaultDirName)
		if dir.Path() != expected {
			t.Errorf("expected path %s, got %s", expected, dir.Path())
		}
	})
}

func TestDir_Paths(t *testing.T) {
	dir, _ := New("/tmp/test-snappify")

	tests := map[string]struct{ got, want string }{
		"ResultsPath":    {dir.ResultsPath(), "/tmp/test-snappify/results"},
		"UploadsPath":    {dir.UploadsPath(), "/tmp/test-snappify/uploads"},
		"ConfigPath":     {dir.ConfigPath(), "/tmp/test-snappify/config.yaml"},
		"PIDPath":        {dir.PIDPath(), "/tmp/test-snappify/snappify.pid"},
		"ModelCachePath": {dir.ModelCachePath("easyocr"), "/tmp/test-snappify/models/easyocr"},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, tt.got)
			}
		})
	}
}

func TestDir_EnsureExists(t *testing.T) {
	dir, err := New(filepath.Join(t.TempDir(), "snappify-test"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dir.Exists() {
		t.Error("expected directory to not exist yet")
	}

	if err := dir.EnsureExists(); err != nil {
		t.Fatalf("failed to ensure exists: %v", err)
	}
	if !dir.Exists() {
		t.Error("expected directory to exist")
	}
	for _, p := range []string{dir.ResultsPath(), dir.UploadsPath()} {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("expected %s to exist: %v", p, err)
		}
	}
	if dir.ConfigExists() {
		t.Error("expected no config file")
	}
}

func TestDir_PID(t *testing.T) {
	dir, _ := New(t.TempDir())

	if _, running := dir.RunningPID(); running {
		t.Error("expected no running server without a pid file")
	}

	// Our own PID counts as not running so a restarted process is not blocked.
	if err := dir.WritePID(); err != nil {
		t.Fatalf("WritePID() error = %v", err)
	}
	if _, running := dir.RunningPID(); running {
		t.Error("own pid should not count as a running server")
	}
	if _, err := os.Stat(dir.PIDPath()); !os.IsNotExist(err) {
		t.Error("expected pid file to be removed")
	}

	// The parent (the test runner) is alive.
	ppid := os.Getppid()
	if err := os.WriteFile(dir.PIDPath(), []byte(strconv.Itoa(ppid)), 0o644); err != nil {
		t.Fatal(err)
	}
	if pid, running := dir.RunningPID(); !running || pid != ppid {
		t.Errorf("RunningPID() = %d, %v, want %d, true", pid, running, ppid)
	}

	dir.RemovePID()
	if _, err := os.Stat(dir.PIDPath()); !os.IsNotExist(err) {
		t.Error("expected pid file to be removed")
	}
}
