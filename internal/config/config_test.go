package config

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Nadiam75/snappify/internal/engines"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configFile := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configFile, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return configFile
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if got := cfg.EnabledEngines(); len(got) != 4 || got[0] != engines.PaddleOCR || got[3] != engines.EasyOCR {
		t.Errorf("EnabledEngines() = %v", got)
	}
	paddle, ok := cfg.GetEngine(engines.PaddleOCR)
	if !ok {
		t.Fatal("expected paddleocr engine config")
	}
	if paddle.MinimalParams["lang"] != "en" {
		t.Errorf("expected minimal params with lang, got %v", paddle.MinimalParams)
	}
	if d := cfg.ToDispatch(); d.Mode != engines.DispatchSequential || d.MaxBatch != 10 {
		t.Errorf("ToDispatch() = %+v", d)
	}
}

func TestResolveEnvVars(t *testing.T) {
	t.Run("resolves environment variable", func(t *testing.T) {
		t.Setenv("TEST_S3_KEY", "secret123")

		result := ResolveEnvVars("${TEST_S3_KEY}")
		if result != "secret123" {
			t.Errorf("expected secret123, got %s", result)
		}
	})

	t.Run("returns empty for missing env var", func(t *testing.T) {
		result := ResolveEnvVars("${DEFINITELY_NOT_SET_12345}")
		if result != "" {
			t.Errorf("expected empty string, got %s", result)
		}
	})

	t.Run("leaves literal values unchanged", func(t *testing.T) {
		result := ResolveEnvVars("literal-value")
		if result != "literal-value" {
			t.Errorf("expected literal-value, got %s", result)
		}
	})
}

func TestConfig_ResolvedS3(t *testing.T) {
	t.Setenv("TEST_S3_SECRET", "s3-secret")

	cfg := DefaultConfig()
	cfg.Results.S3 = S3Cfg{Endpoint: "localhost:9000", AccessKey: "literal", SecretKey: "${TEST_S3_SECRET}"}

	s3 := cfg.ResolvedS3()
	if s3.AccessKey != "literal" || s3.SecretKey != "s3-secret" {
		t.Errorf("ResolvedS3() = %+v", s3)
	}
	if cfg.Results.S3.SecretKey != "${TEST_S3_SECRET}" {
		t.Error("ResolvedS3 must not modify the config")
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "parallel mode", mutate: func(c *Config) { c.Dispatch.Mode = "Parallel" }},
		{name: "unknown engine", mutate: func(c *Config) { c.Engines["tesseract"] = EngineCfg{} }, wantErr: true},
		{name: "bad mode", mutate: func(c *Config) { c.Dispatch.Mode = "fanout" }, wantErr: true},
		{name: "negative limit", mutate: func(c *Config) { c.Dispatch.MaxBatch = -1 }, wantErr: true},
		{name: "bad probe", mutate: func(c *Config) { c.Device.Probe = "nvml" }, wantErr: true},
		{name: "s3 without bucket", mutate: func(c *Config) { c.Results.Backend = "s3" }, wantErr: true},
		{name: "bad backend", mutate: func(c *Config) { c.Results.Backend = "redis" }, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRestartRequired(t *testing.T) {
	old := DefaultConfig()
	next := DefaultConfig()
	next.Dispatch.Mode = "parallel"
	if got := RestartRequired(old, next); len(got) != 0 {
		t.Errorf("dispatch change should apply live, got %v", got)
	}

	paddle := next.Engines["paddleocr"]
	paddle.Endpoint = "http://gpu-box:8101"
	next.Engines["paddleocr"] = paddle
	next.Device.ForceCPU = true
	got := RestartRequired(old, next)
	if len(got) != 2 || got[0] != "engines" || got[1] != "device" {
		t.Errorf("RestartRequired() = %v", got)
	}
}

func TestNewManager(t *testing.T) {
	t.Run("loads from config file", func(t *testing.T) {
		configFile := writeConfig(t, `
server:
  port: "9000"
engines:
  trocr:
    enabled: false
dispatch:
  mode: parallel
`)

		mgr, err := NewManager(configFile)
		if err != nil {
			t.Fatalf("failed to create manager: %v", err)
		}

		cfg := mgr.Get()
		if cfg.Server.Port != "9000" {
			t.Errorf("expected port 9000, got %s", cfg.Server.Port)
		}
		if cfg.Server.Host != "0.0.0.0" {
			t.Errorf("expected default host, got %s", cfg.Server.Host)
		}
		trocr, _ := cfg.GetEngine(engines.TrOCR)
		if trocr.Enabled {
			t.Error("expected trocr disabled")
		}
		if trocr.Endpoint != "http://127.0.0.1:8102" {
			t.Errorf("expected default trocr endpoint, got %s", trocr.Endpoint)
		}
		if len(cfg.EnabledEngines()) != 3 {
			t.Errorf("EnabledEngines() = %v", cfg.EnabledEngines())
		}
		if cfg.ToDispatch().Mode != engines.DispatchParallel {
			t.Errorf("expected parallel dispatch, got %s", cfg.Dispatch.Mode)
		}
	})

	t.Run("env overrides file", func(t *testing.T) {
		t.Setenv("SNAPPIFY_SERVER_PORT", "7000")
		configFile := writeConfig(t, "server:\n  port: \"9000\"\n")

		mgr, err := NewManager(configFile)
		if err != nil {
			t.Fatalf("failed to create manager: %v", err)
		}
		if got := mgr.Get().Server.Port; got != "7000" {
			t.Errorf("expected port 7000 from env, got %s", got)
		}
	})

	t.Run("rejects invalid config", func(t *testing.T) {
		configFile := writeConfig(t, "dispatch:\n  mode: fanout\n")
		if _, err := NewManager(configFile); err == nil {
			t.Error("expected error for invalid dispatch mode")
		}
	})
}

func TestManager_OnChange_Multiple(t *testing.T) {
	mgr, err := NewManager(writeConfig(t, "server:\n  port: \"8000\"\n"))
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}

	// Register multiple callbacks
	mgr.OnChange(func(cfg *Config) {})
	mgr.OnChange(func(cfg *Config) {})
	mgr.OnChange(func(cfg *Config) {})

	mgr.mu.RLock()
	if len(mgr.callbacks) != 3 {
		t.Errorf("expected 3 callbacks, got %d", len(mgr.callbacks))
	}
	mgr.mu.RUnlock()
}

func TestManager_Get_ThreadSafe(t *testing.T) {
	mgr, err := NewManager(writeConfig(t, "server:\n  port: \"8000\"\n"))
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}

	// Call Get concurrently to verify no race conditions
	done := make(chan struct{})
	for i := 0; i < 10; i++ {
		go func() {
			for j := 0; j < 100; j++ {
				cfg := mgr.Get()
				_ = cfg.Server.Port
			}
			done <- struct{}{}
		}()
	}

	// Wait for all goroutines
	for i := 0; i < 10; i++ {
		<-done
	}
}

func TestManager_WatchConfig(t *testing.T) {
	configFile := writeConfig(t, "dispatch:\n  mode: sequential\n")

	mgr, err := NewManager(configFile)
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}

	// Track callback invocations
	var callbackCount atomic.Int32
	var lastValue atomic.Value

	mgr.OnChange(func(cfg *Config) {
		callbackCount.Add(1)
		lastValue.Store(cfg.Dispatch.Mode)
	})

	// Start watching
	mgr.WatchConfig()

	// Give fsnotify time to set up the watcher
	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(configFile, []byte("dispatch:\n  mode: parallel\n"), 0644); err != nil {
		t.Fatalf("failed to write updated config file: %v", err)
	}

	// Wait for the watcher to detect the change (fsnotify is async)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if v, _ := lastValue.Load().(string); v == "parallel" {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}

	if callbackCount.Load() == 0 {
		t.Fatal("callback was not invoked after config file change")
	}
	if got := mgr.Get().Dispatch.Mode; got != "parallel" {
		t.Errorf("config not updated: expected parallel, got %s", got)
	}
}

func TestWriteDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := WriteDefault(path); err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}

	mgr, err := NewManager(path)
	if err != nil {
		t.Fatalf("written default does not load: %v", err)
	}
	if got := mgr.Get().Server.Port; got != "8000" {
		t.Errorf("expected port 8000, got %s", got)
	}
	if mgr.ConfigFile() != path {
		t.Errorf("ConfigFile() = %q", mgr.ConfigFile())
	}
}
