package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Nadiam75/snappify/internal/engines"
	"github.com/Nadiam75/snappify/internal/server/endpoints"
	"github.com/Nadiam75/snappify/internal/testutil"
)

func newTestServer(t *testing.T, model *engines.MockModel) *Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	registry := engines.NewRegistry(engines.RegistryConfig{
		Engines: map[engines.Name]engines.EngineConfig{
			engines.EasyOCR: {Backend: engines.NewMockBackend(model)},
		},
		Logger: logger,
	})
	s, err := New(Config{
		Host:         "127.0.0.1",
		Port:         "0",
		Registry:     registry,
		Orchestrator: engines.NewOrchestrator(registry, engines.OrchestratorConfig{Logger: logger}),
		UploadDir:    t.TempDir(),
		Logger:       logger,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return s
}

func TestNew_RequiresRegistry(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("expected error without registry")
	}
}

func TestServer_RequireInit(t *testing.T) {
	s := newTestServer(t, engines.NewMockModel(engines.MockEasyOCROutput))
	h := s.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/models", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("GET /models before init = %d, want 503", rec.Code)
	}
	var body endpoints.ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body.Error != "OCR models not initialized" {
		t.Errorf("body = %s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("GET /health before init = %d, want 200", rec.Code)
	}

	s.registry.InitializeAll(context.Background())
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/models", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("GET /models after init = %d, want 200", rec.Code)
	}
}

func TestServer_Middleware(t *testing.T) {
	s := newTestServer(t, engines.NewMockModel(engines.MockEasyOCROutput))
	h := s.Handler()

	t.Run("preflight", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/ocr", nil))
		if rec.Code != http.StatusNoContent {
			t.Errorf("OPTIONS status = %d, want 204", rec.Code)
		}
		if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
			t.Error("missing CORS header")
		}
	})

	t.Run("generates request id", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		if rec.Header().Get(RequestIDHeader) == "" {
			t.Error("expected generated request id")
		}
	})

	t.Run("echoes request id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set(RequestIDHeader, "abc-123")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if got := rec.Header().Get(RequestIDHeader); got != "abc-123" {
			t.Errorf("request id = %q, want abc-123", got)
		}
	})
}

func TestServer_StartAndShutdown(t *testing.T) {
	model := engines.NewMockModel(engines.MockEasyOCROutput)
	s := newTestServer(t, model)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for s.ListenAddr() == "" && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if s.ListenAddr() == "" {
		cancel()
		t.Fatal("server never started listening")
	}
	if err := testutil.WaitForReady("http://"+s.ListenAddr(), "/ready", 5*time.Second); err != nil {
		cancel()
		t.Fatal(err)
	}
	if !s.IsRunning() {
		t.Error("IsRunning() = false while serving")
	}

	cancel()
	if err := testutil.WaitForShutdown(done, 10*time.Second); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if s.IsRunning() {
		t.Error("IsRunning() = true after shutdown")
	}
	if !model.Closed() {
		t.Error("engine instance not released on shutdown")
	}
}
