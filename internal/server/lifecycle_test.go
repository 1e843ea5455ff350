package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Nadiam75/snappify/internal/engines"
	"github.com/Nadiam75/snappify/internal/modelserver"
	"github.com/Nadiam75/snappify/internal/results"
	"github.com/Nadiam75/snappify/internal/server/endpoints"
	"github.com/Nadiam75/snappify/internal/testutil"
)

// fakeEasyOCRServer answers the model server protocol with one canned
// detection.
func fakeEasyOCRServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/health", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"library":"easyocr","installed":true,"version":"1.7.1"}`))
	})
	mux.HandleFunc("POST /v1/load", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"model_id":"easy-1"}`))
	})
	mux.HandleFunc("POST /v1/predict", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"output":[[[[1,2],[30,2],[30,12],[1,12]],"Total 42",0.91]]}`))
	})
	mux.HandleFunc("POST /v1/unload", func(w http.ResponseWriter, r *http.Request) {})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestServer_FullLifecycle(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	model := fakeEasyOCRServer(t)
	client := modelserver.NewClient(model.URL, 5*time.Second)

	registry := engines.NewRegistry(engines.RegistryConfig{
		Engines: map[engines.Name]engines.EngineConfig{
			engines.EasyOCR: {
				Backend: modelserver.NewBackend(modelserver.BackendConfig{
					Client: client, Library: "easyocr", ReadyTimeout: 5 * time.Second, Logger: logger,
				}),
				Params: engines.Params{"lang_list": []string{"en"}},
			},
		},
		Prober: modelserver.HealthProber{Clients: []*modelserver.Client{client}},
		Logger: logger,
	})
	store, err := results.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	port, err := testutil.FindFreePort()
	if err != nil {
		t.Fatalf("FindFreePort() error = %v", err)
	}
	srv, err := New(Config{
		Host:         "127.0.0.1",
		Port:         port,
		Registry:     registry,
		Orchestrator: engines.NewOrchestrator(registry, engines.OrchestratorConfig{Logger: logger}),
		ResultStore:  store,
		UploadDir:    t.TempDir(),
		Logger:       logger,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()
	starter := testutil.StartServer{Cancel: cancel, Done: done}
	t.Cleanup(starter.Stop)

	url := "http://127.0.0.1:" + port
	if err := testutil.WaitForReady(url, "/ready", 10*time.Second); err != nil {
		t.Fatalf("server did not start: %v", err)
	}

	t.Run("models", func(t *testing.T) {
		resp, err := http.Get(url + "/models")
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		var statuses []engines.EngineStatus
		if err := json.NewDecoder(resp.Body).Decode(&statuses); err != nil {
			t.Fatalf("decode: %v", err)
		}
		for _, s := range statuses {
			if s.Engine == engines.EasyOCR && (!s.Initialized || s.Device != engines.DeviceCPU) {
				t.Errorf("EasyOCR = %+v", s)
			}
		}
	})

	t.Run("ocr", func(t *testing.T) {
		var body bytes.Buffer
		mw := multipart.NewWriter(&body)
		part, _ := mw.CreateFormFile("file", "receipt.jpg")
		part.Write([]byte("fake image bytes"))
		mw.Close()

		resp, err := http.Post(url+"/ocr", mw.FormDataContentType(), &body)
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d", resp.StatusCode)
		}

		var out engines.Response
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			t.Fatalf("decode: %v", err)
		}
		easy, ok := out.Results.Get(engines.EasyOCR)
		if !out.RequestSucceeded || !ok || easy.FullText != "Total 42" || easy.DetectionCount != 1 {
			t.Errorf("response = %+v, EasyOCR = %+v", out, easy)
		}
		if out.ProcessingTimeMs == nil {
			t.Error("processing_time_ms missing")
		}

		id := resp.Header.Get(endpoints.ResultIDHeader)
		if _, err := store.Get(context.Background(), id); err != nil {
			t.Errorf("result %q not saved: %v", id, err)
		}
	})

	cancel()
	if err := testutil.WaitForShutdown(done, 30*time.Second); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	starter.Done = nil
	if srv.IsRunning() {
		t.Error("server still running after shutdown")
	}
}
