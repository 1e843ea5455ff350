package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/spf13/cobra"
)

type stubEndpoint struct {
	method, path string
	gated        bool
}

func (e stubEndpoint) Route() (string, string, http.HandlerFunc) {
	return e.method, e.path, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}
}

func (e stubEndpoint) RequiresInit() bool { return e.gated }

func (e stubEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{Use: e.path}
}

func TestRegistry_RegisterRoutes(t *testing.T) {
	r := NewRegistry()
	r.Register(stubEndpoint{method: "GET", path: "/health"})
	r.Register(stubEndpoint{method: "POST", path: "/ocr", gated: true})

	gate := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}

	mux := http.NewServeMux()
	routes := r.RegisterRoutes(mux, gate)
	if len(routes) != 2 || routes[1].Pattern() != "POST /ocr" || !routes[1].Gated || routes[0].Gated {
		t.Fatalf("routes = %+v", routes)
	}

	tests := []struct {
		method, path string
		want         int
	}{
		{"GET", "/health", http.StatusOK},
		{"POST", "/ocr", http.StatusServiceUnavailable},
		{"GET", "/ocr", http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}

	if cmd := r.BuildCommands(func() string { return "" }); len(cmd.Commands()) != 2 {
		t.Errorf("commands = %d, want 2", len(cmd.Commands()))
	}
}
