package endpoints

import (
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/Nadiam75/snappify/internal/api"
	"github.com/Nadiam75/snappify/internal/svcctx"
)

// HealthResponse is the response for GET /health.
type HealthResponse struct {
	Status            string    `json:"status"`
	Timestamp         time.Time `json:"timestamp"`
	ModelsInitialized bool      `json:"models_initialized"`
}

// HealthEndpoint handles GET /health.
type HealthEndpoint struct{}

func (e *HealthEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/health", e.handler
}

func (e *HealthEndpoint) RequiresInit() bool { return false }

// handler godoc
//
//	@Summary		Health check
//	@Description	Reports that the server is responding and whether engine initialization has finished
//	@Tags			health
//	@Produce		json
//	@Success		200	{object}	HealthResponse
//	@Router			/health [get]
func (e *HealthEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "healthy", Timestamp: time.Now()}
	if registry := svcctx.RegistryFrom(r.Context()); registry != nil {
		resp.ModelsInitialized = registry.Initialized()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (e *HealthEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check server health",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp HealthResponse
			if err := client.Get(cmd.Context(), "/health", &resp); err != nil {
				return err
			}
			fmt.Printf("Status:             %s\n", resp.Status)
			fmt.Printf("Models initialized: %t\n", resp.ModelsInitialized)
			return nil
		},
	}
}

// ReadyResponse is the response for GET /ready.
type ReadyResponse struct {
	Status       string `json:"status"`
	Device       string `json:"device,omitempty"`
	ReadyEngines int    `json:"ready_engines"`
}

// ReadyEndpoint handles GET /ready.
type ReadyEndpoint struct{}

func (e *ReadyEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/ready", e.handler
}

func (e *ReadyEndpoint) RequiresInit() bool { return false }

// handler godoc
//
//	@Summary		Readiness check
//	@Description	503 until engine initialization has finished
//	@Tags			health
//	@Produce		json
//	@Success		200	{object}	ReadyResponse
//	@Failure		503	{object}	ReadyResponse
//	@Router			/ready [get]
func (e *ReadyEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	registry := svcctx.RegistryFrom(r.Context())
	if registry == nil || !registry.Initialized() {
		writeJSON(w, http.StatusServiceUnavailable, ReadyResponse{Status: "initializing"})
		return
	}
	writeJSON(w, http.StatusOK, ReadyResponse{
		Status:       "ready",
		Device:       string(registry.Device()),
		ReadyEngines: len(registry.Ready()),
	})
}

func (e *ReadyEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "ready",
		Short: "Check server readiness (engines initialized)",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp ReadyResponse
			if err := client.Get(cmd.Context(), "/ready", &resp); err != nil {
				return err
			}
			fmt.Printf("Status:        %s\n", resp.Status)
			fmt.Printf("Device:        %s\n", resp.Device)
			fmt.Printf("Ready engines: %d\n", resp.ReadyEngines)
			return nil
		},
	}
}
