package endpoints

import (
	"net/http"

	"github.com/spf13/cobra"

	"github.com/Nadiam75/snappify/internal/api"
	"github.com/Nadiam75/snappify/version"
)

// ServiceName is reported by the root endpoint.
const ServiceName = "Snappify OCR API"

// InfoResponse describes the service.
type InfoResponse struct {
	Service   string            `json:"service"`
	Version   string            `json:"version"`
	Status    string            `json:"status"`
	Endpoints map[string]string `json:"endpoints"`
}

// RootEndpoint handles GET /.
type RootEndpoint struct{}

var _ api.Endpoint = (*RootEndpoint)(nil)

func (e *RootEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/{$}", e.handler
}

func (e *RootEndpoint) RequiresInit() bool { return false }

// handler godoc
//
//	@Summary		Service information
//	@Description	Service name, version and the main endpoints
//	@Tags			health
//	@Produce		json
//	@Success		200	{object}	InfoResponse
//	@Router			/ [get]
func (e *RootEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, InfoResponse{
		Service: ServiceName,
		Version: version.GitRelease,
		Status:  "running",
		Endpoints: map[string]string{
			"health":    "/health",
			"ready":     "/ready",
			"models":    "/models",
			"ocr":       "/ocr",
			"ocr_batch": "/ocr/batch",
			"results":   "/results",
			"metrics":   "/metrics/summary",
			"docs":      "/swagger",
		},
	})
}

func (e *RootEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show service information",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp InfoResponse
			if err := client.Get(cmd.Context(), "/", &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}
