package endpoints

import (
	"net/http"

	"github.com/spf13/cobra"

	"github.com/Nadiam75/snappify/internal/api"
	"github.com/Nadiam75/snappify/internal/engines"
	"github.com/Nadiam75/snappify/internal/svcctx"
)

// ModelsEndpoint handles GET /models.
type ModelsEndpoint struct{}

var _ api.Endpoint = (*ModelsEndpoint)(nil)

func (e *ModelsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/models", e.handler
}

func (e *ModelsEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Engine status
//	@Description	Initialization status of every OCR engine, in dispatch order
//	@Tags			models
//	@Produce		json
//	@Success		200	{array}		engines.EngineStatus
//	@Failure		503	{object}	ErrorResponse
//	@Router			/models [get]
func (e *ModelsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	registry := svcctx.RegistryFrom(r.Context())
	if registry == nil {
		writeError(w, http.StatusServiceUnavailable, "engine registry not initialized")
		return
	}
	writeJSON(w, http.StatusOK, registry.Statuses())
}

func (e *ModelsEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "Show OCR engine status",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp []engines.EngineStatus
			if err := client.Get(cmd.Context(), "/models", &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}
