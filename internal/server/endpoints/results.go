package endpoints

import (
	"errors"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/Nadiam75/snappify/internal/api"
	"github.com/Nadiam75/snappify/internal/results"
	"github.com/Nadiam75/snappify/internal/svcctx"
)

// ListResultsResponse is the response for GET /results.
type ListResultsResponse struct {
	Results []results.Summary `json:"results"`
}

// ListResultsEndpoint handles GET /results.
type ListResultsEndpoint struct{}

func (e *ListResultsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/results", e.handler
}

func (e *ListResultsEndpoint) RequiresInit() bool { return false }

// handler godoc
//
//	@Summary		List saved results
//	@Description	Summaries of persisted envelopes, newest first. Empty when persistence is disabled
//	@Tags			results
//	@Produce		json
//	@Success		200	{object}	ListResultsResponse
//	@Failure		500	{object}	ErrorResponse
//	@Router			/results [get]
func (e *ListResultsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	store := svcctx.ResultStoreFrom(r.Context())
	if store == nil {
		writeJSON(w, http.StatusOK, ListResultsResponse{Results: []results.Summary{}})
		return
	}
	list, err := store.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ListResultsResponse{Results: list})
}

func (e *ListResultsEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List saved results",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp ListResultsResponse
			if err := client.Get(cmd.Context(), "/results", &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// GetResultEndpoint handles GET /results/{id}.
type GetResultEndpoint struct{}

func (e *GetResultEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/results/{id}", e.handler
}

func (e *GetResultEndpoint) RequiresInit() bool { return false }

// handler godoc
//
//	@Summary		Get a saved result
//	@Tags			results
//	@Produce		json
//	@Param			id	path		string	true	"Result ID"
//	@Success		200	{object}	results.Record
//	@Failure		404	{object}	ErrorResponse
//	@Failure		500	{object}	ErrorResponse
//	@Router			/results/{id} [get]
func (e *GetResultEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	store := svcctx.ResultStoreFrom(r.Context())
	if store == nil {
		writeError(w, http.StatusNotFound, "result not found: "+id)
		return
	}
	rec, err := store.Get(r.Context(), id)
	if errors.Is(err, results.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (e *GetResultEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Get a saved result by ID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var rec results.Record
			if err := client.Get(cmd.Context(), "/results/"+args[0], &rec); err != nil {
				return err
			}
			return api.Output(rec)
		},
	}
}
