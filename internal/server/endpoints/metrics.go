package endpoints

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Nadiam75/snappify/internal/api"
	"github.com/Nadiam75/snappify/internal/engines"
	"github.com/Nadiam75/snappify/internal/metrics"
	"github.com/Nadiam75/snappify/internal/svcctx"
)

// ListMetricsResponse is the response for GET /metrics.
type ListMetricsResponse struct {
	Metrics []metrics.Metric `json:"metrics"`
	Total   int              `json:"total"`
}

// ListMetricsEndpoint handles GET /metrics.
type ListMetricsEndpoint struct{}

func (e *ListMetricsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/metrics", e.handler
}

func (e *ListMetricsEndpoint) RequiresInit() bool { return false }

// handler godoc
//
//	@Summary		List engine runs
//	@Description	Recent per-engine recognition metrics, newest first
//	@Tags			metrics
//	@Produce		json
//	@Param			engine	query		string	false	"Engine name"
//	@Param			success	query		bool	false	"Only successful (true) or failed (false) runs"
//	@Param			limit	query		int		false	"Maximum entries (default 100)"
//	@Success		200		{object}	ListMetricsResponse
//	@Failure		400		{object}	ErrorResponse
//	@Router			/metrics [get]
func (e *ListMetricsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	rec := svcctx.MetricsFrom(r.Context())
	if rec == nil {
		writeJSON(w, http.StatusOK, ListMetricsResponse{Metrics: []metrics.Metric{}})
		return
	}

	f, err := metricsFilter(r.URL.Query())
	if err != nil {
		WriteRequestError(w, err)
		return
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	writeJSON(w, http.StatusOK, ListMetricsResponse{Metrics: rec.List(f, limit), Total: rec.Total()})
}

func (e *ListMetricsEndpoint) Command(getServerURL func() string) *cobra.Command {
	var engine string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent engine runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{"limit": {strconv.Itoa(limit)}}
			if engine != "" {
				q.Set("engine", engine)
			}
			client := api.NewClient(getServerURL())
			var resp ListMetricsResponse
			if err := client.Get(cmd.Context(), "/metrics?"+q.Encode(), &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&engine, "engine", "", "Filter by engine")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum entries")
	return cmd
}

// MetricsSummaryResponse is the response for GET /metrics/summary.
type MetricsSummaryResponse struct {
	Engines []metrics.Summary `json:"engines"`
}

// MetricsSummaryEndpoint handles GET /metrics/summary.
type MetricsSummaryEndpoint struct{}

func (e *MetricsSummaryEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/metrics/summary", e.handler
}

func (e *MetricsSummaryEndpoint) RequiresInit() bool { return false }

// handler godoc
//
//	@Summary		Per-engine statistics
//	@Description	Run counts, failures, detections and latency percentiles for every engine
//	@Tags			metrics
//	@Produce		json
//	@Param			engine	query		string	false	"Engine name"
//	@Success		200		{object}	MetricsSummaryResponse
//	@Failure		400		{object}	ErrorResponse
//	@Router			/metrics/summary [get]
func (e *MetricsSummaryEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	rec := svcctx.MetricsFrom(r.Context())
	if rec == nil {
		rec = metrics.NewRecorder(1)
	}
	f, err := metricsFilter(r.URL.Query())
	if err != nil {
		WriteRequestError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, MetricsSummaryResponse{Engines: rec.Summarize(f)})
}

func (e *MetricsSummaryEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "summary",
		Short: "Show per-engine statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp MetricsSummaryResponse
			if err := client.Get(cmd.Context(), "/metrics/summary", &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

func metricsFilter(q url.Values) (metrics.Filter, error) {
	var f metrics.Filter
	if v := q.Get("engine"); v != "" {
		names, err := engines.ParseNames(v)
		if err != nil {
			return f, err
		}
		if len(names) > 0 {
			f.Engine = string(names[0])
		}
	}
	if v := q.Get("success"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return f, engines.NewRequestError(engines.KindInvalidInput, fmt.Sprintf("invalid success value %q", v))
		}
		f.Success = &b
	}
	return f, nil
}
