package endpoints

import (
	"github.com/Nadiam75/snappify/internal/api"
)

// Config holds dependencies needed by some endpoints.
type Config struct {
	SwaggerSpecPath string
	MaxUploadBytes  int64
	// Routes reports the registered routes for the generated API document.
	Routes func() []api.Route
}

// All returns all endpoint instances.
func All(cfg Config) []api.Endpoint {
	return []api.Endpoint{
		// Health endpoints
		&RootEndpoint{},
		&HealthEndpoint{},
		&ReadyEndpoint{},

		// Engine endpoints
		&ModelsEndpoint{},
		&OCREndpoint{MaxUploadBytes: cfg.MaxUploadBytes},
		&OCRBatchEndpoint{MaxUploadBytes: cfg.MaxUploadBytes},

		// Result endpoints
		&ListResultsEndpoint{},
		&GetResultEndpoint{},

		// Metrics endpoints
		&ListMetricsEndpoint{},
		&MetricsSummaryEndpoint{},

		// Swagger/OpenAPI endpoints
		&SwaggerEndpoint{SpecPath: cfg.SwaggerSpecPath, Routes: cfg.Routes},
		&SwaggerUIEndpoint{},
	}
}

// ResultCommands returns endpoints for saved result operations.
// This groups result commands under the "results" subcommand.
func ResultCommands() []api.Endpoint {
	return []api.Endpoint{
		&ListResultsEndpoint{},
		&GetResultEndpoint{},
	}
}

// MetricsCommands returns endpoints for engine run metrics.
// This groups metric commands under the "metrics" subcommand.
func MetricsCommands() []api.Endpoint {
	return []api.Endpoint{
		&ListMetricsEndpoint{},
		&MetricsSummaryEndpoint{},
	}
}
