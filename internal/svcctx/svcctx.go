// Package svcctx provides service context for dependency injection via context.
// This package is separate from server to avoid import cycles with endpoints.
package svcctx

import (
	"context"
	"log/slog"

	"github.com/Nadiam75/snappify/internal/config"
	"github.com/Nadiam75/snappify/internal/engines"
	"github.com/Nadiam75/snappify/internal/home"
	"github.com/Nadiam75/snappify/internal/metrics"
	"github.com/Nadiam75/snappify/internal/results"
)

// Services holds all core services that flow through context.
// Components extract what they need via the individual extractors.
type Services struct {
	Registry     *engines.Registry
	Orchestrator *engines.Orchestrator
	ResultStore  results.Store
	Metrics      *metrics.Recorder
	Config       *config.Manager
	Logger       *slog.Logger
	Home         *home.Dir
	// UploadDir holds uploaded images while they are processed.
	UploadDir string
}

type servicesKey struct{}

// WithServices returns a new context with services attached.
func WithServices(ctx context.Context, s *Services) context.Context {
	return context.WithValue(ctx, servicesKey{}, s)
}

// ServicesFrom extracts the full Services struct from context.
// Returns nil if not present.
func ServicesFrom(ctx context.Context) *Services {
	s, _ := ctx.Value(servicesKey{}).(*Services)
	return s
}

// RegistryFrom extracts the engine registry from context.
func RegistryFrom(ctx context.Context) *engines.Registry {
	if s := ServicesFrom(ctx); s != nil {
		return s.Registry
	}
	return nil
}

// OrchestratorFrom extracts the orchestrator from context.
func OrchestratorFrom(ctx context.Context) *engines.Orchestrator {
	if s := ServicesFrom(ctx); s != nil {
		return s.Orchestrator
	}
	return nil
}

// ResultStoreFrom extracts the results store from context.
func ResultStoreFrom(ctx context.Context) results.Store {
	if s := ServicesFrom(ctx); s != nil {
		return s.ResultStore
	}
	return nil
}

// MetricsFrom extracts the metrics recorder from context.
func MetricsFrom(ctx context.Context) *metrics.Recorder {
	if s := ServicesFrom(ctx); s != nil {
		return s.Metrics
	}
	return nil
}

// ConfigFrom extracts the config manager from context.
func ConfigFrom(ctx context.Context) *config.Manager {
	if s := ServicesFrom(ctx); s != nil {
		return s.Config
	}
	return nil
}

// LoggerFrom extracts the logger from context.
func LoggerFrom(ctx context.Context) *slog.Logger {
	if s := ServicesFrom(ctx); s != nil && s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// HomeFrom extracts the home directory from context.
func HomeFrom(ctx context.Context) *home.Dir {
	if s := ServicesFrom(ctx); s != nil {
		return s.Home
	}
	return nil
}

// UploadDirFrom returns the upload directory, empty for the system temp dir.
func UploadDirFrom(ctx context.Context) string {
	if s := ServicesFrom(ctx); s != nil {
		return s.UploadDir
	}
	return ""
}
