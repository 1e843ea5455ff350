package modelserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/Nadiam75/snappify/internal/engines"
)

// Backend constructs engine instances on a model server. When a sidecar is
// configured the container is started before the first load.
type Backend struct {
	client       *Client
	library      string
	sidecar      *DockerManager
	readyTimeout time.Duration
	logger       *slog.Logger
}

// BackendConfig configures a Backend.
type BackendConfig struct {
	Client *Client
	// Library names the engine library for not-installed messages.
	Library string
	// Sidecar is optional.
	Sidecar *DockerManager
	// ReadyTimeout bounds how long Load waits for the server to answer
	// health checks. Zero means 30s.
	ReadyTimeout time.Duration
	Logger       *slog.Logger
}

// NewBackend creates a backend for one engine.
func NewBackend(cfg BackendConfig) *Backend {
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Backend{
		client:       cfg.Client,
		library:      cfg.Library,
		sidecar:      cfg.Sidecar,
		readyTimeout: cfg.ReadyTimeout,
		logger:       cfg.Logger,
	}
}

// Load implements engines.Backend.
func (b *Backend) Load(ctx context.Context, req engines.LoadRequest) (engines.Model, error) {
	if b.sidecar != nil {
		if err := b.sidecar.Start(ctx); err != nil {
			if errors.Is(err, ErrImageUnavailable) {
				return nil, engines.NotInstalledError(err.Error())
			}
			return nil, fmt.Errorf("failed to start model server: %w", err)
		}
	}

	info, err := b.waitHealthy(ctx)
	if err != nil {
		return nil, fmt.Errorf("model server %s unreachable: %w", b.client.URL(), err)
	}
	if !info.Installed {
		return nil, engines.NotInstalledError(fmt.Sprintf("%s library not installed", b.library))
	}

	id, err := b.client.Load(ctx, LoadRequest{Device: string(req.Device), Params: req.Params})
	switch {
	case errors.Is(err, ErrLibraryMissing):
		return nil, engines.NotInstalledError(fmt.Sprintf("%s library not installed", b.library))
	case errors.Is(err, ErrRejectedParams):
		return nil, engines.ParamRejectedError(err.Error())
	case err != nil:
		return nil, err
	}

	b.logger.Debug("model loaded",
		"engine", req.Engine, "model_id", id, "library_version", info.Version, "device", req.Device)
	return &model{client: b.client, id: id}, nil
}

// waitHealthy polls the health endpoint once per second until it answers.
func (b *Backend) waitHealthy(ctx context.Context) (*HealthInfo, error) {
	var info *HealthInfo
	attempts := uint(b.readyTimeout / time.Second)
	if attempts == 0 {
		attempts = 1
	}
	err := retry.Do(
		func() error {
			h, err := b.client.Health(ctx)
			if err != nil {
				return err
			}
			info = h
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(1*time.Second),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
	return info, err
}

// model is a loaded instance on a model server.
type model struct {
	client *Client
	id     string
}

func (m *model) Predict(ctx context.Context, imagePath string) (json.RawMessage, error) {
	return m.client.Predict(ctx, m.id, imagePath)
}

func (m *model) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return m.client.Unload(ctx, m.id)
}

// HealthProber detects GPUs by asking model servers which accelerators
// they can see. The first server that answers decides.
type HealthProber struct {
	Clients []*Client
}

// ProbeAccelerator implements engines.DeviceProber.
func (p HealthProber) ProbeAccelerator(ctx context.Context) (bool, error) {
	var errs []error
	for _, c := range p.Clients {
		info, err := c.Health(ctx)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		return len(info.Accelerators) > 0, nil
	}
	if len(errs) == 0 {
		return false, errors.New("no model servers configured")
	}
	return false, errors.Join(errs...)
}
