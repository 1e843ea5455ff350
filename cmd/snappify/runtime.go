package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/Nadiam75/snappify/internal/config"
	"github.com/Nadiam75/snappify/internal/engines"
	"github.com/Nadiam75/snappify/internal/home"
	"github.com/Nadiam75/snappify/internal/imageio"
	"github.com/Nadiam75/snappify/internal/metrics"
	"github.com/Nadiam75/snappify/internal/modelserver"
	"github.com/Nadiam75/snappify/internal/results"
)

// ocrRuntime holds everything serve builds from the config.
type ocrRuntime struct {
	registry     *engines.Registry
	orchestrator *engines.Orchestrator
	store        results.Store
	metrics      *metrics.Recorder
	uploadDir    string

	containers []*modelserver.DockerManager
	closers    []io.Closer
	logger     *slog.Logger
}

func buildRuntime(ctx context.Context, h *home.Dir, cfg *config.Config, logger *slog.Logger) (*ocrRuntime, error) {
	rt := &ocrRuntime{logger: logger}

	engineCfgs, clients, err := rt.buildEngines(h, cfg)
	if err != nil {
		rt.Close()
		return nil, err
	}

	prober, err := rt.buildProber(cfg, clients)
	if err != nil {
		rt.Close()
		return nil, err
	}

	rt.store, err = buildResultStore(ctx, h, cfg)
	if err != nil {
		rt.Close()
		return nil, err
	}

	rt.uploadDir = cfg.Server.UploadDir
	if rt.uploadDir == "" {
		rt.uploadDir = h.UploadsPath()
	}
	if err := os.MkdirAll(rt.uploadDir, 0o755); err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}

	rt.registry = engines.NewRegistry(engines.RegistryConfig{
		Engines:  engineCfgs,
		Prober:   prober,
		ForceCPU: cfg.Device.ForceCPU,
		Logger:   logger,
	})
	rt.metrics = metrics.NewRecorder(metrics.DefaultCapacity)
	rt.orchestrator = engines.NewOrchestrator(rt.registry, engines.OrchestratorConfig{
		Dispatch:  cfg.ToDispatch(),
		Converter: imageio.Converter{Dir: rt.uploadDir, MaxPixels: cfg.Server.MaxImagePixels},
		Observer:  rt.metrics,
		Logger:    logger,
	})
	return rt, nil
}

// buildEngines creates a model server backend for every configured engine.
// Engines missing from the config get no backend and report not installed.
func (rt *ocrRuntime) buildEngines(h *home.Dir, cfg *config.Config) (map[engines.Name]engines.EngineConfig, []*modelserver.Client, error) {
	out := make(map[engines.Name]engines.EngineConfig)
	var clients []*modelserver.Client

	for _, name := range engines.DispatchOrder() {
		ec, ok := cfg.GetEngine(name)
		if !ok {
			continue
		}
		if !ec.Enabled {
			out[name] = engines.EngineConfig{Disabled: true}
			continue
		}

		client := modelserver.NewClient(ec.Endpoint, ec.Timeout())
		clients = append(clients, client)

		var sidecar *modelserver.DockerManager
		if ec.Container.Managed {
			mgr, err := newEngineContainer(h, name, ec)
			if err != nil {
				return nil, nil, fmt.Errorf("%s: %w", name, err)
			}
			rt.containers = append(rt.containers, mgr)
			sidecar = mgr
		}

		desc, _ := engines.Lookup(name)
		out[name] = engines.EngineConfig{
			Backend: modelserver.NewBackend(modelserver.BackendConfig{
				Client:       client,
				Library:      desc.Library,
				Sidecar:      sidecar,
				ReadyTimeout: ec.ReadyTimeout(),
				Logger:       rt.logger.With("engine", name),
			}),
			Params:        engines.Params(ec.Params),
			MinimalParams: engines.Params(ec.MinimalParams),
		}
	}
	return out, clients, nil
}

func (rt *ocrRuntime) buildProber(cfg *config.Config, clients []*modelserver.Client) (engines.DeviceProber, error) {
	switch cfg.Device.Probe {
	case "docker":
		p, err := modelserver.NewDockerProber()
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, p)
		return p, nil
	case "none":
		return nil, nil
	default:
		return modelserver.HealthProber{Clients: clients}, nil
	}
}

func buildResultStore(ctx context.Context, h *home.Dir, cfg *config.Config) (results.Store, error) {
	switch cfg.Results.Backend {
	case "file":
		dir := cfg.Results.Dir
		if dir == "" {
			dir = h.ResultsPath()
		}
		return results.NewFileStore(dir)
	case "s3":
		s3 := cfg.ResolvedS3()
		store, err := results.NewS3Store(results.S3Config{
			Endpoint:  s3.Endpoint,
			AccessKey: s3.AccessKey,
			SecretKey: s3.SecretKey,
			Bucket:    s3.Bucket,
			Region:    s3.Region,
			Prefix:    s3.Prefix,
			UseSSL:    s3.UseSSL,
		})
		if err != nil {
			return nil, err
		}
		if err := store.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return store, nil
	default:
		return results.Nop{}, nil
	}
}

// newEngineContainer creates the Docker manager for an engine's model server.
func newEngineContainer(h *home.Dir, name engines.Name, ec config.EngineCfg) (*modelserver.DockerManager, error) {
	cache := ec.Container.Cache
	if cache == "" {
		cache = h.ModelCachePath(string(name))
	}
	if err := os.MkdirAll(cache, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create model cache: %w", err)
	}
	return modelserver.NewDockerManager(modelserver.DockerConfig{
		Engine:       string(name),
		Image:        ec.Container.Image,
		HostPort:     ec.Container.Port,
		GPU:          ec.Container.GPU,
		Env:          ec.Container.Env,
		CachePath:    cache,
		ReadyTimeout: ec.ReadyTimeout(),
	})
}

// Close stops managed model server containers and releases clients.
func (rt *ocrRuntime) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, mgr := range rt.containers {
		if err := mgr.Stop(ctx); err != nil {
			rt.logger.Warn("failed to stop model server", "url", mgr.URL(), "error", err)
		}
		_ = mgr.Close()
	}
	for _, c := range rt.closers {
		_ = c.Close()
	}
}
