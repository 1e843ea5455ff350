package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Nadiam75/snappify/internal/api"
	"github.com/Nadiam75/snappify/internal/config"
	"github.com/Nadiam75/snappify/internal/engines"
	"github.com/Nadiam75/snappify/internal/home"
	"github.com/Nadiam75/snappify/internal/metrics"
	"github.com/Nadiam75/snappify/internal/results"
	"github.com/Nadiam75/snappify/internal/server/endpoints"
	"github.com/Nadiam75/snappify/internal/svcctx"
)

// RequestIDHeader carries the per-request ID in both directions.
const RequestIDHeader = "X-Request-ID"

// Server is the main Snappify HTTP server.
// It owns the engine registry lifecycle: engines are initialized once the
// listener is up and released on shutdown.
type Server struct {
	httpServer   *http.Server
	registry     *engines.Registry
	orchestrator *engines.Orchestrator
	configMgr    *config.Manager
	logger       *slog.Logger

	// services holds all core services for context enrichment
	services *svcctx.Services

	// endpoints registry for HTTP routes
	endpointRegistry *api.Registry
	routes           []api.Route

	mu         sync.RWMutex
	running    bool
	listenAddr string
}

// Config holds server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1)
	Host string
	// Port is the port to listen on (default: 8000)
	Port string
	// Registry holds the OCR engines. Required.
	Registry *engines.Registry
	// Orchestrator runs recognitions. Required.
	Orchestrator *engines.Orchestrator
	// ResultStore persists envelopes (default: discard)
	ResultStore results.Store
	// Metrics holds per-engine run metrics; should be the orchestrator's
	// observer (optional)
	Metrics *metrics.Recorder
	// ConfigManager provides configuration with hot-reload support
	ConfigManager *config.Manager
	// Home is the snappify home directory
	Home *home.Dir
	// UploadDir holds uploads while they are processed (default: system temp)
	UploadDir string
	// MaxUploadBytes bounds a request body (default: 50MB)
	MaxUploadBytes int64
	// SwaggerSpecPath is the path to swagger.json
	SwaggerSpecPath string
	// Logger is the structured logger to use
	Logger *slog.Logger
}

// New creates a new Server with the given configuration.
func New(cfg Config) (*Server, error) {
	if cfg.Registry == nil || cfg.Orchestrator == nil {
		return nil, errors.New("server requires an engine registry and orchestrator")
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == "" {
		cfg.Port = "8000"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ResultStore == nil {
		cfg.ResultStore = results.Nop{}
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 50 << 20
	}

	s := &Server{
		registry:     cfg.Registry,
		orchestrator: cfg.Orchestrator,
		configMgr:    cfg.ConfigManager,
		logger:       cfg.Logger,
	}

	s.services = &svcctx.Services{
		Registry:     cfg.Registry,
		Orchestrator: cfg.Orchestrator,
		ResultStore:  cfg.ResultStore,
		Metrics:      cfg.Metrics,
		Config:       cfg.ConfigManager,
		Logger:       cfg.Logger,
		Home:         cfg.Home,
		UploadDir:    cfg.UploadDir,
	}

	// Dispatch settings apply live; everything else needs a restart.
	if cfg.ConfigManager != nil {
		current := cfg.ConfigManager.Get()
		var cmu sync.Mutex
		cfg.ConfigManager.OnChange(func(c *config.Config) {
			cmu.Lock()
			prev := current
			current = c
			cmu.Unlock()

			s.orchestrator.SetDispatch(c.ToDispatch())
			if changed := config.RestartRequired(prev, c); len(changed) > 0 {
				s.logger.Warn("config changed, restart required to apply", "sections", strings.Join(changed, ","))
			}
		})
	}

	// Create endpoint registry and register all endpoints
	s.endpointRegistry = api.NewRegistry()
	for _, ep := range endpoints.All(endpoints.Config{
		SwaggerSpecPath: cfg.SwaggerSpecPath,
		MaxUploadBytes:  cfg.MaxUploadBytes,
		Routes:          func() []api.Route { return s.routes },
	}) {
		s.endpointRegistry.Register(ep)
	}

	// Set up HTTP server
	mux := http.NewServeMux()
	s.routes = s.endpointRegistry.RegisterRoutes(mux, s.requireInit)
	for _, route := range s.routes {
		s.logger.Debug("route registered", "pattern", route.Pattern(), "gated", route.Gated)
	}

	s.httpServer = &http.Server{
		Addr:        net.JoinHostPort(cfg.Host, cfg.Port),
		Handler:     s.withCORS(s.withServices(mux)),
		ReadTimeout: 60 * time.Second,
		// Every engine may run on a batch of images.
		WriteTimeout: 15 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	return s, nil
}

// Start starts the HTTP server and initializes the engines.
// It blocks until the context is cancelled or an error occurs.
// Health endpoints answer while engines are still loading; engine endpoints
// return 503 until initialization has finished.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("server already running")
	}
	s.running = true
	s.mu.Unlock()

	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		s.setNotRunning()
		return fmt.Errorf("failed to listen on %s: %w", s.httpServer.Addr, err)
	}
	s.mu.Lock()
	s.listenAddr = ln.Addr().String()
	s.mu.Unlock()

	// Start HTTP server in goroutine
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Initialize engines; the registry records per-engine failures itself.
	initDone := make(chan struct{})
	go func() {
		defer close(initDone)
		s.logger.Info("initializing OCR engines")
		start := time.Now()
		s.registry.InitializeAll(ctx)
		s.logInitSummary(time.Since(start))
	}()

	// Wait for context cancellation or error
	select {
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			<-initDone
			_ = s.shutdown()
			return fmt.Errorf("HTTP server error: %w", err)
		}
	}

	<-initDone
	return s.shutdown()
}

func (s *Server) logInitSummary(elapsed time.Duration) {
	ready := 0
	for _, st := range s.registry.Statuses() {
		if st.Initialized {
			ready++
			s.logger.Info("engine ready", "engine", st.Engine, "device", st.Device)
			continue
		}
		s.logger.Warn("engine unavailable", "engine", st.Engine, "status", st.Status, "error", st.Error)
	}
	s.logger.Info("engine initialization complete",
		"ready", ready, "device", s.registry.Device(), "duration_ms", elapsed.Milliseconds())
}

// shutdown stops the HTTP server and releases every engine instance.
func (s *Server) shutdown() error {
	s.logger.Info("shutting down server")

	// Shutdown HTTP server with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}

	s.logger.Info("releasing OCR engines")
	if err := s.registry.Close(); err != nil {
		s.logger.Error("engine release error", "error", err)
	}

	s.setNotRunning()
	s.logger.Info("server stopped")
	return nil
}

func (s *Server) setNotRunning() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// IsRunning returns whether the server is currently running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// ListenAddr returns the bound address once Start is listening, useful
// with port 0.
func (s *Server) ListenAddr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listenAddr
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// withServices wraps a handler to enrich the request context with services
// and a request-scoped logger.
func (s *Server) withServices(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get(RequestIDHeader)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, reqID)

		svc := *s.services
		svc.Logger = s.logger.With("request_id", reqID)
		ctx := svcctx.WithServices(r.Context(), &svc)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// withCORS allows any origin, matching a browser-facing OCR demo.
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "*")
		h.Set("Access-Control-Expose-Headers", RequestIDHeader+", X-Result-ID")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireInit is middleware that ensures the engines have been initialized.
// Returns 503 Service Unavailable until the first initialization pass ends.
func (s *Server) requireInit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.registry.Initialized() {
			err := engines.NewRequestError(engines.KindNoEngines, "OCR models not initialized")
			endpoints.WriteRequestError(w, err)
			return
		}
		next(w, r)
	}
}
