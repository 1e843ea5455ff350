package engines

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Handle is the runtime state of one engine.
// instance is non-nil iff status is StatusReady.
type Handle struct {
	desc     Descriptor
	status   Status
	initErr  string
	device   Device
	instance Model

	// mu serializes recognition calls on instance and guards closed.
	mu     sync.Mutex
	closed bool
}

// Descriptor returns the engine's static descriptor.
func (h *Handle) Descriptor() Descriptor { return h.desc }

// Status returns the handle's initialization status.
func (h *Handle) Status() Status { return h.status }

// InitError returns the initialization failure message, if any.
func (h *Handle) InitError() string { return h.initErr }

// EngineConfig configures how one engine is constructed.
type EngineConfig struct {
	// Backend constructs the engine. A nil Backend means the engine's
	// library is not installed.
	Backend Backend

	// Disabled engines are never constructed.
	Disabled bool

	// Params is the preferred constructor parameter set.
	Params Params

	// MinimalParams is used once when the preferred set is rejected.
	MinimalParams Params
}

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	Engines map[Name]EngineConfig

	// Prober detects a GPU accelerator. Nil means CPU only.
	Prober DeviceProber

	// ForceCPU skips accelerator probing.
	ForceCPU bool

	Logger *slog.Logger
}

// EngineStatus is a point-in-time view of one handle.
type EngineStatus struct {
	Engine      Name   `json:"engine"`
	Library     string `json:"library"`
	Status      Status `json:"status"`
	Available   bool   `json:"available"`
	Initialized bool   `json:"initialized"`
	Error       string `json:"error,omitempty"`
	Device      Device `json:"device,omitempty"`
}

// Registry owns the engine handles for the lifetime of the process.
type Registry struct {
	cfg    RegistryConfig
	logger *slog.Logger

	// passMu serializes initialization passes.
	passMu sync.Mutex

	mu          sync.RWMutex
	handles     map[Name]*Handle
	device      Device
	initialized bool
}

// NewRegistry creates a registry with every engine uninitialized.
func NewRegistry(cfg RegistryConfig) *Registry {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Engines == nil {
		cfg.Engines = make(map[Name]EngineConfig)
	}

	handles := make(map[Name]*Handle, len(descriptors))
	for _, d := range descriptors {
		handles[d.Name] = &Handle{desc: d, status: StatusUninitialized}
	}

	return &Registry{
		cfg:     cfg,
		logger:  logger,
		handles: handles,
		device:  DeviceCPU,
	}
}

// InitializeAll constructs every configured engine. Each engine is attempted
// independently; a failure is recorded on its handle and does not affect the
// others. Calling it again closes the current instances and performs a fresh
// pass.
func (r *Registry) InitializeAll(ctx context.Context) {
	r.passMu.Lock()
	defer r.passMu.Unlock()

	device := r.probeDevice(ctx)
	r.logger.Info("initializing OCR engines", "device", device)

	next := make(map[Name]*Handle, len(descriptors))
	for _, d := range descriptors {
		next[d.Name] = r.initialize(ctx, d, device)
	}

	r.mu.Lock()
	prev := r.handles
	r.handles = next
	r.device = device
	r.initialized = true
	r.mu.Unlock()

	for _, h := range prev {
		r.closeHandle(h)
	}
}

// probeDevice checks for an accelerator once per pass. A failing probe falls
// back to CPU without recording an error.
func (r *Registry) probeDevice(ctx context.Context) Device {
	if r.cfg.ForceCPU || r.cfg.Prober == nil {
		return DeviceCPU
	}
	ok, err := r.cfg.Prober.ProbeAccelerator(ctx)
	if err != nil {
		r.logger.Debug("accelerator probe failed, using cpu", "error", err)
		return DeviceCPU
	}
	if ok {
		return DeviceCUDA
	}
	return DeviceCPU
}

func (r *Registry) initialize(ctx context.Context, d Descriptor, device Device) *Handle {
	h := &Handle{desc: d}
	cfg := r.cfg.Engines[d.Name]

	switch {
	case cfg.Disabled:
		h.status = StatusNotInstalled
		h.initErr = fmt.Sprintf("%s disabled in configuration", d.Name)
		r.logger.Info("engine disabled", "engine", d.Name)
		return h
	case cfg.Backend == nil:
		h.status = StatusNotInstalled
		h.initErr = fmt.Sprintf("%s library not installed", d.Library)
		r.logger.Warn("engine not installed", "engine", d.Name, "library", d.Library)
		return h
	}

	engineDevice := device
	switch d.Capabilities.Accelerator {
	case AcceleratorNone:
		engineDevice = DeviceCPU
	case AcceleratorRequired:
		if device != DeviceCUDA {
			h.status = StatusInitFailed
			h.initErr = fmt.Sprintf("%s requires a CUDA accelerator, none available", d.Name)
			r.logger.Error("engine initialization failed", "engine", d.Name, "error", h.initErr)
			return h
		}
	}

	start := time.Now()
	model, err := r.load(ctx, d, cfg, engineDevice)
	if err != nil {
		if errors.Is(err, ErrNotInstalled) {
			h.status = StatusNotInstalled
		} else {
			h.status = StatusInitFailed
		}
		h.initErr = err.Error()
		r.logger.Error("engine initialization failed",
			"engine", d.Name, "status", h.status, "error", err)
		return h
	}

	h.status = StatusReady
	h.device = engineDevice
	h.instance = model
	r.logger.Info("engine initialized",
		"engine", d.Name, "device", engineDevice, "duration_ms", time.Since(start).Milliseconds())
	return h
}

// load constructs with the preferred parameters first. Only a parameter
// rejection triggers the single retry with the minimal set.
func (r *Registry) load(ctx context.Context, d Descriptor, cfg EngineConfig, device Device) (Model, error) {
	model, err := safeLoad(ctx, cfg.Backend, LoadRequest{Engine: d.Name, Device: device, Params: cfg.Params})
	if err == nil {
		return model, nil
	}
	if !errors.Is(err, ErrParamRejected) {
		return nil, err
	}

	r.logger.Warn("engine rejected parameters, retrying with minimal set",
		"engine", d.Name, "error", err)
	minimal := cfg.MinimalParams
	if minimal == nil {
		minimal = Params{}
	}
	return safeLoad(ctx, cfg.Backend, LoadRequest{Engine: d.Name, Device: device, Params: minimal})
}

func safeLoad(ctx context.Context, b Backend, req LoadRequest) (m Model, err error) {
	defer func() {
		if p := recover(); p != nil {
			m, err = nil, fmt.Errorf("panic during construction: %v", p)
		}
	}()
	m, err = b.Load(ctx, req)
	if err == nil && m == nil {
		err = errors.New("backend returned no instance")
	}
	return m, err
}

func (r *Registry) handle(name Name) *Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handles[name]
}

// Status returns the status of an engine. Unknown names report
// StatusUninitialized.
func (r *Registry) Status(name Name) Status {
	if h := r.handle(name); h != nil {
		return h.status
	}
	return StatusUninitialized
}

// LastError returns the initialization error for an engine, if any.
func (r *Registry) LastError(name Name) (string, bool) {
	h := r.handle(name)
	if h == nil || h.initErr == "" {
		return "", false
	}
	return h.initErr, true
}

// Acquire returns the engine instance when it is ready, nil otherwise.
func (r *Registry) Acquire(name Name) Model {
	if h := r.handle(name); h != nil && h.status == StatusReady {
		return h.instance
	}
	return nil
}

// Ready returns the ready engines in dispatch order.
func (r *Registry) Ready() []Name {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var names []Name
	for _, d := range descriptors {
		if h := r.handles[d.Name]; h != nil && h.status == StatusReady {
			names = append(names, d.Name)
		}
	}
	return names
}

// Statuses returns the state of every engine in dispatch order.
func (r *Registry) Statuses() []EngineStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]EngineStatus, 0, len(descriptors))
	for _, d := range descriptors {
		h := r.handles[d.Name]
		st := EngineStatus{
			Engine:      d.Name,
			Library:     d.Library,
			Status:      h.status,
			Available:   h.status == StatusReady || h.status == StatusInitFailed,
			Initialized: h.status == StatusReady,
			Error:       h.initErr,
		}
		if h.status == StatusReady {
			st.Device = h.device
		}
		out = append(out, st)
	}
	return out
}

// Initialized reports whether at least one initialization pass completed.
func (r *Registry) Initialized() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.initialized
}

// Device returns the device selected by the last initialization pass.
func (r *Registry) Device() Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.device
}

// Close releases every engine instance.
func (r *Registry) Close() error {
	r.passMu.Lock()
	defer r.passMu.Unlock()

	r.mu.Lock()
	prev := r.handles
	r.handles = make(map[Name]*Handle, len(descriptors))
	for _, d := range descriptors {
		r.handles[d.Name] = &Handle{desc: d, status: StatusUninitialized}
	}
	r.initialized = false
	r.mu.Unlock()

	var errs []error
	for _, h := range prev {
		if err := r.closeHandle(h); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", h.desc.Name, err))
		}
	}
	return errors.Join(errs...)
}

// closeHandle waits for any in-flight recognition before closing.
func (r *Registry) closeHandle(h *Handle) error {
	if h == nil || h.instance == nil {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	if err := h.instance.Close(); err != nil {
		r.logger.Warn("engine close failed", "engine", h.desc.Name, "error", err)
		return err
	}
	return nil
}
