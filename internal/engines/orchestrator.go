package engines

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// DispatchMode selects how the engines of one request are scheduled.
type DispatchMode string

const (
	DispatchSequential DispatchMode = "sequential"
	DispatchParallel   DispatchMode = "parallel"
)

// DefaultMaxBatch is the largest number of images accepted in one batch.
const DefaultMaxBatch = 10

// ErrNoEnginesAvailable is the envelope error when nothing is ready to run.
const ErrNoEnginesAvailable = "no OCR engines available"

// ImageConverter produces a decoded RGB copy of an image for engines that
// cannot take the uploaded bytes directly. cleanup removes the copy.
type ImageConverter interface {
	ConvertRGB(path string) (rgbPath string, cleanup func(), err error)
}

// DispatchConfig holds the scheduling knobs that may change at runtime.
type DispatchConfig struct {
	Mode DispatchMode
	// MaxParallel bounds concurrent engine calls per request in parallel mode.
	MaxParallel int
	// MaxBatch bounds the number of images per batch.
	MaxBatch int
	// BatchParallel bounds how many images of a batch run at once.
	BatchParallel int
}

func (c DispatchConfig) withDefaults() DispatchConfig {
	if c.Mode == "" {
		c.Mode = DispatchSequential
	}
	if c.MaxParallel <= 0 {
		c.MaxParallel = len(descriptors)
	}
	if c.MaxBatch <= 0 {
		c.MaxBatch = DefaultMaxBatch
	}
	if c.BatchParallel <= 0 {
		c.BatchParallel = 1
	}
	return c
}

// Observer is told about every engine run.
type Observer interface {
	ObserveEngine(imageID string, res Result, elapsed time.Duration)
}

// OrchestratorConfig configures an Orchestrator.
type OrchestratorConfig struct {
	Dispatch  DispatchConfig
	Converter ImageConverter
	// Observer is optional.
	Observer Observer
	Logger   *slog.Logger
	// Now is the clock; defaults to time.Now.
	Now func() time.Time
}

// Request is one image to recognize.
type Request struct {
	// ImageID is returned unchanged in the envelope.
	ImageID   string
	ImagePath string
	// Engines restricts the run to these engines. Empty means every ready
	// engine.
	Engines []Name
}

// Orchestrator runs engines from a Registry and assembles envelopes.
type Orchestrator struct {
	registry  *Registry
	converter ImageConverter
	observer  Observer
	logger    *slog.Logger
	now       func() time.Time

	mu       sync.RWMutex
	dispatch DispatchConfig
}

// NewOrchestrator creates an orchestrator over registry.
func NewOrchestrator(registry *Registry, cfg OrchestratorConfig) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Orchestrator{
		registry:  registry,
		converter: cfg.Converter,
		observer:  cfg.Observer,
		logger:    logger,
		now:       now,
		dispatch:  cfg.Dispatch.withDefaults(),
	}
}

// Dispatch returns the current scheduling configuration.
func (o *Orchestrator) Dispatch() DispatchConfig {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.dispatch
}

// SetDispatch replaces the scheduling configuration. Requests already
// running keep the configuration they started with.
func (o *Orchestrator) SetDispatch(cfg DispatchConfig) {
	cfg = cfg.withDefaults()
	o.mu.Lock()
	o.dispatch = cfg
	o.mu.Unlock()
	o.logger.Info("dispatch configuration updated",
		"mode", cfg.Mode, "max_parallel", cfg.MaxParallel,
		"max_batch", cfg.MaxBatch, "batch_parallel", cfg.BatchParallel)
}

// Validate checks a request for structural errors without running anything.
func (o *Orchestrator) Validate(req Request) error {
	if strings.TrimSpace(req.ImagePath) == "" {
		return NewRequestError(KindInvalidInput, "image path is required")
	}
	var invalid []string
	for _, name := range req.Engines {
		if !name.Valid() {
			invalid = append(invalid, string(name))
		}
	}
	if len(invalid) > 0 {
		return invalidEngineError(invalid)
	}
	return nil
}

// Run recognizes one image. A returned error is always a *RequestError and
// means no engine ran. Engine failures are reported inside the envelope.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Response, error) {
	if err := o.Validate(req); err != nil {
		return nil, err
	}
	return o.run(ctx, req, o.Dispatch()), nil
}

func (o *Orchestrator) run(ctx context.Context, req Request, cfg DispatchConfig) *Response {
	ts := o.now()

	selected := o.selectEngines(req.Engines)
	if len(selected) == 0 {
		o.logger.Warn("no engines available for request", "image", req.ImageID)
		return FailedResponse(req.ImageID, ts, ErrNoEnginesAvailable)
	}

	in := newImageInputs(req.ImageID, req.ImagePath, o.converter)
	defer in.cleanup()

	results := make([]Result, len(selected))
	start := time.Now()
	if cfg.Mode == DispatchParallel && len(selected) > 1 {
		// Siblings are never cancelled: every goroutine returns nil.
		var g errgroup.Group
		g.SetLimit(cfg.MaxParallel)
		for i, name := range selected {
			g.Go(func() error {
				results[i] = o.runEngine(ctx, name, in)
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for i, name := range selected {
			results[i] = o.runEngine(ctx, name, in)
		}
	}
	elapsed := roundMs(time.Since(start))

	set := NewResultSet()
	for _, r := range results {
		set.Set(r)
	}
	return &Response{
		RequestSucceeded: true,
		ImageIdentifier:  req.ImageID,
		Timestamp:        ts,
		Results:          set,
		ProcessingTimeMs: &elapsed,
	}
}

// selectEngines returns the engines to attempt in dispatch order. An
// explicit list is honored even for engines that are not ready.
func (o *Orchestrator) selectEngines(requested []Name) []Name {
	if len(requested) == 0 {
		return o.registry.Ready()
	}
	want := make(map[Name]bool, len(requested))
	for _, n := range requested {
		want[n] = true
	}
	var out []Name
	for _, d := range descriptors {
		if want[d.Name] {
			out = append(out, d.Name)
		}
	}
	return out
}

// runEngine holds the handle's lock for the duration of the call so one
// instance never serves two recognitions at once.
func (o *Orchestrator) runEngine(ctx context.Context, name Name, in *imageInputs) Result {
	adapter := AdapterFor(name)
	h := o.registry.handle(name)

	start := time.Now()
	var res Result
	if h == nil || h.status != StatusReady {
		res = adapter.Recognize(ctx, nil, in.original)
	} else {
		res = o.recognizeLocked(ctx, h, adapter, in)
	}

	elapsed := time.Since(start)
	o.logger.Debug("engine finished",
		"engine", name, "success", res.Succeeded,
		"regions", res.DetectionCount, "duration_ms", elapsed.Milliseconds())
	if o.observer != nil {
		o.observer.ObserveEngine(in.imageID, res, elapsed)
	}
	return res
}

func (o *Orchestrator) recognizeLocked(ctx context.Context, h *Handle, adapter Adapter, in *imageInputs) Result {
	path := in.original
	if h.desc.Capabilities.RequiresDecodedRGB {
		p, err := in.rgb()
		if err != nil {
			return Failed(h.desc.Name, err.Error())
		}
		path = p
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return adapter.Recognize(ctx, nil, path)
	}
	return adapter.Recognize(ctx, h.instance, path)
}

// RunBatch recognizes several images. The batch is rejected as a whole,
// before any image is processed, when it is too large or any request is
// malformed. Otherwise there is one envelope per request, in input order.
func (o *Orchestrator) RunBatch(ctx context.Context, reqs []Request) ([]*Response, error) {
	cfg := o.Dispatch()
	if len(reqs) == 0 {
		return nil, NewRequestError(KindInvalidInput, "at least one image is required")
	}
	if len(reqs) > cfg.MaxBatch {
		return nil, NewRequestError(KindBatchTooLarge,
			fmt.Sprintf("Maximum %d files per batch", cfg.MaxBatch))
	}
	for _, req := range reqs {
		if err := o.Validate(req); err != nil {
			return nil, err
		}
	}

	out := make([]*Response, len(reqs))
	var g errgroup.Group
	g.SetLimit(cfg.BatchParallel)
	for i, req := range reqs {
		g.Go(func() error {
			out[i] = o.run(ctx, req, cfg)
			return nil
		})
	}
	_ = g.Wait()
	return out, nil
}

func roundMs(d time.Duration) float64 {
	ms := float64(d) / float64(time.Millisecond)
	return math.Round(ms*100) / 100
}

// imageInputs lazily derives the per-engine image variants of one request.
type imageInputs struct {
	imageID   string
	original  string
	converter ImageConverter

	once     sync.Once
	rgbPath  string
	rgbErr   error
	rgbClean func()
}

func newImageInputs(imageID, path string, converter ImageConverter) *imageInputs {
	return &imageInputs{imageID: imageID, original: path, converter: converter}
}

func (in *imageInputs) rgb() (string, error) {
	if in.converter == nil {
		return in.original, nil
	}
	in.once.Do(func() {
		in.rgbPath, in.rgbClean, in.rgbErr = in.converter.ConvertRGB(in.original)
	})
	return in.rgbPath, in.rgbErr
}

func (in *imageInputs) cleanup() {
	if in.rgbClean != nil {
		in.rgbClean()
	}
}
