package engines

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newTestOrchestrator(t *testing.T, cfg RegistryConfig, dispatch DispatchConfig) *Orchestrator {
	t.Helper()
	r := NewRegistry(cfg)
	r.InitializeAll(context.Background())
	t.Cleanup(func() { _ = r.Close() })
	return NewOrchestrator(r, OrchestratorConfig{Dispatch: dispatch, Logger: quietLogger()})
}

func TestOrchestratorRun(t *testing.T) {
	t.Run("all ready engines in dispatch order", func(t *testing.T) {
		cfg, _ := readyConfig()
		o := newTestOrchestrator(t, cfg, DispatchConfig{})

		resp, err := o.Run(context.Background(), Request{ImageID: "hello.png", ImagePath: "/tmp/hello.png"})
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if !resp.RequestSucceeded {
			t.Errorf("RequestSucceeded = false: %s", resp.Error)
		}
		if resp.ImageIdentifier != "hello.png" {
			t.Errorf("ImageIdentifier = %q", resp.ImageIdentifier)
		}
		if resp.ProcessingTimeMs == nil || *resp.ProcessingTimeMs < 0 {
			t.Errorf("ProcessingTimeMs = %v", resp.ProcessingTimeMs)
		}
		if got := resp.Results.Names(); !reflect.DeepEqual(got, DispatchOrder()) {
			t.Errorf("result order = %v, want %v", got, DispatchOrder())
		}
		for _, r := range resp.Results.All() {
			if !r.Succeeded {
				t.Errorf("%s failed: %s", r.Engine, r.ErrorMessage)
			}
			if !strings.Contains(r.FullText, "HELLO") {
				t.Errorf("%s FullText = %q", r.Engine, r.FullText)
			}
		}
		if tr, _ := resp.Results.Get(TrOCR); tr.DetectionCount != 1 {
			t.Errorf("TrOCR DetectionCount = %d, want 1", tr.DetectionCount)
		}
		if err := ValidateResponse(resp); err != nil {
			t.Errorf("ValidateResponse() error = %v", err)
		}
	})

	t.Run("not installed engine is omitted", func(t *testing.T) {
		cfg, _ := readyConfig()
		cfg.Engines[PaddleOCR] = EngineConfig{}
		o := newTestOrchestrator(t, cfg, DispatchConfig{})

		resp, err := o.Run(context.Background(), Request{ImageID: "a.png", ImagePath: "a.png"})
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if !resp.RequestSucceeded {
			t.Error("RequestSucceeded = false")
		}
		if _, ok := resp.Results.Get(PaddleOCR); ok {
			t.Error("PaddleOCR should be absent from results")
		}
		if resp.Results.Len() != 3 {
			t.Errorf("Results.Len() = %d, want 3", resp.Results.Len())
		}
	})

	t.Run("explicit subset runs in dispatch order", func(t *testing.T) {
		cfg, models := readyConfig()
		o := newTestOrchestrator(t, cfg, DispatchConfig{})

		resp, err := o.Run(context.Background(), Request{ImagePath: "a.png", Engines: []Name{EasyOCR, PaddleOCR}})
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if got, want := resp.Results.Names(), []Name{PaddleOCR, EasyOCR}; !reflect.DeepEqual(got, want) {
			t.Errorf("result order = %v, want %v", got, want)
		}
		if models[TrOCR].Calls() != 0 {
			t.Error("TrOCR should not run")
		}
	})

	t.Run("explicit engine that is not ready", func(t *testing.T) {
		cfg, _ := readyConfig()
		cfg.Engines[TrOCR] = EngineConfig{Backend: &MockBackend{LoadErr: errors.New("no weights")}}
		o := newTestOrchestrator(t, cfg, DispatchConfig{})

		resp, err := o.Run(context.Background(), Request{ImagePath: "a.png", Engines: []Name{TrOCR, EasyOCR}})
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if !resp.RequestSucceeded {
			t.Error("engine failure must not fail the request")
		}
		tr, ok := resp.Results.Get(TrOCR)
		if !ok || tr.Succeeded || tr.ErrorMessage != "TrOCR not initialized" || tr.ErrorKind != ErrorKindNotReady {
			t.Errorf("TrOCR result = %+v", tr)
		}
		if ez, _ := resp.Results.Get(EasyOCR); !ez.Succeeded {
			t.Errorf("EasyOCR result = %+v", ez)
		}
	})

	t.Run("every engine fails at runtime", func(t *testing.T) {
		cfg, models := readyConfig()
		for _, m := range models {
			m.PredictErr = errors.New("runtime failure")
		}
		o := newTestOrchestrator(t, cfg, DispatchConfig{})

		resp, err := o.Run(context.Background(), Request{ImagePath: "a.png"})
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if !resp.RequestSucceeded {
			t.Error("RequestSucceeded = false, want true")
		}
		if resp.Results.Len() != 4 {
			t.Errorf("Results.Len() = %d, want 4", resp.Results.Len())
		}
		for _, r := range resp.Results.All() {
			if r.Succeeded {
				t.Errorf("%s succeeded", r.Engine)
			}
		}
	})

	t.Run("invalid engine name", func(t *testing.T) {
		cfg, models := readyConfig()
		o := newTestOrchestrator(t, cfg, DispatchConfig{})

		resp, err := o.Run(context.Background(), Request{ImagePath: "a.png", Engines: []Name{EasyOCR, "EngineZZZ"}})
		if resp != nil {
			t.Error("expected no response")
		}
		re, ok := AsRequestError(err)
		if !ok || re.Kind != KindInvalidEngine {
			t.Fatalf("Run() error = %v, want invalid_engine", err)
		}
		if models[EasyOCR].Calls() != 0 {
			t.Error("no engine should run")
		}
	})

	t.Run("missing image path", func(t *testing.T) {
		cfg, _ := readyConfig()
		o := newTestOrchestrator(t, cfg, DispatchConfig{})
		if _, err := o.Run(context.Background(), Request{}); err == nil {
			t.Error("expected error")
		}
	})

	t.Run("no engines available", func(t *testing.T) {
		r := NewRegistry(RegistryConfig{Logger: quietLogger()})
		r.InitializeAll(context.Background())
		o := NewOrchestrator(r, OrchestratorConfig{Logger: quietLogger()})

		resp, err := o.Run(context.Background(), Request{ImageID: "a.png", ImagePath: "a.png"})
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if resp.RequestSucceeded || resp.Error != ErrNoEnginesAvailable {
			t.Errorf("response = %+v", resp)
		}
		if resp.ProcessingTimeMs != nil {
			t.Error("ProcessingTimeMs should be unset")
		}
		if err := ValidateResponse(resp); err != nil {
			t.Errorf("ValidateResponse() error = %v", err)
		}
	})

	t.Run("timestamp taken from clock", func(t *testing.T) {
		cfg, _ := readyConfig()
		r := NewRegistry(cfg)
		r.InitializeAll(context.Background())
		fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
		o := NewOrchestrator(r, OrchestratorConfig{Logger: quietLogger(), Now: func() time.Time { return fixed }})

		resp, err := o.Run(context.Background(), Request{ImagePath: "a.png"})
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if !resp.Timestamp.Equal(fixed) {
			t.Errorf("Timestamp = %v, want %v", resp.Timestamp, fixed)
		}
	})
}

func TestOrchestratorParallel(t *testing.T) {
	t.Run("same results as sequential", func(t *testing.T) {
		cfg, models := readyConfig()
		for _, m := range models {
			m.Latency = 20 * time.Millisecond
		}
		o := newTestOrchestrator(t, cfg, DispatchConfig{Mode: DispatchParallel, MaxParallel: 4})

		resp, err := o.Run(context.Background(), Request{ImagePath: "a.png"})
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if got := resp.Results.Names(); !reflect.DeepEqual(got, DispatchOrder()) {
			t.Errorf("result order = %v, want %v", got, DispatchOrder())
		}
	})

	t.Run("one failure does not cancel siblings", func(t *testing.T) {
		cfg, models := readyConfig()
		models[PaddleOCR].PredictErr = errors.New("boom")
		models[EasyOCR].Latency = 20 * time.Millisecond
		o := newTestOrchestrator(t, cfg, DispatchConfig{Mode: DispatchParallel, MaxParallel: 2})

		resp, err := o.Run(context.Background(), Request{ImagePath: "a.png"})
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if r, _ := resp.Results.Get(EasyOCR); !r.Succeeded {
			t.Errorf("EasyOCR result = %+v", r)
		}
	})

	t.Run("one call per instance at a time", func(t *testing.T) {
		cfg, models := readyConfig()
		m := models[EasyOCR]
		m.Latency = 10 * time.Millisecond
		o := newTestOrchestrator(t, cfg, DispatchConfig{})

		var failures atomic.Int64
		done := make(chan struct{})
		for i := 0; i < 6; i++ {
			go func() {
				defer func() { done <- struct{}{} }()
				resp, err := o.Run(context.Background(), Request{ImagePath: "a.png", Engines: []Name{EasyOCR}})
				if err != nil || !resp.RequestSucceeded {
					failures.Add(1)
				}
			}()
		}
		for i := 0; i < 6; i++ {
			<-done
		}
		if failures.Load() != 0 {
			t.Errorf("%d requests failed", failures.Load())
		}
		if m.MaxConcurrent() != 1 {
			t.Errorf("MaxConcurrent() = %d, want 1", m.MaxConcurrent())
		}
		if m.Calls() != 6 {
			t.Errorf("Calls() = %d, want 6", m.Calls())
		}
	})
}

func TestOrchestratorRunBatch(t *testing.T) {
	t.Run("too many images", func(t *testing.T) {
		cfg, models := readyConfig()
		o := newTestOrchestrator(t, cfg, DispatchConfig{})

		reqs := make([]Request, 11)
		for i := range reqs {
			reqs[i] = Request{ImageID: fmt.Sprintf("%d.png", i), ImagePath: "a.png"}
		}
		out, err := o.RunBatch(context.Background(), reqs)
		if out != nil {
			t.Error("expected no responses")
		}
		re, ok := AsRequestError(err)
		if !ok || re.Kind != KindBatchTooLarge {
			t.Fatalf("RunBatch() error = %v, want batch_too_large", err)
		}
		for name, m := range models {
			if m.Calls() != 0 {
				t.Errorf("%s ran %d times", name, m.Calls())
			}
		}
	})

	t.Run("one envelope per image in order", func(t *testing.T) {
		cfg, _ := readyConfig()
		o := newTestOrchestrator(t, cfg, DispatchConfig{BatchParallel: 3})

		reqs := make([]Request, 5)
		for i := range reqs {
			reqs[i] = Request{ImageID: fmt.Sprintf("%d.png", i), ImagePath: "a.png", Engines: []Name{EasyOCR}}
		}
		out, err := o.RunBatch(context.Background(), reqs)
		if err != nil {
			t.Fatalf("RunBatch() error = %v", err)
		}
		if len(out) != 5 {
			t.Fatalf("len(out) = %d, want 5", len(out))
		}
		for i, resp := range out {
			if resp.ImageIdentifier != reqs[i].ImageID {
				t.Errorf("out[%d].ImageIdentifier = %q, want %q", i, resp.ImageIdentifier, reqs[i].ImageID)
			}
		}
	})

	t.Run("invalid request rejects whole batch", func(t *testing.T) {
		cfg, models := readyConfig()
		o := newTestOrchestrator(t, cfg, DispatchConfig{})

		_, err := o.RunBatch(context.Background(), []Request{
			{ImagePath: "a.png"},
			{ImagePath: "b.png", Engines: []Name{"Nope"}},
		})
		if err == nil {
			t.Fatal("expected error")
		}
		if models[EasyOCR].Calls() != 0 {
			t.Error("no engine should run")
		}
	})
}

type recordingConverter struct {
	calls   atomic.Int64
	cleaned atomic.Int64
	err     error
}

func (c *recordingConverter) ConvertRGB(path string) (string, func(), error) {
	c.calls.Add(1)
	if c.err != nil {
		return "", nil, c.err
	}
	return path + ".rgb.png", func() { c.cleaned.Add(1) }, nil
}

func TestOrchestratorRGBConversion(t *testing.T) {
	t.Run("only rgb engines get the converted image", func(t *testing.T) {
		cfg, models := readyConfig()
		r := NewRegistry(cfg)
		r.InitializeAll(context.Background())
		conv := &recordingConverter{}
		o := NewOrchestrator(r, OrchestratorConfig{Converter: conv, Logger: quietLogger()})

		if _, err := o.Run(context.Background(), Request{ImagePath: "a.png"}); err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if got := models[TrOCR].Paths(); len(got) != 1 || got[0] != "a.png.rgb.png" {
			t.Errorf("TrOCR paths = %v", got)
		}
		if got := models[EasyOCR].Paths(); len(got) != 1 || got[0] != "a.png" {
			t.Errorf("EasyOCR paths = %v", got)
		}
		if conv.calls.Load() != 1 || conv.cleaned.Load() != 1 {
			t.Errorf("converter calls = %d, cleanups = %d", conv.calls.Load(), conv.cleaned.Load())
		}
	})

	t.Run("conversion failure only fails that engine", func(t *testing.T) {
		cfg, _ := readyConfig()
		r := NewRegistry(cfg)
		r.InitializeAll(context.Background())
		conv := &recordingConverter{err: errors.New("cannot decode image")}
		o := NewOrchestrator(r, OrchestratorConfig{Converter: conv, Logger: quietLogger()})

		resp, err := o.Run(context.Background(), Request{ImagePath: "a.png"})
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if tr, _ := resp.Results.Get(TrOCR); tr.Succeeded || tr.ErrorMessage != "cannot decode image" {
			t.Errorf("TrOCR result = %+v", tr)
		}
		if ez, _ := resp.Results.Get(EasyOCR); !ez.Succeeded {
			t.Errorf("EasyOCR result = %+v", ez)
		}
	})
}

func TestSetDispatch(t *testing.T) {
	r := NewRegistry(RegistryConfig{Logger: quietLogger()})
	o := NewOrchestrator(r, OrchestratorConfig{Logger: quietLogger()})

	if got := o.Dispatch(); got.Mode != DispatchSequential || got.MaxBatch != DefaultMaxBatch {
		t.Errorf("default Dispatch() = %+v", got)
	}
	o.SetDispatch(DispatchConfig{Mode: DispatchParallel, MaxParallel: 2, MaxBatch: 3})
	if got := o.Dispatch(); got.Mode != DispatchParallel || got.MaxParallel != 2 || got.MaxBatch != 3 || got.BatchParallel != 1 {
		t.Errorf("Dispatch() = %+v", got)
	}
}

type recordingObserver struct {
	mu   sync.Mutex
	runs []string
}

func (o *recordingObserver) ObserveEngine(imageID string, res Result, elapsed time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.runs = append(o.runs, fmt.Sprintf("%s/%s/%v", imageID, res.Engine, res.Succeeded))
}

func TestOrchestratorObserver(t *testing.T) {
	cfg, _ := readyConfig()
	r := NewRegistry(cfg)
	r.InitializeAll(context.Background())
	t.Cleanup(func() { _ = r.Close() })

	obs := &recordingObserver{}
	o := NewOrchestrator(r, OrchestratorConfig{Observer: obs, Logger: quietLogger()})
	if _, err := o.Run(context.Background(), Request{
		ImageID: "a.png", ImagePath: "/tmp/a.png", Engines: []Name{EasyOCR, TrOCR},
	}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := []string{"a.png/TrOCR/true", "a.png/EasyOCR/true"}
	if !reflect.DeepEqual(obs.runs, want) {
		t.Errorf("observed = %v, want %v", obs.runs, want)
	}
}
