package engines

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// MockBackend is a Backend for testing.
type MockBackend struct {
	// Configurable behavior
	LoadErr error
	// RejectParams makes Load fail with ErrParamRejected whenever any of
	// these keys is present in the request params.
	RejectParams []string
	Panic        bool
	Model        *MockModel

	mu    sync.Mutex
	loads []LoadRequest
}

// NewMockBackend creates a backend that returns model on every load.
func NewMockBackend(model *MockModel) *MockBackend {
	return &MockBackend{Model: model}
}

// Load records req and returns the configured model or error.
func (b *MockBackend) Load(ctx context.Context, req LoadRequest) (Model, error) {
	b.mu.Lock()
	b.loads = append(b.loads, req)
	b.mu.Unlock()

	if b.Panic {
		panic("mock backend panic")
	}
	if b.LoadErr != nil {
		return nil, b.LoadErr
	}
	for _, key := range b.RejectParams {
		if _, ok := req.Params[key]; ok {
			return nil, ParamRejectedError("Unknown argument: " + key)
		}
	}
	if b.Model == nil {
		return NewMockModel(json.RawMessage(`[]`)), nil
	}
	return b.Model, nil
}

// Loads returns every load request seen so far.
func (b *MockBackend) Loads() []LoadRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]LoadRequest, len(b.loads))
	copy(out, b.loads)
	return out
}

// MockModel is a Model for testing.
type MockModel struct {
	// Configurable behavior
	Output     json.RawMessage
	PredictErr error
	Latency    time.Duration
	Panic      bool

	// State
	calls    atomic.Int64
	inFlight atomic.Int64
	maxSeen  atomic.Int64
	closed   atomic.Bool

	mu    sync.Mutex
	paths []string
}

// NewMockModel creates a model that returns output on every call.
func NewMockModel(output json.RawMessage) *MockModel {
	return &MockModel{Output: output}
}

// Predict returns the configured output after Latency.
func (m *MockModel) Predict(ctx context.Context, imagePath string) (json.RawMessage, error) {
	m.calls.Add(1)
	n := m.inFlight.Add(1)
	defer m.inFlight.Add(-1)
	for {
		seen := m.maxSeen.Load()
		if n <= seen || m.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}

	m.mu.Lock()
	m.paths = append(m.paths, imagePath)
	m.mu.Unlock()

	if m.Latency > 0 {
		select {
		case <-time.After(m.Latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.Panic {
		panic("mock model panic")
	}
	if m.PredictErr != nil {
		return nil, m.PredictErr
	}
	return m.Output, nil
}

// Close marks the model closed.
func (m *MockModel) Close() error {
	m.closed.Store(true)
	return nil
}

// Calls returns the number of Predict calls.
func (m *MockModel) Calls() int { return int(m.calls.Load()) }

// MaxConcurrent returns the highest number of overlapping Predict calls.
func (m *MockModel) MaxConcurrent() int { return int(m.maxSeen.Load()) }

// Closed reports whether Close was called.
func (m *MockModel) Closed() bool { return m.closed.Load() }

// Paths returns the image paths passed to Predict.
func (m *MockModel) Paths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.paths))
	copy(out, m.paths)
	return out
}

// StaticProber is a DeviceProber with a fixed answer.
type StaticProber struct {
	GPU bool
	Err error
}

func (p StaticProber) ProbeAccelerator(ctx context.Context) (bool, error) {
	return p.GPU, p.Err
}

// Canned native outputs, one per engine, each yielding the word "HELLO".
var (
	MockEasyOCROutput   = json.RawMessage(`[[[[10,10],[90,10],[90,40],[10,40]],"HELLO",0.98]]`)
	MockPaddleOCROutput = json.RawMessage(`[{"rec_texts":["HELLO"],"rec_scores":[0.97],"rec_polys":[[[10,10],[90,10],[90,40],[10,40]]]}]`)
	MockTrOCROutput     = json.RawMessage(`{"text":"HELLO"}`)
	MockSwinOutput      = json.RawMessage(`{"boxes":[[10,10,90,40]],"texts":["HELLO"],"scores":[0.95]}`)
)

// MockOutputFor returns the canned output for name.
func MockOutputFor(name Name) json.RawMessage {
	switch name {
	case EasyOCR:
		return MockEasyOCROutput
	case PaddleOCR:
		return MockPaddleOCROutput
	case TrOCR:
		return MockTrOCROutput
	case SwinTextSpotter:
		return MockSwinOutput
	}
	return nil
}
