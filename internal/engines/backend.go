package engines

import (
	"context"
	"encoding/json"
)

// Device is the compute device an engine instance is constructed for.
type Device string

const (
	DeviceCPU  Device = "cpu"
	DeviceCUDA Device = "cuda"
)

// Params are engine constructor parameters. Keys and values are passed to
// the engine's native constructor unchanged.
type Params map[string]any

// LoadRequest describes one construction attempt.
type LoadRequest struct {
	Engine Name
	Device Device
	Params Params
}

// Backend constructs engine instances. Implementations wrap
// ErrNotInstalled when the engine's library is absent and ErrParamRejected
// when a parameter is unknown to the installed library version.
type Backend interface {
	Load(ctx context.Context, req LoadRequest) (Model, error)
}

// Model is a loaded engine instance. Predict returns the engine's native
// output as JSON; the engine's adapter turns it into a Result.
//
// Models are not assumed to be safe for concurrent use.
type Model interface {
	Predict(ctx context.Context, imagePath string) (json.RawMessage, error)
	Close() error
}

// DeviceProber reports whether a GPU accelerator is usable.
type DeviceProber interface {
	ProbeAccelerator(ctx context.Context) (bool, error)
}
