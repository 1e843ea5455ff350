// Package metrics records per-engine recognition timings and outcomes.
package metrics

import "time"

// Error types attached to failed metrics.
const (
	ErrorNotInitialized = "not_initialized"
	ErrorEngine         = "engine_error"
)

// Metric is one engine run on one image.
type Metric struct {
	Engine    string `json:"engine"`
	ImageName string `json:"image_name,omitempty"`

	DetectionCount   int     `json:"detection_count"`
	ExecutionSeconds float64 `json:"execution_seconds"`

	Success   bool   `json:"success"`
	ErrorType string `json:"error_type,omitempty"`
	Error     string `json:"error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}
