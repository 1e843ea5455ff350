package metrics

import (
	"math"
	"sort"

	"github.com/Nadiam75/snappify/internal/engines"
)

// Summary aggregates metrics for one engine.
type Summary struct {
	Engine       string `json:"engine"`
	Count        int    `json:"count"`
	SuccessCount int    `json:"success_count"`
	ErrorCount   int    `json:"error_count"`
	Detections   int    `json:"detections"`

	// Latency in seconds
	LatencyAvg float64 `json:"latency_avg"`
	LatencyP50 float64 `json:"latency_p50"`
	LatencyP95 float64 `json:"latency_p95"`
	LatencyMax float64 `json:"latency_max"`
}

// Summarize returns a summary for every engine in dispatch order, including
// engines that never ran.
func (r *Recorder) Summarize(f Filter) []Summary {
	byEngine := make(map[string][]Metric)
	for _, m := range r.List(f, 0) {
		byEngine[m.Engine] = append(byEngine[m.Engine], m)
	}

	out := make([]Summary, 0, len(engines.DispatchOrder()))
	for _, name := range engines.DispatchOrder() {
		if f.Engine != "" && !sameEngine(f.Engine, name) {
			continue
		}
		out = append(out, summarize(string(name), byEngine[string(name)]))
	}
	return out
}

func sameEngine(s string, name engines.Name) bool {
	n, err := engines.ParseName(s)
	return err == nil && n == name
}

func summarize(engine string, metrics []Metric) Summary {
	s := Summary{Engine: engine, Count: len(metrics)}
	if len(metrics) == 0 {
		return s
	}

	latencies := make([]float64, 0, len(metrics))
	var sum float64
	for _, m := range metrics {
		if m.Success {
			s.SuccessCount++
		} else {
			s.ErrorCount++
		}
		s.Detections += m.DetectionCount
		latencies = append(latencies, m.ExecutionSeconds)
		sum += m.ExecutionSeconds
	}

	sort.Float64s(latencies)
	s.LatencyAvg = sum / float64(len(latencies))
	s.LatencyP50 = percentile(latencies, 50)
	s.LatencyP95 = percentile(latencies, 95)
	s.LatencyMax = latencies[len(latencies)-1]
	return s
}

// percentile calculates the p-th percentile from a sorted slice of values
// by linear interpolation.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	return sorted[lo] + (rank-float64(lo))*(sorted[hi]-sorted[lo])
}
