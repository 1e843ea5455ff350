package metrics

import (
	"strings"
	"time"
)

// Filter specifies query filters.
type Filter struct {
	Engine string
	After  time.Time
	Before time.Time
	// Success: nil = any, true = success only, false = errors only
	Success *bool
}

func (f Filter) match(m Metric) bool {
	if f.Engine != "" && !strings.EqualFold(f.Engine, m.Engine) {
		return false
	}
	if !f.After.IsZero() && !m.CreatedAt.After(f.After) {
		return false
	}
	if !f.Before.IsZero() && !m.CreatedAt.Before(f.Before) {
		return false
	}
	if f.Success != nil && m.Success != *f.Success {
		return false
	}
	return true
}

// List returns metrics matching the filter, newest first. A limit of 0
// returns all of them.
func (r *Recorder) List(f Filter, limit int) []Metric {
	var out []Metric
	for _, m := range r.snapshot() {
		if !f.match(m) {
			continue
		}
		out = append(out, m)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	if out == nil {
		out = []Metric{}
	}
	return out
}
