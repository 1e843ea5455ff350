package metrics

import (
	"sync"
	"time"

	"github.com/Nadiam75/snappify/internal/engines"
)

// DefaultCapacity is the number of metrics kept when none is configured.
const DefaultCapacity = 10000

// Recorder keeps the most recent metrics in memory. It implements
// engines.Observer.
type Recorder struct {
	mu    sync.RWMutex
	buf   []Metric
	next  int
	full  bool
	total int
	now   func() time.Time
}

var _ engines.Observer = (*Recorder)(nil)

// NewRecorder creates a recorder holding up to capacity metrics; older
// entries are overwritten.
func NewRecorder(capacity int) *Recorder {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Recorder{buf: make([]Metric, capacity), now: time.Now}
}

// Record appends m, stamping CreatedAt when unset.
func (r *Recorder) Record(m Metric) {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = r.now()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf[r.next] = m
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
	r.total++
}

// ObserveEngine records one engine run.
func (r *Recorder) ObserveEngine(imageID string, res engines.Result, elapsed time.Duration) {
	m := Metric{
		Engine:           string(res.Engine),
		ImageName:        imageID,
		DetectionCount:   res.DetectionCount,
		ExecutionSeconds: elapsed.Seconds(),
		Success:          res.Succeeded,
	}
	if !res.Succeeded {
		m.Error = res.ErrorMessage
		switch res.ErrorKind {
		case engines.ErrorKindNotReady:
			m.ErrorType = ErrorNotInitialized
		default:
			m.ErrorType = ErrorEngine
		}
	}
	r.Record(m)
}

// Total returns how many metrics were ever recorded, including overwritten
// ones.
func (r *Recorder) Total() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.total
}

// snapshot returns the retained metrics, newest first.
func (r *Recorder) snapshot() []Metric {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := r.next
	if r.full {
		n = len(r.buf)
	}
	out := make([]Metric, 0, n)
	for i := 1; i <= n; i++ {
		idx := (r.next - i + len(r.buf)) % len(r.buf)
		out = append(out, r.buf[idx])
	}
	return out
}
