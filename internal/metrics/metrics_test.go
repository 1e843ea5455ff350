package metrics

import (
	"math"
	"testing"
	"time"

	"github.com/Nadiam75/snappify/internal/engines"
)

func TestRecorder_ObserveEngine(t *testing.T) {
	r := NewRecorder(10)
	r.ObserveEngine("a.png", engines.Succeeded(engines.EasyOCR, []engines.Region{{Text: "hi", Confidence: 0.9}}, ""), 250*time.Millisecond)
	r.ObserveEngine("a.png", engines.NotReady(engines.TrOCR), 0)
	r.ObserveEngine("b.png", engines.Failed(engines.PaddleOCR, "CUDA out of memory"), time.Second)

	got := r.List(Filter{}, 0)
	if len(got) != 3 {
		t.Fatalf("List() returned %d metrics, want 3", len(got))
	}
	if got[0].Engine != "PaddleOCR" || got[0].ErrorType != ErrorEngine || got[0].Error != "CUDA out of memory" {
		t.Errorf("newest = %+v", got[0])
	}
	if got[1].ErrorType != ErrorNotInitialized {
		t.Errorf("TrOCR ErrorType = %q", got[1].ErrorType)
	}
	if got[2].DetectionCount != 1 || got[2].ExecutionSeconds != 0.25 || got[2].ImageName != "a.png" {
		t.Errorf("EasyOCR = %+v", got[2])
	}
	if got[2].CreatedAt.IsZero() {
		t.Error("CreatedAt not stamped")
	}
}

func TestRecorder_ObserveEngineUsesErrorKind(t *testing.T) {
	r := NewRecorder(10)
	r.ObserveEngine("a.png", engines.Failed(engines.EasyOCR, "CUDA context not initialized"), time.Millisecond)

	got := r.List(Filter{}, 0)
	if len(got) != 1 || got[0].ErrorType != ErrorEngine {
		t.Errorf("List() = %+v, want one engine_error", got)
	}
}

func TestRecorder_Wraps(t *testing.T) {
	r := NewRecorder(3)
	for i := 0; i < 5; i++ {
		r.Record(Metric{Engine: "EasyOCR", DetectionCount: i})
	}
	got := r.List(Filter{}, 0)
	if len(got) != 3 {
		t.Fatalf("retained %d metrics, want 3", len(got))
	}
	for i, want := range []int{4, 3, 2} {
		if got[i].DetectionCount != want {
			t.Errorf("got[%d].DetectionCount = %d, want %d", i, got[i].DetectionCount, want)
		}
	}
	if r.Total() != 5 {
		t.Errorf("Total() = %d, want 5", r.Total())
	}
}

func TestRecorder_List(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r := NewRecorder(0)
	r.Record(Metric{Engine: "EasyOCR", Success: true, CreatedAt: base})
	r.Record(Metric{Engine: "TrOCR", Success: false, CreatedAt: base.Add(time.Minute)})
	r.Record(Metric{Engine: "EasyOCR", Success: false, CreatedAt: base.Add(2 * time.Minute)})

	no := false
	tests := []struct {
		name   string
		filter Filter
		limit  int
		want   int
	}{
		{"all", Filter{}, 0, 3},
		{"limit", Filter{}, 2, 2},
		{"engine case-insensitive", Filter{Engine: "easyocr"}, 0, 2},
		{"errors only", Filter{Success: &no}, 0, 2},
		{"after", Filter{After: base}, 0, 2},
		{"before", Filter{Before: base.Add(time.Minute)}, 0, 1},
		{"no match", Filter{Engine: "SwinTextSpotter"}, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := r.List(tt.filter, tt.limit)
			if got == nil || len(got) != tt.want {
				t.Errorf("List() = %d metrics, want %d", len(got), tt.want)
			}
		})
	}
}

func TestRecorder_Summarize(t *testing.T) {
	r := NewRecorder(0)
	for _, secs := range []float64{1, 2, 3, 4} {
		r.Record(Metric{Engine: "EasyOCR", Success: true, DetectionCount: 2, ExecutionSeconds: secs})
	}
	r.Record(Metric{Engine: "TrOCR", Success: false, ErrorType: ErrorEngine})

	sums := r.Summarize(Filter{})
	if len(sums) != 4 {
		t.Fatalf("Summarize() returned %d summaries, want 4", len(sums))
	}
	byEngine := make(map[string]Summary)
	for _, s := range sums {
		byEngine[s.Engine] = s
	}

	easy := byEngine["EasyOCR"]
	if easy.Count != 4 || easy.SuccessCount != 4 || easy.Detections != 8 {
		t.Errorf("EasyOCR = %+v", easy)
	}
	if easy.LatencyAvg != 2.5 || easy.LatencyP50 != 2.5 || easy.LatencyMax != 4 {
		t.Errorf("EasyOCR latency = %+v", easy)
	}
	if math.Abs(easy.LatencyP95-3.85) > 1e-9 {
		t.Errorf("EasyOCR p95 = %v, want 3.85", easy.LatencyP95)
	}
	if tr := byEngine["TrOCR"]; tr.Count != 1 || tr.ErrorCount != 1 {
		t.Errorf("TrOCR = %+v", tr)
	}
	if sw := byEngine["SwinTextSpotter"]; sw.Count != 0 {
		t.Errorf("SwinTextSpotter = %+v", sw)
	}

	if got := r.Summarize(Filter{Engine: "trocr"}); len(got) != 1 || got[0].Engine != "TrOCR" {
		t.Errorf("filtered summaries = %+v", got)
	}
}
