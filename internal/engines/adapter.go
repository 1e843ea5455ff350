package engines

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/tidwall/gjson"
)

// Adapter turns one engine's native output into a normalized Result.
type Adapter interface {
	Engine() Name
	Recognize(ctx context.Context, m Model, imagePath string) Result
}

// normalizeFunc maps parsed native output to regions.
type normalizeFunc func(out gjson.Result) ([]Region, error)

type adapter struct {
	name      Name
	note      string
	normalize normalizeFunc
}

func (a *adapter) Engine() Name { return a.name }

// Recognize never panics and never returns an error: every failure becomes a
// failed Result. A nil model fails immediately without reading the image.
func (a *adapter) Recognize(ctx context.Context, m Model, imagePath string) (res Result) {
	if m == nil {
		return NotReady(a.name)
	}
	defer func() {
		if p := recover(); p != nil {
			res = Failed(a.name, fmt.Sprint(p))
		}
	}()

	raw, err := m.Predict(ctx, imagePath)
	if err != nil {
		return Failed(a.name, err.Error())
	}
	if !gjson.ValidBytes(raw) {
		return Failed(a.name, fmt.Sprintf("%s returned malformed output", a.name))
	}

	regions, err := a.normalize(gjson.ParseBytes(raw))
	if err != nil {
		return Failed(a.name, err.Error())
	}
	return Succeeded(a.name, regions, a.note)
}

var adapters = map[Name]Adapter{
	EasyOCR:         &adapter{name: EasyOCR, normalize: normalizeEasyOCR},
	PaddleOCR:       &adapter{name: PaddleOCR, normalize: normalizePaddleOCR},
	TrOCR:           &adapter{name: TrOCR, note: trocrNote, normalize: normalizeTrOCR},
	SwinTextSpotter: &adapter{name: SwinTextSpotter, normalize: normalizeSwinTextSpotter},
}

// AdapterFor returns the adapter for name, or nil for unknown engines.
func AdapterFor(name Name) Adapter {
	return adapters[name]
}

var errNotPoint = errors.New("point must be a pair of numbers")

// parsePolygon accepts [[x,y],...] or a flat [x1,y1,x2,y2,...] list.
// Anything else yields an empty polygon.
func parsePolygon(v gjson.Result) ([]Point, error) {
	if !v.IsArray() {
		return nil, nil
	}
	items := v.Array()
	if len(items) == 0 {
		return nil, nil
	}

	if items[0].IsArray() {
		pts := make([]Point, 0, len(items))
		for _, it := range items {
			xy := it.Array()
			if len(xy) < 2 {
				return nil, errNotPoint
			}
			p, err := point(xy[0], xy[1])
			if err != nil {
				return nil, err
			}
			pts = append(pts, p)
		}
		return pts, nil
	}

	if len(items)%2 != 0 {
		return nil, errNotPoint
	}
	pts := make([]Point, 0, len(items)/2)
	for i := 0; i < len(items); i += 2 {
		p, err := point(items[i], items[i+1])
		if err != nil {
			return nil, err
		}
		pts = append(pts, p)
	}
	return pts, nil
}

func point(x, y gjson.Result) (Point, error) {
	if !isNumber(x) || !isNumber(y) {
		return Point{}, errNotPoint
	}
	px, err := finite(x)
	if err != nil {
		return Point{}, err
	}
	py, err := finite(y)
	if err != nil {
		return Point{}, err
	}
	return Point{X: px, Y: py}, nil
}

// finite reads v as a float64, rejecting values that overflow to ±Inf or
// are NaN. Non-numeric values read as 0.
func finite(v gjson.Result) (float64, error) {
	f := v.Float()
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, fmt.Errorf("number %s out of range", v.Raw)
	}
	return f, nil
}

func isNumber(v gjson.Result) bool {
	return v.Type == gjson.Number
}
