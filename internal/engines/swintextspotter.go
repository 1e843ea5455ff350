package engines

import (
	"fmt"

	"github.com/tidwall/gjson"
)

// normalizeSwinTextSpotter zips boxes, texts and scores positionally. Boxes
// are axis-aligned (x1, y1, x2, y2) and become clockwise 4-corner polygons.
// A missing score reads as 1.0.
func normalizeSwinTextSpotter(out gjson.Result) ([]Region, error) {
	if !out.IsObject() {
		return nil, fmt.Errorf("unexpected SwinTextSpotter output: %s", out.Type)
	}
	// No boxes or no texts means the predictor found nothing.
	boxes := out.Get("boxes").Array()
	texts := out.Get("texts").Array()
	scores := out.Get("scores").Array()

	n := min(len(boxes), len(texts))
	regions := make([]Region, 0, n)
	for i := 0; i < n; i++ {
		b := boxes[i].Array()
		if len(b) != 4 {
			return nil, fmt.Errorf("box %d: expected [x1, y1, x2, y2], got %d values", i, len(b))
		}
		var xy [4]float64
		for j := range xy {
			v, err := finite(b[j])
			if err != nil {
				return nil, fmt.Errorf("box %d: %w", i, err)
			}
			xy[j] = v
		}
		x1, y1, x2, y2 := xy[0], xy[1], xy[2], xy[3]

		conf := 1.0
		if i < len(scores) {
			v, err := finite(scores[i])
			if err != nil {
				return nil, fmt.Errorf("score %d: %w", i, err)
			}
			conf = v
		}
		regions = append(regions, Region{
			Text:       texts[i].String(),
			Confidence: conf,
			BBox:       []Point{{x1, y1}, {x2, y1}, {x2, y2}, {x1, y2}},
		})
	}
	return regions, nil
}
