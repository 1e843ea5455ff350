package engines

import (
	"fmt"

	"github.com/tidwall/gjson"
)

// normalizeEasyOCR maps [[bbox, text, confidence], ...] to regions, keeping
// the bbox as produced.
func normalizeEasyOCR(out gjson.Result) ([]Region, error) {
	if !out.IsArray() {
		return nil, fmt.Errorf("unexpected EasyOCR output: expected a list of detections, got %s", out.Type)
	}

	var regions []Region
	for i, det := range out.Array() {
		fields := det.Array()
		if !det.IsArray() || len(fields) < 2 {
			return nil, fmt.Errorf("detection %d: expected [bbox, text, confidence]", i)
		}
		bbox, err := parsePolygon(fields[0])
		if err != nil {
			return nil, fmt.Errorf("detection %d: %w", i, err)
		}
		var conf float64
		if len(fields) > 2 {
			if conf, err = finite(fields[2]); err != nil {
				return nil, fmt.Errorf("detection %d confidence: %w", i, err)
			}
		}
		regions = append(regions, Region{
			Text:       fields[1].String(),
			Confidence: conf,
			BBox:       bbox,
		})
	}
	return regions, nil
}
