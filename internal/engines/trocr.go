package engines

import (
	"fmt"

	"github.com/tidwall/gjson"
)

const trocrNote = "TrOCR processes full image as single text region"

// normalizeTrOCR produces exactly one region covering the whole image. The
// model exposes no confidence, so the region carries 1.0.
func normalizeTrOCR(out gjson.Result) ([]Region, error) {
	var text gjson.Result
	switch {
	case out.Type == gjson.String:
		text = out
	case out.IsObject() && out.Get("text").Exists():
		text = out.Get("text")
	case out.IsArray() && len(out.Array()) > 0:
		// batch_decode output: one string per input image.
		text = out.Array()[0]
	default:
		return nil, fmt.Errorf("unexpected TrOCR output: %s", out.Type)
	}
	return []Region{{Text: text.String(), Confidence: 1.0}}, nil
}
