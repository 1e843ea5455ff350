package engines

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// paddleShape is the discriminator over the output layouts PaddleOCR has
// shipped.
type paddleShape int

const (
	// paddleEmpty: null, [] or [null]. No text found.
	paddleEmpty paddleShape = iota
	// paddleArrays: [{"rec_texts": [...], "rec_scores": [...], "rec_polys": [...]}].
	paddleArrays
	// paddleLines: [[ [bbox, [text, confidence]], ... ]], or the inner list
	// without the per-page wrapper.
	paddleLines
)

func (s paddleShape) String() string {
	switch s {
	case paddleEmpty:
		return "empty"
	case paddleArrays:
		return "arrays"
	case paddleLines:
		return "lines"
	}
	return "unknown"
}

// detectPaddleShape inspects the structure once and returns the page the
// chosen arm should normalize.
func detectPaddleShape(out gjson.Result) (paddleShape, gjson.Result, error) {
	if out.Type == gjson.Null || !out.Exists() {
		return paddleEmpty, out, nil
	}
	if out.IsObject() {
		// A single page without the batch wrapper.
		if out.Get("rec_texts").Exists() {
			return paddleArrays, out, nil
		}
		return 0, out, fmt.Errorf("unexpected PaddleOCR output: object without rec_texts")
	}
	if !out.IsArray() {
		return 0, out, fmt.Errorf("unexpected PaddleOCR output: %s", out.Type)
	}

	pages := out.Array()
	if len(pages) == 0 || pages[0].Type == gjson.Null {
		return paddleEmpty, out, nil
	}

	page := pages[0]
	switch {
	case page.IsObject() && page.Get("rec_texts").Exists():
		return paddleArrays, page, nil
	case page.IsObject():
		return 0, out, fmt.Errorf("unexpected PaddleOCR output: page without rec_texts")
	case isPaddleLine(page):
		// The lines were returned without the page wrapper.
		return paddleLines, out, nil
	case page.IsArray():
		return paddleLines, page, nil
	}
	return 0, out, fmt.Errorf("unexpected PaddleOCR output: page is %s", page.Type)
}

// isPaddleLine reports whether v looks like [bbox, text-data]: bbox is a
// list of [x, y] points or a flat coordinate list, and text-data is a
// string or a [text, confidence] pair. A page of lines fails the second
// check because its second element is itself a line.
func isPaddleLine(v gjson.Result) bool {
	fields := v.Array()
	if !v.IsArray() || len(fields) < 2 {
		return false
	}
	bbox, td := fields[0], fields[1]
	isBBox := bbox.IsArray() &&
		(bbox.Get("0").Type == gjson.Number || bbox.Get("0.0").Type == gjson.Number)
	isText := td.Type == gjson.String ||
		(td.IsArray() && td.Get("0").Type == gjson.String)
	return isBBox && isText
}

func normalizePaddleOCR(out gjson.Result) ([]Region, error) {
	shape, page, err := detectPaddleShape(out)
	if err != nil {
		return nil, err
	}
	switch shape {
	case paddleArrays:
		return normalizePaddleArrays(page)
	case paddleLines:
		return normalizePaddleLines(page)
	}
	return nil, nil
}

// normalizePaddleArrays zips the parallel arrays. Missing scores read as 0
// and missing polygons as no bbox.
func normalizePaddleArrays(page gjson.Result) ([]Region, error) {
	texts := page.Get("rec_texts").Array()
	scores := page.Get("rec_scores").Array()
	polys := page.Get("rec_polys").Array()

	var (
		regions []Region
		err     error
	)
	for i, t := range texts {
		text := t.String()
		if strings.TrimSpace(text) == "" {
			continue
		}
		var conf float64
		if i < len(scores) {
			if conf, err = finite(scores[i]); err != nil {
				return nil, fmt.Errorf("rec_scores[%d]: %w", i, err)
			}
		}
		var bbox []Point
		if i < len(polys) {
			if bbox, err = parsePolygon(polys[i]); err != nil {
				return nil, fmt.Errorf("rec_polys[%d]: %w", i, err)
			}
		}
		regions = append(regions, Region{Text: text, Confidence: conf, BBox: bbox})
	}
	return regions, nil
}

// normalizePaddleLines handles [bbox, [text, confidence]] entries. A text
// entry that is not a pair is taken as the text with confidence 0.
func normalizePaddleLines(page gjson.Result) ([]Region, error) {
	var regions []Region
	for i, line := range page.Array() {
		fields := line.Array()
		if !line.IsArray() || len(fields) < 2 {
			continue
		}

		var (
			text string
			conf float64
			err  error
		)
		if td := fields[1].Array(); fields[1].IsArray() && len(td) >= 2 {
			text = td[0].String()
			if conf, err = finite(td[1]); err != nil {
				return nil, fmt.Errorf("line %d confidence: %w", i, err)
			}
		} else {
			text = fields[1].String()
		}
		if strings.TrimSpace(text) == "" {
			continue
		}

		bbox, err := parsePolygon(fields[0])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", i, err)
		}
		regions = append(regions, Region{Text: text, Confidence: conf, BBox: bbox})
	}
	return regions, nil
}
