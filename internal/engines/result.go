package engines

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"
)

// Point is one corner of a bounding polygon in image pixel coordinates.
// It serializes as a two-element array [x, y].
type Point struct {
	X float64
	Y float64
}

func (p Point) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]float64{p.X, p.Y})
}

func (p *Point) UnmarshalJSON(data []byte) error {
	var xy [2]float64
	if err := json.Unmarshal(data, &xy); err != nil {
		return fmt.Errorf("point must be [x, y]: %w", err)
	}
	p.X, p.Y = xy[0], xy[1]
	return nil
}

// Region is one recognized span of text.
//
// Confidence semantics are engine-relative. BBox keeps the winding order the
// engine produced and is empty for engines that do not localize text.
type Region struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	BBox       []Point `json:"bbox,omitempty"`
}

// ErrorKind classifies why an engine produced no regions.
type ErrorKind string

const (
	// ErrorKindNotReady: the engine was requested but is not initialized.
	ErrorKindNotReady ErrorKind = "not_ready"
	// ErrorKindRuntime: the engine ran and failed or returned unusable output.
	ErrorKindRuntime ErrorKind = "runtime"
)

// Result is the normalized output of one engine on one image.
type Result struct {
	Engine         Name      `json:"engine"`
	Succeeded      bool      `json:"success"`
	Regions        []Region  `json:"regions"`
	FullText       string    `json:"full_text"`
	DetectionCount int       `json:"detection_count"`
	ErrorKind      ErrorKind `json:"error_kind,omitempty"`
	ErrorMessage   string    `json:"error,omitempty"`
	Note           string    `json:"note,omitempty"`
}

// Succeeded builds a successful result. FullText and DetectionCount are
// derived from regions.
func Succeeded(engine Name, regions []Region, note string) Result {
	if regions == nil {
		regions = []Region{}
	}
	texts := make([]string, len(regions))
	for i, r := range regions {
		texts[i] = r.Text
	}
	return Result{
		Engine:         engine,
		Succeeded:      true,
		Regions:        regions,
		FullText:       strings.Join(texts, " "),
		DetectionCount: len(regions),
		Note:           note,
	}
}

// Failed builds a runtime failure carrying msg.
func Failed(engine Name, msg string) Result {
	if msg == "" {
		msg = "unknown error"
	}
	return Result{
		Engine:       engine,
		Succeeded:    false,
		Regions:      []Region{},
		ErrorKind:    ErrorKindRuntime,
		ErrorMessage: msg,
	}
}

// NotReady builds the result for a requested engine that is not initialized.
func NotReady(engine Name) Result {
	r := Failed(engine, fmt.Sprintf("%s not initialized", engine))
	r.ErrorKind = ErrorKindNotReady
	return r
}

// ResultSet maps engine names to results, preserving insertion order.
// It serializes as a JSON object whose keys appear in that order.
type ResultSet struct {
	order  []Name
	byName map[Name]Result
}

// NewResultSet creates an empty result set.
func NewResultSet() *ResultSet {
	return &ResultSet{byName: make(map[Name]Result)}
}

// Set stores r under r.Engine. Re-setting an engine keeps its position.
func (s *ResultSet) Set(r Result) {
	if s.byName == nil {
		s.byName = make(map[Name]Result)
	}
	if _, ok := s.byName[r.Engine]; !ok {
		s.order = append(s.order, r.Engine)
	}
	s.byName[r.Engine] = r
}

// Get returns the result for name.
func (s *ResultSet) Get(name Name) (Result, bool) {
	if s == nil {
		return Result{}, false
	}
	r, ok := s.byName[name]
	return r, ok
}

// Len returns the number of results.
func (s *ResultSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.order)
}

// Names returns the engine names in insertion order.
func (s *ResultSet) Names() []Name {
	if s == nil {
		return nil
	}
	out := make([]Name, len(s.order))
	copy(out, s.order)
	return out
}

// All returns the results in insertion order.
func (s *ResultSet) All() []Result {
	if s == nil {
		return nil
	}
	out := make([]Result, len(s.order))
	for i, name := range s.order {
		out[i] = s.byName[name]
	}
	return out
}

func (s *ResultSet) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	if s != nil {
		for i, name := range s.order {
			if i > 0 {
				buf.WriteByte(',')
			}
			key, err := json.Marshal(string(name))
			if err != nil {
				return nil, err
			}
			val, err := json.Marshal(s.byName[name])
			if err != nil {
				return nil, err
			}
			buf.Write(key)
			buf.WriteByte(':')
			buf.Write(val)
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (s *ResultSet) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*s = ResultSet{byName: make(map[Name]Result)}
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("results must be a JSON object")
	}

	out := ResultSet{byName: make(map[Name]Result)}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("unexpected results key %v", tok)
		}
		var r Result
		if err := dec.Decode(&r); err != nil {
			return fmt.Errorf("result %q: %w", key, err)
		}
		if r.Engine == "" {
			r.Engine = Name(key)
		}
		if _, dup := out.byName[Name(key)]; !dup {
			out.order = append(out.order, Name(key))
		}
		out.byName[Name(key)] = r
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*s = out
	return nil
}

// Response is the envelope returned for one image.
type Response struct {
	RequestSucceeded bool       `json:"success"`
	ImageIdentifier  string     `json:"image_name"`
	Timestamp        time.Time  `json:"timestamp"`
	Results          *ResultSet `json:"results"`
	ProcessingTimeMs *float64   `json:"processing_time_ms,omitempty"`
	Error            string     `json:"error,omitempty"`
}

// WriteText prints the image identifier followed by one line per engine
// with its full text or error.
func (r *Response) WriteText(w io.Writer) error {
	if _, err := fmt.Fprintln(w, r.ImageIdentifier); err != nil {
		return err
	}
	if !r.RequestSucceeded {
		_, err := fmt.Fprintf(w, "  error: %s\n", r.Error)
		return err
	}
	for _, res := range r.Results.All() {
		line := res.FullText
		if !res.Succeeded {
			line = "error: " + res.ErrorMessage
		}
		if _, err := fmt.Fprintf(w, "  %s: %s\n", res.Engine, line); err != nil {
			return err
		}
	}
	return nil
}

// FailedResponse builds an envelope for a request that could not run any
// engine. ProcessingTimeMs stays unset.
func FailedResponse(imageID string, ts time.Time, msg string) *Response {
	return &Response{
		RequestSucceeded: false,
		ImageIdentifier:  imageID,
		Timestamp:        ts,
		Results:          NewResultSet(),
		Error:            msg,
	}
}
