// Package engines owns the OCR engine back-ends: their static descriptors,
// runtime handles, the per-engine output adapters and the orchestrator that
// runs a subset of them against one image.
package engines

import (
	"fmt"
	"strings"
)

// Name identifies one of the supported OCR engines.
type Name string

const (
	EasyOCR         Name = "EasyOCR"
	PaddleOCR       Name = "PaddleOCR"
	TrOCR           Name = "TrOCR"
	SwinTextSpotter Name = "SwinTextSpotter"
)

// Accelerator describes how an engine relates to GPU hardware.
type Accelerator string

const (
	AcceleratorNone     Accelerator = "none"
	AcceleratorOptional Accelerator = "optional"
	AcceleratorRequired Accelerator = "required"
)

// Capabilities are the static properties of an engine.
type Capabilities struct {
	Accelerator Accelerator `json:"accelerator"`
	// Localizes is true for engines that detect multiple regions with
	// bounding boxes, false for whole-image single-line recognizers.
	Localizes bool `json:"localizes"`
	// RequiresDecodedRGB engines receive a decoded RGB image rather than
	// the uploaded bytes.
	RequiresDecodedRGB bool `json:"requires_decoded_rgb"`
}

// Descriptor identifies an engine and what it can do.
type Descriptor struct {
	Name         Name         `json:"name"`
	Library      string       `json:"library"`
	Capabilities Capabilities `json:"capabilities"`
}

// Status is the initialization state of an engine handle.
type Status string

const (
	StatusUninitialized Status = "uninitialized"
	StatusReady         Status = "ready"
	StatusInitFailed    Status = "init_failed"
	StatusNotInstalled  Status = "not_installed"
)

// descriptors is in canonical dispatch order: detector-recognizer family,
// generative, spotting, general purpose.
var descriptors = []Descriptor{
	{
		Name:    PaddleOCR,
		Library: "paddleocr",
		Capabilities: Capabilities{
			Accelerator: AcceleratorOptional,
			Localizes:   true,
		},
	},
	{
		Name:    TrOCR,
		Library: "transformers",
		Capabilities: Capabilities{
			Accelerator:        AcceleratorOptional,
			Localizes:          false,
			RequiresDecodedRGB: true,
		},
	},
	{
		Name:    SwinTextSpotter,
		Library: "detectron2",
		Capabilities: Capabilities{
			Accelerator: AcceleratorRequired,
			Localizes:   true,
		},
	},
	{
		Name:    EasyOCR,
		Library: "easyocr",
		Capabilities: Capabilities{
			Accelerator: AcceleratorOptional,
			Localizes:   true,
		},
	},
}

// Descriptors returns all engine descriptors in dispatch order.
func Descriptors() []Descriptor {
	out := make([]Descriptor, len(descriptors))
	copy(out, descriptors)
	return out
}

// DispatchOrder returns every engine name in dispatch order.
func DispatchOrder() []Name {
	names := make([]Name, len(descriptors))
	for i, d := range descriptors {
		names[i] = d.Name
	}
	return names
}

// Lookup returns the descriptor for name.
func Lookup(name Name) (Descriptor, bool) {
	for _, d := range descriptors {
		if d.Name == name {
			return d, true
		}
	}
	return Descriptor{}, false
}

// Valid reports whether n is one of the supported engines.
func (n Name) Valid() bool {
	_, ok := Lookup(n)
	return ok
}

func (n Name) String() string { return string(n) }

// ParseName resolves a user-supplied engine name. Matching ignores case and
// surrounding whitespace.
func ParseName(s string) (Name, error) {
	s = strings.TrimSpace(s)
	for _, d := range descriptors {
		if strings.EqualFold(string(d.Name), s) {
			return d.Name, nil
		}
	}
	return "", fmt.Errorf("unknown engine %q", s)
}

// ParseNames parses a comma-separated engine list. Empty entries are
// ignored and duplicates collapse. Every unknown name is reported in a
// single *RequestError.
func ParseNames(csv string) ([]Name, error) {
	var (
		names   []Name
		invalid []string
		seen    = make(map[Name]bool)
	)
	for _, part := range strings.Split(csv, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, err := ParseName(part)
		if err != nil {
			invalid = append(invalid, part)
			continue
		}
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	if len(invalid) > 0 {
		return nil, invalidEngineError(invalid)
	}
	return names, nil
}

func invalidEngineError(invalid []string) *RequestError {
	valid := make([]string, len(descriptors))
	for i, d := range descriptors {
		valid[i] = string(d.Name)
	}
	return &RequestError{
		Kind: KindInvalidEngine,
		Message: fmt.Sprintf("invalid engine names: %s. Valid engines: %s",
			strings.Join(invalid, ", "), strings.Join(valid, ", ")),
	}
}
