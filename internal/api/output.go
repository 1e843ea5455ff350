package api

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// OutputFormat defines the output format for CLI commands.
type OutputFormat string

const (
	OutputFormatYAML OutputFormat = "yaml"
	OutputFormatJSON OutputFormat = "json"
	// OutputFormatText prints recognized text only. Values without a text
	// form fall back to YAML.
	OutputFormatText OutputFormat = "text"
)

// DefaultOutput is the default output format.
var DefaultOutput OutputFormat = OutputFormatYAML

var globalOutputFormat = DefaultOutput

// TextWriter is implemented by responses with a plain-text rendering.
type TextWriter interface {
	WriteText(w io.Writer) error
}

// SetOutputFormat sets the format used by Output.
func SetOutputFormat(format string) error {
	switch f := OutputFormat(format); f {
	case OutputFormatJSON, OutputFormatYAML, OutputFormatText:
		globalOutputFormat = f
		return nil
	default:
		globalOutputFormat = DefaultOutput
		return fmt.Errorf("unknown output format %q: use yaml, json or text", format)
	}
}

// GetOutputFormat returns the current global output format.
func GetOutputFormat() OutputFormat {
	return globalOutputFormat
}

// Output writes data to stdout in the configured format.
func Output(data any) error {
	return OutputTo(os.Stdout, globalOutputFormat, data)
}

// OutputTo writes data to w in format.
func OutputTo(w io.Writer, format OutputFormat, data any) error {
	switch format {
	case OutputFormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	case OutputFormatText:
		if tw, ok := data.(TextWriter); ok {
			return tw.WriteText(w)
		}
		return writeYAML(w, data)
	case OutputFormatYAML:
		return writeYAML(w, data)
	default:
		return fmt.Errorf("unknown output format: %s", format)
	}
}

// writeYAML encodes data through its JSON form so json tags and ordered
// JSON marshalers shape the YAML keys.
func writeYAML(w io.Writer, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	var node yaml.Node
	if err := yaml.Unmarshal(raw, &node); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	blockStyle(&node)

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(&node)
}

// blockStyle clears the flow and quoting styles the JSON parse left behind.
func blockStyle(n *yaml.Node) {
	n.Style = 0
	for _, c := range n.Content {
		blockStyle(c)
	}
}
