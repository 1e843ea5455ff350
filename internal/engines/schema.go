package engines

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// responseSchema describes the envelope served by /ocr and persisted by the
// results store.
const responseSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["success", "image_name", "timestamp", "results"],
  "properties": {
    "success": {"type": "boolean"},
    "image_name": {"type": "string"},
    "timestamp": {"type": "string", "format": "date-time"},
    "processing_time_ms": {"type": "number", "minimum": 0},
    "error": {"type": "string"},
    "results": {
      "type": "object",
      "propertyNames": {"enum": ["EasyOCR", "PaddleOCR", "TrOCR", "SwinTextSpotter"]},
      "additionalProperties": {"$ref": "#/$defs/result"}
    }
  },
  "if": {"properties": {"success": {"const": false}}},
  "then": {"required": ["error"], "not": {"required": ["processing_time_ms"]}},
  "$defs": {
    "point": {
      "type": "array",
      "prefixItems": [{"type": "number"}, {"type": "number"}],
      "minItems": 2,
      "maxItems": 2
    },
    "region": {
      "type": "object",
      "required": ["text", "confidence"],
      "properties": {
        "text": {"type": "string"},
        "confidence": {"type": "number"},
        "bbox": {"type": "array", "items": {"$ref": "#/$defs/point"}}
      }
    },
    "result": {
      "type": "object",
      "required": ["engine", "success", "regions", "full_text", "detection_count"],
      "properties": {
        "engine": {"type": "string"},
        "success": {"type": "boolean"},
        "regions": {"type": "array", "items": {"$ref": "#/$defs/region"}},
        "full_text": {"type": "string"},
        "detection_count": {"type": "integer", "minimum": 0},
        "error_kind": {"enum": ["not_ready", "runtime"]},
        "error": {"type": "string", "minLength": 1},
        "note": {"type": "string"}
      },
      "if": {"properties": {"success": {"const": true}}},
      "then": {"not": {"anyOf": [{"required": ["error"]}, {"required": ["error_kind"]}]}},
      "else": {
        "required": ["error"],
        "properties": {
          "regions": {"maxItems": 0},
          "full_text": {"const": ""},
          "detection_count": {"const": 0}
        }
      }
    }
  }
}`

// ResponseSchema returns the JSON Schema of the response envelope.
func ResponseSchema() json.RawMessage {
	return json.RawMessage(responseSchema)
}

var (
	compileOnce    sync.Once
	compiledSchema *jsonschema.Schema
	compileErr     error
)

func envelopeSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.AssertFormat = true
		if err := compiler.AddResource("response.json", strings.NewReader(responseSchema)); err != nil {
			compileErr = fmt.Errorf("failed to load response schema: %w", err)
			return
		}
		compiledSchema, compileErr = compiler.Compile("response.json")
		if compileErr != nil {
			compileErr = fmt.Errorf("failed to compile response schema: %w", compileErr)
		}
	})
	return compiledSchema, compileErr
}

// ValidateResponseJSON checks a serialized envelope against the response
// schema and the invariants the schema cannot express.
func ValidateResponseJSON(data []byte) error {
	schema, err := envelopeSchema()
	if err != nil {
		return err
	}

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to decode response for validation: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("response does not match schema: %w", err)
	}

	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	for _, r := range resp.Results.All() {
		if err := checkResult(r); err != nil {
			return err
		}
	}
	return nil
}

// ValidateResponse serializes resp and validates it.
func ValidateResponse(resp *Response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("failed to encode response: %w", err)
	}
	return ValidateResponseJSON(data)
}

func checkResult(r Result) error {
	if r.DetectionCount != len(r.Regions) {
		return fmt.Errorf("result %s: detection_count %d does not match %d regions",
			r.Engine, r.DetectionCount, len(r.Regions))
	}
	if !r.Succeeded {
		return nil
	}
	texts := make([]string, len(r.Regions))
	for i, reg := range r.Regions {
		texts[i] = reg.Text
	}
	if want := strings.Join(texts, " "); r.FullText != want {
		return fmt.Errorf("result %s: full_text does not match region texts", r.Engine)
	}
	return nil
}
