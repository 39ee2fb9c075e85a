package receipt

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const schemaURL = "https://opsflow.local/schemas/receipt-extraction.schema.json"

// extractionSchema constrains what the model may return before it becomes an event payload.
const extractionSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["merchant", "total", "date"],
  "properties": {
    "merchant":   {"type": "string", "minLength": 1},
    "total":      {"type": ["number", "string"], "pattern": "^-?[0-9]+(\\.[0-9]+)?$", "minimum": 0},
    "tax":        {"type": ["number", "string", "null"]},
    "currency":   {"type": "string", "pattern": "^[A-Za-z]{3}$"},
    "date":       {"type": "string", "format": "date"},
    "category":   {"type": "string"},
    "confidence": {"type": "number", "minimum": 0, "maximum": 1},
    "items": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["description", "amount"],
        "properties": {
          "description": {"type": "string"},
          "amount":      {"type": ["number", "string"]},
          "quantity":    {"type": "number", "minimum": 0}
        }
      }
    }
  }
}`

func compileSchema() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	c.AssertFormat = true
	if err := c.AddResource(schemaURL, strings.NewReader(extractionSchema)); err != nil {
		return nil, fmt.Errorf("receipt schema load failed: %w", err)
	}
	compiled, err := c.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("receipt schema compile failed: %w", err)
	}
	return compiled, nil
}
