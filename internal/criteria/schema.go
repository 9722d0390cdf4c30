package criteria

import (
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

// ErrSchemaViolation reports a criteria document that parsed but does not
// conform to the document schema.
var ErrSchemaViolation = errors.New("criteria: document violates schema")

// clauseSchema is shared by the three root arrays. Recursion is expressed
// through the definitions reference.
const documentSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "name": {"type": "string"},
    "description": {"type": "string"},
    "author": {"type": "string"},
    "updated_at": {},
    "must": {"type": "array", "items": {"$ref": "#/definitions/clause"}},
    "should": {"type": "array", "items": {"$ref": "#/definitions/clause"}},
    "must_not": {"type": "array", "items": {"$ref": "#/definitions/clause"}}
  },
  "additionalProperties": false,
  "definitions": {
    "clause": {
      "type": "object",
      "properties": {
        "item": {"type": "string", "minLength": 1},
        "name": {"type": "string"},
        "values": {"type": "array", "items": {"type": "string"}},
        "antes": {"type": "array", "items": {"type": "integer", "minimum": 1}},
        "edition": {"type": "string"},
        "stickers": {"type": "array", "items": {"type": "string"}},
        "score": {"type": "integer"},
        "label": {"type": "string"},
        "min": {"type": "integer", "minimum": 0},
        "sources": {"type": "array", "items": {"type": "string"}},
        "pack_positions": {"type": "array", "items": {"type": "integer", "minimum": 0}},
        "mode": {"type": "string"},
        "all": {"type": "array", "items": {"$ref": "#/definitions/clause"}},
        "any": {"type": "array", "items": {"$ref": "#/definitions/clause"}}
      },
      "additionalProperties": false
    }
  }
}`

// ValidateDocument checks a raw YAML criteria document against the schema
// before decoding. Violations are joined into a single error so the caller
// can surface every problem at once.
func ValidateDocument(data []byte) error {
	var decoded any

	err := yaml.Unmarshal(data, &decoded)
	if err != nil {
		return fmt.Errorf("decode criteria document: %w", err)
	}

	schemaLoader := gojsonschema.NewStringLoader(documentSchema)
	docLoader := gojsonschema.NewGoLoader(decoded)

	result, err := gojsonschema.Validate(schemaLoader, docLoader)
	if err != nil {
		return fmt.Errorf("validate criteria document: %w", err)
	}

	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		msgs = append(msgs, desc.String())
	}

	return fmt.Errorf("%w: %s", ErrSchemaViolation, strings.Join(msgs, "; "))
}
