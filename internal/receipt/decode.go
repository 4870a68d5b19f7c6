package receipt

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrMalformed is returned when the extraction output is not a JSON object
// matching the receipt schema.
var ErrMalformed = errors.New("malformed receipt document")

const schemaURL = "https://splitbot.schemas.local/receipt.schema.json"

const receiptSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "is_receipt": {"type": ["boolean", "null"]},
    "merchant":   {"type": ["string", "null"]},
    "date":       {"type": ["string", "null"]},
    "total":      {"$ref": "#/$defs/amount"},
    "tax":        {"$ref": "#/$defs/amount"},
    "currency":   {"type": ["string", "null"]},
    "items": {
      "type": ["array", "null"],
      "items": {
        "type": "object",
        "properties": {
          "name":     {"type": ["string", "null"]},
          "price":    {"$ref": "#/$defs/amount"},
          "quantity": {"$ref": "#/$defs/amount"}
        }
      }
    }
  },
  "$defs": {
    "amount": {
      "anyOf": [
        {"type": "number"},
        {"type": "null"},
        {"type": "string", "pattern": "^-?[0-9]+(\\.[0-9]+)?$"}
      ]
    }
  }
}`

var compiledSchema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(schemaURL, strings.NewReader(receiptSchema)); err != nil {
		panic(fmt.Sprintf("receipt schema load failed: %v", err))
	}
	s, err := c.Compile(schemaURL)
	if err != nil {
		panic(fmt.Sprintf("receipt schema compile failed: %v", err))
	}
	return s
}

// Decode checks data against the receipt schema and only then converts it to
// a Raw. No field is read before the schema accepts the document.
func Decode(data []byte) (Raw, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return Raw{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if dec.More() {
		return Raw{}, fmt.Errorf("%w: trailing data after document", ErrMalformed)
	}
	if err := compiledSchema.Validate(doc); err != nil {
		return Raw{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var raw Raw
	if err := json.Unmarshal(data, &raw); err != nil {
		return Raw{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return raw, nil
}
