package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// ErrInvalidDefinition is returned when a task, tool or agent record is malformed.
var ErrInvalidDefinition = errors.New("invalid definition")

// EmptySchema is the schema used when a definition omits one.
var EmptySchema = json.RawMessage(`{}`)

// NormalizeSchema returns EmptySchema for missing or null schemas.
func NormalizeSchema(s json.RawMessage) json.RawMessage {
	trimmed := bytes.TrimSpace(s)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return EmptySchema
	}
	return s
}

// ErrRemoteRef is returned for schemas that reference documents outside
// themselves. gojsonschema would fetch those over HTTP with no deadline.
var ErrRemoteRef = errors.New("schema references a remote document")

// checkLocalRefs walks a decoded schema and rejects any $ref that is not a
// "#..." fragment and any $id/id that moves the base URI off the document.
func checkLocalRefs(node any) error {
	switch v := node.(type) {
	case map[string]any:
		for key, val := range v {
			str, isString := val.(string)
			switch {
			case key == "$ref" && isString && !strings.HasPrefix(str, "#"):
				return fmt.Errorf("%w: $ref %q", ErrRemoteRef, str)
			case (key == "$id" || key == "id") && isString && str != "" && !strings.HasPrefix(str, "#"):
				return fmt.Errorf("%w: %s %q", ErrRemoteRef, key, str)
			}
			if err := checkLocalRefs(val); err != nil {
				return err
			}
		}
	case []any:
		for _, item := range v {
			if err := checkLocalRefs(item); err != nil {
				return err
			}
		}
	}
	return nil
}

// ValidateSchema compiles s as a JSON Schema document. Empty schemas are valid.
func ValidateSchema(s json.RawMessage) error {
	s = NormalizeSchema(s)
	if !json.Valid(s) {
		return errors.New("schema is not valid JSON")
	}

	var doc any
	if err := json.Unmarshal(s, &doc); err != nil {
		return err
	}
	if _, ok := doc.(map[string]any); !ok {
		return fmt.Errorf("schema must be a JSON object, got %T", doc)
	}
	if err := checkLocalRefs(doc); err != nil {
		return err
	}

	if _, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(s)); err != nil {
		return err
	}
	return nil
}

// ValidateAgainst checks a JSON document against a schema and returns the
// list of violations. A nil slice means the document conforms.
func ValidateAgainst(schema, document json.RawMessage) ([]string, error) {
	schema = NormalizeSchema(schema)
	var doc any
	if err := json.Unmarshal(schema, &doc); err != nil {
		return nil, fmt.Errorf("compiling schema: %w", err)
	}
	if err := checkLocalRefs(doc); err != nil {
		return nil, fmt.Errorf("compiling schema: %w", err)
	}

	compiled, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schema))
	if err != nil {
		return nil, fmt.Errorf("compiling schema: %w", err)
	}

	if len(bytes.TrimSpace(document)) == 0 {
		document = json.RawMessage(`{}`)
	}

	result, err := compiled.Validate(gojsonschema.NewBytesLoader(document))
	if err != nil {
		return nil, fmt.Errorf("validating document: %w", err)
	}
	if result.Valid() {
		return nil, nil
	}

	errs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		errs = append(errs, e.String())
	}
	return errs, nil
}
