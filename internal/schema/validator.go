// Package schema turns raw model output into a validated JSON record.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Validator checks recovered documents against a JSON Schema and a list of
// required top-level fields. The zero value only requires a JSON object.
type Validator struct {
	schemas []*jsonschema.Schema
}

// Options configure NewValidator.
type Options struct {
	// Schema is a JSON Schema document. Wrapped forms such as
	// {"name":..., "schema":{...}} are unwrapped.
	Schema json.RawMessage

	// RequiredFields must be present at the top level.
	RequiredFields []string
}

// NewValidator compiles the configured checks.
func NewValidator(opts Options) (*Validator, error) {
	v := &Validator{}

	base := map[string]any{"type": "object"}
	if len(opts.RequiredFields) > 0 {
		base["required"] = opts.RequiredFields
	}
	baseRaw, err := json.Marshal(base)
	if err != nil {
		return nil, fmt.Errorf("failed to build required-field schema: %w", err)
	}
	s, err := compile("required.json", baseRaw)
	if err != nil {
		return nil, err
	}
	v.schemas = append(v.schemas, s)

	if len(opts.Schema) > 0 {
		core, err := extractValidationSchema(opts.Schema)
		if err != nil {
			return nil, err
		}
		s, err := compile("schema.json", core)
		if err != nil {
			return nil, err
		}
		v.schemas = append(v.schemas, s)
	}

	return v, nil
}

// LoadValidator reads the schema file at path (if any) and compiles it with
// the required fields.
func LoadValidator(path string, requiredFields []string) (*Validator, error) {
	opts := Options{RequiredFields: requiredFields}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read schema %s: %w", path, err)
		}
		opts.Schema = data
	}
	return NewValidator(opts)
}

func compile(name string, raw []byte) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("failed to load schema: %w", err)
	}
	s, err := compiler.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}
	return s, nil
}

// Validate checks a recovered document.
func (v *Validator) Validate(doc json.RawMessage) error {
	var decoded any
	if err := json.Unmarshal(doc, &decoded); err != nil {
		return fmt.Errorf("failed to decode JSON for validation: %w", err)
	}

	schemas := v.schemas
	if len(schemas) == 0 {
		if _, ok := decoded.(map[string]any); !ok {
			return fmt.Errorf("response must be a JSON object")
		}
		return nil
	}
	for _, s := range schemas {
		if err := s.Validate(decoded); err != nil {
			return fmt.Errorf("response does not match schema: %w", err)
		}
	}
	return nil
}

// Check recovers and validates content in one step.
func (v *Validator) Check(content string) (json.RawMessage, error) {
	doc, err := Recover(content)
	if err != nil {
		return nil, err
	}
	if err := v.Validate(doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func extractValidationSchema(schemaRaw json.RawMessage) (json.RawMessage, error) {
	var root any
	if err := json.Unmarshal(schemaRaw, &root); err != nil {
		return nil, fmt.Errorf("invalid schema JSON: %w", err)
	}

	if rootMap, ok := root.(map[string]any); ok {
		// Response-format wrapper: {"name","strict","schema":{...}}
		if inner, ok := rootMap["schema"]; ok {
			b, err := json.Marshal(inner)
			if err != nil {
				return nil, fmt.Errorf("failed to serialize inner schema: %w", err)
			}
			return b, nil
		}
		// Alternate wrapper: {"type":"json_schema","json_schema":{"schema":...}}
		if rawInner, ok := rootMap["json_schema"]; ok {
			if innerMap, ok := rawInner.(map[string]any); ok {
				if innerSchema, ok := innerMap["schema"]; ok {
					b, err := json.Marshal(innerSchema)
					if err != nil {
						return nil, fmt.Errorf("failed to serialize json_schema.schema: %w", err)
					}
					return b, nil
				}
			}
		}
	}

	return schemaRaw, nil
}
