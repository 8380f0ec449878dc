// Package schema defines the JSON Schema for the business record. The same
// schema is handed to the LLM as its response format and used to sanity
// check whatever comes back.
package schema

import (
	"bytes"
	"encoding/json"
	"sync"

	"github.com/rotisserie/eris"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.uber.org/zap"
)

// BusinessSchema returns the JSON Schema for the business record: five
// top-level sections whose fields are value/confidence leaves (or maps of
// leaves for nested groups like lien releases), confidence bounded 1..5.
func BusinessSchema() map[string]any {
	leaf := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"value": map[string]any{},
			"confidence": map[string]any{
				"type":    "integer",
				"minimum": 1,
				"maximum": 5,
			},
		},
		"required": []any{"value", "confidence"},
	}
	field := map[string]any{
		"anyOf": []any{
			map[string]any{"$ref": "#/$defs/leaf"},
			map[string]any{
				"type":                 "object",
				"additionalProperties": map[string]any{"$ref": "#/$defs/leaf"},
			},
		},
	}
	section := map[string]any{
		"type":                 "object",
		"additionalProperties": map[string]any{"$ref": "#/$defs/field"},
	}

	return map[string]any{
		"$schema": "https://json-schema.org/draft/2020-12/schema",
		"type":    "object",
		"$defs": map[string]any{
			"leaf":  leaf,
			"field": field,
		},
		"properties": map[string]any{
			"title_information":     section,
			"owner_information":     section,
			"lien_information":      section,
			"assignment_of_vehicle": map[string]any{"type": "array"},
			"officials":             section,
		},
		"required": []any{
			"title_information",
			"owner_information",
			"lien_information",
			"assignment_of_vehicle",
			"officials",
		},
	}
}

var (
	compileOnce sync.Once
	compiled    *jsonschema.Schema
	compileErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		b, err := json.Marshal(BusinessSchema())
		if err != nil {
			compileErr = eris.Wrap(err, "schema: marshal")
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("business.json", bytes.NewReader(b)); err != nil {
			compileErr = eris.Wrap(err, "schema: add resource")
			return
		}
		compiled, compileErr = compiler.Compile("business.json")
		if compileErr != nil {
			compileErr = eris.Wrap(compileErr, "schema: compile")
		}
	})
	return compiled, compileErr
}

// Validate checks a business record against the schema. The record is
// round-tripped through JSON first so native Go values normalize to the
// types the validator expects.
func Validate(business map[string]any) error {
	s, err := compiledSchema()
	if err != nil {
		return err
	}

	b, err := json.Marshal(business)
	if err != nil {
		return eris.Wrap(err, "schema: marshal record")
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return eris.Wrap(err, "schema: decode record")
	}
	if err := s.Validate(v); err != nil {
		return eris.Wrap(err, "schema: record does not match")
	}
	return nil
}

// ValidateWarn runs Validate but downgrades failures to a logged warning.
// Extraction output is best-effort; a shape violation should not abort the
// pipeline. Returns false when validation failed.
func ValidateWarn(business map[string]any, docRef string) bool {
	if err := Validate(business); err != nil {
		zap.L().Warn("schema: business record failed validation",
			zap.String("doc", docRef),
			zap.Error(err),
		)
		return false
	}
	return true
}
