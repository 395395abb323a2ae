// Package schemaval checks generated JSON-LD for structural problems before
// it is published: well-formedness, required JSON-LD keys, and optionally a
// per-page-type JSON Schema.
package schemaval

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/xeipuuv/gojsonschema"
)

// Report is the outcome of validating one document. Errors make the document
// invalid; warnings flag likely problems that do not block publishing.
type Report struct {
	Errors   []string
	Warnings []string
}

// Valid reports whether the document passed with zero errors.
func (r *Report) Valid() bool {
	return len(r.Errors) == 0
}

// Validator checks one JSON-LD document.
type Validator interface {
	Validate(ctx context.Context, jsonld string) (*Report, error)
}

type schemaValidator struct {
	schema *gojsonschema.Schema // nil when no JSON Schema is configured
}

// New creates a validator. schemaJSON is an optional JSON Schema document;
// pass "" to run only the built-in JSON-LD checks.
func New(schemaJSON string) (Validator, error) {
	v := &schemaValidator{}
	if schemaJSON != "" {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schemaJSON))
		if err != nil {
			return nil, eris.Wrap(err, "schemaval: compile schema")
		}
		v.schema = schema
	}
	return v, nil
}

func (v *schemaValidator) Validate(_ context.Context, jsonld string) (*Report, error) {
	report := &Report{}

	var doc any
	if err := json.Unmarshal([]byte(jsonld), &doc); err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("document is not valid JSON: %v", err))
		return report, nil
	}

	checkJSONLD(doc, report)

	if v.schema != nil {
		result, err := v.schema.Validate(gojsonschema.NewStringLoader(jsonld))
		if err != nil {
			return nil, eris.Wrap(err, "schemaval: validate document")
		}
		for _, re := range result.Errors() {
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %s", re.Field(), re.Description()))
		}
	}
	return report, nil
}

// checkJSONLD applies the structural rules every JSON-LD document must meet,
// independent of any configured JSON Schema.
func checkJSONLD(doc any, report *Report) {
	switch d := doc.(type) {
	case map[string]any:
		checkObject(d, report, true)
	case []any:
		if len(d) == 0 {
			report.Errors = append(report.Errors, "document is an empty array")
			return
		}
		for i, el := range d {
			obj, ok := el.(map[string]any)
			if !ok {
				report.Errors = append(report.Errors, fmt.Sprintf("element %d is not an object", i))
				continue
			}
			checkObject(obj, report, i == 0)
		}
	default:
		report.Errors = append(report.Errors, "document must be a JSON object or array of objects")
	}
}

func checkObject(obj map[string]any, report *Report, wantContext bool) {
	if _, ok := obj["@type"]; !ok {
		report.Errors = append(report.Errors, "missing @type")
	}
	if wantContext {
		ctxVal, ok := obj["@context"]
		switch {
		case !ok:
			report.Errors = append(report.Errors, "missing @context")
		case ctxVal == "":
			report.Errors = append(report.Errors, "empty @context")
		}
	}
	if _, ok := obj["name"]; !ok {
		report.Warnings = append(report.Warnings, "missing name property")
	}
}
