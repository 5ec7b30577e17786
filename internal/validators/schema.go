// internal/validators/schema.go
package validators

import (
	"context"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/FairForge/gatekeep/internal/pipeline"
)

// Schema validates JSON request bodies against a schema compiled once at
// construction. The schema version participates in cache keys, so bumping
// it invalidates verdicts cached under the old schema.
type Schema struct {
	schema   *gojsonschema.Schema
	version  string
	priority uint8
}

// NewSchema compiles the schema document. version should change whenever
// the schema does.
func NewSchema(schemaJSON, version string, priority uint8) (*Schema, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schemaJSON))
	if err != nil {
		return nil, fmt.Errorf("validators: compiling schema: %w", err)
	}
	return &Schema{schema: schema, version: version, priority: priority}, nil
}

// Name returns the validator name.
func (v *Schema) Name() string { return "schema" }

// ResourceClass reports the concurrency budget this validator consumes.
func (v *Schema) ResourceClass() pipeline.ResourceClass { return pipeline.CPUBound }

// Priority is the ordering tie-break hint.
func (v *Schema) Priority() uint8 { return v.priority }

// Version is the schema revision used in cache keys.
func (v *Schema) Version() string { return v.version }

// Validate checks the body against the compiled schema. Empty bodies pass;
// requiring a body is the size or shape of a different rule.
func (v *Schema) Validate(_ context.Context, req *pipeline.Request) error {
	if len(req.Body) == 0 {
		return nil
	}

	result, err := v.schema.Validate(gojsonschema.NewBytesLoader(req.Body))
	if err != nil {
		return pipeline.NewError(pipeline.KindSchemaInvalid, v.Name(), "body is not valid JSON")
	}
	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			details = append(details, desc.String())
		}
		return pipeline.NewError(pipeline.KindSchemaInvalid, v.Name(), strings.Join(details, "; "))
	}
	return nil
}
