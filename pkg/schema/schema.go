// Package schema exposes the JSON Schema for skein workflow documents and
// the built-in expression function set, so editors, validators, and
// documentation tooling can introspect the DSL without importing the
// engine itself.
package schema

import (
	"encoding/json"
	"fmt"

	jsonschema "github.com/invopop/jsonschema"

	"github.com/skeinhq/skein/internal/ast"
	"github.com/skeinhq/skein/internal/expression"
)

// Output is the complete introspection payload `skein schema` prints and
// pkg/schema.Get returns.
type Output struct {
	// Schema is the JSON Schema for an ast.Workflow document.
	Schema json.RawMessage `json:"schema"`
	// Functions lists every builtin available to expressions (spec.md §9).
	Functions []string `json:"functions"`
}

// Get compiles the workflow JSON Schema and builtin function listing.
func Get() (*Output, error) {
	reflector := &jsonschema.Reflector{
		ExpandedStruct: true,
		DoNotReference: true,
	}
	schema := reflector.Reflect(&ast.Workflow{})

	schemaBytes, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal workflow schema: %w", err)
	}

	return &Output{
		Schema:    schemaBytes,
		Functions: expression.NewFunctionRegistry().Names(),
	}, nil
}
