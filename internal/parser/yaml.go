// Package parser implements the Configuration Loader (spec.md §4.7): it
// reads a workflow document from disk into an *ast.Workflow, surfacing
// parse and validation errors annotated with a source line/column.
//
// Grounded on the teacher's internal/parser/yaml.go two-pass approach
// (decode via yaml.Node to keep positions, then validate the resulting
// document), adapted to validate spec.md §3/§6's Step/Modifiers/Workflow
// data model instead of the teacher's Agent/Tool-centric one.
package parser

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/skeinhq/skein/internal/ast"
)

// ParseError wraps a YAML or validation error with the source file it came
// from, so the CLI can print a `file:line:column: message` diagnostic.
type ParseError struct {
	File string
	Pos  ast.Position
	Msg  string
}

func (e *ParseError) Error() string {
	if e.Pos.Line == 0 {
		return fmt.Sprintf("%s: %s", e.File, e.Msg)
	}
	return fmt.Sprintf("%s:%d:%d: %s", e.File, e.Pos.Line, e.Pos.Column, e.Msg)
}

// ParseFile loads and validates a workflow document from path.
func ParseFile(path string) (*ast.Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow file %s: %w", path, err)
	}
	return Parse(path, data)
}

// Parse decodes and validates a workflow document already read into
// memory, annotating any error with sourceName.
func Parse(sourceName string, data []byte) (*ast.Workflow, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, &ParseError{File: sourceName, Msg: err.Error()}
	}
	if len(root.Content) == 0 {
		return nil, &ParseError{File: sourceName, Msg: "empty workflow document"}
	}

	wf := &ast.Workflow{}
	if err := wf.UnmarshalYAML(root.Content[0]); err != nil {
		return nil, &ParseError{File: sourceName, Msg: err.Error()}
	}
	wf.SourceFile = sourceName

	if err := Validate(wf); err != nil {
		return nil, err
	}
	return wf, nil
}
