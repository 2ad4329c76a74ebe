// Package ast defines the workflow document data model: the tagged-variant
// step specification, workflow-level defaults, and per-step overrides.
package ast

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Position records a YAML source location, used to annotate parse and
// validation errors with a line/column.
type Position struct {
	Line   int
	Column int
}

func (p Position) String() string {
	if p.Line == 0 {
		return ""
	}
	return fmt.Sprintf("line %d, column %d", p.Line, p.Column)
}

// Duration wraps time.Duration so it can be written in a workflow document
// as a human string ("30s", "5m") rather than a nanosecond integer.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	switch node.Tag {
	case "!!str":
		parsed, err := time.ParseDuration(node.Value)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", node.Value, err)
		}
		d.Duration = parsed
	case "!!int":
		n, err := strconv.Atoi(node.Value)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", node.Value, err)
		}
		d.Duration = time.Duration(n) * time.Second
	default:
		return fmt.Errorf("unsupported duration value %q at %s", node.Value, Position{node.Line, node.Column})
	}
	return nil
}

// MarshalYAML renders the duration back in Go's string form.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// StepKind discriminates the tagged variant a Step was parsed as.
type StepKind int

const (
	// KindReference is a bare name: a prompt-directory step, a registered
	// custom-procedural step, or (if the bare name contains whitespace) a
	// raw inline prompt.
	KindReference StepKind = iota
	// KindShell is `$(cmd)` or `{key: $(cmd)}`.
	KindShell
	// KindComposite is a mapping whose sole key is a step name, carrying
	// control-flow or override modifiers.
	KindComposite
	// KindParallelGroup is an array of steps run concurrently.
	KindParallelGroup
)

func (k StepKind) String() string {
	switch k {
	case KindReference:
		return "reference"
	case KindShell:
		return "shell"
	case KindComposite:
		return "composite"
	case KindParallelGroup:
		return "parallel_group"
	default:
		return "unknown"
	}
}

// Step is a single entry of a workflow's step list, or of a substep list
// nested under a control-flow modifier.
type Step struct {
	StepKind StepKind `yaml:"-"`

	// Name is the step's identifier: the bare reference text, the sole
	// mapping key of a composite/shell step, or empty for a parallel group.
	Name string `yaml:"-"`

	// RawPrompt holds the literal text of a bare reference whose
	// pre-interpolation name contains whitespace (spec Open Question #1):
	// it is rendered as a single raw-prompt turn with no tool offering.
	RawPrompt string `yaml:"-"`
	IsRaw     bool   `yaml:"-"`

	// ShellCommand is the inner text of `$( ... )` for KindShell.
	ShellCommand string `yaml:"-"`

	// Modifiers carries the control-flow/override fields for KindComposite.
	Modifiers *Modifiers `yaml:"-"`

	// Group holds the nested steps of a KindParallelGroup.
	Group []*Step `yaml:"-"`

	Pos Position `yaml:"-"`
}

// Modifiers is the value side of a composite-keyed step. Only the fields
// relevant to the detected control construct are populated; see
// internal/engine for the dispatch precedence used to pick a construct.
type Modifiers struct {
	// Conditional (if/unless).
	If     string `yaml:"if,omitempty"`
	Unless string `yaml:"unless,omitempty"`
	Then   []*Step `yaml:"then,omitempty"`
	Else   []*Step `yaml:"else,omitempty"`

	// Iteration - each/as/steps.
	Each string `yaml:"each,omitempty"`
	As   string `yaml:"as,omitempty"`

	// Iteration - repeat/until/max_iterations/steps.
	Until         string `yaml:"until,omitempty"`
	MaxIterations *int   `yaml:"max_iterations,omitempty"`

	// Shared substep list for each/repeat.
	Steps []*Step `yaml:"steps,omitempty"`

	// Case/when (the Else field above doubles as the case's else branch).
	Case string             `yaml:"case,omitempty"`
	When map[string][]*Step `yaml:"when,omitempty"`

	// Overrides, valid on any composite step.
	Overrides StepOverride `yaml:",inline"`
}

// HasConditional reports whether a Modifiers value describes an if/unless
// construct.
func (m *Modifiers) HasConditional() bool {
	return m != nil && (m.If != "" || m.Unless != "")
}

// HasEach reports whether a Modifiers value describes an each/as loop.
func (m *Modifiers) HasEach() bool {
	return m != nil && m.Each != ""
}

// HasRepeat reports whether a Modifiers value describes a repeat/until loop.
func (m *Modifiers) HasRepeat() bool {
	return m != nil && (m.Until != "" || m.MaxIterations != nil)
}

// HasCase reports whether a Modifiers value describes a case/when construct.
func (m *Modifiers) HasCase() bool {
	return m != nil && m.Case != ""
}

// StepOverride carries the per-step overrides named in spec.md §6: model,
// json, exit_on_error, api_provider, timeout, plus arbitrary parameters.
// It is embedded in Modifiers and also used standalone for the workflow
// document's top-level per-step-name override keys.
type StepOverride struct {
	Model       *string           `yaml:"model,omitempty"`
	JSON        *bool             `yaml:"json,omitempty"`
	ExitOnError *bool             `yaml:"exit_on_error,omitempty"`
	APIProvider *string           `yaml:"api_provider,omitempty"`
	Timeout     *Duration         `yaml:"timeout,omitempty"`
	Serial      *bool             `yaml:"serial,omitempty"`
	Params      map[string]interface{} `yaml:"-"`
}

// Merge returns a copy of o with any field set in patch taking precedence.
func (o StepOverride) Merge(patch StepOverride) StepOverride {
	out := o
	if patch.Model != nil {
		out.Model = patch.Model
	}
	if patch.JSON != nil {
		out.JSON = patch.JSON
	}
	if patch.ExitOnError != nil {
		out.ExitOnError = patch.ExitOnError
	}
	if patch.APIProvider != nil {
		out.APIProvider = patch.APIProvider
	}
	if patch.Timeout != nil {
		out.Timeout = patch.Timeout
	}
	if patch.Serial != nil {
		out.Serial = patch.Serial
	}
	if len(patch.Params) > 0 {
		merged := make(map[string]interface{}, len(out.Params)+len(patch.Params))
		for k, v := range out.Params {
			merged[k] = v
		}
		for k, v := range patch.Params {
			merged[k] = v
		}
		out.Params = merged
	}
	return out
}

// Workflow is the top-level document: name and global defaults plus the
// ordered step list and any per-step-name override entries.
type Workflow struct {
	Name        string       `yaml:"name"`
	Model       string       `yaml:"model,omitempty"`
	APIProvider string       `yaml:"api_provider,omitempty"`
	APIToken    string       `yaml:"api_token,omitempty"`
	Tools       []string     `yaml:"tools,omitempty"`
	Target      string       `yaml:"target,omitempty"`
	Steps       []*Step      `yaml:"steps"`

	// Overrides collects any top-level key that is not one of the
	// reserved keys above: spec.md §6 treats such a key as a per-step
	// override keyed by step name (concrete scenario B).
	Overrides map[string]StepOverride `yaml:"-"`

	SourceFile string   `yaml:"-"`
	Pos        Position `yaml:"-"`
}

// EffectiveProvider resolves the api_provider to use, defaulting to openai
// per spec.md §6.
func (w *Workflow) EffectiveProvider() string {
	if w.APIProvider == "" {
		return "openai"
	}
	return w.APIProvider
}

// OverrideFor looks up the top-level override registered for a step name.
func (w *Workflow) OverrideFor(name string) (StepOverride, bool) {
	o, ok := w.Overrides[name]
	return o, ok
}

// looksLikeShell reports whether s, once trimmed, is of the form $( ... ).
func looksLikeShell(s string) (inner string, ok bool) {
	t := strings.TrimSpace(s)
	if !strings.HasPrefix(t, "$(") || !strings.HasSuffix(t, ")") {
		return "", false
	}
	return strings.TrimSpace(t[2 : len(t)-1]), true
}

// containsWhitespace reports whether a step's bare reference name should be
// treated as a raw inline prompt (spec.md §3, Open Question #1): only the
// bare, pre-interpolation text is inspected.
func containsWhitespace(s string) bool {
	return strings.ContainsAny(s, " \t\n")
}

// parseIntPtr is a small helper used by the YAML decoder for max_iterations,
// which may arrive as either a YAML integer or a numeric string.
func parseIntPtr(raw interface{}) (*int, error) {
	switch v := raw.(type) {
	case int:
		return &v, nil
	case int64:
		n := int(v)
		return &n, nil
	case float64:
		n := int(v)
		return &n, nil
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid max_iterations %q: %w", v, err)
		}
		return &n, nil
	default:
		return nil, fmt.Errorf("unsupported max_iterations value: %v", raw)
	}
}
