package parser

import (
	"fmt"

	"github.com/skeinhq/skein/internal/ast"
)

var knownProviders = map[string]bool{
	"openai":     true,
	"openrouter": true,
	"anthropic":  true,
}

// Validate checks a decoded workflow document for the structural and
// cross-field invariants spec.md names, beyond what UnmarshalYAML already
// enforces while decoding.
func Validate(wf *ast.Workflow) error {
	if len(wf.Steps) == 0 {
		return &ParseError{File: wf.SourceFile, Pos: wf.Pos, Msg: "workflow must declare at least one step"}
	}
	if wf.APIProvider != "" && !knownProviders[wf.APIProvider] {
		return &ParseError{File: wf.SourceFile, Pos: wf.Pos, Msg: fmt.Sprintf("unknown api_provider %q", wf.APIProvider)}
	}

	for name, override := range wf.Overrides {
		if override.APIProvider != nil && !knownProviders[*override.APIProvider] {
			return &ParseError{File: wf.SourceFile, Pos: wf.Pos, Msg: fmt.Sprintf("step %q override: unknown api_provider %q", name, *override.APIProvider)}
		}
	}

	for _, step := range wf.Steps {
		if err := validateStep(wf.SourceFile, step); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(file string, step *ast.Step) error {
	switch step.StepKind {
	case ast.KindShell:
		if step.ShellCommand == "" {
			return &ParseError{File: file, Pos: step.Pos, Msg: "shell step has an empty command"}
		}
	case ast.KindParallelGroup:
		if len(step.Group) == 0 {
			return &ParseError{File: file, Pos: step.Pos, Msg: "parallel group has no steps"}
		}
		for _, sub := range step.Group {
			if err := validateStep(file, sub); err != nil {
				return err
			}
		}
	case ast.KindComposite:
		if err := validateModifiers(file, step); err != nil {
			return err
		}
	}
	return nil
}

func validateModifiers(file string, step *ast.Step) error {
	mods := step.Modifiers
	if mods == nil {
		return &ParseError{File: file, Pos: step.Pos, Msg: fmt.Sprintf("step %q has no modifiers", step.Name)}
	}

	constructs := 0
	if mods.HasConditional() {
		constructs++
		if len(mods.Then) == 0 {
			return &ParseError{File: file, Pos: step.Pos, Msg: fmt.Sprintf("step %q: if/unless requires a then branch", step.Name)}
		}
	}
	if mods.HasEach() {
		constructs++
		if mods.As == "" {
			return &ParseError{File: file, Pos: step.Pos, Msg: fmt.Sprintf("step %q: each requires as", step.Name)}
		}
		if len(mods.Steps) == 0 {
			return &ParseError{File: file, Pos: step.Pos, Msg: fmt.Sprintf("step %q: each requires steps", step.Name)}
		}
	}
	if mods.HasRepeat() {
		constructs++
		if len(mods.Steps) == 0 {
			return &ParseError{File: file, Pos: step.Pos, Msg: fmt.Sprintf("step %q: repeat requires steps", step.Name)}
		}
	}
	if mods.HasCase() {
		constructs++
		if len(mods.When) == 0 {
			return &ParseError{File: file, Pos: step.Pos, Msg: fmt.Sprintf("step %q: case requires when", step.Name)}
		}
	}
	if constructs > 1 {
		return &ParseError{File: file, Pos: step.Pos, Msg: fmt.Sprintf("step %q: mixes more than one control-flow construct", step.Name)}
	}

	allBranches := append(append([]*ast.Step{}, mods.Then...), mods.Else...)
	allBranches = append(allBranches, mods.Steps...)
	for _, whenBranch := range mods.When {
		allBranches = append(allBranches, whenBranch...)
	}
	for _, sub := range allBranches {
		if err := validateStep(file, sub); err != nil {
			return err
		}
	}
	return nil
}
