package ast

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// UnmarshalYAML decodes a Step from one of the four spec.md §3 shapes:
// a bare scalar (reference or shell), a sequence (parallel group), or a
// single-key mapping (shell or composite).
func (s *Step) UnmarshalYAML(node *yaml.Node) error {
	s.Pos = Position{node.Line, node.Column}

	switch node.Kind {
	case yaml.ScalarNode:
		return s.unmarshalScalar(node)
	case yaml.SequenceNode:
		s.StepKind = KindParallelGroup
		s.Group = make([]*Step, 0, len(node.Content))
		for _, child := range node.Content {
			sub := &Step{}
			if err := sub.UnmarshalYAML(child); err != nil {
				return err
			}
			s.Group = append(s.Group, sub)
		}
		return nil
	case yaml.MappingNode:
		return s.unmarshalMapping(node)
	default:
		return fmt.Errorf("invalid step at %s: unsupported YAML node", s.Pos)
	}
}

func (s *Step) unmarshalScalar(node *yaml.Node) error {
	value := node.Value
	if inner, ok := looksLikeShell(value); ok {
		s.StepKind = KindShell
		s.ShellCommand = inner
		s.Name = inner
		return nil
	}
	s.StepKind = KindReference
	s.Name = value
	if containsWhitespace(value) {
		s.IsRaw = true
		s.RawPrompt = value
	}
	return nil
}

func (s *Step) unmarshalMapping(node *yaml.Node) error {
	if len(node.Content) != 2 {
		return fmt.Errorf("invalid step at %s: composite step must have exactly one key", s.Pos)
	}
	keyNode, valNode := node.Content[0], node.Content[1]
	s.Name = keyNode.Value

	if valNode.Kind == yaml.ScalarNode {
		if inner, ok := looksLikeShell(valNode.Value); ok {
			s.StepKind = KindShell
			s.ShellCommand = inner
			return nil
		}
		return fmt.Errorf("invalid step %q at %s: mapping value must be $(cmd) or an object of modifiers", s.Name, s.Pos)
	}

	if valNode.Kind != yaml.MappingNode {
		return fmt.Errorf("invalid step %q at %s: unsupported modifiers shape", s.Name, s.Pos)
	}

	s.StepKind = KindComposite
	mods := &Modifiers{}
	if err := mods.UnmarshalYAML(valNode); err != nil {
		return err
	}
	s.Modifiers = mods
	return nil
}

// UnmarshalYAML decodes the value side of a composite-keyed step: the
// recognized control-flow and override keys, plus any remaining keys as
// arbitrary step parameters.
func (m *Modifiers) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("modifiers must be a mapping")
	}

	for i := 0; i+1 < len(node.Content); i += 2 {
		keyNode, valNode := node.Content[i], node.Content[i+1]
		key := keyNode.Value

		switch key {
		case "if":
			m.If = valNode.Value
		case "unless":
			m.Unless = valNode.Value
		case "then":
			steps, err := decodeStepList(valNode)
			if err != nil {
				return err
			}
			m.Then = steps
		case "else":
			steps, err := decodeStepList(valNode)
			if err != nil {
				return err
			}
			m.Else = steps
		case "each":
			m.Each = valNode.Value
		case "as":
			m.As = valNode.Value
		case "until":
			m.Until = valNode.Value
		case "max_iterations":
			var raw interface{}
			if err := valNode.Decode(&raw); err != nil {
				return err
			}
			n, err := parseIntPtr(raw)
			if err != nil {
				return err
			}
			m.MaxIterations = n
		case "steps":
			steps, err := decodeStepList(valNode)
			if err != nil {
				return err
			}
			m.Steps = steps
		case "case":
			m.Case = valNode.Value
		case "when":
			if valNode.Kind != yaml.MappingNode {
				return fmt.Errorf("when must be a mapping of case value to substeps")
			}
			m.When = make(map[string][]*Step, len(valNode.Content)/2)
			for j := 0; j+1 < len(valNode.Content); j += 2 {
				whenKey := valNode.Content[j].Value
				steps, err := decodeStepList(valNode.Content[j+1])
				if err != nil {
					return err
				}
				m.When[whenKey] = steps
			}
		case "model":
			v := valNode.Value
			m.Overrides.Model = &v
		case "json":
			var v bool
			if err := valNode.Decode(&v); err != nil {
				return err
			}
			m.Overrides.JSON = &v
		case "exit_on_error":
			var v bool
			if err := valNode.Decode(&v); err != nil {
				return err
			}
			m.Overrides.ExitOnError = &v
		case "api_provider":
			v := valNode.Value
			m.Overrides.APIProvider = &v
		case "serial":
			var v bool
			if err := valNode.Decode(&v); err != nil {
				return err
			}
			m.Overrides.Serial = &v
		case "timeout":
			var d Duration
			if err := d.UnmarshalYAML(valNode); err != nil {
				return err
			}
			m.Overrides.Timeout = &d
		default:
			var v interface{}
			if err := valNode.Decode(&v); err != nil {
				return err
			}
			if m.Overrides.Params == nil {
				m.Overrides.Params = make(map[string]interface{})
			}
			m.Overrides.Params[key] = v
		}
	}

	return nil
}

func decodeStepList(node *yaml.Node) ([]*Step, error) {
	if node.Kind != yaml.SequenceNode {
		return nil, fmt.Errorf("expected a list of steps at %s", (Position{node.Line, node.Column}))
	}
	steps := make([]*Step, 0, len(node.Content))
	for _, child := range node.Content {
		sub := &Step{}
		if err := sub.UnmarshalYAML(child); err != nil {
			return nil, err
		}
		steps = append(steps, sub)
	}
	return steps, nil
}

// UnmarshalYAML decodes a Workflow document, separating the reserved
// top-level keys (name, model, api_provider, api_token, tools, target,
// steps) from arbitrary step-name override keys (spec.md §6, scenario B).
// top-level keys from arbitrary step-name override keys.
func (w *Workflow) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("workflow document must be a mapping")
	}
	w.Pos = Position{node.Line, node.Column}
	w.Overrides = make(map[string]StepOverride)

	for i := 0; i+1 < len(node.Content); i += 2 {
		keyNode, valNode := node.Content[i], node.Content[i+1]
		key := keyNode.Value

		switch key {
		case "name":
			w.Name = valNode.Value
		case "model":
			w.Model = valNode.Value
		case "api_provider":
			w.APIProvider = valNode.Value
		case "api_token":
			w.APIToken = valNode.Value
		case "tools":
			if err := valNode.Decode(&w.Tools); err != nil {
				return err
			}
		case "target":
			w.Target = valNode.Value
		case "steps":
			steps, err := decodeStepList(valNode)
			if err != nil {
				return err
			}
			w.Steps = steps
		default:
			mods := &Modifiers{}
			if valNode.Kind == yaml.MappingNode {
				if err := mods.UnmarshalYAML(valNode); err != nil {
					return fmt.Errorf("invalid override for step %q: %w", key, err)
				}
			}
			w.Overrides[key] = mods.Overrides
		}
	}

	if w.Name == "" {
		return fmt.Errorf("workflow at %s: name is required", w.Pos)
	}
	return nil
}
