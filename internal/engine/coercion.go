package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/skeinhq/skein/internal/execcontext"
	"github.com/skeinhq/skein/internal/expression"
)

// stripTemplate reports whether s, once trimmed, is exactly a `{{ expr }}`
// span, returning the inner expression text.
func stripTemplate(s string) (inner string, ok bool) {
	t := strings.TrimSpace(s)
	if !strings.HasPrefix(t, "{{") || !strings.HasSuffix(t, "}}") {
		return "", false
	}
	return strings.TrimSpace(t[2 : len(t)-2]), true
}

// stripShellCmd reports whether s, once trimmed, is of the form $( cmd ).
func stripShellCmd(s string) (cmd string, ok bool) {
	t := strings.TrimSpace(s)
	if !strings.HasPrefix(t, "$(") || !strings.HasSuffix(t, ")") {
		return "", false
	}
	return strings.TrimSpace(t[2 : len(t)-1]), true
}

// evalBool resolves a condition value via spec.md §4.6's coercion ladder: a
// `{{ expr }}` span evaluates to the expression's truthiness; a `$(cmd)`
// span is true iff the command exits zero; a bare "true"/"false" literal
// short-circuits; anything else is treated as the name of a previously
// executed step, and the result is the truthiness of its Output Map value.
func (e *Executor) evalBool(ctx context.Context, store *execcontext.Store, raw string) (bool, error) {
	if inner, ok := stripTemplate(raw); ok {
		val, err := e.Evaluator.Evaluate(inner, e.scope(store))
		if err != nil {
			return false, err
		}
		return expression.ToBool(expression.GoToValue(val)), nil
	}
	if cmd, ok := stripShellCmd(raw); ok {
		return e.shellExitIsZero(ctx, cmd)
	}

	switch trimmed := strings.TrimSpace(raw); trimmed {
	case "true":
		return true, nil
	case "false":
		return false, nil
	default:
		v, ok := store.Output(trimmed)
		if !ok {
			return false, fmt.Errorf("%q is neither a {{…}}/$(…) expression nor a known step name", trimmed)
		}
		return expression.ToBool(expression.GoToValue(v)), nil
	}
}

// evalString resolves a case/when expression through the same ladder,
// stringifying the result. A value that is none of {{…}}, $(…), or a known
// step name is treated as a literal string, since case/when branches most
// often compare against plain literal keys rather than step references.
func (e *Executor) evalString(ctx context.Context, store *execcontext.Store, raw string) (string, error) {
	if inner, ok := stripTemplate(raw); ok {
		val, err := e.Evaluator.Evaluate(inner, e.scope(store))
		if err != nil {
			return "", err
		}
		return expression.GoToValue(val).String(), nil
	}
	if cmd, ok := stripShellCmd(raw); ok {
		return e.shellStdout(ctx, cmd)
	}

	trimmed := strings.TrimSpace(raw)
	if v, ok := store.Output(trimmed); ok {
		return expression.GoToValue(v).String(), nil
	}
	return trimmed, nil
}

// evalList resolves an each/as iterable through the same ladder: shell
// output is split into non-empty trimmed lines, a {{…}} expression's list
// value is used as produced, and a step name's stored list is coerced
// element-wise to string.
func (e *Executor) evalList(ctx context.Context, store *execcontext.Store, raw string) ([]interface{}, error) {
	if cmd, ok := stripShellCmd(raw); ok {
		out, err := e.shellStdout(ctx, cmd)
		if err != nil {
			return nil, err
		}
		var items []interface{}
		for _, line := range strings.Split(out, "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			items = append(items, line)
		}
		return items, nil
	}

	if inner, ok := stripTemplate(raw); ok {
		val, err := e.Evaluator.Evaluate(inner, e.scope(store))
		if err != nil {
			return nil, err
		}
		items, ok := val.([]interface{})
		if !ok {
			return nil, fmt.Errorf("each expression did not evaluate to a list")
		}
		return items, nil
	}

	trimmed := strings.TrimSpace(raw)
	v, ok := store.Output(trimmed)
	if !ok {
		return nil, fmt.Errorf("%q is neither a {{…}}/$(…) expression nor a known step name", trimmed)
	}
	items, ok := v.([]interface{})
	if !ok {
		return nil, fmt.Errorf("step %q did not produce a list", trimmed)
	}
	out := make([]interface{}, len(items))
	for i, item := range items {
		out[i] = expression.GoToValue(item).String()
	}
	return out, nil
}

// shellExitIsZero runs cmd and reports whether it exited zero; a non-zero
// exit is a normal "false" result, not a propagated error.
func (e *Executor) shellExitIsZero(ctx context.Context, cmd string) (bool, error) {
	interp := expression.NewInterpolator(true)
	_, err := interp.RunCommand(ctx, cmd)
	if err == nil {
		return true, nil
	}
	if _, ok := err.(*expression.ShellFailure); ok {
		return false, nil
	}
	return false, err
}

// shellStdout runs cmd and returns its stdout; a non-zero exit still yields
// the partial stdout rather than propagating, matching shellExitIsZero's
// treatment of exit status as data, not failure.
func (e *Executor) shellStdout(ctx context.Context, cmd string) (string, error) {
	interp := expression.NewInterpolator(true)
	out, err := interp.RunCommand(ctx, cmd)
	if err != nil {
		if _, ok := err.(*expression.ShellFailure); !ok {
			return "", err
		}
	}
	return out, nil
}
