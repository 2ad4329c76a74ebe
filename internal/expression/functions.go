package expression

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FunctionFunc implements one builtin callable.
type FunctionFunc func(args []interface{}) (interface{}, error)

// FunctionRegistry holds the small, safe builtin set spec.md §9 names as the
// minimum (property access, indexing, equality/ordering, ternary, arithmetic,
// env, basename, boolean literals) plus a handful of ordinary helpers
// (toJSON/fromJSON/length/join/contains) in the same spirit. Unlike teacher's
// registry this carries no GitHub-Actions-specific functions (hashFiles,
// runner, job, needs, matrix, success/always/cancelled/failure) since nothing
// in spec.md's execution model has a CI-style job graph to reflect on.
type FunctionRegistry struct {
	functions map[string]FunctionFunc
}

func NewFunctionRegistry() *FunctionRegistry {
	r := &FunctionRegistry{functions: make(map[string]FunctionFunc)}
	r.register("env", fnEnv)
	r.register("basename", fnBasename)
	r.register("toJSON", fnToJSON)
	r.register("fromJSON", fnFromJSON)
	r.register("length", fnLength)
	r.register("join", fnJoin)
	r.register("contains", fnContains)
	r.register("trim", fnTrim)
	r.register("upper", fnUpper)
	r.register("lower", fnLower)
	return r
}

func (r *FunctionRegistry) register(name string, fn FunctionFunc) {
	r.functions[name] = fn
}

func (r *FunctionRegistry) Call(name string, args []interface{}) (interface{}, error) {
	fn, ok := r.functions[name]
	if !ok {
		return nil, fmt.Errorf("unknown function: %s", name)
	}
	return fn(args)
}

// Names returns every builtin function name this registry exposes, sorted.
func (r *FunctionRegistry) Names() []string {
	names := make([]string, 0, len(r.functions))
	for name := range r.functions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func fnEnv(args []interface{}) (interface{}, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("env() takes exactly one argument")
	}
	name, ok := args[0].(string)
	if !ok {
		return nil, fmt.Errorf("env() argument must be a string")
	}
	return os.Getenv(name), nil
}

func fnBasename(args []interface{}) (interface{}, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("basename() takes exactly one argument")
	}
	path, ok := args[0].(string)
	if !ok {
		return nil, fmt.Errorf("basename() argument must be a string")
	}
	return filepath.Base(path), nil
}

func fnToJSON(args []interface{}) (interface{}, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("toJSON() takes exactly one argument")
	}
	b, err := json.Marshal(args[0])
	if err != nil {
		return nil, fmt.Errorf("toJSON(): %w", err)
	}
	return string(b), nil
}

func fnFromJSON(args []interface{}) (interface{}, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("fromJSON() takes exactly one argument")
	}
	s, ok := args[0].(string)
	if !ok {
		return nil, fmt.Errorf("fromJSON() argument must be a string")
	}
	var v interface{}
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, fmt.Errorf("fromJSON(): %w", err)
	}
	return v, nil
}

func fnLength(args []interface{}) (interface{}, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("length() takes exactly one argument")
	}
	switch v := args[0].(type) {
	case string:
		return float64(len(v)), nil
	case []interface{}:
		return float64(len(v)), nil
	case map[string]interface{}:
		return float64(len(v)), nil
	default:
		return nil, fmt.Errorf("length() unsupported argument type")
	}
}

func fnJoin(args []interface{}) (interface{}, error) {
	if len(args) < 1 || len(args) > 2 {
		return nil, fmt.Errorf("join() takes one or two arguments")
	}
	list, ok := args[0].([]interface{})
	if !ok {
		return nil, fmt.Errorf("join() first argument must be a list")
	}
	sep := ","
	if len(args) == 2 {
		s, ok := args[1].(string)
		if !ok {
			return nil, fmt.Errorf("join() second argument must be a string")
		}
		sep = s
	}
	parts := make([]string, len(list))
	for i, v := range list {
		parts[i] = fmt.Sprintf("%v", v)
	}
	return strings.Join(parts, sep), nil
}

func fnContains(args []interface{}) (interface{}, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("contains() takes exactly two arguments")
	}
	switch haystack := args[0].(type) {
	case string:
		needle, ok := args[1].(string)
		if !ok {
			return nil, fmt.Errorf("contains() on a string requires a string needle")
		}
		return strings.Contains(haystack, needle), nil
	case []interface{}:
		for _, v := range haystack {
			if fmt.Sprintf("%v", v) == fmt.Sprintf("%v", args[1]) {
				return true, nil
			}
		}
		return false, nil
	default:
		return nil, fmt.Errorf("contains() unsupported haystack type")
	}
}

func fnTrim(args []interface{}) (interface{}, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("trim() takes exactly one argument")
	}
	s, ok := args[0].(string)
	if !ok {
		return nil, fmt.Errorf("trim() argument must be a string")
	}
	return strings.TrimSpace(s), nil
}

func fnUpper(args []interface{}) (interface{}, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("upper() takes exactly one argument")
	}
	s, ok := args[0].(string)
	if !ok {
		return nil, fmt.Errorf("upper() argument must be a string")
	}
	return strings.ToUpper(s), nil
}

func fnLower(args []interface{}) (interface{}, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("lower() takes exactly one argument")
	}
	s, ok := args[0].(string)
	if !ok {
		return nil, fmt.Errorf("lower() argument must be a string")
	}
	return strings.ToLower(s), nil
}
