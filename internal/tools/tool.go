// Package tools implements the Tool Dispatcher (spec.md §4.3): a registry of
// named callables the Chat Driver may invoke on the model's behalf, with
// single-flight collapsing of concurrent identical calls, a dispatch cache,
// and per-tool serialization for tools declared `serial: true`.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/skeinhq/skein/internal/execcontext"
	"github.com/skeinhq/skein/internal/schema"
)

// ExecutionContext carries the cancellation context and run/step identity a
// Provider needs to execute one tool call.
type ExecutionContext struct {
	Context context.Context
	RunID   string
	StepID  string
	Store   *execcontext.Store
	Timeout time.Duration
}

// Result is the outcome of a single tool call.
type Result struct {
	ToolName string                 `json:"tool_name"`
	Success  bool                   `json:"success"`
	Output   map[string]interface{} `json:"output,omitempty"`
	Error    string                 `json:"error,omitempty"`
	Duration time.Duration          `json:"duration"`
	// Recoverable marks an error the Chat Driver should feed back to the
	// model as a tool-result turn so it can retry (spec.md §4.3); a
	// non-recoverable error aborts the step per spec.md §7's fatal-error
	// policy.
	Recoverable bool `json:"-"`
}

// Tool describes one callable exposed to the model: its name, description,
// and JSON Schema parameter shape.
type Tool struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Parameters  schema.JSON `json:"parameters"`
	// Serial marks a tool whose calls must never run concurrently with each
	// other, even across different steps of the same run (spec.md §5).
	Serial bool `json:"-"`
}

// Provider supplies one or more named tools and knows how to execute them.
type Provider interface {
	Name() string
	Tools() []Tool
	Execute(execCtx *ExecutionContext, toolName string, parameters json.RawMessage) (*Result, error)
	Close() error
}

// Registry is the process-wide catalog of tool providers and the tools they
// expose, keyed by tool name.
type Registry struct {
	mu        sync.RWMutex
	providers []Provider
	byName    map[string]Provider
	tools     map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]Provider),
		tools:  make(map[string]Tool),
	}
}

// Register adds a provider and indexes every tool it exposes.
func (r *Registry) Register(p Provider) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, t := range p.Tools() {
		if _, exists := r.byName[t.Name]; exists {
			return fmt.Errorf("tool %q already registered", t.Name)
		}
		r.byName[t.Name] = p
		r.tools[t.Name] = t
	}
	r.providers = append(r.providers, p)
	return nil
}

// List returns every registered tool, sorted by name.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Lookup returns the tool definition and its provider by name.
func (r *Registry) Lookup(name string) (Tool, Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tools[name]
	if !ok {
		return Tool{}, nil, false
	}
	return t, r.byName[name], true
}

// Close shuts down every registered provider, collecting the first error.
func (r *Registry) Close() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var firstErr error
	for _, p := range r.providers {
		if err := p.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
