package tools

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Dispatcher wraps a Registry with the call-shaping behavior spec.md §4.3
// requires of the Tool Dispatcher: concurrent identical calls within a run
// are collapsed into one execution via single-flight, a completed call's
// result is cached for the lifetime of the run under its
// (tool_name, normalized_parameters) key, and any tool declared
// `serial: true` never runs concurrently with another call to itself.
type Dispatcher struct {
	registry *Registry
	group    singleflight.Group

	cacheMu sync.Mutex
	cache   map[string]*Result

	serialMu sync.Map // map[string]*sync.Mutex, keyed by tool name
}

func NewDispatcher(registry *Registry) *Dispatcher {
	if registry == nil {
		registry = NewRegistry()
	}
	return &Dispatcher{
		registry: registry,
		cache:    make(map[string]*Result),
	}
}

// Dispatch resolves toolName to its Provider and executes it, applying
// caching, single-flight collapsing, and serial locking.
func (d *Dispatcher) Dispatch(execCtx *ExecutionContext, toolName string, parameters json.RawMessage) (*Result, error) {
	tool, provider, ok := d.registry.Lookup(toolName)
	if !ok {
		return nil, fmt.Errorf("unknown tool: %s", toolName)
	}

	key, err := cacheKey(toolName, parameters)
	if err != nil {
		return nil, fmt.Errorf("normalize parameters for %s: %w", toolName, err)
	}

	d.cacheMu.Lock()
	if cached, ok := d.cache[key]; ok {
		d.cacheMu.Unlock()
		return cached, nil
	}
	d.cacheMu.Unlock()

	result, err, _ := d.group.Do(key, func() (interface{}, error) {
		if tool.Serial {
			lockIface, _ := d.serialMu.LoadOrStore(toolName, &sync.Mutex{})
			lock := lockIface.(*sync.Mutex)
			lock.Lock()
			defer lock.Unlock()
		}

		res, err := provider.Execute(execCtx, toolName, parameters)
		if err != nil {
			return nil, err
		}

		d.cacheMu.Lock()
		d.cache[key] = res
		d.cacheMu.Unlock()

		return res, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*Result), nil
}

// Tools returns every tool available through this dispatcher, sorted.
func (d *Dispatcher) Tools() []Tool {
	return d.registry.List()
}

// cacheKey builds the dispatch cache key: the tool name plus a
// normalized (field-order-independent) digest of its parameters, so two
// logically identical calls with differently-ordered JSON keys collapse to
// the same entry.
func cacheKey(toolName string, parameters json.RawMessage) (string, error) {
	var normalized interface{}
	if len(parameters) > 0 {
		if err := json.Unmarshal(parameters, &normalized); err != nil {
			return "", err
		}
	}
	canonical, err := json.Marshal(normalized)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return toolName + ":" + hex.EncodeToString(sum[:]), nil
}
