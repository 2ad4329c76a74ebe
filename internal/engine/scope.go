package engine

import "github.com/skeinhq/skein/internal/execcontext"

// storeScope adapts an execcontext.Store to the expression.Scope interface,
// so the expression evaluator never needs to import execcontext directly.
type storeScope struct {
	store *execcontext.Store
}

func (s storeScope) Output(name string) (interface{}, bool) {
	return s.store.Output(name)
}

func (s storeScope) Binding(name string) (interface{}, bool) {
	return s.store.Binding(name)
}

func (s storeScope) WorkflowField(name string) (interface{}, bool) {
	opts := s.store.Options()
	if opts == nil {
		return nil, false
	}
	switch name {
	case "file":
		return opts.File, true
	case "verbose":
		return opts.Verbose, true
	case "concise":
		return opts.Concise, true
	case "target":
		return opts.Target, true
	default:
		v, ok := opts.Extra[name]
		return v, ok
	}
}
