package agentrt

import (
	"context"
	"fmt"
)

// Tool is one closed, tagged capability an agent session may invoke beyond
// its built-in file/shell access. Unlike the original design's
// discover-by-name dispatch, the set of tools a session can call is fixed
// at registry construction time — there is no runtime lookup of arbitrary
// names.
type Tool interface {
	Name() string
	Invoke(ctx context.Context, args map[string]any) (any, error)
}

// Registry is the closed set of tools wired in at startup.
type Registry struct {
	tools map[string]Tool
}

// NewRegistry builds a Registry from a fixed list of tools. Duplicate names
// overwrite earlier registrations in list order, which is only ever a
// programmer error at startup, not a runtime condition.
func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		r.tools[t.Name()] = t
	}
	return r
}

// Get returns the tool registered under name, if any.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Names lists every registered tool name, for diagnostics.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.tools))
	for name := range r.tools {
		out = append(out, name)
	}
	return out
}

// Invoke dispatches to the named tool, or returns an error if it is not in
// the closed set.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]any) (any, error) {
	t, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("tool %q is not registered", name)
	}
	return t.Invoke(ctx, args)
}
