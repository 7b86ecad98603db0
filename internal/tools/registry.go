package tools

import (
	"context"
	"fmt"
	"sort"

	"github.com/cloudwego/eino/schema"
)

// Registry maps tool names to implementations.
type Registry struct {
	tools map[Name]Tool
}

// NewRegistry returns a registry holding the given tools.
func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: make(map[Name]Tool, len(tools))}
	for _, t := range tools {
		r.Register(t)
	}
	return r
}

// Register adds t, replacing any tool with the same name.
func (r *Registry) Register(t Tool) {
	r.tools[t.Name()] = t
}

// Has reports whether name is registered.
func (r *Registry) Has(name Name) bool {
	_, ok := r.tools[name]
	return ok
}

// Names returns the registered tool names in sorted order.
func (r *Registry) Names() []Name {
	names := make([]Name, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// Infos returns eino tool metadata for every registered tool, sorted by name.
func (r *Registry) Infos(ctx context.Context) ([]*schema.ToolInfo, error) {
	out := make([]*schema.ToolInfo, 0, len(r.tools))
	for _, n := range r.Names() {
		t := r.tools[n]
		if d, ok := t.(interface {
			Info(context.Context) (*schema.ToolInfo, error)
		}); ok {
			ti, err := d.Info(ctx)
			if err != nil {
				return nil, fmt.Errorf("tools: info for %s: %w", n, err)
			}
			out = append(out, ti)
			continue
		}
		out = append(out, &schema.ToolInfo{Name: string(n), Desc: t.Description()})
	}
	return out, nil
}

// Run invokes the named tool. An unknown name yields a tool_not_found
// observation rather than an error.
func (r *Registry) Run(ctx context.Context, name Name, input string, tc *Context) (*Output, error) {
	t, ok := r.tools[name]
	if !ok {
		return &Output{Observation: fmt.Sprintf("tool_not_found: %s", name)}, nil
	}
	return t.Run(ctx, input, tc)
}
