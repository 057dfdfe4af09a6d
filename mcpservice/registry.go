package mcpservice

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	jsv "github.com/google/jsonschema-go/jsonschema"
)

var (
	// ErrDuplicateTool is returned by NewRegistry when two tools share a name.
	ErrDuplicateTool = errors.New("mcpservice: duplicate tool name")
	// ErrInvalidTool is returned by NewRegistry for a tool without a name,
	// without a handler, or with an input schema that does not compile.
	ErrInvalidTool = errors.New("mcpservice: invalid tool")
)

type entry struct {
	tool   Tool
	schema *jsv.Resolved
}

// Registry is the immutable set of tools known to the process. Build it
// once with NewRegistry; it is safe for concurrent use without locking.
type Registry struct {
	entries []*entry // sorted by name
	byName  map[string]*entry
}

// NewRegistry validates and indexes tools. Each input schema is compiled
// exactly once here.
func NewRegistry(tools ...Tool) (*Registry, error) {
	r := &Registry{
		entries: make([]*entry, 0, len(tools)),
		byName:  make(map[string]*entry, len(tools)),
	}
	for _, t := range tools {
		name := t.Descriptor.Name
		if strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("%w: empty name", ErrInvalidTool)
		}
		if t.Handler == nil {
			return nil, fmt.Errorf("%w: %s has no handler", ErrInvalidTool, name)
		}
		if _, dup := r.byName[name]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateTool, name)
		}
		schema, err := compileInputSchema(t.Descriptor.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidTool, name, err)
		}
		e := &entry{tool: t, schema: schema}
		r.entries = append(r.entries, e)
		r.byName[name] = e
	}
	slices.SortFunc(r.entries, func(a, b *entry) int {
		return strings.Compare(a.tool.Descriptor.Name, b.tool.Descriptor.Name)
	})
	return r, nil
}

// Len returns the number of registered tools, active or not.
func (r *Registry) Len() int { return len(r.entries) }

// Names returns every registered tool name in sorted order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.tool.Descriptor.Name
	}
	return out
}

// Lookup returns the registered tool with the given name.
func (r *Registry) Lookup(name string) (Tool, bool) {
	e, ok := r.byName[name]
	if !ok {
		return Tool{}, false
	}
	return e.tool, true
}
