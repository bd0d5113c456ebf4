package harness

import (
	"fmt"
	"sort"

	ports "github.com/ZanzyTHEbar/toolrun/trun/harness/ports"
)

// Registry maps tool names to their specs. Registration happens at startup;
// lookups during dispatch are read-only.
type Registry struct {
	tools map[string]ports.ToolSpec
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]ports.ToolSpec)}
}

// Register adds a tool. Names must be unique.
func (r *Registry) Register(spec ports.ToolSpec) error {
	if spec.Name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidToolSpec)
	}
	if spec.Handler == nil {
		return fmt.Errorf("%w: %s has no handler", ErrInvalidToolSpec, spec.Name)
	}
	if err := spec.Parameters.Check(); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidToolSpec, spec.Name, err)
	}
	if _, exists := r.tools[spec.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, spec.Name)
	}
	r.tools[spec.Name] = spec
	return nil
}

// MustRegister registers every spec and panics on the first failure.
func (r *Registry) MustRegister(specs ...ports.ToolSpec) {
	for _, spec := range specs {
		if err := r.Register(spec); err != nil {
			panic(err)
		}
	}
}

func (r *Registry) Lookup(name string) (ports.ToolSpec, error) {
	spec, ok := r.tools[name]
	if !ok {
		return ports.ToolSpec{}, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	return spec, nil
}

// Specs returns all registered tools sorted by name.
func (r *Registry) Specs() []ports.ToolSpec {
	specs := make([]ports.ToolSpec, 0, len(r.tools))
	for _, spec := range r.tools {
		specs = append(specs, spec)
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

func (r *Registry) Len() int { return len(r.tools) }
