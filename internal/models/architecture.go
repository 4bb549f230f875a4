package models

// Layer names a disjoint area of the architecture owned by one domain agent
type Layer string

const (
	LayerData         Layer = "data"
	LayerService      Layer = "service"
	LayerPresentation Layer = "presentation"
)

// ArchitectureSpec is the shared contract produced by the Architect. It is
// fixed for the whole generation once accepted.
type ArchitectureSpec struct {
	ProjectKind string            `json:"project_kind"`
	Summary     string            `json:"summary,omitempty"`
	Features    []string          `json:"features"`
	Stack       map[Layer]string  `json:"stack"`
	Modules     []ModuleDef       `json:"modules"`
	EntryPoints []string          `json:"entry_points,omitempty"`
	Extra       map[string]string `json:"extra,omitempty"`
}

// ModuleDef describes a page, route or module assigned to a layer
type ModuleDef struct {
	Name        string `json:"name"`
	Kind        string `json:"kind"` // page, route, module, schema
	Layer       Layer  `json:"layer"`
	Path        string `json:"path,omitempty"`
	Description string `json:"description,omitempty"`
}

// ForLayer returns the slice of the architecture a single domain agent needs.
// Shared fields are copied, modules are filtered to the layer.
func (a ArchitectureSpec) ForLayer(layer Layer) ArchitectureSpec {
	out := ArchitectureSpec{
		ProjectKind: a.ProjectKind,
		Summary:     a.Summary,
		Features:    append([]string(nil), a.Features...),
		Stack:       make(map[Layer]string, len(a.Stack)),
		EntryPoints: append([]string(nil), a.EntryPoints...),
	}
	for k, v := range a.Stack {
		out.Stack[k] = v
	}
	for _, m := range a.Modules {
		if m.Layer == layer {
			out.Modules = append(out.Modules, m)
		}
	}
	return out
}
