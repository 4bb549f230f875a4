package agents

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bizmatters/agent-builder/codegen-orchestrator/internal/models"
	"github.com/bizmatters/agent-builder/codegen-orchestrator/internal/parser"
)

var (
	ErrNoProjectKind = errors.New("architecture has no project_kind")
	ErrNoModules     = errors.New("architecture has no modules")
)

// DecodeArchitecture reads an Architect response into a validated spec.
func DecodeArchitecture(raw string) (*models.ArchitectureSpec, error) {
	var spec models.ArchitectureSpec
	if err := parser.ExtractJSON(raw, &spec); err != nil {
		return nil, &parser.DecodeError{What: "architecture", Err: err}
	}
	if err := ValidateArchitecture(&spec); err != nil {
		return nil, &parser.DecodeError{What: "architecture", Err: err}
	}
	return &spec, nil
}

// ValidateArchitecture checks the minimum a domain agent needs and
// normalizes layer names in place.
func ValidateArchitecture(spec *models.ArchitectureSpec) error {
	spec.ProjectKind = strings.TrimSpace(spec.ProjectKind)
	if spec.ProjectKind == "" {
		return ErrNoProjectKind
	}
	if len(spec.Modules) == 0 {
		return ErrNoModules
	}
	for i := range spec.Modules {
		m := &spec.Modules[i]
		m.Layer = models.Layer(strings.ToLower(strings.TrimSpace(string(m.Layer))))
		if m.Name == "" {
			return fmt.Errorf("module %d has no name", i)
		}
		if m.Layer == "" {
			return fmt.Errorf("module %q has no layer", m.Name)
		}
	}
	return nil
}
