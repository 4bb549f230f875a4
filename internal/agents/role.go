// Package agents implements the role-scoped model callers: Planner,
// Architect, one Domain coder per layer, Tester and Reviewer.
//
// A Role is a tagged variant. Every Kind maps to one entry of a fixed
// template table that holds its instructions and output shape; Run dispatches
// through that table.
package agents

import (
	"fmt"
	"strings"

	"github.com/bizmatters/agent-builder/codegen-orchestrator/internal/models"
)

// Kind tags a Role
type Kind string

const (
	KindPlanner   Kind = "planner"
	KindArchitect Kind = "architect"
	KindDomain    Kind = "domain"
	KindTester    Kind = "tester"
	KindReviewer  Kind = "reviewer"
)

// Role is Planner | Architect | Domain(layer) | Tester | Reviewer. Layer is
// set only for KindDomain.
type Role struct {
	Kind  Kind
	Layer models.Layer
}

func Planner() Role   { return Role{Kind: KindPlanner} }
func Architect() Role { return Role{Kind: KindArchitect} }
func Tester() Role    { return Role{Kind: KindTester} }
func Reviewer() Role  { return Role{Kind: KindReviewer} }

// Domain returns the coder role for one architecture layer.
func Domain(layer models.Layer) Role {
	return Role{Kind: KindDomain, Layer: layer}
}

// String renders "planner" or "domain:data".
func (r Role) String() string {
	if r.Kind == KindDomain {
		return string(r.Kind) + ":" + string(r.Layer)
	}
	return string(r.Kind)
}

// ParseRole is the inverse of Role.String.
func ParseRole(s string) (Role, error) {
	kind, layer, hasLayer := strings.Cut(strings.TrimSpace(s), ":")
	r := Role{Kind: Kind(kind)}
	if _, ok := templates[r.Kind]; !ok {
		return Role{}, fmt.Errorf("unknown agent role %q", s)
	}
	if r.Kind == KindDomain {
		if !hasLayer || layer == "" {
			return Role{}, fmt.Errorf("domain role %q needs a layer", s)
		}
		r.Layer = models.Layer(layer)
	} else if hasLayer {
		return Role{}, fmt.Errorf("role %q does not take a layer", s)
	}
	return r, nil
}
