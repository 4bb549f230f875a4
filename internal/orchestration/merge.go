package orchestration

import (
	"sort"

	"github.com/bizmatters/agent-builder/codegen-orchestrator/internal/agents"
	"github.com/bizmatters/agent-builder/codegen-orchestrator/internal/models"
)

// defaultPriority lists layers from highest to lowest merge priority. When
// two layers write the same path in one round the higher one wins.
var defaultPriority = []models.Layer{
	models.LayerData,
	models.LayerService,
	models.LayerPresentation,
}

// LayerOutput is one domain agent's files from a round.
type LayerOutput struct {
	Layer models.Layer
	Files []models.FileArtifact
}

// rank returns a sort key; lower ranks win. Layers outside the priority
// list come after it, ordered by name.
func rank(priority []models.Layer, layer models.Layer) (int, string) {
	for i, l := range priority {
		if l == layer {
			return i, ""
		}
	}
	return len(priority), string(layer)
}

// Merge overlays one round of domain outputs on base. The result does not
// depend on the order of outputs: they are applied from lowest to highest
// priority so the highest-priority writer of a path wins. The returned files
// are sorted by path and owners maps every path written this round to its
// layer; paths only present in base keep their previous owner.
func Merge(base []models.FileArtifact, baseOwners map[string]models.Layer, outputs []LayerOutput, priority []models.Layer) ([]models.FileArtifact, map[string]models.Layer) {
	if priority == nil {
		priority = defaultPriority
	}

	ordered := make([]LayerOutput, len(outputs))
	copy(ordered, outputs)
	sort.SliceStable(ordered, func(i, j int) bool {
		ri, ni := rank(priority, ordered[i].Layer)
		rj, nj := rank(priority, ordered[j].Layer)
		if ri != rj {
			return ri > rj
		}
		return ni > nj
	})

	index := models.FilesByPath(base)
	owners := make(map[string]models.Layer, len(index))
	for p := range index {
		if l, ok := baseOwners[p]; ok {
			owners[p] = l
		}
	}

	for _, out := range ordered {
		for _, f := range out.Files {
			index[f.Path] = f
			owners[f.Path] = out.Layer
		}
	}

	merged := make([]models.FileArtifact, 0, len(index))
	for _, f := range index {
		merged = append(merged, f)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Path < merged[j].Path })
	return merged, owners
}

// RouteFindings assigns each finding to the domain agents that should act on
// it. A finding whose path has a known owner, or whose source is a domain
// agent, goes to that layer only; everything else goes to every layer.
func RouteFindings(findings []models.Finding, owners map[string]models.Layer, layers []models.Layer) map[models.Layer][]models.Finding {
	routed := make(map[models.Layer][]models.Finding, len(layers))
	known := make(map[models.Layer]bool, len(layers))
	for _, l := range layers {
		known[l] = true
	}

	for _, f := range findings {
		if l, ok := owners[f.AffectedPath]; ok && f.AffectedPath != "" && known[l] {
			routed[l] = append(routed[l], f)
			continue
		}
		if role, err := agents.ParseRole(f.Source); err == nil && role.Kind == agents.KindDomain && known[role.Layer] {
			routed[role.Layer] = append(routed[role.Layer], f)
			continue
		}
		for _, l := range layers {
			routed[l] = append(routed[l], f)
		}
	}
	return routed
}
