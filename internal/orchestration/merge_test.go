package orchestration

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/bizmatters/agent-builder/codegen-orchestrator/internal/models"
)

func file(path, content string) models.FileArtifact {
	return models.FileArtifact{Path: path, Content: content}
}

func permutations(in []LayerOutput) [][]LayerOutput {
	if len(in) <= 1 {
		return [][]LayerOutput{append([]LayerOutput(nil), in...)}
	}
	var out [][]LayerOutput
	for i := range in {
		rest := make([]LayerOutput, 0, len(in)-1)
		rest = append(rest, in[:i]...)
		rest = append(rest, in[i+1:]...)
		for _, p := range permutations(rest) {
			out = append(out, append([]LayerOutput{in[i]}, p...))
		}
	}
	return out
}

func TestMerge_DeterministicAcrossCompletionOrder(t *testing.T) {
	outputs := []LayerOutput{
		{Layer: models.LayerPresentation, Files: []models.FileArtifact{file("src/App.tsx", "ui"), file("shared/types.ts", "from ui")}},
		{Layer: models.LayerService, Files: []models.FileArtifact{file("server/index.ts", "api"), file("shared/types.ts", "from api")}},
		{Layer: models.LayerData, Files: []models.FileArtifact{file("db/schema.sql", "tables"), file("shared/types.ts", "from db")}},
		{Layer: "infra", Files: []models.FileArtifact{file("Dockerfile", "FROM node"), file("server/index.ts", "infra")}},
	}
	base := []models.FileArtifact{file("README.md", "# app"), file("src/App.tsx", "old ui")}

	wantFiles, wantOwners := Merge(base, nil, outputs, nil)

	for _, p := range permutations(outputs) {
		gotFiles, gotOwners := Merge(base, nil, p, nil)
		assert.Equal(t, wantFiles, gotFiles)
		assert.Equal(t, wantOwners, gotOwners)
	}

	index := models.FilesByPath(wantFiles)
	assert.Equal(t, "from db", index["shared/types.ts"].Content, "data layer wins")
	assert.Equal(t, "api", index["server/index.ts"].Content, "unlisted layers rank last")
	assert.Equal(t, "ui", index["src/App.tsx"].Content, "round output overlays base")
	assert.Equal(t, "# app", index["README.md"].Content)
	assert.Equal(t, models.LayerData, wantOwners["shared/types.ts"])
	_, owned := wantOwners["README.md"]
	assert.False(t, owned)

	var got []string
	for _, f := range wantFiles {
		got = append(got, f.Path)
	}
	assert.IsIncreasing(t, got)
}

func TestMerge_CustomPriority(t *testing.T) {
	outputs := []LayerOutput{
		{Layer: models.LayerData, Files: []models.FileArtifact{file("x", "data")}},
		{Layer: models.LayerPresentation, Files: []models.FileArtifact{file("x", "ui")}},
	}
	files, owners := Merge(nil, nil, outputs, []models.Layer{models.LayerPresentation, models.LayerData})
	assert.Equal(t, "ui", files[0].Content)
	assert.Equal(t, models.LayerPresentation, owners["x"])
}

func TestMerge_KeepsBaseOwners(t *testing.T) {
	base := []models.FileArtifact{file("db/schema.sql", "v1")}
	files, owners := Merge(base, map[string]models.Layer{"db/schema.sql": models.LayerData, "gone.txt": models.LayerData}, nil, nil)
	assert.Len(t, files, 1)
	assert.Equal(t, map[string]models.Layer{"db/schema.sql": models.LayerData}, owners)
}

func TestRouteFindings(t *testing.T) {
	layers := []models.Layer{models.LayerData, models.LayerService, models.LayerPresentation}
	owners := map[string]models.Layer{
		"db/schema.sql": models.LayerData,
		"src/App.tsx":   models.LayerPresentation,
	}
	findings := []models.Finding{
		{Description: "schema", AffectedPath: "db/schema.sql"},
		{Description: "ui", AffectedPath: "src/App.tsx"},
		{Description: "service down", Source: "domain:service"},
		{Description: "global"},
		{Description: "unknown path", AffectedPath: "nowhere.txt"},
	}

	routed := RouteFindings(findings, owners, layers)

	descriptions := func(l models.Layer) []string {
		var out []string
		for _, f := range routed[l] {
			out = append(out, f.Description)
		}
		return out
	}
	assert.Equal(t, []string{"schema", "global", "unknown path"}, descriptions(models.LayerData))
	assert.Equal(t, []string{"service down", "global", "unknown path"}, descriptions(models.LayerService))
	assert.Equal(t, []string{"ui", "global", "unknown path"}, descriptions(models.LayerPresentation))
}
