package agents

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bizmatters/agent-builder/codegen-orchestrator/internal/llm"
	"github.com/bizmatters/agent-builder/codegen-orchestrator/internal/models"
	"github.com/bizmatters/agent-builder/codegen-orchestrator/internal/parser"
)

// fixedGateway answers every call with the same text and records requests.
type fixedGateway struct {
	text     string
	err      error
	requests []llm.Request
}

func (g *fixedGateway) Complete(_ context.Context, req llm.Request) (string, error) {
	g.requests = append(g.requests, req)
	return g.text, g.err
}

func newAgent(t *testing.T, role Role, gw llm.Gateway) *Agent {
	t.Helper()
	a, err := New(role, gw, Config{Model: "test-model", MaxTokens: 1024})
	require.NoError(t, err)
	return a
}

func TestRole_StringAndParse(t *testing.T) {
	tests := []struct {
		role Role
		want string
	}{
		{Planner(), "planner"},
		{Architect(), "architect"},
		{Domain(models.LayerData), "domain:data"},
		{Domain(models.LayerPresentation), "domain:presentation"},
		{Tester(), "tester"},
		{Reviewer(), "reviewer"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.role.String())
			parsed, err := ParseRole(tt.want)
			require.NoError(t, err)
			assert.Equal(t, tt.role, parsed)
		})
	}

	for _, bad := range []string{"", "coder", "domain", "domain:", "planner:data"} {
		_, err := ParseRole(bad)
		assert.Error(t, err, bad)
	}
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Planner(), nil, Config{})
	assert.ErrorIs(t, err, ErrNoGateway)

	_, err = New(Role{Kind: KindDomain}, &fixedGateway{}, Config{})
	assert.Error(t, err)

	_, err = New(Role{Kind: "poet"}, &fixedGateway{}, Config{})
	assert.Error(t, err)
}

func TestRun_DomainAgentBuildsScopedRequest(t *testing.T) {
	gw := &fixedGateway{text: "Schema below.\n\nFile: db/schema.sql\n```sql\ncreate table todos (id int);\n```"}
	a := newAgent(t, Domain(models.LayerData), gw)

	spec := &models.ArchitectureSpec{ProjectKind: "web-app", Modules: []models.ModuleDef{{Name: "todos", Layer: models.LayerData}}}
	history := []models.ConversationMessage{{Role: models.RoleUser, Content: "Build a todo app"}}

	res, err := a.Run(context.Background(), RoleInput{
		Request:      "Build a todo app",
		Architecture: spec,
		Findings:     []models.Finding{{Severity: models.SeverityMajor, Description: "missing index", AffectedPath: "db/schema.sql"}},
		History:      history,
		Iteration:    1,
	})
	require.NoError(t, err)

	require.Len(t, res.Files, 1)
	assert.Equal(t, "db/schema.sql", res.Files[0].Path)
	assert.Equal(t, "sql", res.Files[0].Language)
	assert.Equal(t, "Schema below.", res.Notes)
	assert.Empty(t, res.Findings)
	assert.Equal(t, gw.text, res.Raw)

	require.Len(t, gw.requests, 1)
	req := gw.requests[0]
	assert.Equal(t, "test-model", req.Model)
	assert.Equal(t, "domain:data", req.Tag)
	assert.Contains(t, req.System, "Your layer is DATA")
	require.Len(t, req.Messages, 2)
	assert.Equal(t, history[0], req.Messages[0])
	last := req.Messages[1].Content
	assert.Contains(t, last, "## Architecture")
	assert.Contains(t, last, `"project_kind": "web-app"`)
	assert.Contains(t, last, "Findings to fix (iteration 1)")
	assert.Contains(t, last, "- [major] missing index (db/schema.sql)")
}

func TestRun_NoFilesIsMajorFinding(t *testing.T) {
	gw := &fixedGateway{text: "I think you should use React for this."}
	a := newAgent(t, Domain(models.LayerPresentation), gw)

	res, err := a.Run(context.Background(), RoleInput{Request: "x"})
	require.NoError(t, err)

	assert.Empty(t, res.Files)
	require.Len(t, res.Findings, 1)
	assert.Equal(t, models.SeverityMajor, res.Findings[0].Severity)
	assert.Equal(t, models.ErrorKindParseAnomaly, res.Findings[0].Kind)
	assert.Contains(t, res.Findings[0].Description, "domain:presentation")
}

func TestRun_GatewayErrorIsReturned(t *testing.T) {
	cause := &llm.TransientError{Provider: "test", StatusCode: 503, Err: errors.New("unavailable")}
	a := newAgent(t, Domain(models.LayerService), &fixedGateway{err: cause})

	_, err := a.Run(context.Background(), RoleInput{Request: "x"})
	require.Error(t, err)
	assert.True(t, llm.IsTransient(err))
	assert.Contains(t, err.Error(), "domain:service agent")
}

func TestRun_Planner(t *testing.T) {
	a := newAgent(t, Planner(), &fixedGateway{text: "1. Model todos\n2. Expose REST API\n3. Build list page"})
	res, err := a.Run(context.Background(), RoleInput{Request: "todo app"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Model todos", "Expose REST API", "Build list page"}, res.Plan)

	a = newAgent(t, Planner(), &fixedGateway{text: "   "})
	_, err = a.Run(context.Background(), RoleInput{Request: "todo app"})
	assert.ErrorIs(t, err, ErrEmptyPlan)
}

func TestRun_Architect(t *testing.T) {
	valid := "```json\n" + `{
  "project_kind": "web-app",
  "features": ["list todos"],
  "stack": {"data": "postgres", "service": "express", "presentation": "react"},
  "modules": [
    {"name": "todos", "kind": "schema", "layer": "Data"},
    {"name": "TodoList", "kind": "page", "layer": "presentation", "path": "src/pages/TodoList.tsx"}
  ],
  "entry_points": ["server/index.ts"]
}` + "\n```"

	tests := []struct {
		name    string
		raw     string
		wantErr error
	}{
		{name: "valid", raw: valid},
		{name: "missing kind", raw: `{"modules": [{"name": "a", "layer": "data"}]}`, wantErr: ErrNoProjectKind},
		{name: "no modules", raw: `{"project_kind": "api", "modules": []}`, wantErr: ErrNoModules},
		{name: "prose only", raw: "I would build it with React.", wantErr: parser.ErrNoJSON},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newAgent(t, Architect(), &fixedGateway{text: tt.raw})
			res, err := a.Run(context.Background(), RoleInput{Request: "todo app"})
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, res.Architecture)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, res.Architecture)
			assert.Equal(t, "web-app", res.Architecture.ProjectKind)
			assert.Equal(t, models.LayerData, res.Architecture.Modules[0].Layer, "layer names are normalized")
			assert.Equal(t, []string{"server/index.ts"}, res.Architecture.EntryPoints)
		})
	}
}

func TestRun_Tester(t *testing.T) {
	a := newAgent(t, Tester(), &fixedGateway{text: `{"findings": [
		{"severity": "HIGH", "description": "api.ts imports missing module", "affected_path": "src/api.ts"},
		{"severity": "minor", "description": "  "}
	]}`})

	res, err := a.Run(context.Background(), RoleInput{Request: "x"})
	require.NoError(t, err)
	require.Len(t, res.Findings, 1)
	assert.Equal(t, models.SeverityMajor, res.Findings[0].Severity)
	assert.Equal(t, "src/api.ts", res.Findings[0].AffectedPath)
	assert.Equal(t, "tester", res.Findings[0].Source)

	a = newAgent(t, Tester(), &fixedGateway{text: "looks fine"})
	res, err = a.Run(context.Background(), RoleInput{Request: "x"})
	require.NoError(t, err)
	require.Len(t, res.Findings, 1)
	assert.Equal(t, models.SeverityMinor, res.Findings[0].Severity)
}

func TestRun_Reviewer(t *testing.T) {
	a := newAgent(t, Reviewer(), &fixedGateway{text: `{"decision": "approve", "summary": "good", "findings": [{"severity": "minor", "description": "naming"}]}`})

	res, err := a.Run(context.Background(), RoleInput{Request: "x"})
	require.NoError(t, err)
	require.NotNil(t, res.Review)
	assert.Equal(t, DecisionApprove, res.Review.Decision)
	assert.Equal(t, "good", res.Notes)
	assert.Equal(t, "reviewer", res.Findings[0].Source)
}
