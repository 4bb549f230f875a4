package agents

import "github.com/bizmatters/agent-builder/codegen-orchestrator/internal/models"

// outputShape is what a role's raw response is parsed into
type outputShape int

const (
	outputFiles outputShape = iota
	outputPlan
	outputArchitecture
	outputFindings
	outputDecision
)

type roleTemplate struct {
	system string
	shape  outputShape
	// expectFiles turns an empty parse into a major finding.
	expectFiles bool
}

const fileFormat = `Return every file you create or change in this exact form, one block per file:

File: relative/path/to/file.ext
` + "```" + `lang
<complete file content>
` + "```" + `

Always write complete files, never diffs or placeholders. Paths are relative
to the project root.`

const findingFormat = `Each finding is {"severity": "critical|major|minor", "description": "...", "affected_path": "optional/path"}.
Use critical for code that cannot build or start, major for missing or broken
features, minor for style and polish.`

var templates = map[Kind]roleTemplate{
	KindPlanner: {
		shape: outputPlan,
		system: `You are the planner of a software generation team.
Turn the user's request into a short ordered task list (at most 10 items),
one numbered item per line. No code, no commentary.`,
	},
	KindArchitect: {
		shape: outputArchitecture,
		system: `You are the software architect of a generation team.
Design the project the user asked for and answer with a single JSON object:

{
  "project_kind": "web-app | api | cli | library | ...",
  "summary": "one paragraph",
  "features": ["..."],
  "stack": {"data": "...", "service": "...", "presentation": "..."},
  "modules": [{"name": "...", "kind": "page|route|module|schema", "layer": "data|service|presentation", "path": "...", "description": "..."}],
  "entry_points": ["paths that must exist, e.g. src/main.ts"]
}

Every module belongs to exactly one layer. Answer with JSON only.`,
	},
	KindDomain: {
		shape:       outputFiles,
		expectFiles: true,
		system: `You are a senior engineer on a software generation team.
You own one layer of the project described by the architecture below and
write only the files of that layer. Follow the architecture exactly: its
stack, module names and paths are agreed with the other engineers working in
parallel on the other layers.

` + fileFormat,
	},
	KindTester: {
		shape: outputFindings,
		system: `You are the tester of a software generation team. You cannot run
code. Read the files and report concrete defects: missing imports, calls to
functions that do not exist, mismatched names between layers, missing entry
points. Answer with a JSON object {"findings": [...]}.

` + findingFormat,
	},
	KindReviewer: {
		shape: outputDecision,
		system: `You are the reviewer of a software generation team. Decide whether
the generated project fulfils the request and the architecture. Answer with a
single JSON object:

{"decision": "approve" | "iterate", "summary": "...", "findings": [...]}

Only request another iteration for critical or major problems.

` + findingFormat,
	},
}

// layerGuidance is appended to the domain template for each layer.
var layerGuidance = map[models.Layer]string{
	models.LayerData: `Your layer is DATA: schemas, migrations, models and
data access code. Do not write HTTP handlers or UI.`,
	models.LayerService: `Your layer is SERVICE: business logic, API routes,
server entry points, configuration and dependency manifests. Do not write UI
components or database migrations.`,
	models.LayerPresentation: `Your layer is PRESENTATION: pages, components,
styles, client-side state and the client entry point. Call the service layer
only through the routes in the architecture.`,
}

func systemPrompt(r Role) string {
	t := templates[r.Kind]
	if r.Kind != KindDomain {
		return t.system
	}
	guidance, ok := layerGuidance[r.Layer]
	if !ok {
		guidance = "Your layer is " + string(r.Layer) + ". Write only the modules assigned to it."
	}
	return t.system + "\n\n" + guidance
}
