package orchestration

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bizmatters/agent-builder/codegen-orchestrator/internal/models"
)

func TestCheckDelimiters(t *testing.T) {
	tests := []struct {
		name    string
		content string
		syn     syntax
		ok      bool
	}{
		{name: "balanced go", content: "func main() {\n\tx := []int{1, 2}\n}", syn: cLike, ok: true},
		{name: "braces in strings and comments", content: "s := \"{\" // }\n/* ( */ r := '}'", syn: cLike, ok: true},
		{name: "template literal", content: "const s = `${a} {`\nf(s)", syn: jsLike, ok: true},
		{name: "jsx apostrophe", content: "return (\n  <p>Don't panic {count}</p>\n)", syn: jsLike, ok: true},
		{name: "jsx self closing and division", content: "const r = (a / b) / (c)\nreturn <div><br/><Foo {...p} /></div>", syn: jsLike, ok: true},
		{name: "regex literal", content: "export const re = /\\(/;\nconst s = /[/(]/g.test(x)\nif (ok) { return /\\{/ }", syn: jsLike, ok: true},
		{name: "division is not a regex", content: "const y = a / (b", syn: jsLike},
		{name: "go raw string with backslash", content: "var p = `C:\\`\nfunc f() {}", syn: goLike, ok: true},
		{name: "go rune literals", content: "r := '{'\nq := '\\''\nf(r, q)", syn: goLike, ok: true},
		{name: "missing close", content: "function f() {\n  return 1\n", syn: cLike},
		{name: "mismatched", content: "f(a]", syn: cLike},
		{name: "stray close", content: "}\n", syn: cLike},
		{name: "python comment", content: "def f(x):  # (unbalanced in comment\n    return [x]", syn: hashy, ok: true},
		{name: "python unclosed", content: "print((1)", syn: hashy},
		{name: "unterminated string", content: "x = \"abc", syn: cLike},
		{name: "sql", content: "-- )\ncreate table t (id int, name text default ')');", syn: sqlish, ok: true},
		{name: "rust lifetimes", content: "fn f<'a>(x: &'a str) -> &'a str { x }", syn: rustish, ok: true},
		{name: "rust char literals", content: "fn main() { let c = '{'; let q = '\\''; let u = '\\u{7b}'; let p = '('; }", syn: rustish, ok: true},
		{name: "rust lifetime and char", content: "fn f<'a>(x: &'a str) -> char { '}' }", syn: rustish, ok: true},
		{name: "rust unclosed", content: "fn main() { let c = 'x';", syn: rustish},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			problem := checkDelimiters(tt.content, tt.syn)
			if tt.ok {
				assert.Empty(t, problem)
			} else {
				assert.NotEmpty(t, problem)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	t.Run("no files is critical", func(t *testing.T) {
		findings := Validate(nil, nil)
		require.Len(t, findings, 1)
		assert.Equal(t, models.SeverityCritical, findings[0].Severity)
	})

	t.Run("valid code has no findings", func(t *testing.T) {
		files := []models.FileArtifact{
			{Path: "src/main.rs", Language: "rust", Content: "fn main() {\n    let c = '{';\n    println!(\"{}\", c);\n}\n"},
			{Path: "src/re.ts", Language: "typescript", Content: "export const re = /\\(/;\nexport function f(s: string) {\n  return re.test(s)\n}\n"},
			{Path: "paths.go", Language: "go", Content: "package paths\n\nvar p = `C:\\`\n\nfunc Root() string { return p }\n"},
		}
		assert.Empty(t, Validate(files, nil))
	})

	t.Run("structural findings", func(t *testing.T) {
		arch := &models.ArchitectureSpec{
			EntryPoints: []string{"server/index.ts", "src/main.tsx"},
			Modules: []models.ModuleDef{
				{Name: "Home", Layer: models.LayerPresentation, Path: "src/pages/Home.tsx"},
				{Name: "api", Layer: models.LayerService, Path: "server/routes"},
			},
		}
		files := []models.FileArtifact{
			{Path: "server/index.ts", Language: "typescript", Content: "app.listen(3000)"},
			{Path: "server/routes/todos.ts", Language: "typescript", Content: "export function list() { return [] }"},
			{Path: "package.json", Language: "json", Content: `{"name": "app",}`},
			{Path: "src/App.tsx", Language: "typescript", Content: "export default function App() {"},
			{Path: "notes.md", Language: "markdown", Content: "   "},
			{Path: "README.md", Language: "markdown", Content: "# (unbalanced is fine here"},
		}

		byPath := map[string]models.Finding{}
		for _, f := range Validate(files, arch) {
			byPath[f.AffectedPath] = f
			assert.Equal(t, staticSource, f.Source)
		}

		assert.Len(t, byPath, 5)
		assert.Equal(t, models.SeverityMajor, byPath["package.json"].Severity)
		assert.Equal(t, models.SeverityMajor, byPath["src/App.tsx"].Severity)
		assert.Equal(t, models.SeverityMinor, byPath["notes.md"].Severity)
		assert.Equal(t, models.SeverityMajor, byPath["src/main.tsx"].Severity)
		assert.Equal(t, models.SeverityMinor, byPath["src/pages/Home.tsx"].Severity)
		_, flagged := byPath["server/routes"]
		assert.False(t, flagged, "directory modules are satisfied by files under them")
	})
}
