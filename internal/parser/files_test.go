package parser

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_FileCounts(t *testing.T) {
	tests := []struct {
		name        string
		raw         string
		wantPaths   []string
		wantSkipped int
	}{
		{
			name:      "no delimiters",
			raw:       "Sure! Here is an overview of the approach without any code.",
			wantPaths: nil,
		},
		{
			name:      "empty input",
			raw:       "",
			wantPaths: nil,
		},
		{
			name:      "single block",
			raw:       "Here you go.\n\nFile: src/main.go\n```go\npackage main\n\nfunc main() {}\n```\nThat's it.",
			wantPaths: []string{"src/main.go"},
		},
		{
			name: "multiple blocks with mixed annotations",
			raw:  strings.Join([]string{
				"// File: api/server.ts",
				"```ts",
				"export const port = 3000",
				"```",
				"",
				"### `db/schema.sql`",
				"",
				"```sql",
				"create table todos (id serial primary key);",
				"```",
				"**File:** web/index.html",
				"```",
				"<html></html>",
				"```",
			}, "\n"),
			wantPaths: []string{"api/server.ts", "db/schema.sql", "web/index.html"},
		},
		{
			name:      "path in fence info",
			raw:       "```python:app/main.py\nprint('hi')\n```",
			wantPaths: []string{"app/main.py"},
		},
		{
			name:        "block without annotation is skipped",
			raw:         "```go\nfunc x() {}\n```",
			wantPaths:   nil,
			wantSkipped: 1,
		},
		{
			name:        "truncated final block",
			raw:         "File: a.go\n```go\npackage a\n```\nFile: b.go\n```go\npackage b\nfunc broken(",
			wantPaths:   []string{"a.go"},
			wantSkipped: 1,
		},
		{
			name:        "annotation followed by prose",
			raw:         "File: a.go\nHere is the file you asked for:\n```go\npackage a\n```",
			wantPaths:   nil,
			wantSkipped: 2,
		},
		{
			name:        "unsafe paths are rejected",
			raw:         "File: ../../etc/passwd\n```\nroot\n```\nFile: /abs/path.go\n```go\n```",
			wantPaths:   nil,
			wantSkipped: 4,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var res Result
			require.NotPanics(t, func() { res = Parse(tt.raw) })

			var paths []string
			for _, f := range res.Files {
				paths = append(paths, f.Path)
			}
			assert.Equal(t, tt.wantPaths, paths)
			assert.Equal(t, tt.wantSkipped, res.Skipped)
		})
	}
}

func TestParse_ContentAndLanguage(t *testing.T) {
	raw := "File: src/App.tsx\n```\nexport default function App() {\n  return null\n}\n```\n" +
		"File: Dockerfile\n```dockerfile\nFROM alpine\n```"

	res := Parse(raw)
	require.Len(t, res.Files, 2)

	assert.Equal(t, "export default function App() {\n  return null\n}", res.Files[0].Content)
	assert.Equal(t, "typescript", res.Files[0].Language, "language inferred from extension")
	assert.Equal(t, "dockerfile", res.Files[1].Language)
}

func TestParse_NestedFences(t *testing.T) {
	raw := "File: README.md\n````markdown\n# Title\n\n```bash\nmake run\n```\n````"

	res := Parse(raw)
	require.Len(t, res.Files, 1)
	assert.Contains(t, res.Files[0].Content, "```bash")
	assert.Equal(t, 0, res.Skipped)
}

func TestParse_DuplicatePathKeepsLast(t *testing.T) {
	raw := "File: a.txt\n```\nfirst\n```\nFile: a.txt\n```\nsecond\n```"

	res := Parse(raw)
	require.Len(t, res.Files, 1)
	assert.Equal(t, "second", res.Files[0].Content)
	assert.NotEmpty(t, res.Anomalies)
}

func TestParse_MalformedInputNeverPanics(t *testing.T) {
	inputs := []string{
		"```",
		"``",
		"File:",
		"File: \n```",
		"~~~\n~~",
		"File: x.go\n```go\n```go\n",
		"\x00\x01```\x02",
		strings.Repeat("```\n", 101),
	}
	for _, in := range inputs {
		assert.NotPanics(t, func() { Parse(in) }, "input %q", in)
	}
}

func TestDetectLanguage(t *testing.T) {
	tests := map[string]string{
		"main.go":           "go",
		"src/index.TS":      "typescript",
		"schema.prisma":     "prisma",
		"Makefile":          "makefile",
		"notes":             "text",
		"styles/site.scss":  "scss",
		"config/app.yml":    "yaml",
		"deploy/Dockerfile": "dockerfile",
	}
	for p, want := range tests {
		assert.Equal(t, want, DetectLanguage(p), p)
	}
}

func TestParse_Prose(t *testing.T) {
	raw := "I created the API.\n\nFile: api/main.go\n```go\npackage main\n```\nRun it with go run."

	res := Parse(raw)
	assert.Equal(t, "I created the API.\nRun it with go run.", res.Prose)
}
