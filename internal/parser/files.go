// Package parser extracts structured output from raw model text.
//
// A file block is a path annotation followed, after optional blank lines, by
// a fenced code block:
//
//	File: src/app.ts
//	```ts
//	export const app = 1
//	```
//
// Accepted annotations are "File: p", "Path: p", "Filename: p" (optionally
// behind a markdown heading, bold markers or a comment prefix such as
// "// ", "# ", "/* ", "<!-- "), a heading holding a backticked path, or a
// fence info string of the form "lang:path". Parsing never fails: anything
// malformed is skipped and counted.
package parser

import (
	"path"
	"strings"

	"github.com/bizmatters/agent-builder/codegen-orchestrator/internal/models"
)

// Result is the outcome of parsing one response
type Result struct {
	Files     []models.FileArtifact
	Skipped   int
	Anomalies []string
	// Prose holds the non-empty lines outside file blocks.
	Prose string
}

// Empty reports whether no files were extracted.
func (r Result) Empty() bool {
	return len(r.Files) == 0
}

type fence struct {
	char   byte
	length int
	info   string
}

// Parse scans raw for file blocks. Duplicate paths keep the last block.
func Parse(raw string) Result {
	var (
		res         Result
		lines       = strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n")
		pendingPath string
		open        *fence
		openPath    string
		body        []string
		prose       []string
		index       = map[string]int{}
	)

	emit := func(p, lang, content string) {
		if lang == "" {
			lang = DetectLanguage(p)
		}
		f := models.FileArtifact{Path: p, Content: content, Language: lang}
		if i, ok := index[p]; ok {
			res.Files[i] = f
			res.Anomalies = append(res.Anomalies, "duplicate block for "+p+", keeping the last one")
			return
		}
		index[p] = len(res.Files)
		res.Files = append(res.Files, f)
	}

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)

		if open != nil {
			if closesFence(trimmed, open) {
				lang, infoPath := splitInfo(open.info)
				p := openPath
				if p == "" {
					p = infoPath
				}
				if p == "" {
					res.Skipped++
					res.Anomalies = append(res.Anomalies, "code block without a path annotation")
				} else {
					emit(p, lang, strings.Join(body, "\n"))
				}
				open, openPath, body = nil, "", nil
				continue
			}
			body = append(body, line)
			continue
		}

		if f, ok := openingFence(trimmed); ok {
			open = &f
			openPath = pendingPath
			pendingPath = ""
			body = nil
			continue
		}

		if trimmed == "" {
			continue
		}

		if p, ok := annotationPath(trimmed); ok {
			if pendingPath != "" {
				res.Skipped++
				res.Anomalies = append(res.Anomalies, "annotation for "+pendingPath+" not followed by a code block")
			}
			if clean, valid := sanitizePath(p); valid {
				pendingPath = clean
			} else {
				pendingPath = ""
				res.Skipped++
				res.Anomalies = append(res.Anomalies, "unsafe or empty path "+p)
			}
			continue
		}

		// Prose between an annotation and its fence breaks the association.
		if pendingPath != "" {
			res.Skipped++
			res.Anomalies = append(res.Anomalies, "annotation for "+pendingPath+" not followed by a code block")
			pendingPath = ""
		}
		prose = append(prose, trimmed)
	}
	res.Prose = strings.Join(prose, "\n")

	if open != nil {
		res.Skipped++
		name := openPath
		if name == "" {
			name = "unnamed block"
		}
		res.Anomalies = append(res.Anomalies, "unterminated code block for "+name)
	}
	if pendingPath != "" {
		res.Skipped++
		res.Anomalies = append(res.Anomalies, "annotation for "+pendingPath+" not followed by a code block")
	}

	return res
}

func openingFence(trimmed string) (fence, bool) {
	if len(trimmed) < 3 || (trimmed[0] != '`' && trimmed[0] != '~') {
		return fence{}, false
	}
	c := trimmed[0]
	n := 0
	for n < len(trimmed) && trimmed[n] == c {
		n++
	}
	if n < 3 {
		return fence{}, false
	}
	info := strings.TrimSpace(trimmed[n:])
	if c == '`' && strings.Contains(info, "`") {
		return fence{}, false
	}
	return fence{char: c, length: n, info: info}, true
}

func closesFence(trimmed string, f *fence) bool {
	if len(trimmed) < f.length {
		return false
	}
	for i := 0; i < len(trimmed); i++ {
		if trimmed[i] != f.char {
			return false
		}
	}
	return true
}

// splitInfo reads "lang", "lang:path" or "path" from a fence info string.
func splitInfo(info string) (lang, p string) {
	if info == "" {
		return "", ""
	}
	word := strings.Fields(info)[0]
	if i := strings.Index(word, ":"); i > 0 {
		if clean, ok := sanitizePath(word[i+1:]); ok {
			return strings.ToLower(word[:i]), clean
		}
		return strings.ToLower(word[:i]), ""
	}
	if strings.Contains(word, "/") || DetectLanguage(word) != "text" {
		if clean, ok := sanitizePath(word); ok {
			return "", clean
		}
	}
	return strings.ToLower(word), ""
}

var annotationKeys = []string{"file:", "path:", "filename:"}

// annotationPath recognizes a path annotation line.
func annotationPath(trimmed string) (string, bool) {
	s := trimmed
	for _, prefix := range []string{"<!--", "/*", "//", "--"} {
		if strings.HasPrefix(s, prefix) {
			s = strings.TrimSpace(strings.TrimPrefix(s, prefix))
			break
		}
	}
	heading := false
	for strings.HasPrefix(s, "#") {
		s = s[1:]
		heading = true
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(strings.TrimSuffix(s, "-->"), "*/")
	s = strings.TrimSpace(s)
	s = strings.Trim(s, "*_")
	s = strings.TrimSpace(s)

	lower := strings.ToLower(s)
	for _, key := range annotationKeys {
		if strings.HasPrefix(lower, key) {
			return strings.TrimSpace(s[len(key):]), true
		}
	}

	// "### `src/main.go`"
	if heading && strings.HasPrefix(s, "`") && strings.HasSuffix(s, "`") && len(s) > 2 {
		inner := s[1 : len(s)-1]
		if !strings.ContainsAny(inner, " \t") && (strings.Contains(inner, ".") || strings.Contains(inner, "/")) {
			return inner, true
		}
	}
	return "", false
}

// sanitizePath strips decoration and rejects absolute or escaping paths.
func sanitizePath(p string) (string, bool) {
	p = strings.TrimSpace(p)
	p = strings.Trim(p, "`'\"*_ ")
	p = strings.TrimSuffix(p, ":")
	if p == "" || strings.ContainsAny(p, " \t\x00") {
		return "", false
	}
	p = strings.ReplaceAll(p, "\\", "/")
	if strings.HasPrefix(p, "/") {
		return "", false
	}
	clean := path.Clean(p)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", false
	}
	return clean, true
}
