package parser

import (
	"path"
	"strings"
)

var extensionLanguages = map[string]string{
	".ts":     "typescript",
	".tsx":    "typescript",
	".js":     "javascript",
	".jsx":    "javascript",
	".mjs":    "javascript",
	".py":     "python",
	".go":     "go",
	".rs":     "rust",
	".java":   "java",
	".kt":     "kotlin",
	".rb":     "ruby",
	".php":    "php",
	".cs":     "csharp",
	".html":   "html",
	".css":    "css",
	".scss":   "scss",
	".sql":    "sql",
	".json":   "json",
	".yaml":   "yaml",
	".yml":    "yaml",
	".toml":   "toml",
	".md":     "markdown",
	".sh":     "bash",
	".vue":    "vue",
	".svelte": "svelte",
	".prisma": "prisma",
}

var baseNameLanguages = map[string]string{
	"dockerfile": "dockerfile",
	"makefile":   "makefile",
}

// DetectLanguage infers a language hint from a file path. Unknown
// extensions map to "text".
func DetectLanguage(p string) string {
	base := strings.ToLower(path.Base(p))
	if lang, ok := baseNameLanguages[base]; ok {
		return lang
	}
	if lang, ok := extensionLanguages[strings.ToLower(path.Ext(p))]; ok {
		return lang
	}
	return "text"
}
