package orchestration

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/bizmatters/agent-builder/codegen-orchestrator/internal/models"
)

const staticSource = "static-check"

type syntax struct {
	lineComments []string
	blockOpen    string
	blockClose   string
	quotes       string
	// rawQuotes delimit strings without escapes (Go backticks).
	rawQuotes string
	// charLiterals skips 'x' and '\n' but leaves lifetimes like 'a alone.
	charLiterals bool
	// regexLiterals skips /.../ where an expression may start.
	regexLiterals bool
}

var (
	cLike   = syntax{lineComments: []string{"//"}, blockOpen: "/*", blockClose: "*/", quotes: "\"'`"}
	goLike  = syntax{lineComments: []string{"//"}, blockOpen: "/*", blockClose: "*/", quotes: "\"'", rawQuotes: "`"}
	jsLike  = syntax{lineComments: []string{"//"}, blockOpen: "/*", blockClose: "*/", quotes: "\"'`", regexLiterals: true}
	rustish = syntax{lineComments: []string{"//"}, blockOpen: "/*", blockClose: "*/", quotes: "\"", charLiterals: true}
	hashy   = syntax{lineComments: []string{"#"}, quotes: "\"'"}
	styles  = syntax{blockOpen: "/*", blockClose: "*/", quotes: "\"'"}
	sqlish  = syntax{lineComments: []string{"--"}, blockOpen: "/*", blockClose: "*/", quotes: "'\""}
)

// delimiterSyntax lists the languages whose delimiters are checked.
var delimiterSyntax = map[string]syntax{
	"go":         goLike,
	"typescript": jsLike,
	"javascript": jsLike,
	"java":       cLike,
	"kotlin":     cLike,
	"csharp":     cLike,
	"rust":       rustish,
	"python":     hashy,
	"ruby":       hashy,
	"css":        styles,
	"scss":       styles,
	"sql":        sqlish,
	"prisma":     cLike,
}

var closers = map[byte]byte{')': '(', ']': '[', '}': '{'}

// checkDelimiters reports the first unbalanced (), [] or {} outside strings
// and comments, or "" when the content is balanced.
func checkDelimiters(content string, syn syntax) string {
	var (
		stack   []byte
		quote   byte
		raw     bool
		inBlock bool
		line    = 1
	)

	for i := 0; i < len(content); i++ {
		c := content[i]
		if c == '\n' {
			line++
		}

		switch {
		case inBlock:
			if strings.HasPrefix(content[i:], syn.blockClose) {
				inBlock = false
				i += len(syn.blockClose) - 1
			}
			continue
		case quote != 0:
			// Single-quoted literals end at the line break.
			if c == '\n' && quote == '\'' {
				quote = 0
				continue
			}
			if c == '\\' && !raw {
				i++
				continue
			}
			if c == quote {
				quote = 0
			}
			continue
		}

		if syn.blockOpen != "" && strings.HasPrefix(content[i:], syn.blockOpen) {
			inBlock = true
			i += len(syn.blockOpen) - 1
			continue
		}
		if isLineComment(content[i:], syn) {
			for i < len(content) && content[i] != '\n' {
				i++
			}
			line++
			continue
		}
		if c == '\'' && syn.charLiterals {
			if n := charLiteralLen(content[i:]); n > 0 {
				i += n - 1
			}
			continue
		}
		if c == '/' && syn.regexLiterals && regexAllowed(content[:i]) {
			if n := regexLiteralLen(content[i:]); n > 0 {
				i += n - 1
				continue
			}
		}
		if strings.IndexByte(syn.rawQuotes, c) >= 0 {
			quote, raw = c, true
			continue
		}
		if strings.IndexByte(syn.quotes, c) >= 0 {
			quote, raw = c, false
			continue
		}

		switch c {
		case '(', '[', '{':
			stack = append(stack, c)
		case ')', ']', '}':
			if len(stack) == 0 {
				return fmt.Sprintf("unexpected %q on line %d", c, line)
			}
			if top := stack[len(stack)-1]; top != closers[c] {
				return fmt.Sprintf("%q on line %d closes %q", c, line, top)
			}
			stack = stack[:len(stack)-1]
		}
	}

	if quote != 0 {
		return fmt.Sprintf("unterminated %c string", quote)
	}
	if len(stack) > 0 {
		return fmt.Sprintf("%d unclosed delimiters, innermost %q", len(stack), stack[len(stack)-1])
	}
	return ""
}

// charLiteralLen returns the length of the character literal s starts with,
// or 0 when the quote opens a lifetime or label.
func charLiteralLen(s string) int {
	if len(s) < 3 {
		return 0
	}
	if s[1] == '\\' {
		// '\n', '\'', '\x7f', '\u{10FFFF}'
		limit := min(len(s), 12)
		if end := strings.IndexByte(s[3:limit], '\''); end >= 0 {
			return end + 4
		}
		return 0
	}
	r, size := utf8.DecodeRuneInString(s[1:])
	if r == '\'' || r == '\n' || 1+size >= len(s) || s[1+size] != '\'' {
		return 0
	}
	return size + 2
}

// regexKeywords may directly precede a regex literal.
var regexKeywords = map[string]bool{
	"return": true, "typeof": true, "case": true, "do": true, "else": true,
	"in": true, "of": true, "new": true, "delete": true, "void": true,
	"throw": true, "yield": true, "await": true,
}

// regexAllowed reports whether a '/' after before starts a regex literal
// rather than a division. '<' and '>' are left out so JSX closing tags stay
// plain text.
func regexAllowed(before string) bool {
	before = strings.TrimRight(before, " \t\r\n")
	if before == "" {
		return true
	}
	last := before[len(before)-1]
	if strings.IndexByte("(,=:[!&|?{};+-*%~^", last) >= 0 {
		return true
	}
	end := len(before)
	start := end
	for start > 0 && isWordByte(before[start-1]) {
		start--
	}
	return start < end && regexKeywords[before[start:end]]
}

func isWordByte(b byte) bool {
	return b == '_' || b == '$' || b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9'
}

// regexLiteralLen returns the length of the /.../ literal s starts with, or
// 0 when no closing slash appears on the same line.
func regexLiteralLen(s string) int {
	inClass := false
	for i := 1; i < len(s); i++ {
		switch s[i] {
		case '\n':
			return 0
		case '\\':
			i++
		case '[':
			inClass = true
		case ']':
			inClass = false
		case '/':
			if !inClass {
				if i == 1 {
					// "//" is a comment, handled by the caller.
					return 0
				}
				return i + 1
			}
		}
	}
	return 0
}

func isLineComment(s string, syn syntax) bool {
	for _, p := range syn.lineComments {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

// Validate is the static Testing pass. It never executes anything.
func Validate(files []models.FileArtifact, arch *models.ArchitectureSpec) []models.Finding {
	var findings []models.Finding
	add := func(sev models.Severity, path, format string, args ...any) {
		findings = append(findings, models.Finding{
			Severity:     sev,
			Description:  fmt.Sprintf(format, args...),
			AffectedPath: path,
			Source:       staticSource,
		})
	}

	if len(files) == 0 {
		add(models.SeverityCritical, "", "no files were generated")
		return findings
	}

	present := make(map[string]bool, len(files))
	for _, f := range files {
		present[f.Path] = true

		if strings.TrimSpace(f.Content) == "" {
			add(models.SeverityMinor, f.Path, "%s is empty", f.Path)
			continue
		}
		if f.Language == "json" {
			if !json.Valid([]byte(f.Content)) {
				add(models.SeverityMajor, f.Path, "%s is not valid JSON", f.Path)
			}
			continue
		}
		if syn, ok := delimiterSyntax[f.Language]; ok {
			if problem := checkDelimiters(f.Content, syn); problem != "" {
				add(models.SeverityMajor, f.Path, "%s has unbalanced delimiters: %s", f.Path, problem)
			}
		}
	}

	if arch == nil {
		return findings
	}
	for _, entry := range arch.EntryPoints {
		if entry = strings.TrimSpace(entry); entry != "" && !present[entry] {
			add(models.SeverityMajor, entry, "required entry point %s is missing", entry)
		}
	}
	for _, m := range arch.Modules {
		if m.Path != "" && !present[m.Path] && !hasPrefixDir(present, m.Path) {
			add(models.SeverityMinor, m.Path, "module %s (%s) has no file at %s", m.Name, m.Layer, m.Path)
		}
	}
	return findings
}

// hasPrefixDir reports whether any file lives under dir.
func hasPrefixDir(present map[string]bool, dir string) bool {
	prefix := strings.TrimSuffix(dir, "/") + "/"
	for p := range present {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	return false
}
