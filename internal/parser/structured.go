package parser

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var ErrNoJSON = errors.New("no JSON object found in response")

var listItemPattern = regexp.MustCompile(`^\s*(?:[-*+]|\d+[.)])\s+(.+)$`)

// ExtractJSON decodes the first JSON object in raw into v. A fenced block
// tagged json is preferred; otherwise the first balanced {...} span is used.
func ExtractJSON(raw string, v any) error {
	for _, candidate := range jsonCandidates(raw) {
		if err := json.Unmarshal([]byte(candidate), v); err == nil {
			return nil
		}
	}
	return ErrNoJSON
}

func jsonCandidates(raw string) []string {
	var out []string

	lines := strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n")
	var open *fence
	var body []string
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if open != nil {
			if closesFence(trimmed, open) {
				lang, _ := splitInfo(open.info)
				if lang == "json" || lang == "" {
					out = append(out, strings.Join(body, "\n"))
				}
				open, body = nil, nil
				continue
			}
			body = append(body, line)
			continue
		}
		if f, ok := openingFence(trimmed); ok {
			open = &f
		}
	}

	if span, ok := balancedObject(raw); ok {
		out = append(out, span)
	}
	return out
}

// balancedObject returns the first top-level {...} span, honoring strings.
func balancedObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	for start >= 0 {
		depth := 0
		inString := false
		escaped := false
		for i := start; i < len(s); i++ {
			c := s[i]
			if inString {
				switch {
				case escaped:
					escaped = false
				case c == '\\':
					escaped = true
				case c == '"':
					inString = false
				}
				continue
			}
			switch c {
			case '"':
				inString = true
			case '{':
				depth++
			case '}':
				depth--
				if depth == 0 {
					candidate := s[start : i+1]
					if json.Valid([]byte(candidate)) {
						return candidate, true
					}
					i = len(s)
				}
			}
		}
		next := strings.IndexByte(s[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", false
}

// ParseList returns bullet or numbered list items in order. If raw has no
// list markup, each non-empty line is an item.
func ParseList(raw string) []string {
	var items, plain []string
	for _, line := range strings.Split(raw, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "```") {
			continue
		}
		if m := listItemPattern.FindStringSubmatch(line); m != nil {
			items = append(items, strings.TrimSpace(m[1]))
			continue
		}
		plain = append(plain, trimmed)
	}
	if len(items) > 0 {
		return items
	}
	return plain
}

// DecodeError describes why structured output could not be used.
type DecodeError struct {
	What string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode %s: %v", e.What, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
