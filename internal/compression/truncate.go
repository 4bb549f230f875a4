package compression

import (
	"fmt"
	"strings"
)

// truncationMarker is embedded in every omission line. Content carrying it is
// never truncated again.
const truncationMarker = "lines omitted by context compression"

var declarationPrefixes = []string{
	"package ", "import ", "import(", "from ", "require(", "use ", "using ",
	"#include", "export * from", "export {", "\"use client\"", "'use client'",
}

// IsTruncated reports whether content was produced by Truncate.
func IsTruncated(content string) bool {
	return strings.Contains(content, truncationMarker)
}

func isDeclaration(line string) bool {
	trimmed := strings.TrimSpace(line)
	for _, p := range declarationPrefixes {
		if strings.HasPrefix(trimmed, p) {
			return true
		}
	}
	return false
}

func omissionLine(n int) string {
	return fmt.Sprintf("... [%d %s] ...", n, truncationMarker)
}

// Truncate shrinks content to at most ceiling tokens. Declaration lines
// (package, import, use, ...) are kept first, then the start and the end of
// the body, with an omission line for every gap. Content already within the
// ceiling is returned unchanged.
func Truncate(content string, ceiling int, est Estimator) (string, bool) {
	if est.Text(content) <= ceiling {
		return content, false
	}

	lines := strings.Split(content, "\n")
	keep := make([]bool, len(lines))

	var decl []int
	for i, line := range lines {
		if isDeclaration(line) {
			decl = append(decl, i)
		}
	}

	cpt := est.CharsPerToken
	if cpt <= 0 {
		cpt = 4
	}
	limit := ceiling * cpt
	used := 0
	for _, i := range decl {
		cost := len(lines[i]) + 1
		if used+cost > limit/2 {
			break
		}
		keep[i] = true
		used += cost
	}

	remaining := limit - used
	headBudget := remaining * 2 / 3
	for i := 0; i < len(lines) && headBudget > 0; i++ {
		if keep[i] {
			continue
		}
		cost := len(lines[i]) + 1
		if cost > headBudget {
			break
		}
		keep[i] = true
		headBudget -= cost
	}
	tailBudget := remaining / 3
	for i := len(lines) - 1; i >= 0 && tailBudget > 0; i-- {
		if keep[i] {
			continue
		}
		cost := len(lines[i]) + 1
		if cost > tailBudget {
			break
		}
		keep[i] = true
		tailBudget -= cost
	}

	out := render(lines, keep)
	// Omission lines cost characters too; give back kept lines from the
	// middle outward until the result fits.
	for est.Text(out) > ceiling {
		if !dropOne(keep) {
			break
		}
		out = render(lines, keep)
	}
	return out, true
}

func render(lines []string, keep []bool) string {
	var b strings.Builder
	gap := 0
	first := true
	write := func(s string) {
		if !first {
			b.WriteByte('\n')
		}
		b.WriteString(s)
		first = false
	}
	for i, line := range lines {
		if !keep[i] {
			gap++
			continue
		}
		if gap > 0 {
			write(omissionLine(gap))
			gap = 0
		}
		write(line)
	}
	if gap > 0 {
		write(omissionLine(gap))
	}
	return b.String()
}

// dropOne un-keeps the last kept line before the largest gap, falling back
// to the last kept line.
func dropOne(keep []bool) bool {
	last := -1
	for i := len(keep) - 1; i >= 0; i-- {
		if keep[i] {
			last = i
			break
		}
	}
	if last < 0 {
		return false
	}
	// Prefer the tail of the head section so the file's end survives.
	for i := 0; i < len(keep); i++ {
		if !keep[i] {
			if i > 0 && keep[i-1] && i-1 != last {
				keep[i-1] = false
				return true
			}
			break
		}
	}
	keep[last] = false
	return true
}
