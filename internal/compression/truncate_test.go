package compression

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTruncate(t *testing.T) {
	est := Estimator{CharsPerToken: 4}
	file := goFile("main.go", 500)

	out, changed := Truncate(file.Content, 100, est)

	assert.True(t, changed)
	assert.LessOrEqual(t, est.Text(out), 100)
	assert.True(t, IsTruncated(out))
	assert.True(t, strings.HasPrefix(out, "package main"))
	assert.Contains(t, out, "import (")
	assert.Contains(t, out, "func f499() { fmt.Println(499) }")
	assert.NotContains(t, out, "func f250()")

	again, changed := Truncate(out, 100, est)
	assert.False(t, changed)
	assert.Equal(t, out, again)
}

func TestTruncate_UnderCeiling(t *testing.T) {
	content := "const a = 1\nconst b = 2"
	out, changed := Truncate(content, 100, Estimator{CharsPerToken: 4})
	assert.False(t, changed)
	assert.Equal(t, content, out)
}

func TestTruncate_SingleHugeLine(t *testing.T) {
	est := Estimator{CharsPerToken: 4}
	out, changed := Truncate(strings.Repeat("a", 10000), 64, est)

	assert.True(t, changed)
	assert.True(t, IsTruncated(out))
	assert.LessOrEqual(t, est.Text(out), 64)
}

func TestSplitSentences(t *testing.T) {
	got := splitSentences("Build a todo app. It needs auth!\nUse v1.2 of the API? yes")
	assert.Equal(t, []string{"Build a todo app.", "It needs auth!", "Use v1.2 of the API?", "yes"}, got)
}
