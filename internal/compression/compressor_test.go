package compression

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/bizmatters/agent-builder/codegen-orchestrator/internal/llm"
	"github.com/bizmatters/agent-builder/codegen-orchestrator/internal/logging"
	"github.com/bizmatters/agent-builder/codegen-orchestrator/internal/models"
)

func conversation(n int) []models.ConversationMessage {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	msgs := make([]models.ConversationMessage, n)
	for i := range msgs {
		role := models.RoleUser
		if i%2 == 1 {
			role = models.RoleAssistant
		}
		msgs[i] = models.ConversationMessage{
			Role: role,
			Content: fmt.Sprintf("Request %d: add feature %d. %sMake sure it works.",
				i, i, strings.Repeat("Lorem ipsum dolor sit amet. ", 12)),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
	}
	return msgs
}

func goFile(path string, funcs int) models.FileArtifact {
	var b strings.Builder
	b.WriteString("package main\n\nimport (\n\t\"fmt\"\n)\n")
	for i := 0; i < funcs; i++ {
		fmt.Fprintf(&b, "func f%03d() { fmt.Println(%d) }\n", i, i)
	}
	return models.FileArtifact{Path: path, Content: strings.TrimSuffix(b.String(), "\n"), Language: "go"}
}

func TestCompress_SingleMessageIsIdentity(t *testing.T) {
	c := New(DefaultOptions())
	history := []models.ConversationMessage{{Role: models.RoleUser, Content: "Build a todo app"}}

	out := c.Compress(context.Background(), history, nil, 100000, 6)

	assert.Equal(t, history, out.History)
	assert.Equal(t, 0, out.Stats.MessagesDropped)
	assert.Equal(t, out.Stats.OriginalTokenEstimate, out.Stats.CompressedTokenEstimate)
	assert.False(t, out.Stats.BudgetExceeded)
}

func TestCompress_UnderBudgetIsByteIdentical(t *testing.T) {
	c := New(DefaultOptions())
	history := conversation(10)
	files := []models.FileArtifact{goFile("main.go", 20), {Path: "README.md", Content: "# app"}}

	out := c.Compress(context.Background(), history, files, 100000, 6)

	assert.Equal(t, history, out.History)
	assert.Equal(t, files, out.Files)
	assert.Zero(t, out.Stats.FilesTruncated)
}

func TestCompress_SummarizesMiddle(t *testing.T) {
	c := New(DefaultOptions())
	history := conversation(50)
	require.Greater(t, c.Estimator().Payload(history, nil), 2000)

	out := c.Compress(context.Background(), history, nil, 2000, 6)

	require.Len(t, out.History, 8)
	assert.Equal(t, history[0], out.History[0])
	assert.True(t, IsSummary(out.History[1]))
	assert.Contains(t, out.History[1].Content, "Summary of 43 earlier messages")
	assert.Equal(t, history[44:], out.History[2:])
	assert.Equal(t, 43, out.Stats.MessagesDropped)
	assert.False(t, out.Stats.BudgetExceeded)
	assert.LessOrEqual(t, out.Stats.CompressedTokenEstimate, 2000)
	assert.Less(t, out.Stats.CompressedTokenEstimate, out.Stats.OriginalTokenEstimate)
}

func TestCompress_DoesNotMutateInput(t *testing.T) {
	c := New(Options{FileTokenCeiling: 100})
	history := conversation(30)
	files := []models.FileArtifact{goFile("main.go", 400)}
	historyCopy := models.CloneMessages(history)
	filesCopy := models.CloneFiles(files)

	c.Compress(context.Background(), history, files, 1500, 4)

	assert.Equal(t, historyCopy, history)
	assert.Equal(t, filesCopy, files)
}

func TestCompress_Idempotent(t *testing.T) {
	tests := []struct {
		name       string
		history    []models.ConversationMessage
		files      []models.FileArtifact
		budget     int
		keepRecent int
	}{
		{name: "summarized history", history: conversation(50), budget: 2000, keepRecent: 6},
		{name: "truncated files", history: conversation(2), files: []models.FileArtifact{goFile("a.go", 800), goFile("b.go", 10)}, budget: 4000, keepRecent: 6},
		{name: "points dropped", history: conversation(60), budget: 1100, keepRecent: 6},
		{name: "budget exceeded", history: conversation(12), files: []models.FileArtifact{goFile("a.go", 2000)}, budget: 300, keepRecent: 6},
		{name: "no recent window", history: conversation(20), budget: 900, keepRecent: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(Options{FileTokenCeiling: 1000})
			ctx := context.Background()

			first := c.Compress(ctx, tt.history, tt.files, tt.budget, tt.keepRecent)
			second := c.Compress(ctx, first.History, first.Files, tt.budget, tt.keepRecent)

			assert.Equal(t, first.History, second.History)
			assert.Equal(t, first.Files, second.Files)
			assert.Equal(t, first.Stats.CompressedTokenEstimate, second.Stats.CompressedTokenEstimate)
		})
	}
}

func TestCompress_BudgetRespectedOrFlagged(t *testing.T) {
	huge := models.ConversationMessage{Role: models.RoleUser, Content: strings.Repeat("x", 40000)}

	tests := []struct {
		name         string
		history      []models.ConversationMessage
		files        []models.FileArtifact
		budget       int
		wantExceeded bool
	}{
		{name: "long history", history: conversation(80), budget: 3000},
		{name: "large files", history: conversation(3), files: []models.FileArtifact{goFile("a.go", 1500), goFile("b.go", 1500)}, budget: 4000},
		{name: "first message alone exceeds budget", history: append([]models.ConversationMessage{huge}, conversation(3)...), budget: 2000, wantExceeded: true},
		{name: "tiny budget", history: conversation(10), files: []models.FileArtifact{goFile("a.go", 100)}, budget: 50, wantExceeded: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(DefaultOptions())
			out := c.Compress(context.Background(), tt.history, tt.files, tt.budget, 6)

			assert.Equal(t, c.Estimator().Payload(out.History, out.Files), out.Stats.CompressedTokenEstimate)
			if !out.Stats.BudgetExceeded {
				assert.LessOrEqual(t, out.Stats.CompressedTokenEstimate, tt.budget)
			}
			assert.Equal(t, tt.wantExceeded, out.Stats.BudgetExceeded)
			require.NotEmpty(t, out.History)
			assert.Equal(t, tt.history[0], out.History[0], "original intent is always kept")
		})
	}
}

func TestCompress_TruncatesOversizedFiles(t *testing.T) {
	c := New(Options{FileTokenCeiling: 500})
	small := models.FileArtifact{Path: "go.mod", Content: "module example.com/app\n\ngo 1.22"}
	files := []models.FileArtifact{goFile("main.go", 600), small}

	out := c.Compress(context.Background(), conversation(1), files, 2000, 6)

	require.Len(t, out.Files, 2)
	assert.Equal(t, 1, out.Stats.FilesTruncated)
	assert.True(t, IsTruncated(out.Files[0].Content))
	assert.LessOrEqual(t, c.Estimator().Text(out.Files[0].Content), 500)
	assert.Equal(t, small, out.Files[1])
	assert.False(t, out.Stats.BudgetExceeded)
}

func TestCompress_BudgetExceededIsLogged(t *testing.T) {
	logger := logging.NewTestLogger()
	c := New(DefaultOptions(), WithLogger(logger.Logger))
	huge := models.ConversationMessage{Role: models.RoleUser, Content: strings.Repeat("y", 10000)}

	out := c.Compress(context.Background(), []models.ConversationMessage{huge}, nil, 100, 6)

	assert.True(t, out.Stats.BudgetExceeded)
	logger.AssertLogged(t, zapcore.WarnLevel, "exceeds token budget")
}

type stubSummarizer struct {
	text string
	err  error
}

func (s stubSummarizer) Summarize(context.Context, []models.ConversationMessage) (string, error) {
	return s.text, s.err
}

func TestCompress_CustomSummarizer(t *testing.T) {
	t.Run("uses summarizer output", func(t *testing.T) {
		c := New(DefaultOptions(), WithSummarizer(stubSummarizer{text: "- user wants a todo app\n- uses postgres"}))
		out := c.Compress(context.Background(), conversation(20), nil, 1500, 2)

		require.Len(t, out.History, 4)
		assert.Contains(t, out.History[1].Content, "uses postgres")
	})

	t.Run("falls back on error", func(t *testing.T) {
		c := New(DefaultOptions(), WithSummarizer(stubSummarizer{err: errors.New("boom")}))
		out := c.Compress(context.Background(), conversation(20), nil, 1500, 2)

		require.Len(t, out.History, 4)
		assert.Contains(t, out.History[1].Content, "Request 1: add feature 1.")
	})
}

func TestModelSummarizer(t *testing.T) {
	msgs := conversation(3)

	t.Run("model output", func(t *testing.T) {
		var got llm.Request
		gw := llm.GatewayFunc(func(_ context.Context, req llm.Request) (string, error) {
			got = req
			return "  - the user wants feature 0\n", nil
		})
		s := NewModelSummarizer(gw, "gpt-4o-mini", 0, nil)

		text, err := s.Summarize(context.Background(), msgs)
		require.NoError(t, err)
		assert.Equal(t, "- the user wants feature 0", text)
		assert.Equal(t, "summarizer", got.Tag)
		assert.Contains(t, got.Messages[0].Content, "Request 2")
	})

	t.Run("gateway failure falls back to extractive", func(t *testing.T) {
		logger := logging.NewTestLogger()
		gw := llm.GatewayFunc(func(context.Context, llm.Request) (string, error) {
			return "", errors.New("unavailable")
		})
		s := NewModelSummarizer(gw, "gpt-4o-mini", 0, logger.Logger)

		text, err := s.Summarize(context.Background(), msgs)
		require.NoError(t, err)
		assert.Contains(t, text, "Request 0: add feature 0.")
		logger.AssertLogged(t, zapcore.WarnLevel, "extractive summary")
	})
}
