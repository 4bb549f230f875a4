package compression

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/bizmatters/agent-builder/codegen-orchestrator/internal/llm"
	"github.com/bizmatters/agent-builder/codegen-orchestrator/internal/logging"
	"github.com/bizmatters/agent-builder/codegen-orchestrator/internal/models"
)

const summaryHeaderPrefix = "[Summary of "

// SummaryHeader is the first line of every synthetic summary message.
func SummaryHeader(n int) string {
	return fmt.Sprintf("%s%d earlier messages; details omitted]", summaryHeaderPrefix, n)
}

// IsSummary reports whether m is a synthetic summary message.
func IsSummary(m models.ConversationMessage) bool {
	return strings.HasPrefix(m.Content, summaryHeaderPrefix)
}

// summaryBody strips the header line from a summary message.
func summaryBody(content string) string {
	if i := strings.IndexByte(content, '\n'); i >= 0 {
		return content[i+1:]
	}
	return ""
}

// Summarizer condenses a run of messages into summary text, one point per
// line. The caller adds the header.
type Summarizer interface {
	Summarize(ctx context.Context, msgs []models.ConversationMessage) (string, error)
}

// ExtractiveSummarizer keeps the first and last sentence of each message.
type ExtractiveSummarizer struct {
	// MaxSentence caps each kept sentence in characters. Zero means 240.
	MaxSentence int
}

// Summarize never fails.
func (s ExtractiveSummarizer) Summarize(_ context.Context, msgs []models.ConversationMessage) (string, error) {
	limit := s.MaxSentence
	if limit <= 0 {
		limit = 240
	}

	var lines []string
	for _, m := range msgs {
		if IsSummary(m) {
			if body := strings.TrimSpace(summaryBody(m.Content)); body != "" {
				lines = append(lines, strings.Split(body, "\n")...)
			}
			continue
		}
		sentences := splitSentences(m.Content)
		if len(sentences) == 0 {
			continue
		}
		point := clip(sentences[0], limit)
		if len(sentences) > 1 {
			point += " ... " + clip(sentences[len(sentences)-1], limit)
		}
		lines = append(lines, fmt.Sprintf("- %s: %s", m.Role, point))
	}
	return strings.Join(lines, "\n"), nil
}

func splitSentences(text string) []string {
	var out []string
	start := 0
	flush := func(end int) {
		if s := strings.TrimSpace(text[start:end]); s != "" {
			out = append(out, strings.Join(strings.Fields(s), " "))
		}
		start = end
	}
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '\n':
			flush(i + 1)
		case '.', '!', '?':
			if i+1 == len(text) || text[i+1] == ' ' || text[i+1] == '\n' {
				flush(i + 1)
			}
		}
	}
	flush(len(text))
	return out
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.TrimSpace(s[:n]) + "…"
}

const summarizerSystemPrompt = `You condense earlier turns of a software generation conversation.
Write terse bullet points, one per line, starting with "- ". Keep concrete
requirements, decisions, file names and unresolved problems. Do not add
anything that was not said.`

// ModelSummarizer asks the model gateway for a summary and falls back to the
// extractive summarizer when the call fails.
type ModelSummarizer struct {
	gateway   llm.Gateway
	model     string
	maxTokens int
	fallback  Summarizer
	logger    *logging.Logger
}

// NewModelSummarizer creates a model-backed summarizer.
func NewModelSummarizer(gateway llm.Gateway, model string, maxTokens int, logger *logging.Logger) *ModelSummarizer {
	if logger == nil {
		logger = logging.NewNop()
	}
	if maxTokens <= 0 {
		maxTokens = 512
	}
	return &ModelSummarizer{
		gateway:   gateway,
		model:     model,
		maxTokens: maxTokens,
		fallback:  ExtractiveSummarizer{},
		logger:    logger,
	}
}

// Summarize implements Summarizer.
func (s *ModelSummarizer) Summarize(ctx context.Context, msgs []models.ConversationMessage) (string, error) {
	var transcript strings.Builder
	for _, m := range msgs {
		fmt.Fprintf(&transcript, "%s: %s\n\n", m.Role, m.Content)
	}

	out, err := s.gateway.Complete(ctx, llm.Request{
		Model:     s.model,
		System:    summarizerSystemPrompt,
		MaxTokens: s.maxTokens,
		Tag:       "summarizer",
		Messages: []models.ConversationMessage{
			{Role: models.RoleUser, Content: transcript.String()},
		},
	})
	if err == nil {
		if out = strings.TrimSpace(out); out != "" {
			return out, nil
		}
	}

	s.logger.Warn(ctx, "Model summary unavailable, using extractive summary",
		zap.Int("messages", len(msgs)),
		zap.Error(err))
	return s.fallback.Summarize(ctx, msgs)
}
