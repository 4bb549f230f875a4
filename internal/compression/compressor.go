// Package compression keeps a conversation history and working file set
// within a model's context window.
//
// Compression is the identity below TokenBudget*SafetyMargin. Above it the
// first message and the last KeepRecent messages are kept verbatim, the
// messages between them collapse into one summary message, and oversized
// files are truncated. If the result is still over budget the oldest summary
// points are dropped, then files are shrunk further. Anything still over
// budget is returned best-effort with Stats.BudgetExceeded set.
//
// Re-compressing an output yields the same output.
package compression

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/bizmatters/agent-builder/codegen-orchestrator/internal/config"
	"github.com/bizmatters/agent-builder/codegen-orchestrator/internal/logging"
	"github.com/bizmatters/agent-builder/codegen-orchestrator/internal/metrics"
	"github.com/bizmatters/agent-builder/codegen-orchestrator/internal/models"
)

// minFileCeiling is the floor for progressive file shrinking, in tokens.
const minFileCeiling = 64

// Options are the tunable thresholds. None of them are load-bearing.
type Options struct {
	TokenBudget      int
	SafetyMargin     float64
	KeepRecent       int
	FileTokenCeiling int
	CharsPerToken    int
}

// DefaultOptions returns the stock thresholds.
func DefaultOptions() Options {
	return Options{
		TokenBudget:      100000,
		SafetyMargin:     0.85,
		KeepRecent:       6,
		FileTokenCeiling: 2000,
		CharsPerToken:    4,
	}
}

// OptionsFromConfig maps the compressor config section.
func OptionsFromConfig(cfg config.CompressorConfig) Options {
	return Options{
		TokenBudget:      cfg.TokenBudget,
		SafetyMargin:     cfg.SafetyMargin,
		KeepRecent:       cfg.KeepRecent,
		FileTokenCeiling: cfg.FileTokenCeiling,
		CharsPerToken:    cfg.CharsPerToken,
	}.withDefaults()
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.TokenBudget <= 0 {
		o.TokenBudget = d.TokenBudget
	}
	if o.SafetyMargin <= 0 || o.SafetyMargin > 1 {
		o.SafetyMargin = d.SafetyMargin
	}
	if o.KeepRecent < 0 {
		o.KeepRecent = d.KeepRecent
	}
	if o.FileTokenCeiling <= 0 {
		o.FileTokenCeiling = d.FileTokenCeiling
	}
	if o.CharsPerToken <= 0 {
		o.CharsPerToken = d.CharsPerToken
	}
	return o
}

// Output is a derived, bounded copy of the compressor input.
type Output struct {
	History []models.ConversationMessage
	Files   []models.FileArtifact
	Stats   models.CompressionStats
}

// Compressor shrinks payloads. It holds no per-call state and is safe for
// concurrent use.
type Compressor struct {
	opts       Options
	est        Estimator
	summarizer Summarizer
	logger     *logging.Logger
	metrics    *metrics.GenerationMetrics
}

// Option configures a Compressor.
type Option func(*Compressor)

// WithSummarizer replaces the extractive summarizer.
func WithSummarizer(s Summarizer) Option {
	return func(c *Compressor) {
		if s != nil {
			c.summarizer = s
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Compressor) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics records compression ratios.
func WithMetrics(m *metrics.GenerationMetrics) Option {
	return func(c *Compressor) { c.metrics = m }
}

// New creates a Compressor. Zero-valued options take their defaults.
func New(opts Options, options ...Option) *Compressor {
	opts = opts.withDefaults()
	c := &Compressor{
		opts:       opts,
		est:        Estimator{CharsPerToken: opts.CharsPerToken},
		summarizer: ExtractiveSummarizer{},
		logger:     logging.NewNop(),
	}
	for _, o := range options {
		o(c)
	}
	return c
}

// Options returns the effective thresholds.
func (c *Compressor) Options() Options {
	return c.opts
}

// Estimator returns the token estimator in use.
func (c *Compressor) Estimator() Estimator {
	return c.est
}

// CompressDefault compresses with the configured budget and keepRecent.
func (c *Compressor) CompressDefault(ctx context.Context, history []models.ConversationMessage, files []models.FileArtifact) Output {
	return c.Compress(ctx, history, files, c.opts.TokenBudget, c.opts.KeepRecent)
}

// Compress returns a bounded copy of history and files. The inputs are never
// modified. A non-positive tokenBudget or negative keepRecent falls back to
// the configured value.
func (c *Compressor) Compress(ctx context.Context, history []models.ConversationMessage, files []models.FileArtifact, tokenBudget, keepRecent int) Output {
	if tokenBudget <= 0 {
		tokenBudget = c.opts.TokenBudget
	}
	if keepRecent < 0 {
		keepRecent = c.opts.KeepRecent
	}

	original := c.est.Payload(history, files)
	out := Output{
		History: models.CloneMessages(history),
		Files:   models.CloneFiles(files),
		Stats: models.CompressionStats{
			OriginalTokenEstimate:   original,
			CompressedTokenEstimate: original,
		},
	}

	threshold := int(float64(tokenBudget) * c.opts.SafetyMargin)
	if original < threshold {
		return out
	}

	first, summary, points, recent, dropped := c.splitHistory(ctx, history, keepRecent)
	out.Stats.MessagesDropped = dropped

	ceiling := c.opts.FileTokenCeiling
	var truncated int
	out.Files, truncated = c.truncateFiles(files, ceiling)

	assemble := func() []models.ConversationMessage {
		msgs := make([]models.ConversationMessage, 0, len(recent)+2)
		msgs = append(msgs, first...)
		if summary != nil {
			msgs = append(msgs, *summary)
		}
		return append(msgs, recent...)
	}
	out.History = assemble()
	estimate := c.est.Payload(out.History, out.Files)

	// Drop the oldest summary points before touching files again.
	for estimate > tokenBudget && summary != nil && points != nil {
		if len(points) <= 1 {
			summary = nil
		} else {
			points = points[1:]
			s := summaryMessage(dropped, points, summary.CreatedAt)
			summary = &s
		}
		out.History = assemble()
		estimate = c.est.Payload(out.History, out.Files)
	}
	if estimate > tokenBudget && summary != nil && points == nil {
		// Kept verbatim from an earlier pass; it can only go as a whole.
		summary = nil
		out.History = assemble()
		estimate = c.est.Payload(out.History, out.Files)
	}

	for estimate > tokenBudget && ceiling > minFileCeiling {
		ceiling /= 2
		if ceiling < minFileCeiling {
			ceiling = minFileCeiling
		}
		out.Files, truncated = c.truncateFiles(files, ceiling)
		estimate = c.est.Payload(out.History, out.Files)
	}

	out.Stats.FilesTruncated = truncated
	out.Stats.CompressedTokenEstimate = estimate
	out.Stats.BudgetExceeded = estimate > tokenBudget

	if out.Stats.BudgetExceeded {
		c.logger.Warn(ctx, "Context exceeds token budget after compression",
			zap.Int("token_budget", tokenBudget),
			zap.Int("estimate", estimate),
			zap.Int("messages", len(out.History)),
			zap.Int("files", len(out.Files)))
	} else {
		c.logger.Debug(ctx, "Context compressed",
			zap.Int("original_estimate", original),
			zap.Int("compressed_estimate", estimate),
			zap.Int("messages_dropped", out.Stats.MessagesDropped),
			zap.Int("files_truncated", truncated))
	}
	c.metrics.RecordCompression(ctx, original, estimate, out.Stats.BudgetExceeded)

	return out
}

// splitHistory returns the verbatim head, the summary (or nil), the summary
// points when they were built in this pass, the verbatim tail and the number
// of messages folded into the summary.
func (c *Compressor) splitHistory(ctx context.Context, history []models.ConversationMessage, keepRecent int) (
	first []models.ConversationMessage,
	summary *models.ConversationMessage,
	points []string,
	recent []models.ConversationMessage,
	dropped int,
) {
	if len(history) <= 1+keepRecent {
		return models.CloneMessages(history), nil, nil, nil, 0
	}

	first = []models.ConversationMessage{history[0]}
	middle := history[1 : len(history)-keepRecent]
	recent = models.CloneMessages(history[len(history)-keepRecent:])

	if len(middle) == 1 && IsSummary(middle[0]) {
		s := middle[0]
		return first, &s, nil, recent, 0
	}

	text, err := c.summarizer.Summarize(ctx, middle)
	if err != nil {
		c.logger.Warn(ctx, "Summarizer failed, using extractive summary", zap.Error(err))
		text, _ = ExtractiveSummarizer{}.Summarize(ctx, middle)
	}
	points = summaryPoints(text)

	dropped = 0
	for _, m := range middle {
		if IsSummary(m) {
			dropped += summarizedCount(m)
			continue
		}
		dropped++
	}

	if len(points) == 0 {
		return first, nil, nil, recent, dropped
	}
	s := summaryMessage(dropped, points, middle[len(middle)-1].CreatedAt)
	return first, &s, points, recent, dropped
}

func (c *Compressor) truncateFiles(files []models.FileArtifact, ceiling int) ([]models.FileArtifact, int) {
	out := models.CloneFiles(files)
	n := 0
	for i, f := range out {
		if IsTruncated(f.Content) {
			continue
		}
		if content, changed := Truncate(f.Content, ceiling, c.est); changed {
			out[i].Content = content
			n++
		}
	}
	return out, n
}

func summaryPoints(text string) []string {
	var points []string
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			points = append(points, line)
		}
	}
	return points
}

func summaryMessage(n int, points []string, at time.Time) models.ConversationMessage {
	return models.ConversationMessage{
		Role:      models.RoleAssistant,
		Content:   SummaryHeader(n) + "\n" + strings.Join(points, "\n"),
		CreatedAt: at,
	}
}

// summarizedCount reads the message count back from a summary header.
func summarizedCount(m models.ConversationMessage) int {
	rest := strings.TrimPrefix(m.Content, summaryHeaderPrefix)
	n := 0
	for _, r := range rest {
		if r < '0' || r > '9' {
			break
		}
		n = n*10 + int(r-'0')
	}
	if n == 0 {
		return 1
	}
	return n
}
