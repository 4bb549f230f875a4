package llm

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/bizmatters/agent-builder/codegen-orchestrator/internal/logging"
	"github.com/bizmatters/agent-builder/codegen-orchestrator/internal/metrics"
)

// RetryPolicy bounds how often and how patiently a transient failure is
// retried. MaxAttempts counts the first call.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
}

// DefaultRetryPolicy returns 3 attempts with 1s, 2s backoff capped at 30s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2.0,
	}
}

// ApplyDefaults fills zero values from DefaultRetryPolicy.
func (p *RetryPolicy) ApplyDefaults() {
	d := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = d.InitialBackoff
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = d.MaxBackoff
	}
	if p.Multiplier < 1 {
		p.Multiplier = d.Multiplier
	}
}

// Backoff returns the wait before retry number n (1-based).
func (p RetryPolicy) Backoff(n int) time.Duration {
	backoff := p.InitialBackoff
	for i := 1; i < n; i++ {
		backoff = time.Duration(float64(backoff) * p.Multiplier)
		if backoff >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if backoff > p.MaxBackoff {
		return p.MaxBackoff
	}
	return backoff
}

// RetryingGateway decorates a Gateway with a RetryPolicy. Retry counters are
// local to each Complete call.
type RetryingGateway struct {
	next     Gateway
	policy   RetryPolicy
	provider string
	logger   *logging.Logger
	metrics  *metrics.GenerationMetrics
	sleep    func(ctx context.Context, d time.Duration) error
}

// RetryOption configures a RetryingGateway.
type RetryOption func(*RetryingGateway)

// WithRetryLogger sets the logger used for retry warnings.
func WithRetryLogger(logger *logging.Logger) RetryOption {
	return func(g *RetryingGateway) { g.logger = logger }
}

// WithRetryMetrics records each attempt and retry.
func WithRetryMetrics(m *metrics.GenerationMetrics) RetryOption {
	return func(g *RetryingGateway) { g.metrics = m }
}

// WithSleep replaces the backoff wait, mainly for tests.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) RetryOption {
	return func(g *RetryingGateway) { g.sleep = sleep }
}

// WithRetry wraps next so transient failures are retried under policy.
func WithRetry(next Gateway, provider string, policy RetryPolicy, opts ...RetryOption) *RetryingGateway {
	policy.ApplyDefaults()
	g := &RetryingGateway{
		next:     next,
		policy:   policy,
		provider: provider,
		logger:   logging.NewNop(),
		sleep:    sleepCtx,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Policy returns the effective policy.
func (g *RetryingGateway) Policy() RetryPolicy {
	return g.policy
}

// Complete calls the wrapped gateway, retrying transient failures with
// exponential backoff. Non-transient errors return immediately.
func (g *RetryingGateway) Complete(ctx context.Context, req Request) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= g.policy.MaxAttempts; attempt++ {
		text, err := g.next.Complete(ctx, req)
		if err == nil {
			g.metrics.RecordModelCall(ctx, g.provider, "ok")
			return text, nil
		}
		err = classify(ctx, g.provider, err)
		lastErr = err

		if !IsTransient(err) {
			g.metrics.RecordModelCall(ctx, g.provider, "error")
			return "", err
		}
		g.metrics.RecordModelCall(ctx, g.provider, "transient")

		if attempt == g.policy.MaxAttempts {
			break
		}

		backoff := g.policy.Backoff(attempt)
		g.logger.Warn(ctx, "transient model gateway failure, retrying",
			zap.String("provider", g.provider),
			zap.String("tag", req.Tag),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		g.metrics.RecordModelRetry(ctx, g.provider, attempt)

		if err := g.sleep(ctx, backoff); err != nil {
			return "", fmt.Errorf("retry wait interrupted: %w", err)
		}
	}
	return "", fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, g.policy.MaxAttempts, lastErr)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
