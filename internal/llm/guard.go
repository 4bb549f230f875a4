package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/bizmatters/agent-builder/codegen-orchestrator/internal/logging"
)

// guard bundles the protections every provider applies around a single
// outbound call: rate limiting, a circuit breaker and a span.
type guard struct {
	provider string
	limiter  *rate.Limiter
	breaker  *gobreaker.CircuitBreaker
	tracer   trace.Tracer
}

// GuardConfig tunes rate limiting for a provider.
type GuardConfig struct {
	RequestsPerSecond float64
	Burst             int
}

func newGuard(provider string, cfg GuardConfig, logger *logging.Logger) *guard {
	if logger == nil {
		logger = logging.NewNop()
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	settings := gobreaker.Settings{
		Name:        provider,
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		// Only transient failures count against the circuit.
		IsSuccessful: func(err error) bool {
			return err == nil || !IsTransient(err)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn(context.Background(), "model gateway circuit breaker changed state",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	}

	return &guard{
		provider: provider,
		limiter:  rate.NewLimiter(limit, burst),
		breaker:  gobreaker.NewCircuitBreaker(settings),
		tracer:   otel.Tracer("model-gateway"),
	}
}

// do runs call under the limiter, the breaker and a span named
// "<provider>.complete". Errors come back classified.
func (g *guard) do(ctx context.Context, req Request, call func(ctx context.Context) (string, error)) (string, error) {
	ctx, span := g.tracer.Start(ctx, g.provider+".complete")
	defer span.End()

	span.SetAttributes(
		attribute.String("llm.provider", g.provider),
		attribute.String("llm.model", req.Model),
		attribute.String("llm.tag", req.Tag),
		attribute.Int("llm.messages", len(req.Messages)),
	)

	if err := g.limiter.Wait(ctx); err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("rate limiter wait: %w", err)
	}

	result, err := g.breaker.Execute(func() (interface{}, error) {
		text, err := call(ctx)
		return text, classify(ctx, g.provider, err)
	})
	if err != nil {
		err = classify(ctx, g.provider, err)
		span.RecordError(err)
		span.SetAttributes(attribute.Bool("llm.transient", IsTransient(err)))
		return "", err
	}

	text := result.(string)
	span.SetAttributes(attribute.Int("llm.response_chars", len(text)))
	return text, nil
}

// state reports the breaker state for health checks.
func (g *guard) state() gobreaker.State {
	return g.breaker.State()
}
