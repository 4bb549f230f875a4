package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("codegen-metrics")

// GenerationMetrics collects metrics for generations, agent runs, model
// calls and context compression. A nil *GenerationMetrics records nothing.
type GenerationMetrics struct {
	generationsStarted  metric.Int64Counter
	generationsFinished metric.Int64Counter
	generationDuration  metric.Float64Histogram
	generationsActive   metric.Int64UpDownCounter
	iterationsUsed      metric.Int64Histogram
	agentRuns           metric.Int64Counter
	agentDuration       metric.Float64Histogram
	modelCalls          metric.Int64Counter
	modelRetries        metric.Int64Counter
	compressionRatio    metric.Float64Histogram
	compressionOverruns metric.Int64Counter
}

// NewGenerationMetrics creates a new metrics collector
func NewGenerationMetrics() (*GenerationMetrics, error) {
	m := &GenerationMetrics{}
	var err error

	if m.generationsStarted, err = meter.Int64Counter(
		"codegen.generations.started",
		metric.WithDescription("Total number of generations started"),
		metric.WithUnit("{generation}"),
	); err != nil {
		return nil, err
	}
	if m.generationsFinished, err = meter.Int64Counter(
		"codegen.generations.finished",
		metric.WithDescription("Total number of generations finished, by outcome"),
		metric.WithUnit("{generation}"),
	); err != nil {
		return nil, err
	}
	if m.generationDuration, err = meter.Float64Histogram(
		"codegen.generation.duration",
		metric.WithDescription("Duration of a generation in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if m.generationsActive, err = meter.Int64UpDownCounter(
		"codegen.generations.active",
		metric.WithDescription("Number of currently running generations"),
		metric.WithUnit("{generation}"),
	); err != nil {
		return nil, err
	}
	if m.iterationsUsed, err = meter.Int64Histogram(
		"codegen.generation.iterations",
		metric.WithDescription("Review iterations used per generation"),
		metric.WithUnit("{iteration}"),
	); err != nil {
		return nil, err
	}
	if m.agentRuns, err = meter.Int64Counter(
		"codegen.agent.runs",
		metric.WithDescription("Agent invocations by role and outcome"),
		metric.WithUnit("{run}"),
	); err != nil {
		return nil, err
	}
	if m.agentDuration, err = meter.Float64Histogram(
		"codegen.agent.duration",
		metric.WithDescription("Duration of an agent invocation in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if m.modelCalls, err = meter.Int64Counter(
		"codegen.model.calls",
		metric.WithDescription("Model gateway calls by provider and outcome"),
		metric.WithUnit("{call}"),
	); err != nil {
		return nil, err
	}
	if m.modelRetries, err = meter.Int64Counter(
		"codegen.model.retries",
		metric.WithDescription("Model gateway retries after transient failures"),
		metric.WithUnit("{retry}"),
	); err != nil {
		return nil, err
	}
	if m.compressionRatio, err = meter.Float64Histogram(
		"codegen.compression.ratio",
		metric.WithDescription("Compressed over original token estimate"),
		metric.WithUnit("1"),
	); err != nil {
		return nil, err
	}
	if m.compressionOverruns, err = meter.Int64Counter(
		"codegen.compression.budget_exceeded",
		metric.WithDescription("Compressions that could not fit the token budget"),
		metric.WithUnit("{compression}"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

// RecordGenerationStarted records a new generation
func (m *GenerationMetrics) RecordGenerationStarted(ctx context.Context, projectID string) {
	if m == nil {
		return
	}
	m.generationsStarted.Add(ctx, 1, metric.WithAttributes(attribute.String("project.id", projectID)))
	m.generationsActive.Add(ctx, 1)
}

// RecordGenerationFinished records the outcome of a generation. status is
// the final iteration status or "error" for request-level failures.
func (m *GenerationMetrics) RecordGenerationFinished(ctx context.Context, projectID, status string, iterations int, duration time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("project.id", projectID),
		attribute.String("status", status),
	)
	m.generationsFinished.Add(ctx, 1, attrs)
	m.generationDuration.Record(ctx, duration.Seconds(), attrs)
	m.iterationsUsed.Record(ctx, int64(iterations), metric.WithAttributes(attribute.String("status", status)))
	m.generationsActive.Add(ctx, -1)
}

// RecordAgentRun records one agent invocation
func (m *GenerationMetrics) RecordAgentRun(ctx context.Context, role, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("agent.role", role),
		attribute.String("outcome", outcome),
	)
	m.agentRuns.Add(ctx, 1, attrs)
	m.agentDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordModelCall records one model gateway attempt
func (m *GenerationMetrics) RecordModelCall(ctx context.Context, provider, outcome string) {
	if m == nil {
		return
	}
	m.modelCalls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("outcome", outcome),
	))
}

// RecordModelRetry records a retry after a transient failure
func (m *GenerationMetrics) RecordModelRetry(ctx context.Context, provider string, attempt int) {
	if m == nil {
		return
	}
	m.modelRetries.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.Int("attempt", attempt),
	))
}

// RecordCompression records the effect of one compression pass
func (m *GenerationMetrics) RecordCompression(ctx context.Context, original, compressed int, budgetExceeded bool) {
	if m == nil {
		return
	}
	if original > 0 {
		m.compressionRatio.Record(ctx, float64(compressed)/float64(original))
	}
	if budgetExceeded {
		m.compressionOverruns.Add(ctx, 1)
	}
}
