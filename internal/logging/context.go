package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type generationCtxKey struct{}
type projectCtxKey struct{}
type loggerCtxKey struct{}

// ContextFields extracts correlation data from context.
func ContextFields(ctx context.Context) []zap.Field {
	if ctx == nil {
		return nil
	}
	fields := make([]zap.Field, 0, 4)

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}
	if id := GenerationIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("generation.id", id))
	}
	if id := ProjectIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("project.id", id))
	}
	return fields
}

// WithGenerationID adds the generation identifier to context.
func WithGenerationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, generationCtxKey{}, id)
}

// GenerationIDFromContext extracts the generation identifier.
func GenerationIDFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(generationCtxKey{}).(string); ok {
		return s
	}
	return ""
}

// WithProjectID adds the project identifier to context.
func WithProjectID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, projectCtxKey{}, id)
}

// ProjectIDFromContext extracts the project identifier.
func ProjectIDFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(projectCtxKey{}).(string); ok {
		return s
	}
	return ""
}

// WithLogger stores logger in context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext returns the logger stored in ctx, or a no-op logger.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok && l != nil {
		return l
	}
	return NewNop()
}
