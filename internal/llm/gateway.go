// Package llm is the model gateway: a provider-neutral Complete call with
// bounded retry, rate limiting, circuit breaking and tracing.
package llm

import (
	"context"

	"github.com/bizmatters/agent-builder/codegen-orchestrator/internal/models"
)

// Gateway sends an ordered message history to a text-generation service and
// returns the raw generated text. Implementations must be safe for concurrent
// use and hold no per-call mutable state.
type Gateway interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Request is the provider-neutral completion request
type Request struct {
	Model       string
	System      string
	Messages    []models.ConversationMessage
	MaxTokens   int
	Temperature float64
	// Tag labels the caller (agent role) in spans and logs.
	Tag string
}

// GatewayFunc adapts a function to the Gateway interface.
type GatewayFunc func(ctx context.Context, req Request) (string, error)

// Complete calls f.
func (f GatewayFunc) Complete(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}
