package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/bizmatters/agent-builder/codegen-orchestrator/internal/logging"
	"github.com/bizmatters/agent-builder/codegen-orchestrator/internal/models"
)

// OpenAIConfig configures the OpenAI-compatible chat completion backend.
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float64
	Guard       GuardConfig
}

// OpenAIGateway calls any OpenAI-compatible chat completion endpoint.
type OpenAIGateway struct {
	client *openai.Client
	cfg    OpenAIConfig
	guard  *guard
}

// NewOpenAIGateway creates an OpenAI-compatible gateway.
func NewOpenAIGateway(cfg OpenAIConfig, logger *logging.Logger) *OpenAIGateway {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &OpenAIGateway{
		client: openai.NewClientWithConfig(clientCfg),
		cfg:    cfg,
		guard:  newGuard("openai", cfg.Guard, logger),
	}
}

// Complete sends the request as a chat completion.
func (g *OpenAIGateway) Complete(ctx context.Context, req Request) (string, error) {
	if req.Model == "" {
		req.Model = g.cfg.Model
	}
	return g.guard.do(ctx, req, func(ctx context.Context) (string, error) {
		resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:       req.Model,
			Messages:    toOpenAIMessages(req),
			MaxTokens:   firstPositive(req.MaxTokens, g.cfg.MaxTokens),
			Temperature: float32(firstNonZero(req.Temperature, g.cfg.Temperature)),
		})
		if err != nil {
			return "", fmt.Errorf("chat completion failed: %w", err)
		}
		if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
			return "", ErrEmptyCompletion
		}
		return resp.Choices[0].Message.Content, nil
	})
}

func toOpenAIMessages(req Request) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	for _, m := range req.Messages {
		role := openai.ChatMessageRoleUser
		if m.Role == models.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		out = append(out, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	return out
}

func firstPositive(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}

func firstNonZero(values ...float64) float64 {
	for _, v := range values {
		if v != 0 {
			return v
		}
	}
	return 0
}
