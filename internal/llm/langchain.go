package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	lcopenai "github.com/tmc/langchaingo/llms/openai"

	"github.com/bizmatters/agent-builder/codegen-orchestrator/internal/logging"
	"github.com/bizmatters/agent-builder/codegen-orchestrator/internal/models"
)

// ContentGenerator is the part of llms.Model the gateway needs.
type ContentGenerator interface {
	GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error)
}

// LangChainConfig configures a langchaingo-backed gateway.
type LangChainConfig struct {
	Backend     string // openai or ollama
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float64
	Guard       GuardConfig
}

// LangChainGateway adapts any langchaingo model to Gateway.
type LangChainGateway struct {
	model ContentGenerator
	cfg   LangChainConfig
	guard *guard
}

// NewLangChainGateway builds the configured langchaingo backend.
func NewLangChainGateway(cfg LangChainConfig, logger *logging.Logger) (*LangChainGateway, error) {
	var (
		model llms.Model
		err   error
	)
	switch cfg.Backend {
	case "ollama":
		opts := []ollama.Option{ollama.WithModel(cfg.Model)}
		if cfg.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
		}
		model, err = ollama.New(opts...)
	case "openai", "":
		opts := []lcopenai.Option{lcopenai.WithModel(cfg.Model), lcopenai.WithToken(cfg.APIKey)}
		if cfg.BaseURL != "" {
			opts = append(opts, lcopenai.WithBaseURL(cfg.BaseURL))
		}
		model, err = lcopenai.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported langchain backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create langchain %s model: %w", cfg.Backend, err)
	}
	return NewLangChainGatewayWithModel(model, cfg, logger), nil
}

// NewLangChainGatewayWithModel wraps an existing model.
func NewLangChainGatewayWithModel(model ContentGenerator, cfg LangChainConfig, logger *logging.Logger) *LangChainGateway {
	return &LangChainGateway{
		model: model,
		cfg:   cfg,
		guard: newGuard("langchain-"+firstString(cfg.Backend, "openai"), cfg.Guard, logger),
	}
}

// Complete converts the request into langchaingo message content.
func (g *LangChainGateway) Complete(ctx context.Context, req Request) (string, error) {
	if req.Model == "" {
		req.Model = g.cfg.Model
	}
	return g.guard.do(ctx, req, func(ctx context.Context) (string, error) {
		opts := []llms.CallOption{llms.WithModel(req.Model)}
		if n := firstPositive(req.MaxTokens, g.cfg.MaxTokens); n > 0 {
			opts = append(opts, llms.WithMaxTokens(n))
		}
		if t := firstNonZero(req.Temperature, g.cfg.Temperature); t != 0 {
			opts = append(opts, llms.WithTemperature(t))
		}

		resp, err := g.model.GenerateContent(ctx, toLangChainMessages(req), opts...)
		if err != nil {
			return "", fmt.Errorf("generate content failed: %w", err)
		}
		if resp == nil || len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Content) == "" {
			return "", ErrEmptyCompletion
		}
		return resp.Choices[0].Content, nil
	})
}

func toLangChainMessages(req Request) []llms.MessageContent {
	out := make([]llms.MessageContent, 0, len(req.Messages)+1)
	if req.System != "" {
		out = append(out, llms.TextParts(llms.ChatMessageTypeSystem, req.System))
	}
	for _, m := range req.Messages {
		role := llms.ChatMessageTypeHuman
		if m.Role == models.RoleAssistant {
			role = llms.ChatMessageTypeAI
		}
		out = append(out, llms.TextParts(role, m.Content))
	}
	return out
}

func firstString(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
