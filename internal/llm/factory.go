package llm

import (
	"fmt"

	"github.com/bizmatters/agent-builder/codegen-orchestrator/internal/config"
	"github.com/bizmatters/agent-builder/codegen-orchestrator/internal/logging"
	"github.com/bizmatters/agent-builder/codegen-orchestrator/internal/metrics"
)

// New builds the configured provider wrapped in the retry policy.
func New(cfg config.LLMConfig, logger *logging.Logger, m *metrics.GenerationMetrics) (*RetryingGateway, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	guard := GuardConfig{RequestsPerSecond: cfg.RequestsPerSecond, Burst: cfg.Burst}

	var base Gateway
	switch cfg.Provider {
	case "openai", "":
		base = NewOpenAIGateway(OpenAIConfig{
			APIKey:      cfg.APIKey.Value(),
			BaseURL:     cfg.BaseURL,
			Model:       cfg.Model,
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
			Guard:       guard,
		}, logger)
	case "runtime":
		base = NewRuntimeGateway(RuntimeConfig{
			BaseURL:     cfg.BaseURL,
			Model:       cfg.Model,
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
			Timeout:     cfg.RequestTimeout,
			Guard:       guard,
		}, logger)
	case "langchain":
		lc, err := NewLangChainGateway(LangChainConfig{
			Backend:     cfg.Backend,
			APIKey:      cfg.APIKey.Value(),
			BaseURL:     cfg.BaseURL,
			Model:       cfg.Model,
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
			Guard:       guard,
		}, logger)
		if err != nil {
			return nil, err
		}
		base = lc
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.Provider)
	}

	policy := RetryPolicy{
		MaxAttempts:    cfg.Retry.MaxAttempts,
		InitialBackoff: cfg.Retry.InitialBackoff,
		MaxBackoff:     cfg.Retry.MaxBackoff,
		Multiplier:     cfg.Retry.Multiplier,
	}
	return WithRetry(base, cfg.Provider, policy,
		WithRetryLogger(logger.Named("llm")),
		WithRetryMetrics(m),
	), nil
}
