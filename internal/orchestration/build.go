package orchestration

import (
	"fmt"

	"github.com/bizmatters/agent-builder/codegen-orchestrator/internal/agents"
	"github.com/bizmatters/agent-builder/codegen-orchestrator/internal/compression"
	"github.com/bizmatters/agent-builder/codegen-orchestrator/internal/config"
	"github.com/bizmatters/agent-builder/codegen-orchestrator/internal/llm"
	"github.com/bizmatters/agent-builder/codegen-orchestrator/internal/logging"
	"github.com/bizmatters/agent-builder/codegen-orchestrator/internal/metrics"
)

// NewFromConfig wires the compressor, the model-backed team and the
// orchestrator from configuration. All agents share gateway.
func NewFromConfig(cfg *config.Config, gateway llm.Gateway, logger *logging.Logger, m *metrics.GenerationMetrics) (*Orchestrator, error) {
	if logger == nil {
		logger = logging.NewNop()
	}

	compressorOpts := []compression.Option{
		compression.WithLogger(logger.Named("compression")),
		compression.WithMetrics(m),
	}
	if cfg.Compressor.ModelSummaries {
		compressorOpts = append(compressorOpts, compression.WithSummarizer(
			compression.NewModelSummarizer(gateway, cfg.LLM.Model, cfg.LLM.MaxTokens/4, logger.Named("summarizer"))))
	}
	compressor := compression.New(compression.OptionsFromConfig(cfg.Compressor), compressorOpts...)

	opts := OptionsFromConfig(cfg.Orchestrator)
	team, err := NewTeam(gateway, agents.Config{
		Model:       cfg.LLM.Model,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
	}, opts.withDefaults(),
		agents.WithLogger(logger.Named("agents")),
		agents.WithMetrics(m),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build agent team: %w", err)
	}

	return New(team, compressor, opts, WithLogger(logger.Named("orchestrator")))
}
