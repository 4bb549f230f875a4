// Package config loads service configuration from an optional YAML file and
// environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/bizmatters/agent-builder/codegen-orchestrator/internal/logging"
)

const maxConfigFileSize = 1024 * 1024

// Load reads configuration from path (when non-empty and present) and then
// applies environment overrides.
//
// Precedence, highest first:
//  1. Environment variables (LLM_MODEL, ORCHESTRATOR_MAX_ITERATIONS, ...)
//  2. YAML config file
//  3. Defaults
//
// Environment variables split on the first underscore only:
//
//	DATABASE_URL -> database.url
//	LLM_API_KEY -> llm.api_key
//	COMPRESSOR_TOKEN_BUDGET -> compressor.token_budget
func Load(path string) (*Config, error) {
	var content []byte
	if path != "" {
		info, err := os.Stat(path)
		switch {
		case err == nil:
			if info.Size() > maxConfigFileSize {
				return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
			}
			content, err = os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		case !os.IsNotExist(err):
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
	}
	return load(content, true)
}

// LoadBytes parses YAML content without consulting the environment.
func LoadBytes(content []byte) (*Config, error) {
	return load(content, false)
}

func load(content []byte, withEnv bool) (*Config, error) {
	k := koanf.New(".")

	if len(content) > 0 {
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if withEnv {
		if err := k.Load(env.Provider("", ".", envKey), nil); err != nil {
			return nil, fmt.Errorf("failed to load environment variables: %w", err)
		}
	}

	cfg := Config{Log: *logging.NewDefaultConfig()}
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func envKey(s string) string {
	lower := strings.ToLower(s)
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower
	}
	return parts[0] + "." + parts[1]
}

// ApplyDefaults sets default values for missing fields.
func (c *Config) ApplyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 60 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 30 * time.Second
	}

	if c.Database.ConnectAttempts == 0 {
		c.Database.ConnectAttempts = 10
	}
	if c.Database.ConnectBackoff == 0 {
		c.Database.ConnectBackoff = 3 * time.Second
	}

	if c.JWT.TokenTTL == 0 {
		c.JWT.TokenTTL = 24 * time.Hour
	}
	if c.JWT.Issuer == "" {
		c.JWT.Issuer = "codegen-orchestrator"
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = "openai"
	}
	if c.LLM.Backend == "" {
		c.LLM.Backend = "openai"
	}
	if c.LLM.Model == "" {
		c.LLM.Model = "gpt-4o-mini"
	}
	if c.LLM.MaxTokens == 0 {
		c.LLM.MaxTokens = 4096
	}
	if c.LLM.RequestTimeout == 0 {
		c.LLM.RequestTimeout = 120 * time.Second
	}
	if c.LLM.RequestsPerSecond == 0 {
		c.LLM.RequestsPerSecond = 5
	}
	if c.LLM.Burst == 0 {
		c.LLM.Burst = 5
	}
	if c.LLM.Retry.MaxAttempts == 0 {
		c.LLM.Retry.MaxAttempts = 3
	}
	if c.LLM.Retry.InitialBackoff == 0 {
		c.LLM.Retry.InitialBackoff = time.Second
	}
	if c.LLM.Retry.MaxBackoff == 0 {
		c.LLM.Retry.MaxBackoff = 30 * time.Second
	}
	if c.LLM.Retry.Multiplier == 0 {
		c.LLM.Retry.Multiplier = 2.0
	}

	if c.Compressor.TokenBudget == 0 {
		c.Compressor.TokenBudget = 100000
	}
	if c.Compressor.SafetyMargin == 0 {
		c.Compressor.SafetyMargin = 0.85
	}
	if c.Compressor.KeepRecent == 0 {
		c.Compressor.KeepRecent = 6
	}
	if c.Compressor.FileTokenCeiling == 0 {
		c.Compressor.FileTokenCeiling = 2000
	}
	if c.Compressor.CharsPerToken == 0 {
		c.Compressor.CharsPerToken = 4
	}

	if c.Orchestrator.MaxIterations == 0 {
		c.Orchestrator.MaxIterations = 3
	}
	if c.Orchestrator.AgentTimeout == 0 {
		c.Orchestrator.AgentTimeout = 3 * time.Minute
	}
	if c.Orchestrator.ArchitectTimeout == 0 {
		c.Orchestrator.ArchitectTimeout = 3 * time.Minute
	}
	if c.Orchestrator.ArchitectAttempts == 0 {
		c.Orchestrator.ArchitectAttempts = 2
	}
	if c.Orchestrator.SoftDeadline == 0 {
		c.Orchestrator.SoftDeadline = 15 * time.Minute
	}
	if len(c.Orchestrator.DomainLayers) == 0 {
		c.Orchestrator.DomainLayers = []string{"data", "service", "presentation"}
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	switch c.LLM.Provider {
	case "openai", "runtime", "langchain":
	default:
		return fmt.Errorf("llm.provider must be one of openai, runtime, langchain; got %q", c.LLM.Provider)
	}
	if c.LLM.Provider == "langchain" && c.LLM.Backend != "openai" && c.LLM.Backend != "ollama" {
		return fmt.Errorf("llm.backend must be openai or ollama, got %q", c.LLM.Backend)
	}
	if c.LLM.Retry.MaxAttempts < 1 {
		return fmt.Errorf("llm.retry.max_attempts must be >= 1, got %d", c.LLM.Retry.MaxAttempts)
	}
	if c.LLM.Retry.Multiplier < 1 {
		return fmt.Errorf("llm.retry.multiplier must be >= 1, got %v", c.LLM.Retry.Multiplier)
	}
	if c.Compressor.SafetyMargin <= 0 || c.Compressor.SafetyMargin > 1 {
		return fmt.Errorf("compressor.safety_margin must be in (0, 1], got %v", c.Compressor.SafetyMargin)
	}
	if c.Compressor.KeepRecent < 0 {
		return fmt.Errorf("compressor.keep_recent must be >= 0, got %d", c.Compressor.KeepRecent)
	}
	if c.Orchestrator.MaxIterations < 1 {
		return fmt.Errorf("orchestrator.max_iterations must be >= 1, got %d", c.Orchestrator.MaxIterations)
	}
	for _, layer := range c.Orchestrator.DomainLayers {
		if strings.TrimSpace(layer) == "" {
			return fmt.Errorf("orchestrator.domain_layers contains an empty layer")
		}
	}
	if err := c.Log.Validate(); err != nil {
		return fmt.Errorf("log: %w", err)
	}
	return nil
}
