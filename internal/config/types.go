package config

import (
	"encoding/json"
	"time"

	"github.com/bizmatters/agent-builder/codegen-orchestrator/internal/logging"
)

// Config is the full service configuration.
type Config struct {
	Server       ServerConfig       `koanf:"server"`
	Database     DatabaseConfig     `koanf:"database"`
	JWT          JWTConfig          `koanf:"jwt"`
	LLM          LLMConfig          `koanf:"llm"`
	Compressor   CompressorConfig   `koanf:"compressor"`
	Orchestrator OrchestratorConfig `koanf:"orchestrator"`
	Log          logging.Config     `koanf:"log"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL settings.
type DatabaseConfig struct {
	URL             Secret        `koanf:"url"`
	ConnectAttempts int           `koanf:"connect_attempts"`
	ConnectBackoff  time.Duration `koanf:"connect_backoff"`
}

// JWTConfig holds token signing settings.
type JWTConfig struct {
	Secret   Secret        `koanf:"secret"`
	TokenTTL time.Duration `koanf:"token_ttl"`
	Issuer   string        `koanf:"issuer"`
}

// LLMConfig selects and tunes the model gateway.
type LLMConfig struct {
	Provider          string        `koanf:"provider"` // openai, runtime, langchain
	Backend           string        `koanf:"backend"`  // langchain only: openai, ollama
	Model             string        `koanf:"model"`
	BaseURL           string        `koanf:"base_url"`
	APIKey            Secret        `koanf:"api_key"`
	MaxTokens         int           `koanf:"max_tokens"`
	Temperature       float64       `koanf:"temperature"`
	RequestTimeout    time.Duration `koanf:"request_timeout"`
	RequestsPerSecond float64       `koanf:"requests_per_second"`
	Burst             int           `koanf:"burst"`
	Retry             RetryConfig   `koanf:"retry"`
}

// RetryConfig is the bounded retry policy applied to every model call.
type RetryConfig struct {
	MaxAttempts    int           `koanf:"max_attempts"`
	InitialBackoff time.Duration `koanf:"initial_backoff"`
	MaxBackoff     time.Duration `koanf:"max_backoff"`
	Multiplier     float64       `koanf:"multiplier"`
}

// CompressorConfig tunes context compression. All thresholds are defaults,
// not load-bearing constants.
type CompressorConfig struct {
	TokenBudget      int     `koanf:"token_budget"`
	SafetyMargin     float64 `koanf:"safety_margin"`
	KeepRecent       int     `koanf:"keep_recent"`
	FileTokenCeiling int     `koanf:"file_token_ceiling"`
	CharsPerToken    int     `koanf:"chars_per_token"`
	ModelSummaries   bool    `koanf:"model_summaries"`
}

// OrchestratorConfig tunes the generate/test/review loop.
type OrchestratorConfig struct {
	MaxIterations     int           `koanf:"max_iterations"`
	AgentTimeout      time.Duration `koanf:"agent_timeout"`
	ArchitectTimeout  time.Duration `koanf:"architect_timeout"`
	ArchitectAttempts int           `koanf:"architect_attempts"`
	SoftDeadline      time.Duration `koanf:"soft_deadline"`
	DomainLayers      []string      `koanf:"domain_layers"`
	Planning          bool          `koanf:"planning"`
	ModelTester       bool          `koanf:"model_tester"`
}

// Secret wraps strings that should be redacted in logs and serialization.
type Secret string

// String always returns a redacted value.
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "[REDACTED]"
}

// GoString implements fmt.GoStringer for %#v formatting.
func (s Secret) GoString() string {
	return "Secret([REDACTED])"
}

// Value returns the actual secret value.
func (s Secret) Value() string {
	return string(s)
}

// IsSet returns true if the secret has a non-empty value.
func (s Secret) IsSet() bool {
	return s != ""
}

// MarshalJSON always returns a redacted value.
func (s Secret) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}
