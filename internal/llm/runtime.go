package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	"github.com/bizmatters/agent-builder/codegen-orchestrator/internal/logging"
)

// RuntimeConfig configures the generic HTTP generation runtime backend.
type RuntimeConfig struct {
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
	Guard       GuardConfig
}

// RuntimeGateway talks to a self-hosted generation runtime over a small JSON
// protocol: POST {base}/v1/generate, GET {base}/health.
type RuntimeGateway struct {
	baseURL    string
	cfg        RuntimeConfig
	httpClient *http.Client
	guard      *guard
}

// runtimeMessage is one message on the wire
type runtimeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// RuntimeGenerateRequest is the body sent to the runtime
type RuntimeGenerateRequest struct {
	Model       string           `json:"model"`
	System      string           `json:"system,omitempty"`
	Messages    []runtimeMessage `json:"messages"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
	Temperature float64          `json:"temperature,omitempty"`
	Tag         string           `json:"tag,omitempty"`
}

// RuntimeGenerateResponse is the body returned by the runtime
type RuntimeGenerateResponse struct {
	Text         string `json:"text"`
	FinishReason string `json:"finish_reason,omitempty"`
}

// NewRuntimeGateway creates a runtime gateway.
func NewRuntimeGateway(cfg RuntimeConfig, logger *logging.Logger) *RuntimeGateway {
	if logger == nil {
		logger = logging.NewNop()
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "http://generation-runtime:8000"
		logger.Warn(context.Background(), "runtime base_url not set, using default", zap.String("base_url", baseURL))
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	return &RuntimeGateway{
		baseURL:    baseURL,
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		guard:      newGuard("runtime", cfg.Guard, logger),
	}
}

// Complete posts the request to the runtime.
func (g *RuntimeGateway) Complete(ctx context.Context, req Request) (string, error) {
	if req.Model == "" {
		req.Model = g.cfg.Model
	}
	return g.guard.do(ctx, req, func(ctx context.Context) (string, error) {
		return g.generate(ctx, req)
	})
}

func (g *RuntimeGateway) generate(ctx context.Context, req Request) (string, error) {
	body := RuntimeGenerateRequest{
		Model:       req.Model,
		System:      req.System,
		Messages:    make([]runtimeMessage, 0, len(req.Messages)),
		MaxTokens:   firstPositive(req.MaxTokens, g.cfg.MaxTokens),
		Temperature: firstNonZero(req.Temperature, g.cfg.Temperature),
		Tag:         req.Tag,
	}
	for _, m := range req.Messages {
		body.Messages = append(body.Messages, runtimeMessage{Role: string(m.Role), Content: m.Content})
	}

	jsonData, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/generate", g.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(httpReq.Header))

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		statusErr := fmt.Errorf("runtime returned status %d: %s", resp.StatusCode, string(bodyBytes))
		if transientStatus(resp.StatusCode) {
			return "", &TransientError{Provider: "runtime", StatusCode: resp.StatusCode, Err: statusErr}
		}
		return "", statusErr
	}

	var out RuntimeGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if out.Text == "" {
		return "", ErrEmptyCompletion
	}
	return out.Text, nil
}

// IsHealthy checks the runtime health endpoint, short-circuiting when the
// breaker is open.
func (g *RuntimeGateway) IsHealthy(ctx context.Context) bool {
	ctx, span := g.guard.tracer.Start(ctx, "runtime.health_check")
	defer span.End()

	if g.guard.state() == gobreaker.StateOpen {
		span.SetAttributes(attribute.Bool("healthy", false), attribute.String("reason", "circuit_breaker_open"))
		return false
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/health", nil)
	if err != nil {
		span.RecordError(err)
		return false
	}
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(httpReq)
	if err != nil {
		span.RecordError(err)
		return false
	}
	defer resp.Body.Close()

	healthy := resp.StatusCode == http.StatusOK
	span.SetAttributes(attribute.Bool("healthy", healthy))
	return healthy
}
