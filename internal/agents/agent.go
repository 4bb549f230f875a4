package agents

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/bizmatters/agent-builder/codegen-orchestrator/internal/llm"
	"github.com/bizmatters/agent-builder/codegen-orchestrator/internal/logging"
	"github.com/bizmatters/agent-builder/codegen-orchestrator/internal/metrics"
	"github.com/bizmatters/agent-builder/codegen-orchestrator/internal/models"
	"github.com/bizmatters/agent-builder/codegen-orchestrator/internal/parser"
)

var (
	ErrNoGateway = errors.New("agent requires a model gateway")
	ErrEmptyPlan = errors.New("planner returned no tasks")
)

// AgentResult is what one agent run returns. Files, Notes and Raw are set
// for every role; the remaining fields only for the role that produces them.
type AgentResult struct {
	Files    []models.FileArtifact
	Notes    string
	Raw      string
	Findings []models.Finding

	Plan         []string
	Architecture *models.ArchitectureSpec
	Review       *ReviewDecision
}

// Config holds per-call model settings shared by all agents.
type Config struct {
	Model       string
	MaxTokens   int
	Temperature float64
}

// Agent builds a request for its role, calls the gateway and decodes the
// response. It holds no per-call state; one Agent may run concurrently.
type Agent struct {
	role    Role
	tmpl    roleTemplate
	gateway llm.Gateway
	cfg     Config
	logger  *logging.Logger
	metrics *metrics.GenerationMetrics
	tracer  trace.Tracer
}

// Option configures an Agent.
type Option func(*Agent)

func WithLogger(l *logging.Logger) Option {
	return func(a *Agent) {
		if l != nil {
			a.logger = l
		}
	}
}

func WithMetrics(m *metrics.GenerationMetrics) Option {
	return func(a *Agent) { a.metrics = m }
}

// New creates an agent for role.
func New(role Role, gateway llm.Gateway, cfg Config, opts ...Option) (*Agent, error) {
	if gateway == nil {
		return nil, ErrNoGateway
	}
	tmpl, ok := templates[role.Kind]
	if !ok {
		return nil, fmt.Errorf("unknown agent role %q", role)
	}
	if role.Kind == KindDomain && role.Layer == "" {
		return nil, fmt.Errorf("domain agent needs a layer")
	}

	a := &Agent{
		role:    role,
		tmpl:    tmpl,
		gateway: gateway,
		cfg:     cfg,
		logger:  logging.NewNop(),
		tracer:  otel.Tracer("codegen-agents"),
	}
	for _, o := range opts {
		o(a)
	}
	return a, nil
}

// Role returns the agent's role.
func (a *Agent) Role() Role {
	return a.role
}

// decoders turn raw model text into a result, one per output shape.
var decoders = map[outputShape]func(Role, roleTemplate, string) (AgentResult, error){
	outputFiles:        decodeFiles,
	outputPlan:         decodePlan,
	outputArchitecture: decodeArchitectureResult,
	outputFindings:     decodeFindings,
	outputDecision:     decodeDecision,
}

// Run performs one model call for in. Gateway errors, after the gateway's
// own retries, are returned as is. Parse problems become findings, except
// for the Planner and Architect whose output is unusable without structure.
func (a *Agent) Run(ctx context.Context, in RoleInput) (AgentResult, error) {
	ctx, span := a.tracer.Start(ctx, "agent."+string(a.role.Kind))
	defer span.End()
	span.SetAttributes(
		attribute.String("agent.role", a.role.String()),
		attribute.Int("agent.iteration", in.Iteration),
		attribute.Int("agent.input_files", len(in.Files)),
		attribute.Int("agent.input_findings", len(in.Findings)),
	)

	start := time.Now()
	req := buildRequest(a.role, in, a.cfg.Model, a.cfg.MaxTokens, a.cfg.Temperature)

	raw, err := a.gateway.Complete(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "model call failed")
		a.metrics.RecordAgentRun(ctx, a.role.String(), "error", time.Since(start))
		a.logger.Warn(ctx, "Agent model call failed",
			zap.String("role", a.role.String()),
			zap.Error(err))
		return AgentResult{Raw: raw}, fmt.Errorf("%s agent: %w", a.role, err)
	}

	res, err := decoders[a.tmpl.shape](a.role, a.tmpl, raw)
	res.Raw = raw
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "undecodable output")
		a.metrics.RecordAgentRun(ctx, a.role.String(), "undecodable", time.Since(start))
		a.logger.Warn(ctx, "Agent output could not be decoded",
			zap.String("role", a.role.String()),
			zap.Int("raw_chars", len(raw)),
			zap.Error(err))
		return res, fmt.Errorf("%s agent: %w", a.role, err)
	}

	outcome := "ok"
	if len(res.Findings) > 0 && a.tmpl.shape == outputFiles {
		outcome = "anomaly"
	}
	span.SetAttributes(
		attribute.Int("agent.output_files", len(res.Files)),
		attribute.Int("agent.output_findings", len(res.Findings)),
	)
	a.metrics.RecordAgentRun(ctx, a.role.String(), outcome, time.Since(start))
	a.logger.Debug(ctx, "Agent run completed",
		zap.String("role", a.role.String()),
		zap.Int("files", len(res.Files)),
		zap.Int("findings", len(res.Findings)),
		zap.Duration("duration", time.Since(start)))

	return res, nil
}

func decodeFiles(r Role, t roleTemplate, raw string) (AgentResult, error) {
	parsed := parser.Parse(raw)
	res := AgentResult{Files: parsed.Files, Notes: parsed.Prose}

	if t.expectFiles && parsed.Empty() {
		res.Findings = append(res.Findings, models.Finding{
			Severity:    models.SeverityMajor,
			Description: fmt.Sprintf("%s agent returned no file blocks", r),
			Source:      r.String(),
			Kind:        models.ErrorKindParseAnomaly,
		})
	} else if parsed.Skipped > 0 {
		res.Findings = append(res.Findings, models.Finding{
			Severity:    models.SeverityMinor,
			Description: fmt.Sprintf("%s agent output had %d malformed file blocks that were skipped", r, parsed.Skipped),
			Source:      r.String(),
			Kind:        models.ErrorKindParseAnomaly,
		})
	}
	return res, nil
}

func decodePlan(_ Role, _ roleTemplate, raw string) (AgentResult, error) {
	plan := parser.ParseList(raw)
	if len(plan) == 0 {
		return AgentResult{}, ErrEmptyPlan
	}
	return AgentResult{Plan: plan}, nil
}

func decodeArchitectureResult(_ Role, _ roleTemplate, raw string) (AgentResult, error) {
	spec, err := DecodeArchitecture(raw)
	if err != nil {
		return AgentResult{}, err
	}
	return AgentResult{Architecture: spec, Notes: spec.Summary}, nil
}

func decodeFindings(r Role, _ roleTemplate, raw string) (AgentResult, error) {
	var out struct {
		Findings []models.Finding `json:"findings"`
	}
	if err := parser.ExtractJSON(raw, &out); err != nil {
		return AgentResult{Findings: []models.Finding{{
			Severity:    models.SeverityMinor,
			Description: fmt.Sprintf("%s output could not be read", r),
			Source:      r.String(),
			Kind:        models.ErrorKindParseAnomaly,
		}}}, nil
	}
	return AgentResult{Findings: normalizeFindings(out.Findings, r)}, nil
}

func decodeDecision(r Role, _ roleTemplate, raw string) (AgentResult, error) {
	d := DecodeReview(raw)
	for i := range d.Findings {
		if d.Findings[i].Source == "" {
			d.Findings[i].Source = r.String()
		}
	}
	return AgentResult{Review: &d, Findings: d.Findings, Notes: d.Summary}, nil
}
