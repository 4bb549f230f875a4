// Package orchestration drives one generation request through
// Planning -> Architecting -> Generating -> Testing -> Reviewing and back
// through Fixing until the Reviewer approves, the iteration limit is reached
// or the soft deadline passes.
package orchestration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/bizmatters/agent-builder/codegen-orchestrator/internal/agents"
	"github.com/bizmatters/agent-builder/codegen-orchestrator/internal/compression"
	"github.com/bizmatters/agent-builder/codegen-orchestrator/internal/config"
	"github.com/bizmatters/agent-builder/codegen-orchestrator/internal/logging"
	"github.com/bizmatters/agent-builder/codegen-orchestrator/internal/models"
)

// Options tune the loop.
type Options struct {
	MaxIterations     int
	AgentTimeout      time.Duration
	ArchitectTimeout  time.Duration
	ArchitectAttempts int
	SoftDeadline      time.Duration
	// Layers are the domain layers fanned out each round.
	Layers      []models.Layer
	Planning    bool
	ModelTester bool
	// Priority orders layers for merge conflicts, highest first.
	Priority []models.Layer
}

// OptionsFromConfig maps the orchestrator config section.
func OptionsFromConfig(cfg config.OrchestratorConfig) Options {
	layers := make([]models.Layer, 0, len(cfg.DomainLayers))
	for _, l := range cfg.DomainLayers {
		layers = append(layers, models.Layer(l))
	}
	return Options{
		MaxIterations:     cfg.MaxIterations,
		AgentTimeout:      cfg.AgentTimeout,
		ArchitectTimeout:  cfg.ArchitectTimeout,
		ArchitectAttempts: cfg.ArchitectAttempts,
		SoftDeadline:      cfg.SoftDeadline,
		Layers:            layers,
		Planning:          cfg.Planning,
		ModelTester:       cfg.ModelTester,
	}
}

func (o Options) withDefaults() Options {
	if o.MaxIterations <= 0 {
		o.MaxIterations = 3
	}
	if o.AgentTimeout <= 0 {
		o.AgentTimeout = 3 * time.Minute
	}
	if o.ArchitectTimeout <= 0 {
		o.ArchitectTimeout = o.AgentTimeout
	}
	if o.ArchitectAttempts <= 0 {
		o.ArchitectAttempts = 1
	}
	if len(o.Layers) == 0 {
		o.Layers = append([]models.Layer(nil), defaultPriority...)
	}
	if o.Priority == nil {
		o.Priority = defaultPriority
	}
	return o
}

// Request is one generation request.
type Request struct {
	GenerationID string
	Prompt       string
	// Snapshot is the project state before this request; empty for a new
	// project.
	Snapshot models.ProjectSnapshot
}

// Orchestrator runs generation requests. It keeps no per-request state and
// may run many requests concurrently.
type Orchestrator struct {
	team       Team
	compressor *compression.Compressor
	opts       Options
	logger     *logging.Logger
	tracer     trace.Tracer
	now        func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

func WithLogger(l *logging.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// New creates an orchestrator. A nil compressor uses default thresholds.
func New(team Team, compressor *compression.Compressor, opts Options, options ...Option) (*Orchestrator, error) {
	if err := team.validate(); err != nil {
		return nil, err
	}
	if compressor == nil {
		compressor = compression.New(compression.DefaultOptions())
	}
	opts = opts.withDefaults()
	for _, layer := range opts.Layers {
		if team.Domains[layer] == nil {
			return nil, fmt.Errorf("no domain agent for layer %q", layer)
		}
	}

	o := &Orchestrator{
		team:       team,
		compressor: compressor,
		opts:       opts,
		logger:     logging.NewNop(),
		tracer:     otel.Tracer("codegen-orchestrator"),
		now:        time.Now,
	}
	for _, opt := range options {
		opt(o)
	}
	return o, nil
}

// Options returns the effective options.
func (o *Orchestrator) Options() Options {
	return o.opts
}

// Run executes one request. Events go to sink in order; the last one is
// either done or error. A *DependencyError is returned when Architecting
// fails; cancellation of ctx is returned as is. Hitting the iteration limit
// or the soft deadline is not an error: the best result is returned with the
// matching flag set.
func (o *Orchestrator) Run(ctx context.Context, req Request, sink ProgressSink) (*models.Result, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, ErrEmptyRequest
	}

	ctx = logging.WithGenerationID(ctx, req.GenerationID)
	if req.Snapshot.ProjectID != "" {
		ctx = logging.WithProjectID(ctx, req.Snapshot.ProjectID)
	}
	ctx, span := o.tracer.Start(ctx, "orchestrator.run")
	defer span.End()
	span.SetAttributes(
		attribute.String("generation.id", req.GenerationID),
		attribute.Int("orchestrator.max_iterations", o.opts.MaxIterations),
		attribute.Int("orchestrator.layers", len(o.opts.Layers)),
	)

	var deadline time.Time
	if o.opts.SoftDeadline > 0 {
		deadline = o.now().Add(o.opts.SoftDeadline)
	}
	octx := newOrchestrationContext(req, o.opts.MaxIterations, sink, deadline, o.now)

	// Agents run under the soft deadline so a slow round is cut short
	// instead of hanging.
	work := ctx
	if o.opts.SoftDeadline > 0 {
		var cancel context.CancelFunc
		work, cancel = context.WithTimeout(ctx, o.opts.SoftDeadline)
		defer cancel()
	}

	o.logger.Info(ctx, "Generation started",
		zap.Int("history_messages", len(octx.History)),
		zap.Int("prior_files", len(octx.Files)))

	o.plan(work, octx)

	if err := o.architect(work, octx); err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "architecting failed")
		octx.State.Status = models.StatusFailed
		octx.emit(ctx, models.StageError, models.ErrorKindDependencyFailure,
			fmt.Sprintf("Architecture could not be produced: %v", err), nil)
		o.logger.Error(ctx, "Generation failed", zap.Error(err))
		return nil, err
	}

	if err := o.loop(ctx, work, octx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generation cancelled")
		octx.emit(context.WithoutCancel(ctx), models.StageError, models.ErrorKindAgentFailure,
			fmt.Sprintf("Generation stopped: %v", err), nil)
		return nil, err
	}

	res := octx.result()
	span.SetAttributes(
		attribute.String("orchestrator.status", string(res.State.Status)),
		attribute.Int("orchestrator.iteration_index", res.State.IterationIndex),
		attribute.Int("orchestrator.files", len(res.Snapshot.Files)),
	)
	octx.emit(ctx, models.StageDone, "", doneMessage(res), map[string]any{
		"status":                  string(res.State.Status),
		"iteration_index":         res.State.IterationIndex,
		"files":                   len(res.Snapshot.Files),
		"findings":                len(res.State.Findings),
		"iteration_limit_reached": res.IterationLimitReached,
		"deadline_exceeded":       res.DeadlineExceeded,
	})
	o.logger.Info(ctx, "Generation finished",
		zap.String("status", string(res.State.Status)),
		zap.Int("iteration_index", res.State.IterationIndex),
		zap.Int("files", len(res.Snapshot.Files)),
		zap.Int("findings", len(res.State.Findings)),
		zap.Bool("deadline_exceeded", res.DeadlineExceeded))
	return res, nil
}

func doneMessage(res *models.Result) string {
	switch {
	case res.State.Status == models.StatusApproved:
		return fmt.Sprintf("Approved after %d iteration(s) with %d files", res.State.IterationIndex+1, len(res.Snapshot.Files))
	case res.DeadlineExceeded:
		return fmt.Sprintf("Deadline reached; returning best result with %d files", len(res.Snapshot.Files))
	default:
		return fmt.Sprintf("Iteration limit reached; returning best result with %d files", len(res.Snapshot.Files))
	}
}

// plan is advisory: any failure falls back to the raw request.
func (o *Orchestrator) plan(ctx context.Context, octx *OrchestrationContext) {
	octx.State.Status = models.StatusPlanning
	if o.team.Planner == nil {
		octx.emit(ctx, models.StagePlanning, "", "Planning skipped, using the request as is", nil)
		return
	}
	octx.emit(ctx, models.StagePlanning, "", "Planning tasks", nil)

	compressed := o.compress(ctx, octx, models.StagePlanning)
	actx, cancel := context.WithTimeout(ctx, o.opts.AgentTimeout)
	defer cancel()

	res, err := o.team.Planner.Run(actx, agents.RoleInput{
		Request: octx.Request,
		History: compressed.History,
	})
	if err != nil {
		o.logger.Warn(ctx, "Planning failed, continuing with the raw request", zap.Error(err))
		octx.emit(ctx, models.StagePlanning, failureKind(actx, err),
			"Planning unavailable, continuing with the raw request", nil)
		return
	}
	octx.Plan = res.Plan
	octx.emit(ctx, models.StagePlanning, "", fmt.Sprintf("Planned %d tasks", len(res.Plan)),
		map[string]any{"plan": res.Plan})
}

// architect is a hard dependency: no domain agent runs without a spec.
func (o *Orchestrator) architect(ctx context.Context, octx *OrchestrationContext) error {
	ctx, span := o.tracer.Start(ctx, "orchestrator.architect")
	defer span.End()

	octx.emit(ctx, models.StageArchitecting, "", "Designing the architecture", nil)
	compressed := o.compress(ctx, octx, models.StageArchitecting)

	var (
		lastErr  error
		feedback string
		attempts int
	)
	for attempts < o.opts.ArchitectAttempts {
		attempts++
		actx, cancel := context.WithTimeout(ctx, o.opts.ArchitectTimeout)
		res, err := o.team.Architect.Run(actx, agents.RoleInput{
			Request:  octx.Request,
			Plan:     octx.Plan,
			History:  compressed.History,
			Files:    compressed.Files,
			Feedback: feedback,
		})
		cancel()

		if err == nil && res.Architecture != nil {
			octx.Architecture = res.Architecture
			span.SetAttributes(attribute.Int("architect.attempts", attempts))
			octx.emit(ctx, models.StageArchitecting, "",
				fmt.Sprintf("Architecture ready: %s with %d modules", res.Architecture.ProjectKind, len(res.Architecture.Modules)),
				map[string]any{"architecture": res.Architecture})
			return nil
		}
		if err == nil {
			err = errors.New("architect returned no architecture")
		}
		lastErr = err
		o.logger.Warn(ctx, "Architecture attempt failed",
			zap.Int("attempt", attempts),
			zap.Error(err))
		if ctx.Err() != nil {
			break
		}
		feedback = fmt.Sprintf("Your previous answer was rejected (%v). Answer with the JSON object only.", err)
	}

	span.RecordError(lastErr)
	return &DependencyError{Step: "architecting", Attempts: attempts, Err: lastErr}
}

// loop runs Generating, Testing and Reviewing until a terminal state. ctx is
// the caller's context; work carries the soft deadline.
func (o *Orchestrator) loop(ctx, work context.Context, octx *OrchestrationContext) error {
	var fixes []models.Finding

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if octx.State.IterationIndex > 0 {
			octx.State.Status = models.StatusFixing
		} else {
			octx.State.Status = models.StatusGenerating
		}

		roundFindings := o.generate(work, octx, fixes)
		if o.stopAtDeadline(ctx, octx, roundFindings) {
			return ctx.Err()
		}

		octx.State.Status = models.StatusTesting
		testFindings := o.test(work, octx)
		if o.stopAtDeadline(ctx, octx, append(roundFindings, testFindings...)) {
			return ctx.Err()
		}

		octx.State.Status = models.StatusReviewing
		prior := append(append([]models.Finding(nil), roundFindings...), testFindings...)
		review := o.review(work, octx, prior)
		if o.stopAtDeadline(ctx, octx, append(prior, review.Findings...)) {
			return ctx.Err()
		}

		all := append(prior, review.Findings...)
		octx.State.Findings = all
		decision := agents.Decide(all)
		octx.appendNote(reviewNote(octx.State.IterationIndex, decision, review, all))

		if decision == agents.DecisionApprove {
			octx.State.Status = models.StatusApproved
			octx.emit(ctx, models.StageReviewing, "", "Reviewer approved the result",
				map[string]any{"decision": string(decision), "findings": len(all)})
			return nil
		}

		octx.State.IterationIndex++
		if octx.State.Terminal() {
			octx.State.Status = models.StatusFailed
			octx.IterationLimitReached = true
			octx.emit(ctx, models.StageReviewing, models.ErrorKindIterationLimitReached,
				fmt.Sprintf("Iteration limit of %d reached with %d blocking findings", octx.State.MaxIterations, countBlocking(all)),
				map[string]any{"decision": string(decision), "findings": len(all)})
			return nil
		}

		octx.State.Status = models.StatusFixing
		octx.emit(ctx, models.StageFixing, "",
			fmt.Sprintf("Fixing %d blocking findings", countBlocking(all)),
			map[string]any{"findings": all})
		fixes = all
	}
}

// stopAtDeadline ends the loop with the best result so far once the soft
// deadline has passed. It returns true when the loop must stop.
func (o *Orchestrator) stopAtDeadline(ctx context.Context, octx *OrchestrationContext, findings []models.Finding) bool {
	if ctx.Err() != nil {
		return true
	}
	if !octx.pastDeadline() {
		return false
	}
	octx.DeadlineExceeded = true
	octx.State.Findings = findings
	if octx.State.Status != models.StatusApproved {
		octx.State.Status = models.StatusFailed
	}
	octx.emit(ctx, octx.stage(), models.ErrorKindDeadlineExceeded,
		"Soft deadline reached, returning the best result so far", nil)
	o.logger.Warn(ctx, "Soft deadline reached", zap.Int("iteration_index", octx.State.IterationIndex))
	return true
}

// test is the static pass plus the optional model tester.
func (o *Orchestrator) test(ctx context.Context, octx *OrchestrationContext) []models.Finding {
	octx.emit(ctx, models.StageTesting, "", fmt.Sprintf("Checking %d files", len(octx.Files)), nil)

	findings := Validate(octx.Files, octx.Architecture)

	if o.team.Tester != nil && len(octx.Files) > 0 {
		compressed := o.compress(ctx, octx, models.StageTesting)
		actx, cancel := context.WithTimeout(ctx, o.opts.AgentTimeout)
		res, err := o.team.Tester.Run(actx, agents.RoleInput{
			Request:      octx.Request,
			Architecture: octx.Architecture,
			Files:        compressed.Files,
			Iteration:    octx.State.IterationIndex,
		})
		cancel()
		if err != nil {
			o.logger.Warn(ctx, "Model tester failed", zap.Error(err))
			findings = append(findings, models.Finding{
				Severity:    models.SeverityMinor,
				Description: fmt.Sprintf("model tester unavailable: %v", err),
				Source:      agents.Tester().String(),
				Kind:        failureKind(actx, err),
			})
		} else {
			findings = append(findings, res.Findings...)
		}
	}

	octx.emit(ctx, models.StageTesting, "",
		fmt.Sprintf("Testing found %d issues (%d blocking)", len(findings), countBlocking(findings)),
		map[string]any{"findings": findings})
	return findings
}

// review asks the Reviewer for a verdict. A failed reviewer yields a major
// finding so the round cannot be approved blindly.
func (o *Orchestrator) review(ctx context.Context, octx *OrchestrationContext, prior []models.Finding) agents.ReviewDecision {
	octx.emit(ctx, models.StageReviewing, "", "Reviewing the result", nil)

	compressed := o.compress(ctx, octx, models.StageReviewing)
	actx, cancel := context.WithTimeout(ctx, o.opts.AgentTimeout)
	defer cancel()

	res, err := o.team.Reviewer.Run(actx, agents.RoleInput{
		Request:      octx.Request,
		Plan:         octx.Plan,
		Architecture: octx.Architecture,
		Findings:     prior,
		History:      compressed.History,
		Files:        compressed.Files,
		Iteration:    octx.State.IterationIndex,
	})
	if err != nil || res.Review == nil {
		if err == nil {
			err = errors.New("reviewer returned no decision")
		}
		kind := failureKind(actx, err)
		o.logger.Warn(ctx, "Review failed", zap.Error(err))
		octx.emit(ctx, models.StageReviewing, kind, fmt.Sprintf("Reviewer unavailable: %v", err), nil)
		findings := []models.Finding{{
			Severity:    models.SeverityMajor,
			Description: fmt.Sprintf("review could not be completed: %v", err),
			Source:      agents.Reviewer().String(),
			Kind:        kind,
		}}
		return agents.ReviewDecision{Decision: agents.Decide(findings), Findings: findings}
	}
	return *res.Review
}

func (o *Orchestrator) compress(ctx context.Context, octx *OrchestrationContext, stage models.ProgressStage) compression.Output {
	out := o.compressor.CompressDefault(ctx, octx.History, octx.Files)
	octx.Compression = out.Stats
	if out.Stats.BudgetExceeded {
		octx.emit(ctx, stage, models.ErrorKindBudgetExceeded,
			"Context still exceeds the token budget after compression; continuing with best effort",
			map[string]any{
				"original_tokens":   out.Stats.OriginalTokenEstimate,
				"compressed_tokens": out.Stats.CompressedTokenEstimate,
			})
	}
	return out
}

// stage maps the iteration status to the progress stage it belongs to.
func (c *OrchestrationContext) stage() models.ProgressStage {
	switch c.State.Status {
	case models.StatusTesting:
		return models.StageTesting
	case models.StatusReviewing:
		return models.StageReviewing
	case models.StatusFixing:
		return models.StageFixing
	case models.StatusPlanning:
		return models.StagePlanning
	default:
		return models.StageGenerating
	}
}

func countBlocking(findings []models.Finding) int {
	n := 0
	for _, f := range findings {
		if f.Severity.Blocking() {
			n++
		}
	}
	return n
}

func reviewNote(iteration int, decision agents.Decision, review agents.ReviewDecision, findings []models.Finding) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Iteration %d review: %s.", iteration+1, decision)
	if review.Summary != "" {
		fmt.Fprintf(&b, " %s", review.Summary)
	}
	for _, f := range findings {
		if f.Severity.Blocking() {
			fmt.Fprintf(&b, "\n- [%s] %s", f.Severity, f.Description)
		}
	}
	return b.String()
}
