package orchestration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/bizmatters/agent-builder/codegen-orchestrator/internal/agents"
	"github.com/bizmatters/agent-builder/codegen-orchestrator/internal/llm"
	"github.com/bizmatters/agent-builder/codegen-orchestrator/internal/models"
)

type domainOutcome struct {
	layer    models.Layer
	result   agents.AgentResult
	err      error
	kind     models.ErrorKind
	duration time.Duration
}

// generate fans out to every domain agent, waits for all of them and merges
// their files into octx. Failures never abort siblings; each becomes one
// major finding. It returns the findings of the round.
func (o *Orchestrator) generate(ctx context.Context, octx *OrchestrationContext, fixes []models.Finding) []models.Finding {
	ctx, span := o.tracer.Start(ctx, "orchestrator.generate")
	defer span.End()
	span.SetAttributes(attribute.Int("orchestrator.iteration_index", octx.State.IterationIndex))

	octx.emit(ctx, models.StageGenerating, "",
		fmt.Sprintf("Generating %d layers (iteration %d)", len(o.opts.Layers), octx.State.IterationIndex+1), nil)

	compressed := o.compress(ctx, octx, models.StageGenerating)
	routed := RouteFindings(fixes, octx.Owners, o.opts.Layers)

	outcomes := make([]domainOutcome, len(o.opts.Layers))
	var g errgroup.Group
	for i, layer := range o.opts.Layers {
		var arch *models.ArchitectureSpec
		if octx.Architecture != nil {
			slice := octx.Architecture.ForLayer(layer)
			arch = &slice
		}
		in := agents.RoleInput{
			Request:      octx.Request,
			Plan:         octx.Plan,
			Architecture: arch,
			Findings:     routed[layer],
			History:      models.CloneMessages(compressed.History),
			Files:        models.CloneFiles(compressed.Files),
			Iteration:    octx.State.IterationIndex,
		}
		runner := o.team.Domains[layer]

		g.Go(func() error {
			outcomes[i] = o.runDomain(ctx, layer, runner, in)
			return nil
		})
	}
	_ = g.Wait()

	var (
		findings []models.Finding
		outputs  []LayerOutput
	)
	for _, out := range outcomes {
		role := agents.Domain(out.layer)
		if out.err != nil {
			findings = append(findings, models.Finding{
				Severity:    models.SeverityMajor,
				Description: fmt.Sprintf("%s layer agent failed: %v", out.layer, out.err),
				Source:      role.String(),
				Kind:        out.kind,
			})
			octx.emit(ctx, models.StageGenerating, out.kind,
				fmt.Sprintf("The %s layer agent failed; continuing with the other layers", out.layer),
				map[string]any{"layer": string(out.layer), "error": out.err.Error()})
			continue
		}

		for _, f := range out.result.Findings {
			if f.Kind == models.ErrorKindParseAnomaly && f.Severity.Blocking() {
				octx.emit(ctx, models.StageGenerating, models.ErrorKindParseAnomaly,
					fmt.Sprintf("The %s layer agent returned no usable files", out.layer),
					map[string]any{"layer": string(out.layer)})
			}
		}
		findings = append(findings, out.result.Findings...)
		outputs = append(outputs, LayerOutput{Layer: out.layer, Files: out.result.Files})
	}

	octx.Files, octx.Owners = Merge(octx.Files, octx.Owners, outputs, o.opts.Priority)

	span.SetAttributes(
		attribute.Int("orchestrator.files", len(octx.Files)),
		attribute.Int("orchestrator.round_findings", len(findings)),
	)
	octx.emit(ctx, models.StageGenerating, "",
		fmt.Sprintf("Generated %d files from %d of %d layers", len(octx.Files), len(outputs), len(o.opts.Layers)),
		map[string]any{"files": len(octx.Files), "findings": len(findings)})
	return findings
}

func (o *Orchestrator) runDomain(ctx context.Context, layer models.Layer, runner Runner, in agents.RoleInput) domainOutcome {
	start := time.Now()
	actx, cancel := context.WithTimeout(ctx, o.opts.AgentTimeout)
	defer cancel()

	res, err := runner.Run(actx, in)
	out := domainOutcome{layer: layer, result: res, err: err, duration: time.Since(start)}
	if err != nil {
		out.kind = failureKind(actx, err)
		if out.kind == models.ErrorKindDeadlineExceeded && ctx.Err() == nil {
			out.err = fmt.Errorf("timed out after %s: %w", o.opts.AgentTimeout, err)
		}
		o.logger.Warn(ctx, "Domain agent failed",
			zap.String("layer", string(layer)),
			zap.String("kind", string(out.kind)),
			zap.Duration("duration", out.duration),
			zap.Error(err))
	}
	return out
}

// failureKind classifies an agent error for findings and progress events.
func failureKind(actx context.Context, err error) models.ErrorKind {
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(actx.Err(), context.DeadlineExceeded):
		return models.ErrorKindDeadlineExceeded
	case llm.IsTransient(err) || errors.Is(err, llm.ErrRetriesExhausted):
		return models.ErrorKindTransientGateway
	default:
		return models.ErrorKindAgentFailure
	}
}
