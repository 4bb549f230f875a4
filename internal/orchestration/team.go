package orchestration

import (
	"context"
	"fmt"

	"github.com/bizmatters/agent-builder/codegen-orchestrator/internal/agents"
	"github.com/bizmatters/agent-builder/codegen-orchestrator/internal/llm"
	"github.com/bizmatters/agent-builder/codegen-orchestrator/internal/models"
)

// Runner is anything that can play an agent role. *agents.Agent is the
// production implementation.
type Runner interface {
	Run(ctx context.Context, in agents.RoleInput) (agents.AgentResult, error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, in agents.RoleInput) (agents.AgentResult, error)

func (f RunnerFunc) Run(ctx context.Context, in agents.RoleInput) (agents.AgentResult, error) {
	return f(ctx, in)
}

// Team is the set of agents one orchestrator drives. Planner and Tester are
// optional.
type Team struct {
	Planner   Runner
	Architect Runner
	Domains   map[models.Layer]Runner
	Tester    Runner
	Reviewer  Runner
}

func (t Team) validate() error {
	switch {
	case t.Architect == nil:
		return ErrNoArchitect
	case t.Reviewer == nil:
		return ErrNoReviewer
	case len(t.Domains) == 0:
		return ErrNoDomains
	}
	return nil
}

// NewTeam builds model-backed agents that share one gateway.
func NewTeam(gateway llm.Gateway, cfg agents.Config, opts Options, agentOpts ...agents.Option) (Team, error) {
	build := func(role agents.Role) (Runner, error) {
		a, err := agents.New(role, gateway, cfg, agentOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s agent: %w", role, err)
		}
		return a, nil
	}

	var (
		team Team
		err  error
	)
	if opts.Planning {
		if team.Planner, err = build(agents.Planner()); err != nil {
			return Team{}, err
		}
	}
	if team.Architect, err = build(agents.Architect()); err != nil {
		return Team{}, err
	}
	team.Domains = make(map[models.Layer]Runner, len(opts.Layers))
	for _, layer := range opts.Layers {
		if team.Domains[layer], err = build(agents.Domain(layer)); err != nil {
			return Team{}, err
		}
	}
	if opts.ModelTester {
		if team.Tester, err = build(agents.Tester()); err != nil {
			return Team{}, err
		}
	}
	if team.Reviewer, err = build(agents.Reviewer()); err != nil {
		return Team{}, err
	}
	return team, nil
}
