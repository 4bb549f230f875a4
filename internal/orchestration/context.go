package orchestration

import (
	"context"
	"time"

	"github.com/bizmatters/agent-builder/codegen-orchestrator/internal/models"
)

// OrchestrationContext is the state of one generation request. It is owned
// by the goroutine running Orchestrator.Run and is never shared between
// requests. Agents only ever see copies of its history and files.
type OrchestrationContext struct {
	GenerationID string
	ProjectID    string
	Request      string

	History      []models.ConversationMessage
	Files        []models.FileArtifact
	Owners       map[string]models.Layer
	Plan         []string
	Architecture *models.ArchitectureSpec
	State        models.IterationState
	Compression  models.CompressionStats

	DeadlineExceeded      bool
	IterationLimitReached bool

	sink     ProgressSink
	sequence int64
	deadline time.Time
	now      func() time.Time
}

func newOrchestrationContext(req Request, maxIterations int, sink ProgressSink, deadline time.Time, now func() time.Time) *OrchestrationContext {
	if sink == nil {
		sink = nopSink{}
	}
	history := models.CloneMessages(req.Snapshot.History)
	history = append(history, models.ConversationMessage{
		Role:      models.RoleUser,
		Content:   req.Prompt,
		CreatedAt: now(),
	})

	return &OrchestrationContext{
		GenerationID: req.GenerationID,
		ProjectID:    req.Snapshot.ProjectID,
		Request:      req.Prompt,
		History:      history,
		Files:        models.CloneFiles(req.Snapshot.Files),
		Owners:       map[string]models.Layer{},
		State: models.IterationState{
			MaxIterations: maxIterations,
			Status:        models.StatusPlanning,
		},
		sink:     sink,
		deadline: deadline,
		now:      now,
	}
}

// emit appends a progress event with the next sequence number.
func (c *OrchestrationContext) emit(ctx context.Context, stage models.ProgressStage, kind models.ErrorKind, message string, data map[string]any) {
	c.sequence++
	c.sink.Emit(ctx, models.ProgressEvent{
		GenerationID: c.GenerationID,
		Sequence:     c.sequence,
		Stage:        stage,
		Message:      message,
		Iteration:    c.State.IterationIndex,
		Kind:         kind,
		Data:         data,
		Timestamp:    c.now(),
	})
}

// pastDeadline reports whether the soft deadline has passed.
func (c *OrchestrationContext) pastDeadline() bool {
	return !c.deadline.IsZero() && !c.now().Before(c.deadline)
}

func (c *OrchestrationContext) appendNote(content string) {
	c.History = append(c.History, models.ConversationMessage{
		Role:      models.RoleAssistant,
		Content:   content,
		CreatedAt: c.now(),
	})
}

func (c *OrchestrationContext) result() *models.Result {
	return &models.Result{
		GenerationID: c.GenerationID,
		Snapshot: models.ProjectSnapshot{
			ProjectID: c.ProjectID,
			History:   models.CloneMessages(c.History),
			Files:     models.CloneFiles(c.Files),
		},
		State:                 c.State,
		Plan:                  c.Plan,
		Architecture:          c.Architecture,
		Compression:           c.Compression,
		IterationLimitReached: c.IterationLimitReached,
		DeadlineExceeded:      c.DeadlineExceeded,
	}
}
