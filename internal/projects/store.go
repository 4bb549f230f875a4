// Package projects persists projects, their conversation and file snapshots,
// and generation records, and runs generations against the orchestrator.
package projects

import (
	"context"
	"errors"
	"fmt"

	"github.com/bizmatters/agent-builder/codegen-orchestrator/internal/models"
)

var (
	ErrProjectNotFound    = errors.New("project not found")
	ErrGenerationNotFound = errors.New("generation not found")
	ErrUserNotFound       = errors.New("user not found")
	ErrGenerationRunning  = errors.New("project already has a generation in progress")
	ErrForbidden          = errors.New("project belongs to another user")
	ErrShuttingDown       = errors.New("generation service is shutting down")
)

// Store is the persistence the generation service needs. PostgresStore is
// the production implementation.
type Store interface {
	CreateProject(ctx context.Context, name, description, ownerID string) (*models.Project, error)
	GetProject(ctx context.Context, projectID string) (*models.Project, error)
	LoadSnapshot(ctx context.Context, projectID string) (models.ProjectSnapshot, error)

	// CreateGeneration inserts a pending generation. It fails with
	// ErrGenerationRunning while another one of the project is pending or
	// running.
	CreateGeneration(ctx context.Context, projectID, userID, prompt string) (*models.Generation, error)
	GetGeneration(ctx context.Context, generationID string) (*models.Generation, error)
	MarkRunning(ctx context.Context, generationID string) error
	// CompleteGeneration stores the result snapshot and marks the
	// generation completed in one transaction.
	CompleteGeneration(ctx context.Context, generationID string, result *models.Result) error
	FailGeneration(ctx context.Context, generationID, reason string) error
	AppendAudit(ctx context.Context, generationID string, event models.ProgressEvent) error
}

// UserStore looks up login accounts.
type UserStore interface {
	FindUserByEmail(ctx context.Context, email string) (*models.User, error)
}

// transitions lists the allowed generation status changes
var transitions = map[models.GenerationStatus][]models.GenerationStatus{
	models.GenerationPending:   {models.GenerationRunning, models.GenerationFailed},
	models.GenerationRunning:   {models.GenerationCompleted, models.GenerationFailed},
	models.GenerationCompleted: {},
	models.GenerationFailed:    {},
}

// ValidateTransition reports whether a generation may move from one status
// to another.
func ValidateTransition(from, to models.GenerationStatus) error {
	allowed, ok := transitions[from]
	if !ok {
		return fmt.Errorf("invalid current status: %s", from)
	}
	for _, s := range allowed {
		if s == to {
			return nil
		}
	}
	return fmt.Errorf("invalid status transition from %s to %s", from, to)
}
