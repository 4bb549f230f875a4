package models

import (
	"time"
)

// Project is the persisted owner of a conversation and a file set
type Project struct {
	ID          string    `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	Description string    `json:"description" db:"description"`
	OwnerID     string    `json:"owner_id" db:"created_by_user_id"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// ProjectSnapshot is what the orchestrator is handed on start and returns
// on completion. The orchestrator never persists it itself.
type ProjectSnapshot struct {
	ProjectID string                `json:"project_id"`
	History   []ConversationMessage `json:"history"`
	Files     []FileArtifact        `json:"files"`
}

// Result is the outcome of one orchestration run
type Result struct {
	GenerationID          string            `json:"generation_id"`
	Snapshot              ProjectSnapshot   `json:"snapshot"`
	State                 IterationState    `json:"state"`
	Plan                  []string          `json:"plan,omitempty"`
	Architecture          *ArchitectureSpec `json:"architecture,omitempty"`
	Compression           CompressionStats  `json:"compression"`
	IterationLimitReached bool              `json:"iteration_limit_reached"`
	DeadlineExceeded      bool              `json:"deadline_exceeded"`
}

// Summary returns the compact form stored alongside a generation record.
func (r *Result) Summary() *ResultSummary {
	return &ResultSummary{
		Status:                r.State.Status,
		IterationIndex:        r.State.IterationIndex,
		FileCount:             len(r.Snapshot.Files),
		Findings:              r.State.Findings,
		IterationLimitReached: r.IterationLimitReached,
		DeadlineExceeded:      r.DeadlineExceeded,
		Compression:           r.Compression,
	}
}
