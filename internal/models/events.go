package models

import (
	"time"
)

// ProgressStage is the orchestrator state a progress event reports on
type ProgressStage string

const (
	StagePlanning     ProgressStage = "planning"
	StageArchitecting ProgressStage = "architecting"
	StageGenerating   ProgressStage = "generating"
	StageTesting      ProgressStage = "testing"
	StageReviewing    ProgressStage = "reviewing"
	StageFixing       ProgressStage = "fixing"
	StageDone         ProgressStage = "done"
	StageError        ProgressStage = "error"
)

// ErrorKind classifies failures surfaced to progress consumers
type ErrorKind string

const (
	ErrorKindTransientGateway      ErrorKind = "transient_gateway"
	ErrorKindParseAnomaly          ErrorKind = "parse_anomaly"
	ErrorKindDependencyFailure     ErrorKind = "dependency_failure"
	ErrorKindBudgetExceeded        ErrorKind = "budget_exceeded"
	ErrorKindIterationLimitReached ErrorKind = "iteration_limit_reached"
	ErrorKindAgentFailure          ErrorKind = "agent_failure"
	ErrorKindDeadlineExceeded      ErrorKind = "deadline_exceeded"
	ErrorKindPersistenceFailure    ErrorKind = "persistence_failure"
)

// ProgressEvent is appended to the progress sink after each transition.
// Sequence is strictly increasing within one generation.
type ProgressEvent struct {
	GenerationID string         `json:"generation_id"`
	Sequence     int64          `json:"sequence"`
	Stage        ProgressStage  `json:"stage"`
	Message      string         `json:"message"`
	Iteration    int            `json:"iteration"`
	Kind         ErrorKind      `json:"kind,omitempty"`
	Data         map[string]any `json:"data,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
}

// Terminal reports whether no events follow this one.
func (e ProgressEvent) Terminal() bool {
	return e.Stage == StageDone || e.Stage == StageError
}

// GenerationStatus is the persisted status of a generation record
type GenerationStatus string

const (
	GenerationPending   GenerationStatus = "pending"
	GenerationRunning   GenerationStatus = "running"
	GenerationCompleted GenerationStatus = "completed"
	GenerationFailed    GenerationStatus = "failed"
)

// Generation is the persisted record of one orchestration run
type Generation struct {
	ID          string           `json:"id" db:"id"`
	ProjectID   string           `json:"project_id" db:"project_id"`
	UserID      string           `json:"user_id" db:"created_by_user_id"`
	Prompt      string           `json:"prompt" db:"prompt"`
	Status      GenerationStatus `json:"status" db:"status"`
	Result      *ResultSummary   `json:"result,omitempty" db:"result"`
	Error       *string          `json:"error,omitempty" db:"error"`
	CreatedAt   time.Time        `json:"created_at" db:"created_at"`
	CompletedAt *time.Time       `json:"completed_at,omitempty" db:"completed_at"`
}

// ResultSummary is the compact view of a Result stored with a generation
type ResultSummary struct {
	Status                IterationStatus  `json:"status"`
	IterationIndex        int              `json:"iteration_index"`
	FileCount             int              `json:"file_count"`
	Findings              []Finding        `json:"findings"`
	IterationLimitReached bool             `json:"iteration_limit_reached"`
	DeadlineExceeded      bool             `json:"deadline_exceeded"`
	Compression           CompressionStats `json:"compression"`
}
