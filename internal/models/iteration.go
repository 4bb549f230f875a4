package models

// Severity of a Finding
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityMajor    Severity = "major"
	SeverityMinor    Severity = "minor"
)

// Blocking reports whether a finding of this severity prevents approval.
func (s Severity) Blocking() bool {
	return s == SeverityCritical || s == SeverityMajor
}

// Finding is an issue raised by Testing, Review or a failed agent. It is fed
// back to domain agents as a fix instruction.
type Finding struct {
	Severity     Severity  `json:"severity"`
	Description  string    `json:"description"`
	AffectedPath string    `json:"affected_path,omitempty"`
	Source       string    `json:"source,omitempty"`
	Kind         ErrorKind `json:"kind,omitempty"`
}

// HasBlocking reports whether any finding is critical or major.
func HasBlocking(findings []Finding) bool {
	for _, f := range findings {
		if f.Severity.Blocking() {
			return true
		}
	}
	return false
}

// IterationStatus is the lifecycle status of a generation
type IterationStatus string

const (
	StatusPlanning   IterationStatus = "planning"
	StatusGenerating IterationStatus = "generating"
	StatusTesting    IterationStatus = "testing"
	StatusReviewing  IterationStatus = "reviewing"
	StatusFixing     IterationStatus = "fixing"
	StatusApproved   IterationStatus = "approved"
	StatusFailed     IterationStatus = "failed"
)

// IterationState tracks the generate/test/review loop. IterationIndex is
// 0-based and only grows when the Reviewer requests changes.
type IterationState struct {
	IterationIndex int             `json:"iteration_index"`
	MaxIterations  int             `json:"max_iterations"`
	Status         IterationStatus `json:"status"`
	Findings       []Finding       `json:"findings"`
}

// Terminal reports whether no further rounds will run.
func (s IterationState) Terminal() bool {
	return s.Status == StatusApproved || s.Status == StatusFailed || s.IterationIndex >= s.MaxIterations
}

// CompressionStats is diagnostic output of one compression pass
type CompressionStats struct {
	OriginalTokenEstimate   int  `json:"original_token_estimate"`
	CompressedTokenEstimate int  `json:"compressed_token_estimate"`
	MessagesDropped         int  `json:"messages_dropped"`
	FilesTruncated          int  `json:"files_truncated"`
	BudgetExceeded          bool `json:"budget_exceeded"`
}
