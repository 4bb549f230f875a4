package orchestration

import (
	"errors"
	"fmt"
)

var (
	// ErrDependencyFailure marks a failed hard-dependency step. Match it with
	// errors.Is; the concrete error is a *DependencyError.
	ErrDependencyFailure = errors.New("dependency failure")

	ErrNoArchitect  = errors.New("orchestrator requires an architect")
	ErrNoReviewer   = errors.New("orchestrator requires a reviewer")
	ErrNoDomains    = errors.New("orchestrator requires at least one domain agent")
	ErrEmptyRequest = errors.New("generation request has no prompt")
)

// DependencyError is returned when a step every later step depends on
// could not complete. The whole request fails.
type DependencyError struct {
	Step     string
	Attempts int
	Err      error
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("%s failed after %d attempts: %v", e.Step, e.Attempts, e.Err)
}

func (e *DependencyError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrDependencyFailure) true.
func (e *DependencyError) Is(target error) bool {
	return target == ErrDependencyFailure
}
