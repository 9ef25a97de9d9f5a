package orchestration

import (
	"errors"
	"fmt"
	"strings"

	"github.com/atinarapukarthik/RyzeCanvas-sub002/pkg/orchestration/types"
)

var (
	// ErrConflict is returned when a project already has a run in flight.
	ErrConflict = errors.New("a run is already in progress for this project")
	// ErrShuttingDown is returned once Shutdown has been called.
	ErrShuttingDown = errors.New("controller is shutting down")
	// ErrNoPriorRun is returned by Repair when there is nothing to repair.
	ErrNoPriorRun = errors.New("project has no prior run to repair")
)

// ConflictError names the run that blocked a start request.
type ConflictError struct {
	ProjectID string
	RunID     string
	Stage     types.Stage
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("project %s: run %s is in stage %s: %v", e.ProjectID, e.RunID, e.Stage, ErrConflict)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// Reason distinguishes why a run failed.
type Reason string

const (
	ReasonRetrieval           Reason = "retrieval_error"
	ReasonGeneration          Reason = "generation_error"
	ReasonValidationExhausted Reason = "validation_exhausted"
	ReasonCommit              Reason = "commit_error"
)

// RunError is the terminal failure of a run.
type RunError struct {
	RunID  string
	Reason Reason
	Stage  types.Stage
	// Errors holds every accumulated validation error when Reason is
	// ReasonValidationExhausted.
	Errors []string
	Err    error
}

func (e *RunError) Error() string {
	switch {
	case e.Reason == ReasonValidationExhausted:
		return fmt.Sprintf("%s after %d attempts: %s", e.Reason, len(e.Errors), strings.Join(e.Errors, " | "))
	case e.Err != nil:
		return fmt.Sprintf("%s in %s: %v", e.Reason, e.Stage, e.Err)
	default:
		return fmt.Sprintf("%s in %s", e.Reason, e.Stage)
	}
}

func (e *RunError) Unwrap() error { return e.Err }

// Messages returns the user-visible error list of the failure.
func (e *RunError) Messages() []string {
	if len(e.Errors) > 0 {
		return append([]string(nil), e.Errors...)
	}
	if e.Err != nil {
		return []string{e.Err.Error()}
	}
	return []string{string(e.Reason)}
}
