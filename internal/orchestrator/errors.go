package orchestrator

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoPool is returned by New without an agent pool.
	ErrNoPool = errors.New("agent pool is required")

	// ErrSessionRunning is returned when Run is called while a session is active.
	ErrSessionRunning = errors.New("session already running")

	// ErrNoSession is returned by operations that need a session.
	ErrNoSession = errors.New("no session")

	// ErrSessionStopped is returned to waiters when the session is stopped.
	ErrSessionStopped = errors.New("session stopped")

	// ErrSessionAborted is returned by Run when the decider aborted.
	ErrSessionAborted = errors.New("session aborted")

	// ErrStagesFailed is returned by Run when stages ended in error but the
	// session was continued to the end.
	ErrStagesFailed = errors.New("stages failed")

	// ErrUnknownStage is returned for a stage id with no pending gate.
	ErrUnknownStage = errors.New("unknown stage")

	// ErrAlreadyResolved is returned on a second resolution of one gate.
	ErrAlreadyResolved = errors.New("already resolved")

	// ErrAgentNotAssigned is returned by Handoff when the source stage has
	// no agent record.
	ErrAgentNotAssigned = errors.New("no agent assigned to stage")

	// ErrNoOutputs is returned by Handoff when the source stage has not
	// produced outputs yet.
	ErrNoOutputs = errors.New("stage has no outputs")
)

// UserRejection is the failure recorded when a reviewer rejects a stage.
type UserRejection struct {
	StageID string
	Reason  string
}

func (e *UserRejection) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("stage %s rejected: %s", e.StageID, e.Reason)
	}
	return fmt.Sprintf("stage %s rejected by user", e.StageID)
}

// StageFailure pairs a failed stage with its cause.
type StageFailure struct {
	StageID string
	Err     error
}

// FailedStagesError lists every stage that ended in error.
type FailedStagesError struct {
	Failures []StageFailure
}

func (e *FailedStagesError) Error() string {
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		parts[i] = fmt.Sprintf("%s: %v", f.StageID, f.Err)
	}
	return fmt.Sprintf("%d stage(s) failed: %s", len(e.Failures), strings.Join(parts, "; "))
}

func (e *FailedStagesError) Unwrap() []error {
	errs := []error{ErrStagesFailed}
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}
