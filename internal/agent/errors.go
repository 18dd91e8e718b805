package agent

import (
	"errors"
	"fmt"
	"strings"
)

// Pool errors.
var (
	ErrCapacity      = errors.New("agent capacity reached")
	ErrAgentNotFound = errors.New("agent not found")
	ErrUnknownType   = errors.New("unknown agent type")
)

// Execution errors.
var (
	ErrAgentTimeout     = errors.New("agent timed out")
	ErrValidationFailed = errors.New("agent output failed validation")
	ErrBackend          = errors.New("task backend failed")
	ErrNoBackend        = errors.New("no task backend configured")
	ErrAgentBusy        = errors.New("agent is not idle")
)

// CapacityError reports a refused Create call.
type CapacityError struct {
	Type  Type
	Limit int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("agent capacity reached for type %s (max %d)", e.Type, e.Limit)
}

// Unwrap lets callers match ErrCapacity.
func (e *CapacityError) Unwrap() error {
	return ErrCapacity
}

// ValidationFailure lists every failed output check.
type ValidationFailure struct {
	Type     Type
	Problems []string
}

func (e *ValidationFailure) Error() string {
	return fmt.Sprintf("%s output invalid: %s", e.Type, strings.Join(e.Problems, "; "))
}

// Unwrap lets callers match ErrValidationFailed.
func (e *ValidationFailure) Unwrap() error {
	return ErrValidationFailed
}

// ExecutionError wraps any failure of a stage's agent run.
type ExecutionError struct {
	AgentID string
	StageID string
	Err     error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("agent %s failed on stage %s: %v", e.AgentID, e.StageID, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// TransitionError reports a disallowed status change.
type TransitionError struct {
	AgentID  string
	From, To Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("agent %s: invalid transition %s -> %s", e.AgentID, e.From, e.To)
}
