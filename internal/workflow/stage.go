package workflow

import (
	"fmt"
	"time"
)

// StageStatus represents the lifecycle state of a runtime stage.
type StageStatus string

const (
	StageStatusPending    StageStatus = "pending"
	StageStatusInProgress StageStatus = "in-progress"
	StageStatusValidation StageStatus = "validation"
	StageStatusCompleted  StageStatus = "completed"
	StageStatusSkipped    StageStatus = "skipped"
	StageStatusError      StageStatus = "error"
)

// ValidStageTransitions defines allowed stage state transitions.
var ValidStageTransitions = map[StageStatus][]StageStatus{
	StageStatusPending:    {StageStatusInProgress, StageStatusSkipped},
	StageStatusInProgress: {StageStatusValidation, StageStatusError},
	StageStatusValidation: {StageStatusCompleted, StageStatusError},
	StageStatusCompleted:  {}, // terminal
	StageStatusSkipped:    {}, // terminal
	StageStatusError:      {}, // terminal
}

// CanTransitionTo checks if a transition from s to target is valid.
func (s StageStatus) CanTransitionTo(target StageStatus) bool {
	for _, t := range ValidStageTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// IsTerminal returns true if this is a terminal state.
func (s StageStatus) IsTerminal() bool {
	return s == StageStatusCompleted || s == StageStatusSkipped || s == StageStatusError
}

// IsActive reports whether the stage occupies the session's single active slot.
func (s StageStatus) IsActive() bool {
	return s == StageStatusInProgress || s == StageStatusValidation
}

// Stage is the runtime record of one step inside a session.
type Stage struct {
	ID              string            `json:"id"`
	Name            string            `json:"name"`
	Phase           string            `json:"phase"`
	Index           int               `json:"index"`
	Status          StageStatus       `json:"status"`
	StartTime       *time.Time        `json:"start_time,omitempty"`
	EndTime         *time.Time        `json:"end_time,omitempty"`
	Outputs         map[string]any    `json:"outputs,omitempty"`
	Dependencies    []string          `json:"dependencies,omitempty"`
	AssignedAgentID string            `json:"assigned_agent_id,omitempty"`
	Error           string            `json:"error,omitempty"`
	SkipReason      string            `json:"skip_reason,omitempty"`
	Step            Step              `json:"-"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// NewStage creates a pending stage for a flattened step.
func NewStage(ps PhaseStep) *Stage {
	return &Stage{
		ID:           ps.Step.ID,
		Name:         ps.Step.DisplayName(),
		Phase:        ps.Phase,
		Index:        ps.Index,
		Status:       StageStatusPending,
		Dependencies: append([]string(nil), ps.Step.Dependencies...),
		Step:         ps.Step,
	}
}

// ExpandStages creates one pending stage per step, in definition order.
func ExpandStages(def *Definition) []*Stage {
	steps := def.Flatten()
	stages := make([]*Stage, 0, len(steps))
	for _, ps := range steps {
		stages = append(stages, NewStage(ps))
	}
	return stages
}

// Transition moves the stage to target, stamping start and end times.
func (s *Stage) Transition(target StageStatus, now time.Time) error {
	if !s.Status.CanTransitionTo(target) {
		return fmt.Errorf("%w: stage %s %s -> %s", ErrInvalidTransition, s.ID, s.Status, target)
	}
	if target == StageStatusInProgress {
		s.StartTime = &now
	}
	if target.IsTerminal() {
		s.EndTime = &now
	}
	s.Status = target
	return nil
}

// Duration returns the elapsed time between start and end, or zero.
func (s *Stage) Duration() time.Duration {
	if s.StartTime == nil || s.EndTime == nil {
		return 0
	}
	return s.EndTime.Sub(*s.StartTime)
}

// Clone returns a deep copy safe to hand outside the owning goroutine.
func (s *Stage) Clone() *Stage {
	if s == nil {
		return nil
	}
	c := *s
	if s.StartTime != nil {
		t := *s.StartTime
		c.StartTime = &t
	}
	if s.EndTime != nil {
		t := *s.EndTime
		c.EndTime = &t
	}
	if s.Outputs != nil {
		c.Outputs = make(map[string]any, len(s.Outputs))
		for k, v := range s.Outputs {
			c.Outputs[k] = v
		}
	}
	if s.Metadata != nil {
		c.Metadata = make(map[string]string, len(s.Metadata))
		for k, v := range s.Metadata {
			c.Metadata[k] = v
		}
	}
	c.Dependencies = append([]string(nil), s.Dependencies...)
	return &c
}
