package orchestrator

import (
	"time"

	"github.com/fyrsmithlabs/agentflow/internal/agent"
	"github.com/fyrsmithlabs/agentflow/internal/isolation"
	"github.com/fyrsmithlabs/agentflow/internal/planner"
	"github.com/fyrsmithlabs/agentflow/internal/workflow"
)

// SessionStatus represents the lifecycle state of a session.
type SessionStatus string

const (
	SessionPending   SessionStatus = "pending"
	SessionRunning   SessionStatus = "running"
	SessionPaused    SessionStatus = "paused"
	SessionCompleted SessionStatus = "completed"
	SessionError     SessionStatus = "error"
	SessionCancelled SessionStatus = "cancelled"
)

// ValidSessionTransitions defines allowed session state transitions.
// Paused is reachable but the run loop never enters it.
var ValidSessionTransitions = map[SessionStatus][]SessionStatus{
	SessionPending:   {SessionRunning, SessionCancelled},
	SessionRunning:   {SessionPaused, SessionCompleted, SessionError, SessionCancelled},
	SessionPaused:    {SessionRunning, SessionCancelled},
	SessionCompleted: {}, // terminal
	SessionError:     {}, // terminal
	SessionCancelled: {}, // terminal
}

// CanTransitionTo checks if a transition from s to target is valid.
func (s SessionStatus) CanTransitionTo(target SessionStatus) bool {
	for _, t := range ValidSessionTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// IsTerminal reports whether s is a final state.
func (s SessionStatus) IsTerminal() bool {
	return s == SessionCompleted || s == SessionError || s == SessionCancelled
}

// AgentRecord tracks the agent that worked on a stage.
type AgentRecord struct {
	AgentID     string       `json:"agent_id"`
	Type        agent.Type   `json:"type"`
	StageID     string       `json:"stage_id"`
	TokenBudget int          `json:"token_budget"`
	Status      agent.Status `json:"status"`
	Released    bool         `json:"released"`
	TokensUsed  int          `json:"tokens_used,omitempty"`

	context *isolation.IsolatedContext
	outputs map[string]any
}

// Session is a read-only snapshot of the orchestrator's runtime state.
type Session struct {
	ID               string                 `json:"id"`
	Workflow         string                 `json:"workflow"`
	Status           SessionStatus          `json:"status"`
	UserRequirements string                 `json:"user_requirements"`
	Stages           []*workflow.Stage      `json:"stages"`
	CompletedStages  []string               `json:"completed_stages"`
	CurrentStage     string                 `json:"current_stage,omitempty"`
	Agents           map[string]AgentRecord `json:"agents"`
	Plan             *planner.ExecutionPlan `json:"plan,omitempty"`
	StartTime        time.Time              `json:"start_time"`
	EndTime          *time.Time             `json:"end_time,omitempty"`
	Error            string                 `json:"error,omitempty"`
}

// Stage returns the stage with id, or nil.
func (s *Session) Stage(id string) *workflow.Stage {
	if s == nil {
		return nil
	}
	for _, st := range s.Stages {
		if st.ID == id {
			return st
		}
	}
	return nil
}

// StatusCounts tallies stages by status.
func (s *Session) StatusCounts() map[workflow.StageStatus]int {
	if s == nil {
		return map[workflow.StageStatus]int{}
	}
	return statusCounts(s.Stages)
}
