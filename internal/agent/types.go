// Package agent provides typed, capacity-limited agents that execute one
// workflow stage against an external task backend.
package agent

import (
	"sync"
	"time"
)

// Type is the closed set of agent kinds.
type Type string

const (
	TypeAnalysis       Type = "analysis"
	TypeDesign         Type = "design"
	TypePlanning       Type = "planning"
	TypeImplementation Type = "implementation"
	TypeTesting        Type = "testing"
	TypeRefactoring    Type = "refactoring"
)

// Types lists every agent type in declaration order.
var Types = []Type{TypeAnalysis, TypeDesign, TypePlanning, TypeImplementation, TypeTesting, TypeRefactoring}

// Valid reports whether t is a known type.
func (t Type) Valid() bool {
	_, ok := descriptors[t]
	return ok
}

// Status represents the lifecycle state of an agent.
type Status string

const (
	StatusIdle              Status = "idle"
	StatusAssigned          Status = "assigned"
	StatusExecuting         Status = "executing"
	StatusWaitingValidation Status = "waiting_validation"
	StatusCompleted         Status = "completed"
	StatusError             Status = "error"
)

// ValidTransitions defines allowed agent state transitions.
var ValidTransitions = map[Status][]Status{
	StatusIdle:              {StatusAssigned, StatusExecuting},
	StatusAssigned:          {StatusExecuting},
	StatusExecuting:         {StatusCompleted, StatusError},
	StatusCompleted:         {StatusWaitingValidation},
	StatusWaitingValidation: {StatusCompleted, StatusError},
	StatusError:             {}, // terminal
}

// CanTransitionTo checks if a transition from s to target is valid.
func (s Status) CanTransitionTo(target Status) bool {
	for _, t := range ValidTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// Config holds per-agent limits.
type Config struct {
	TokenBudget  int           `json:"token_budget"`
	Timeout      time.Duration `json:"timeout"`
	Capabilities []string      `json:"capabilities,omitempty"`
}

// Agent is one live execution unit owned by a Pool.
type Agent struct {
	ID        string
	Type      Type
	Config    Config
	CreatedAt time.Time

	descriptor   Descriptor
	backend      Backend
	templates    TemplateSource
	compressor   Compressor
	targetTokens int

	mu     sync.Mutex
	status Status
	cancel func()
}

// Status returns the current status.
func (a *Agent) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// SetStatus moves the agent to target if the transition is allowed.
func (a *Agent) SetStatus(target Status) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.setStatusLocked(target)
}

func (a *Agent) setStatusLocked(target Status) error {
	if !a.status.CanTransitionTo(target) {
		return &TransitionError{AgentID: a.ID, From: a.status, To: target}
	}
	a.status = target
	return nil
}

// Descriptor returns the table entry the agent was built from.
func (a *Agent) Descriptor() Descriptor {
	return a.descriptor
}

// dispose cancels in-flight work and resets state. Called by the pool.
func (a *Agent) dispose() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	a.status = StatusIdle
}

// Snapshot is a read-only view of an agent.
type Snapshot struct {
	ID     string `json:"id"`
	Type   Type   `json:"type"`
	Status Status `json:"status"`
	Config Config `json:"config"`
}

// Snapshot returns a copy of the agent's public state.
func (a *Agent) Snapshot() Snapshot {
	return Snapshot{ID: a.ID, Type: a.Type, Status: a.Status(), Config: a.Config}
}
