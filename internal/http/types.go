package http

import (
	"github.com/fyrsmithlabs/agentflow/internal/orchestrator"
	"github.com/fyrsmithlabs/agentflow/internal/workflow"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// StatusResponse is the response body for GET /api/v1/status.
type StatusResponse struct {
	Status             string         `json:"status"`
	Version            string         `json:"version,omitempty"`
	SessionID          string         `json:"session_id,omitempty"`
	SessionStatus      string         `json:"session_status,omitempty"`
	CurrentStage       string         `json:"current_stage,omitempty"`
	Counts             StatusCounts   `json:"counts"`
	PendingValidations []string       `json:"pending_validations"`
	PendingDecisions   []string       `json:"pending_decisions"`
	Agents             map[string]int `json:"agents"`
}

// StatusCounts tallies stages by status.
type StatusCounts struct {
	Pending    int `json:"pending"`
	InProgress int `json:"in_progress"`
	Validation int `json:"validation"`
	Completed  int `json:"completed"`
	Skipped    int `json:"skipped"`
	Error      int `json:"error"`
}

// countStages builds StatusCounts from a session snapshot. A nil session
// yields zero counts.
func countStages(s *orchestrator.Session) StatusCounts {
	c := s.StatusCounts()
	return StatusCounts{
		Pending:    c[workflow.StageStatusPending],
		InProgress: c[workflow.StageStatusInProgress],
		Validation: c[workflow.StageStatusValidation],
		Completed:  c[workflow.StageStatusCompleted],
		Skipped:    c[workflow.StageStatusSkipped],
		Error:      c[workflow.StageStatusError],
	}
}

// ValidationRequest is the request body for POST /api/v1/validations/:stage_id.
type ValidationRequest struct {
	Approved *bool  `json:"approved"`
	Reason   string `json:"reason"`
}

// DecisionRequest is the request body for POST /api/v1/decisions/:stage_id.
type DecisionRequest struct {
	Continue *bool `json:"continue"`
}

// PendingResponse lists stage ids awaiting an answer.
type PendingResponse struct {
	Stages []string `json:"stages"`
}
