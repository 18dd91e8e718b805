// Package isolation builds the bounded, history-free input bundle each agent
// receives and compresses a finished stage into a handoff summary for the
// next one.
//
// An IsolatedContext never carries more than one hop of history: at most one
// predecessor HandoffSummary and no raw prior conversation.
package isolation

import "time"

// IsolatedContext is everything an agent sees for one invocation.
type IsolatedContext struct {
	AgentID          string          `json:"agent_id"`
	StageID          string          `json:"stage_id"`
	Phase            string          `json:"phase"`
	PromptRef        string          `json:"prompt_ref,omitempty"`
	Task             string          `json:"task"`
	UserRequirements string          `json:"user_requirements,omitempty"`
	Resources        []string        `json:"resources,omitempty"`
	Handoff          *HandoffSummary `json:"handoff,omitempty"`
	ExpectedOutputs  []string        `json:"expected_outputs,omitempty"`
	TokenBudget      int             `json:"token_budget"`
	SystemPrompt     string          `json:"system_prompt"`
	EstimatedTokens  int             `json:"estimated_tokens"`
	CreatedAt        time.Time       `json:"created_at"`
}

// HandoffSummary is the compressed result passed from one stage's agent to
// the next.
type HandoffSummary struct {
	FromStage  string    `json:"from_stage"`
	FromAgent  string    `json:"from_agent"`
	ToAgent    string    `json:"to_agent,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	Decisions  []string  `json:"decisions"`
	OutputKeys []string  `json:"output_keys"`
	NextSteps  []string  `json:"next_steps"`
	TokenCount int       `json:"token_count"`
	Text       string    `json:"text"`
	Truncated  bool      `json:"truncated"`
}

// StageResult is the full output of a finished stage, the input to
// compression.
type StageResult struct {
	StageID string
	AgentID string
	ToAgent string
	Outputs map[string]any
}

// HandoffRequest asks for an explicit handoff between two stages.
type HandoffRequest struct {
	FromStageID  string
	ToStageID    string
	FromAgentID  string
	ToAgentID    string
	Context      *IsolatedContext
	Outputs      map[string]any
	TargetTokens int
	RequestedAt  time.Time
}

// Validate checks the request has both endpoints.
func (r *HandoffRequest) Validate() error {
	if r.FromStageID == "" || r.ToStageID == "" {
		return ErrInvalidHandoff
	}
	return nil
}

// ApplyDefaults fills unset fields.
func (r *HandoffRequest) ApplyDefaults() {
	if r.TargetTokens <= 0 {
		r.TargetTokens = DefaultTargetTokens
	}
	if r.RequestedAt.IsZero() {
		r.RequestedAt = time.Now()
	}
}
