package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/agentflow/internal/isolation"
)

// Compressor produces the handoff summary for a finished stage.
type Compressor interface {
	Compress(result isolation.StageResult, targetTokens int) *isolation.HandoffSummary
}

func defaultCompressor() Compressor {
	return isolation.NewCompressor()
}

// Result is the outcome of one Execute call.
type Result struct {
	Success       bool                      `json:"success"`
	Outputs       map[string]any            `json:"outputs,omitempty"`
	TokensUsed    int                       `json:"tokens_used"`
	ExecutionTime time.Duration             `json:"execution_time"`
	Handoff       *isolation.HandoffSummary `json:"handoff,omitempty"`
	Template      string                    `json:"template,omitempty"`
	Metadata      map[string]any            `json:"metadata,omitempty"`
	Errors        []string                  `json:"errors,omitempty"`
}

// Execute runs the agent once against ic: build the prompt, call the
// backend, validate outputs and compress a handoff.
//
// The returned Result is never nil. On failure Success is false, Errors is
// populated and the error is an *ExecutionError. When the agent has a
// positive Timeout the backend call is bounded by it and an overrun yields
// ErrAgentTimeout.
func (a *Agent) Execute(ctx context.Context, ic *isolation.IsolatedContext) (*Result, error) {
	start := time.Now()
	result := &Result{}
	stageID := ""
	if ic != nil {
		stageID = ic.StageID
	}

	fail := func(err error) (*Result, error) {
		result.Success = false
		result.Errors = append(result.Errors, err.Error())
		result.ExecutionTime = time.Since(start)
		a.mu.Lock()
		a.cancel = nil
		if a.status == StatusExecuting {
			a.status = StatusError
		}
		a.mu.Unlock()
		return result, &ExecutionError{AgentID: a.ID, StageID: stageID, Err: err}
	}

	if ic == nil {
		return fail(errors.New("isolated context is required"))
	}

	var (
		callCtx context.Context
		cancel  context.CancelFunc
	)
	if a.Config.Timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, a.Config.Timeout)
	} else {
		callCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	a.mu.Lock()
	if a.status != StatusIdle && a.status != StatusAssigned {
		status := a.status
		a.mu.Unlock()
		return result, &ExecutionError{AgentID: a.ID, StageID: stageID, Err: fmt.Errorf("%w: %s", ErrAgentBusy, status)}
	}
	a.status = StatusExecuting
	a.cancel = cancel
	a.mu.Unlock()

	tmpl, name := resolveTemplate(a.templates, ic.PromptRef, a.descriptor.Template)
	result.Template = name
	prompt, err := BuildPrompt(tmpl, a.Type, ic)
	if err != nil {
		return fail(err)
	}

	budget := ic.TokenBudget
	if budget <= 0 {
		budget = a.Config.TokenBudget
	}
	result.TokensUsed = EstimateTokensUsed(prompt, budget)

	if a.backend == nil {
		return fail(ErrNoBackend)
	}
	resp, err := a.backend.Invoke(callCtx, prompt)
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return fail(fmt.Errorf("%w after %s", ErrAgentTimeout, a.Config.Timeout))
		}
		return fail(fmt.Errorf("%w: %v", ErrBackend, err))
	}
	if resp == nil {
		return fail(fmt.Errorf("%w: empty response", ErrBackend))
	}
	result.Outputs = resp.Outputs
	result.Metadata = resp.Metadata
	if !resp.Success {
		msg := resp.Error
		if msg == "" {
			msg = "backend reported failure"
		}
		return fail(fmt.Errorf("%w: %s", ErrBackend, msg))
	}

	if err := ValidateOutputs(a.Type, a.descriptor.Rules, resp.Outputs); err != nil {
		return fail(err)
	}

	result.Handoff = a.compressor.Compress(isolation.StageResult{
		StageID: ic.StageID,
		AgentID: a.ID,
		Outputs: resp.Outputs,
	}, a.targetTokens)
	result.Success = true
	result.ExecutionTime = time.Since(start)

	a.mu.Lock()
	a.cancel = nil
	a.status = StatusCompleted
	a.mu.Unlock()
	return result, nil
}

// EstimateTokensUsed returns min(len(prompt)/3, budget).
func EstimateTokensUsed(prompt string, budget int) int {
	used := len(prompt) / 3
	if budget > 0 && used > budget {
		return budget
	}
	return used
}

// ValidateOutputs applies rules to outputs. Every type requires a non-empty
// output set.
func ValidateOutputs(t Type, rules ValidationRules, outputs map[string]any) error {
	if len(outputs) == 0 {
		return &ValidationFailure{Type: t, Problems: []string{"no outputs produced"}}
	}
	if len(rules.AnyOfKeys) == 0 {
		return nil
	}

	var present []string
	for _, k := range rules.AnyOfKeys {
		if _, ok := outputs[k]; ok {
			present = append(present, k)
		}
	}
	if len(present) == 0 {
		return &ValidationFailure{Type: t, Problems: []string{
			fmt.Sprintf("missing required output: one of %s", strings.Join(rules.AnyOfKeys, ", ")),
		}}
	}
	if rules.MinContentLength <= 0 {
		return nil
	}
	for _, v := range outputs {
		if s, ok := v.(string); ok && len(strings.TrimSpace(s)) >= rules.MinContentLength {
			return nil
		}
	}
	return &ValidationFailure{Type: t, Problems: []string{
		fmt.Sprintf("no textual output of at least %d characters", rules.MinContentLength),
	}}
}
}
