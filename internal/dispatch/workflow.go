// Package dispatch runs agent tasks as Temporal workflows so backend calls
// survive worker restarts and are retried by the Temporal server.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/fyrsmithlabs/agentflow/internal/agent"
)

const (
	defaultTaskTimeout = 2 * time.Minute

	// ErrTypeNoBackend marks activity failures that retrying cannot fix.
	ErrTypeNoBackend = "NoBackend"
	// ErrTypeEmptyResponse marks a backend that returned nothing.
	ErrTypeEmptyResponse = "EmptyResponse"
)

// TaskInput is the workflow argument for one agent task.
type TaskInput struct {
	Prompt      string        // Fully rendered agent prompt
	Timeout     time.Duration // Per-attempt activity timeout
	MaxAttempts int32         // Activity attempts including the first
}

// AgentTaskWorkflow invokes the worker's backend once per attempt until it
// returns a response or attempts run out.
//
// A response with Success=false is returned as is; only transport errors
// are retried.
func AgentTaskWorkflow(ctx workflow.Context, in TaskInput) (*agent.BackendResponse, error) {
	logger := workflow.GetLogger(ctx)

	timeout := in.Timeout
	if timeout <= 0 {
		timeout = defaultTaskTimeout
	}
	attempts := in.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	ao := workflow.ActivityOptions{
		StartToCloseTimeout: timeout,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts:        attempts,
			NonRetryableErrorTypes: []string{ErrTypeNoBackend, ErrTypeEmptyResponse},
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	var a *Activities
	var resp agent.BackendResponse
	if err := workflow.ExecuteActivity(ctx, a.InvokeBackend, in.Prompt).Get(ctx, &resp); err != nil {
		logger.Warn("Agent task failed", "error", err)
		return nil, err
	}

	logger.Info("Agent task complete", "success", resp.Success, "outputs", len(resp.Outputs))
	return &resp, nil
}

// Activities holds the backend the worker executes prompts with.
type Activities struct {
	Backend agent.Backend
}

// InvokeBackend sends prompt to the worker's backend.
func (a *Activities) InvokeBackend(ctx context.Context, prompt string) (*agent.BackendResponse, error) {
	if a == nil || a.Backend == nil {
		return nil, temporal.NewNonRetryableApplicationError("worker has no backend", ErrTypeNoBackend, agent.ErrNoBackend)
	}

	info := activity.GetInfo(ctx)
	resp, err := a.Backend.Invoke(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("attempt %d: %w", info.Attempt, err)
	}
	if resp == nil {
		return nil, temporal.NewNonRetryableApplicationError("backend returned no response", ErrTypeEmptyResponse, nil)
	}
	return resp, nil
}
