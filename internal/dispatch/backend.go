package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/agentflow/internal/agent"
	"github.com/fyrsmithlabs/agentflow/internal/config"
)

// Starter starts workflow executions. client.Client satisfies it.
type Starter interface {
	ExecuteWorkflow(ctx context.Context, options client.StartWorkflowOptions, workflow interface{}, args ...interface{}) (client.WorkflowRun, error)
}

// Backend is an agent.Backend that hands each prompt to a Temporal worker
// and waits for the result.
type Backend struct {
	client      Starter
	taskQueue   string
	timeout     time.Duration
	maxAttempts int32
	metrics     *Metrics
	logger      *zap.Logger
}

// NewBackend creates a backend on an existing client.
func NewBackend(c Starter, cfg config.BackendConfig, metrics *Metrics, logger *zap.Logger) (*Backend, error) {
	if c == nil {
		return nil, fmt.Errorf("%w: temporal client is nil", agent.ErrNoBackend)
	}
	if cfg.Temporal.TaskQueue == "" {
		return nil, fmt.Errorf("%w: temporal task queue is empty", agent.ErrNoBackend)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Backend{
		client:      c,
		taskQueue:   cfg.Temporal.TaskQueue,
		timeout:     cfg.Timeout.Duration(),
		maxAttempts: cfg.Temporal.MaxAttempts,
		metrics:     metrics,
		logger:      logger.Named("dispatch"),
	}, nil
}

// Invoke implements agent.Backend. The workflow id is unique per call.
func (b *Backend) Invoke(ctx context.Context, prompt string) (*agent.BackendResponse, error) {
	start := time.Now()
	options := client.StartWorkflowOptions{
		ID:        "agentflow-task-" + uuid.NewString(),
		TaskQueue: b.taskQueue,
	}

	run, err := b.client.ExecuteWorkflow(ctx, options, AgentTaskWorkflow, TaskInput{
		Prompt:      prompt,
		Timeout:     b.timeout,
		MaxAttempts: b.maxAttempts,
	})
	if err != nil {
		b.metrics.RecordTask(ctx, time.Since(start), err)
		return nil, fmt.Errorf("failed to start workflow: %w", err)
	}

	b.logger.Debug("agent task dispatched",
		zap.String("workflow_id", run.GetID()),
		zap.String("task_queue", b.taskQueue))

	var resp agent.BackendResponse
	if err := run.Get(ctx, &resp); err != nil {
		b.metrics.RecordTask(ctx, time.Since(start), err)
		return nil, fmt.Errorf("workflow %s: %w", run.GetID(), err)
	}
	b.metrics.RecordTask(ctx, time.Since(start), nil)
	return &resp, nil
}

// Dial connects to the Temporal frontend named in cfg.
func Dial(cfg config.TemporalConfig) (client.Client, error) {
	c, err := client.Dial(client.Options{
		HostPort:  cfg.HostPort,
		Namespace: cfg.Namespace,
	})
	if err != nil {
		return nil, fmt.Errorf("unable to create Temporal client: %w", err)
	}
	return c, nil
}
