package dispatch

import (
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	"github.com/fyrsmithlabs/agentflow/internal/agent"
)

// NewWorker creates a worker on taskQueue that executes agent tasks with
// backend. The caller starts and stops it.
func NewWorker(c client.Client, taskQueue string, backend agent.Backend) worker.Worker {
	w := worker.New(c, taskQueue, worker.Options{})
	w.RegisterWorkflow(AgentTaskWorkflow)
	w.RegisterActivity(&Activities{Backend: backend})
	return w
}
