package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/agentflow/internal/config"
	"github.com/fyrsmithlabs/agentflow/internal/dispatch"
	"github.com/fyrsmithlabs/agentflow/internal/logging"
)

func newWorkerCmd() *cobra.Command {
	var (
		taskQueue  string
		backendURL string
	)
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run a Temporal worker that executes agent tasks",
		Long: `Run a Temporal worker for the agent task queue. Sessions started with
backend.kind=temporal hand each agent prompt to the queue; the worker runs it
with the executor backend (backend.temporal.executor: http or llm) and
Temporal retries transport failures.

Examples:
  agentflow worker --config agentflow.yaml
  agentflow worker --task-queue agents --backend-url http://localhost:7000/invoke`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if taskQueue != "" {
				cfg.Backend.Temporal.TaskQueue = taskQueue
			}
			if backendURL != "" {
				cfg.Backend.URL = backendURL
			}

			logCfg, err := logging.FromSettings(cfg.Logging)
			if err != nil {
				return fmt.Errorf("invalid logging config: %w", err)
			}
			log, err := logging.NewLogger(logCfg, nil)
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			defer func() { _ = log.Sync() }()
			logger := log.Underlying()

			executor, closeExecutor, err := newBackend(executorConfig(cfg.Backend), nil, logger)
			if err != nil {
				return err
			}
			defer closeExecutor()

			c, err := dispatch.Dial(cfg.Backend.Temporal)
			if err != nil {
				return err
			}
			defer c.Close()

			w := dispatch.NewWorker(c, cfg.Backend.Temporal.TaskQueue, executor)
			if err := w.Start(); err != nil {
				return fmt.Errorf("failed to start worker: %w", err)
			}
			logger.Info("worker started",
				zap.String("host_port", cfg.Backend.Temporal.HostPort),
				zap.String("task_queue", cfg.Backend.Temporal.TaskQueue),
				zap.String("executor", cfg.Backend.Temporal.Executor))

			<-ctx.Done()
			w.Stop()
			logger.Info("worker stopped")
			return nil
		},
	}
	cmd.Flags().StringVar(&taskQueue, "task-queue", "", "Temporal task queue (overrides config)")
	cmd.Flags().StringVar(&backendURL, "backend-url", "", "executor backend URL (overrides config)")
	return cmd
}
