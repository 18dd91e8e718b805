package main

import (
	"fmt"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/agentflow/internal/agent"
	"github.com/fyrsmithlabs/agentflow/internal/config"
	"github.com/fyrsmithlabs/agentflow/internal/dispatch"
)

// newBackend builds the backend named by cfg.Kind. The returned func
// releases any client it opened.
func newBackend(cfg config.BackendConfig, meter metric.Meter, logger *zap.Logger) (agent.Backend, func(), error) {
	noop := func() {}
	switch cfg.Kind {
	case config.BackendLLM:
		b, err := agent.NewLLMBackend(cfg)
		if err != nil {
			return nil, nil, err
		}
		return b, noop, nil

	case config.BackendTemporal:
		c, err := dispatch.Dial(cfg.Temporal)
		if err != nil {
			return nil, nil, err
		}
		m, err := dispatch.NewMetrics(meter)
		if err != nil {
			c.Close()
			return nil, nil, fmt.Errorf("failed to create dispatch metrics: %w", err)
		}
		b, err := dispatch.NewBackend(c, cfg, m, logger)
		if err != nil {
			c.Close()
			return nil, nil, err
		}
		logger.Info("dispatching agent tasks through Temporal",
			zap.String("host_port", cfg.Temporal.HostPort),
			zap.String("task_queue", cfg.Temporal.TaskQueue))
		return b, c.Close, nil

	case "", config.BackendHTTP:
		b, err := agent.NewHTTPBackend(cfg)
		if err != nil {
			return nil, nil, err
		}
		return b, noop, nil

	default:
		return nil, nil, fmt.Errorf("invalid backend kind %q (want http, llm or temporal)", cfg.Kind)
	}
}

// executorConfig is the backend a Temporal worker runs tasks with.
func executorConfig(cfg config.BackendConfig) config.BackendConfig {
	cfg.Kind = cfg.Temporal.Executor
	if cfg.Kind == "" || cfg.Kind == config.BackendTemporal {
		cfg.Kind = config.BackendHTTP
	}
	return cfg
}
