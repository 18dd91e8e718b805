package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/agentflow/internal/agent"
	"github.com/fyrsmithlabs/agentflow/internal/capability"
	"github.com/fyrsmithlabs/agentflow/internal/config"
	"github.com/fyrsmithlabs/agentflow/internal/events"
	apihttp "github.com/fyrsmithlabs/agentflow/internal/http"
	"github.com/fyrsmithlabs/agentflow/internal/isolation"
	"github.com/fyrsmithlabs/agentflow/internal/logging"
	"github.com/fyrsmithlabs/agentflow/internal/metrics"
	"github.com/fyrsmithlabs/agentflow/internal/orchestrator"
	"github.com/fyrsmithlabs/agentflow/internal/planner"
	"github.com/fyrsmithlabs/agentflow/internal/secrets"
	"github.com/fyrsmithlabs/agentflow/internal/telemetry"
	"github.com/fyrsmithlabs/agentflow/internal/workflow"
)

// appOptions are the command-line inputs that shape the app.
type appOptions struct {
	Root         string
	Templates    string
	BackendKind  string
	BackendURL   string
	OnFailure    string
	Capabilities []string
	// LogOutput replaces stdout for logs; the console owns the terminal.
	LogOutput io.Writer
	// Backend overrides the configured backend; tests inject one.
	Backend agent.Backend
}

// app holds every wired dependency for one run.
type app struct {
	cfg       *config.Config
	log       *logging.Logger
	logger    *zap.Logger
	telemetry *telemetry.Telemetry

	caps      capability.Registry
	closeCaps func()
	planner   *planner.Planner

	bus      *events.Bus
	nats     *events.NATSSink
	registry *prometheus.Registry

	closeBackend func()

	pool       *agent.Pool
	decider    *orchestrator.ChannelDecider
	onDecision func(stage workflow.Stage, cause error)
	orch       *orchestrator.Orchestrator
	scrubber   *secrets.Scrubber
}

// newApp initializes dependencies in order:
//  1. Telemetry, then the logger (which may bridge into OTEL)
//  2. Capabilities (flags, config, optional watched file)
//  3. Event sinks (bus, Prometheus collector, optional NATS)
//  4. Task backend (http, llm or temporal)
//  5. Agent pool, context builder and orchestrator
func newApp(ctx context.Context, cfg *config.Config, opts appOptions) (*app, error) {
	a := &app{cfg: cfg, closeCaps: func() {}}

	tel, err := telemetry.New(ctx, telemetry.FromSettings(cfg.Observability, version), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	a.telemetry = tel

	logCfg, err := logging.FromSettings(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("invalid logging config: %w", err)
	}
	logCfg.Output.Writer = opts.LogOutput
	logCfg.Output.OTEL = tel.IsEnabled()
	a.log, err = logging.NewLogger(logCfg, tel.LoggerProvider())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	a.logger = a.log.Underlying()

	a.caps, a.closeCaps, err = buildCapabilities(ctx, cfg.Capabilities, opts.Capabilities, true, a.logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to load capabilities: %w", err)
	}
	a.planner = planner.New(a.logger)

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.bus = events.NewBus()
	sinks := events.Multi{a.bus, metrics.NewCollector(a.registry)}

	if cfg.Events.NATSURL != "" {
		a.nats, err = events.Connect(cfg.Events.NATSURL, cfg.Events.Subject, a.logger)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.Events.NATSURL, err)
		}
		sinks = append(sinks, a.nats)
		a.logger.Info("publishing events to NATS",
			zap.String("url", cfg.Events.NATSURL),
			zap.String("subject", cfg.Events.Subject))
	}

	a.scrubber, err = secrets.New(&secrets.Config{Enabled: cfg.Handoff.ScrubSecrets})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize secret scrubber: %w", err)
	}
	compressor := isolation.NewCompressor(isolation.WithRedactor(a.scrubber))

	backend := opts.Backend
	if backend == nil {
		bcfg := cfg.Backend
		if opts.BackendKind != "" {
			bcfg.Kind = opts.BackendKind
		}
		if opts.BackendURL != "" {
			bcfg.URL = opts.BackendURL
		}
		backend, a.closeBackend, err = newBackend(bcfg, tel.Meter("github.com/fyrsmithlabs/agentflow/internal/dispatch"), a.logger)
		if err != nil {
			a.Close()
			return nil, err
		}
	}

	a.pool = agent.NewPool(agent.PoolConfig{
		MaxConcurrentAgents: cfg.Pool.MaxConcurrentAgents,
		Timeout:             cfg.Pool.AgentTimeout.Duration(),
		Backend:             backend,
		Templates:           agent.NewDirTemplates(opts.Templates),
		Compressor:          compressor,
		HandoffTargetTokens: cfg.Handoff.TargetTokens,
		Logger:              a.logger,
	})
	if err := metrics.RegisterPool(a.registry, a.pool); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to register pool metrics: %w", err)
	}

	decider, err := a.buildDecider(opts.OnFailure)
	if err != nil {
		a.Close()
		return nil, err
	}

	builder := isolation.NewBuilder(isolation.BuilderConfig{
		Root:         opts.Root,
		MaxResources: cfg.Handoff.MaxResources,
		Budget:       isolation.BudgetTable{Baseline: cfg.Budget.Baseline, PhaseBonus: cfg.Budget.PhaseBonus},
		Logger:       a.logger,
	})

	a.orch, err = orchestrator.New(orchestrator.Config{
		Planner:             a.planner,
		Capabilities:        a.caps,
		Pool:                a.pool,
		Builder:             builder,
		Compressor:          compressor,
		HandoffTargetTokens: cfg.Handoff.TargetTokens,
		Events:              sinks,
		Decider:             decider,
		Logger:              a.logger,
		Tracer:              tel.Tracer(orchestrator.InstrumentationName),
		Meter:               tel.Meter(orchestrator.InstrumentationName),
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// buildDecider maps --on-failure to a Decider. "ask" answers through the
// console or the HTTP decision endpoint.
func (a *app) buildDecider(mode string) (orchestrator.Decider, error) {
	switch mode {
	case "", "abort":
		return orchestrator.Always(orchestrator.DecisionAbort), nil
	case "continue":
		return orchestrator.Always(orchestrator.DecisionContinue), nil
	case "ask":
		a.decider = orchestrator.NewChannelDecider(func(stage workflow.Stage, cause error) {
			a.logger.Warn("stage failed, awaiting decision",
				zap.String("stage_id", stage.ID),
				zap.Error(cause))
			if a.onDecision != nil {
				a.onDecision(stage, cause)
			}
		})
		return a.decider, nil
	default:
		return nil, fmt.Errorf("invalid --on-failure %q (want abort, continue or ask)", mode)
	}
}

// serveHTTP starts the validation API. The returned func shuts it down.
func (a *app) serveHTTP() (func(), error) {
	var decisions apihttp.DecisionResolver
	if a.decider != nil {
		decisions = a.decider
	}
	srv, err := apihttp.NewServer(a.orch, a.logger, &apihttp.Config{
		Host:      a.cfg.Server.Host,
		Port:      a.cfg.Server.Port,
		Version:   version,
		Decisions: decisions,
		Scrubber:  a.scrubber,
		Gatherer:  a.registry,
		Meter:     a.telemetry.Meter("github.com/fyrsmithlabs/agentflow/internal/http"),
	})
	if err != nil {
		return nil, err
	}

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server failed", zap.Error(err))
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout.Duration())
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			a.logger.Warn("http shutdown failed", zap.Error(err))
		}
	}, nil
}

// Close releases resources in reverse order of creation.
func (a *app) Close() {
	if a.decider != nil {
		a.decider.Close()
	}
	if a.pool != nil {
		a.pool.Dispose()
	}
	if a.closeBackend != nil {
		a.closeBackend()
	}
	if a.nats != nil {
		_ = a.nats.Close()
	}
	if a.closeCaps != nil {
		a.closeCaps()
	}
	if a.telemetry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.telemetry.Shutdown(ctx)
	}
	if a.log != nil {
		_ = a.log.Sync()
	}
}
