// Package mcp exposes a running orchestrator as an MCP server so an agent
// host can plan workflows, start sessions and answer validation gates.
//
// This implementation uses the MCP SDK (github.com/modelcontextprotocol/go-sdk/mcp)
// and calls the orchestrator directly.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/agentflow/internal/capability"
	"github.com/fyrsmithlabs/agentflow/internal/orchestrator"
	"github.com/fyrsmithlabs/agentflow/internal/planner"
	"github.com/fyrsmithlabs/agentflow/internal/workflow"
)

// Orchestrator is the orchestrator surface the tools drive.
type Orchestrator interface {
	Run(ctx context.Context, def *workflow.Definition, userRequirements string) (*orchestrator.Session, error)
	Session() *orchestrator.Session
	PendingValidations() []string
	Resolve(stageID string, v orchestrator.Verdict) error
	Stop() error
}

// DecisionResolver answers failure decisions. *orchestrator.ChannelDecider
// satisfies it.
type DecisionResolver interface {
	ResolveDecision(stageID string, cont bool) error
	Pending() []string
}

// Server is an MCP server bound to one orchestrator.
type Server struct {
	mcp       *mcp.Server
	orch      Orchestrator
	caps      capability.Registry
	planner   *planner.Planner
	decisions DecisionResolver
	metrics   *Metrics
	logger    *zap.Logger

	mu      sync.Mutex
	runCtx  context.Context
	running bool
	lastErr error
	runs    sync.WaitGroup
}

// Config configures the MCP server.
type Config struct {
	// Name is the server implementation name (default: "agentflow")
	Name string

	// Version is the server version (default: "dev")
	Version string

	// Logger for structured logging
	Logger *zap.Logger

	// Capabilities backs workflow_plan. Nil means nothing is available
	// beyond what the caller passes.
	Capabilities capability.Registry

	// Planner builds plans for workflow_plan. Nil uses a default planner.
	Planner *planner.Planner

	// Decisions, if set, registers decision_resolve.
	Decisions DecisionResolver

	// Meter records tool metrics. Nil uses the global provider.
	Meter metric.Meter
}

// NewServer creates a server and registers its tools.
func NewServer(orch Orchestrator, cfg *Config) (*Server, error) {
	if orch == nil {
		return nil, fmt.Errorf("orchestrator is required")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Name == "" {
		cfg.Name = "agentflow"
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	caps := cfg.Capabilities
	if caps == nil {
		caps = capability.Static()
	}
	p := cfg.Planner
	if p == nil {
		p = planner.New(logger)
	}

	s := &Server{
		mcp: mcp.NewServer(&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		}, nil),
		orch:      orch,
		caps:      caps,
		planner:   p,
		decisions: cfg.Decisions,
		metrics:   NewMetrics(cfg.Meter, logger),
		logger:    logger.Named("mcp"),
		runCtx:    context.Background(),
	}
	s.registerTools()
	return s, nil
}

// Serve runs the server on the stdio transport until ctx is done or the
// client disconnects. Sessions started by workflow_run use ctx.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	s.runCtx = ctx
	s.mu.Unlock()

	s.logger.Info("starting MCP server on stdio transport")
	if err := s.mcp.Run(ctx, &mcp.StdioTransport{}); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("server run failed: %w", err)
	}
	return nil
}

// Wait blocks until a session started by workflow_run has returned.
func (s *Server) Wait() {
	s.runs.Wait()
}

// startRun launches def in the background. Only one session runs at a time.
func (s *Server) startRun(def *workflow.Definition, requirements string) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return orchestrator.ErrSessionRunning
	}
	s.running = true
	s.lastErr = nil
	ctx := s.runCtx
	s.mu.Unlock()

	s.runs.Add(1)
	go func() {
		defer s.runs.Done()
		_, err := s.orch.Run(ctx, def, requirements)
		s.metrics.RecordRun(context.WithoutCancel(ctx), err)
		if err != nil {
			s.logger.Warn("session ended with error", zap.String("workflow", def.Name), zap.Error(err))
		}
		s.mu.Lock()
		s.running = false
		s.lastErr = err
		s.mu.Unlock()
	}()
	return nil
}

func (s *Server) runError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}
