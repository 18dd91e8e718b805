package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/agentflow/internal/config"
	mcpserver "github.com/fyrsmithlabs/agentflow/internal/mcp"
	"github.com/fyrsmithlabs/agentflow/internal/orchestrator"
)

type mcpFlags struct {
	root        string
	templates   string
	backendKind string
	backendURL  string
	onFailure   string
	serveHTTP   bool
}

func newMCPCmd() *cobra.Command {
	var f mcpFlags
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve workflow tools over MCP (stdio)",
		Long: `Serve agentflow as an MCP server on stdin/stdout so an agent host can
validate and plan workflows, start a session and answer validation gates.

Logs go to stderr; stdout carries the protocol.

Examples:
  agentflow mcp --capability filesystem --capability git
  agentflow mcp --on-failure ask --http`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serveMCP(cmd, f)
		},
	}

	cmd.Flags().StringVar(&f.root, "root", ".", "directory agents discover resources under")
	cmd.Flags().StringVar(&f.templates, "templates", ".", "directory prompt templates are resolved against")
	cmd.Flags().StringVar(&f.backendKind, "backend", "", "task backend: http, llm or temporal (overrides config)")
	cmd.Flags().StringVar(&f.backendURL, "backend-url", "", "task backend URL (overrides config)")
	cmd.Flags().StringVar(&f.onFailure, "on-failure", "abort", "what to do when a stage fails: abort, continue or ask")
	cmd.Flags().BoolVar(&f.serveHTTP, "http", false, "also serve the validation API")
	return cmd
}

func serveMCP(cmd *cobra.Command, f mcpFlags) error {
	ctx := cmd.Context()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg, appOptions{
		Root:         f.root,
		Templates:    f.templates,
		BackendKind:  f.backendKind,
		BackendURL:   f.backendURL,
		OnFailure:    f.onFailure,
		Capabilities: capabilities,
		LogOutput:    os.Stderr,
	})
	if err != nil {
		return err
	}
	defer a.Close()

	if f.serveHTTP {
		shutdown, err := a.serveHTTP()
		if err != nil {
			return err
		}
		defer shutdown()
	}

	var decisions mcpserver.DecisionResolver
	if a.decider != nil {
		decisions = a.decider
	}
	srv, err := mcpserver.NewServer(a.orch, &mcpserver.Config{
		Name:         "agentflow",
		Version:      version,
		Logger:       a.logger,
		Capabilities: a.caps,
		Planner:      a.planner,
		Decisions:    decisions,
		Meter:        a.telemetry.Meter("github.com/fyrsmithlabs/agentflow/internal/mcp"),
	})
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}

	serveErr := srv.Serve(ctx)

	// The client is gone; nobody can answer the gates.
	if err := a.orch.Stop(); err != nil && !errors.Is(err, orchestrator.ErrNoSession) {
		a.logger.Warn("stop failed", zap.Error(err))
	}
	srv.Wait()
	return serveErr
}
