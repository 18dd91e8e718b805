// Agentflow runs multi-agent workflows with a human validation gate after
// every stage.
//
// Usage:
//
//	# Check a workflow definition
//	agentflow validate workflows/feature.yaml
//
//	# Show which steps can run with the available capabilities
//	agentflow plan workflows/feature.yaml --capability filesystem --capability git
//
//	# Run interactively
//	agentflow run workflows/feature.yaml --requirements "add SSO login"
//
//	# Run headless; validate over HTTP
//	agentflow run workflows/feature.yaml --requirements-file req.md --headless
//
//	# Drive sessions from an agent host over MCP
//	agentflow mcp --capability filesystem
//
//	# Execute agent tasks dispatched through Temporal
//	agentflow worker
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var (
	configPath   string
	capabilities []string
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "agentflow",
		Short: "Multi-agent workflow orchestration with human validation",
		Long: `agentflow plans a workflow against the capabilities available to it,
runs each executable step with a dedicated agent in an isolated context and
waits for a human verdict before moving on.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (YAML)")
	root.PersistentFlags().StringSliceVar(&capabilities, "capability", nil, "available capability (repeatable)")

	root.AddCommand(newValidateCmd())
	root.AddCommand(newPlanCmd())
	root.AddCommand(newRunCmd())
	root.AddCommand(newMCPCmd())
	root.AddCommand(newWorkerCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "agentflow by Fyrsmith Labs\n")
			fmt.Fprintf(out, "Version:    %s\n", version)
			fmt.Fprintf(out, "Commit:     %s\n", gitCommit)
			fmt.Fprintf(out, "Build Date: %s\n", buildDate)
		},
	}
}
