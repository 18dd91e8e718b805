package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/agentflow/internal/capability"
	"github.com/fyrsmithlabs/agentflow/internal/config"
	"github.com/fyrsmithlabs/agentflow/internal/console"
	"github.com/fyrsmithlabs/agentflow/internal/planner"
	"github.com/fyrsmithlabs/agentflow/internal/workflow"
)

func newPlanCmd() *cobra.Command {
	var (
		asJSON      bool
		contextKeys []string
	)
	cmd := &cobra.Command{
		Use:   "plan <workflow>",
		Short: "Show which steps can run",
		Long: `Plan a workflow against the available capabilities and print which
steps will run and which will be skipped.

Capabilities come from --capability flags, the config file and the
capability file named in the config.

Examples:
  agentflow plan workflows/feature.yaml --capability filesystem
  agentflow plan workflows/feature.yaml --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			def, err := workflow.Load(args[0])
			if err != nil {
				return err
			}
			caps, closeCaps, err := buildCapabilities(cmd.Context(), cfg.Capabilities, capabilities, false, zap.NewNop())
			if err != nil {
				return err
			}
			defer closeCaps()

			plan := planner.New(nil).Plan(def, caps, planner.WithContext(contextKeys...))
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(plan)
			}
			fmt.Fprintln(cmd.OutOrStdout(), console.RenderPlan(plan))
			fmt.Fprintln(cmd.OutOrStdout(), plan.Summary())
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the plan as JSON")
	cmd.Flags().StringSliceVar(&contextKeys, "context", nil, "context key available to the session (repeatable)")
	return cmd
}

// buildCapabilities merges flag, config and file capabilities. The returned
// func stops the file watcher, if any.
func buildCapabilities(ctx context.Context, cfg config.CapabilitiesConfig, flags []string, watch bool, logger *zap.Logger) (capability.Registry, func(), error) {
	union := capability.Union{capability.Static(append(append([]string{}, cfg.Available...), flags...)...)}
	closer := func() {}

	if cfg.File != "" {
		file, err := capability.NewFileRegistry(cfg.File, logger)
		if err != nil {
			return nil, nil, err
		}
		union = append(union, file)
		if watch && cfg.Watch {
			if err := file.Watch(ctx); err != nil {
				return nil, nil, err
			}
			closer = file.Stop
		}
	}
	return union, closer, nil
}
