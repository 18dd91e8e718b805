package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/agentflow/internal/workflow"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <workflow>",
		Short: "Validate a workflow definition",
		Long: `Parse and validate a workflow definition (YAML or JSON).

Every problem is reported, not just the first.

Examples:
  agentflow validate workflows/feature.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			def, err := workflow.Load(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d phase(s), %d step(s)\n",
				def.Name, len(def.Phases), def.TotalSteps())
			return nil
		},
	}
}
