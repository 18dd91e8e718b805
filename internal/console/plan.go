package console

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"

	"github.com/fyrsmithlabs/agentflow/internal/planner"
)

// RenderPlan draws an execution plan: one line per step, grouped by phase,
// followed by the execution rate bar.
func RenderPlan(plan *planner.ExecutionPlan) string {
	if plan == nil {
		return dimStyle.Render("no plan")
	}

	var b strings.Builder
	b.WriteString(headerStyle.Render(" "+plan.Workflow+" ") + "\n")

	for _, phase := range plan.Phases {
		title := "┃ " + phase.Name
		if phase.Required {
			title += " (required)"
		}
		b.WriteString(sectionStyle.Render(title) + "\n")
		for _, step := range phase.Steps {
			badge := healthyStyle.Render("[✓]")
			if !step.CanExecute {
				badge = errorStyle.Render("[✗]")
			}
			line := fmt.Sprintf("  %s %s", badge, valueStyle.Render(step.ID))
			if step.Title != "" && step.Title != step.ID {
				line += " " + dimStyle.Render(step.Title)
			}
			if len(step.MissingCapabilities) > 0 {
				line += "  " + errorStyle.Render(planner.SkipReason(step.MissingCapabilities))
			}
			if len(step.MissingContext) > 0 {
				line += "  " + warningStyle.Render("needs context: "+strings.Join(step.MissingContext, ", "))
			}
			b.WriteString(line + "\n")
		}
	}

	bar := progress.New(progress.WithGradient("#ff0000", "#00ff00"), progress.WithWidth(30))
	b.WriteString("\n" + labelStyle.Render("Execution rate: ") +
		bar.ViewAs(float64(plan.ExecutionRate)/100) + " " +
		valueStyle.Render(fmt.Sprintf("%d/%d", plan.ExecutableSteps, plan.TotalSteps)) + "\n")

	return containerStyle.Render(b.String())
}
