package console

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/fyrsmithlabs/agentflow/internal/workflow"
)

// 256-color palette.
const (
	colorAccent = lipgloss.Color("51")
	colorLabel  = lipgloss.Color("45")
	colorText   = lipgloss.Color("231")
	colorMuted  = lipgloss.Color("245")
	colorBorder = lipgloss.Color("238")
	colorOK     = lipgloss.Color("46")
	colorWarn   = lipgloss.Color("226")
	colorFail   = lipgloss.Color("196")
)

func fg(c lipgloss.Color) lipgloss.Style { return lipgloss.NewStyle().Foreground(c) }

var (
	headerStyle  = fg(lipgloss.Color("0")).Background(colorAccent).Bold(true).Padding(0, 1)
	sectionStyle = fg(colorAccent).Bold(true).MarginTop(1)
	labelStyle   = fg(colorLabel)
	valueStyle   = fg(colorText).Bold(true)
	dimStyle     = fg(colorMuted)

	healthyStyle = fg(colorOK).Bold(true)
	warningStyle = fg(colorWarn).Bold(true)
	errorStyle   = fg(colorFail).Bold(true)

	containerStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder).
			Padding(1, 2)

	// promptStyle frames the validation and failure-decision prompts.
	promptStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder()).
			BorderForeground(colorWarn).
			Padding(0, 1)

	footerStyle    = fg(colorMuted).MarginTop(1)
	footerKeyStyle = fg(colorAccent).Bold(true)
	sparklineStyle = fg(colorAccent)
)

type badge struct {
	symbol string
	style  lipgloss.Style
}

var stageBadges = map[workflow.StageStatus]badge{
	workflow.StageStatusCompleted:  {"[✓]", healthyStyle},
	workflow.StageStatusSkipped:    {"[-]", dimStyle},
	workflow.StageStatusError:      {"[✗]", errorStyle},
	workflow.StageStatusInProgress: {"[▶]", warningStyle},
	workflow.StageStatusValidation: {"[?]", warningStyle},
}

// statusBadge renders a stage status as a colored symbol. Pending and
// unknown statuses render as an empty box.
func statusBadge(s workflow.StageStatus) string {
	b, ok := stageBadges[s]
	if !ok {
		return dimStyle.Render("[ ]")
	}
	return b.style.Render(b.symbol)
}
