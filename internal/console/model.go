// Package console is the interactive terminal front end: it renders session
// progress from the event stream and collects validation verdicts and
// failure decisions from the user.
package console

import (
	"fmt"
	"strings"
	"time"

	"github.com/NimbleMarkets/ntcharts/sparkline"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/fyrsmithlabs/agentflow/internal/events"
	"github.com/fyrsmithlabs/agentflow/internal/orchestrator"
	"github.com/fyrsmithlabs/agentflow/internal/planner"
	"github.com/fyrsmithlabs/agentflow/internal/workflow"
)

const (
	sparklineWidth  = 30
	sparklineHeight = 3
	historySize     = 30
	summaryWidth    = 72
)

// Resolver answers validation gates. *orchestrator.Orchestrator satisfies it.
type Resolver interface {
	Resolve(stageID string, v orchestrator.Verdict) error
}

// DecisionResolver answers failure decisions.
// *orchestrator.ChannelDecider satisfies it.
type DecisionResolver interface {
	ResolveDecision(stageID string, cont bool) error
}

type promptKind int

const (
	promptValidation promptKind = iota
	promptDecision
)

type prompt struct {
	kind    promptKind
	stageID string
	summary string
	outputs []string
	cause   string
}

type stageRow struct {
	id     string
	title  string
	phase  string
	status workflow.StageStatus
	agent  string
	detail string
	tokens int
}

// Model is the BubbleTea session model.
type Model struct {
	events    <-chan events.Event
	resolver  Resolver
	decisions DecisionResolver

	workflow  string
	sessionID string
	status    string
	started   time.Time
	rows      []stageRow
	index     map[string]int

	prompts []prompt
	typing  bool
	reason  textinput.Model

	tokenHistory []float64
	progress     progress.Model

	err      error
	done     bool
	quitting bool
}

// NewModel creates a model that reads from ch. plan seeds the stage list;
// stages not in the plan are appended as events name them.
func NewModel(ch <-chan events.Event, plan *planner.ExecutionPlan, resolver Resolver, decisions DecisionResolver) Model {
	reason := textinput.New()
	reason.Placeholder = "reason for rejection"
	reason.CharLimit = 200
	reason.Width = 50

	m := Model{
		events:    ch,
		resolver:  resolver,
		decisions: decisions,
		index:     make(map[string]int),
		reason:    reason,
		progress: progress.New(
			progress.WithGradient("#00ffff", "#00ff00"),
			progress.WithWidth(40),
		),
		tokenHistory: make([]float64, 0, historySize),
	}
	if plan != nil {
		m.workflow = plan.Workflow
		for _, phase := range plan.Phases {
			for _, step := range phase.Steps {
				row := stageRow{id: step.ID, title: step.Title, phase: phase.Name, status: workflow.StageStatusPending}
				if !step.CanExecute {
					row.detail = planner.SkipReason(step.MissingCapabilities)
				}
				m.index[step.ID] = len(m.rows)
				m.rows = append(m.rows, row)
			}
		}
	}
	return m
}

// Message types
type eventMsg events.Event
type closedMsg struct{}
type resolvedMsg struct{ err error }

// DecisionMsg asks the user whether to continue after a stage failure.
// Send it with tea.Program.Send from a Decider's prompt hook.
type DecisionMsg struct {
	StageID string
	Cause   string
}

// Init starts listening for events.
func (m Model) Init() tea.Cmd {
	return waitForEvent(m.events)
}

func waitForEvent(ch <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		e, ok := <-ch
		if !ok {
			return closedMsg{}
		}
		return eventMsg(e)
	}
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case eventMsg:
		m.apply(events.Event(msg))
		if m.done {
			return m, tea.Quit
		}
		return m, waitForEvent(m.events)

	case DecisionMsg:
		m.prompts = append(m.prompts, prompt{kind: promptDecision, stageID: msg.StageID, cause: msg.Cause})
		return m, nil

	case closedMsg:
		m.done = true
		return m, tea.Quit

	case resolvedMsg:
		m.err = msg.err
		return m, nil
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.Type == tea.KeyCtrlC {
		m.quitting = true
		return m, tea.Quit
	}

	if m.typing {
		switch msg.Type {
		case tea.KeyEnter:
			p := m.prompts[0]
			reason := strings.TrimSpace(m.reason.Value())
			m.typing = false
			m.reason.Reset()
			m.reason.Blur()
			m.prompts = m.prompts[1:]
			return m, m.resolve(p.stageID, orchestrator.Verdict{Approved: false, Reason: reason})
		case tea.KeyEsc:
			m.typing = false
			m.reason.Reset()
			m.reason.Blur()
			return m, nil
		}
		var cmd tea.Cmd
		m.reason, cmd = m.reason.Update(msg)
		return m, cmd
	}

	key := msg.String()
	if key == "q" {
		m.quitting = true
		return m, tea.Quit
	}
	if len(m.prompts) == 0 {
		return m, nil
	}

	p := m.prompts[0]
	switch p.kind {
	case promptValidation:
		switch key {
		case "a", "y":
			m.prompts = m.prompts[1:]
			return m, m.resolve(p.stageID, orchestrator.Verdict{Approved: true})
		case "r", "n":
			m.typing = true
			cmd := m.reason.Focus()
			return m, cmd
		}
	case promptDecision:
		switch key {
		case "c":
			m.prompts = m.prompts[1:]
			return m, m.decide(p.stageID, true)
		case "x":
			m.prompts = m.prompts[1:]
			return m, m.decide(p.stageID, false)
		}
	}
	return m, nil
}

func (m Model) resolve(stageID string, v orchestrator.Verdict) tea.Cmd {
	resolver := m.resolver
	return func() tea.Msg {
		if resolver == nil {
			return resolvedMsg{err: fmt.Errorf("no resolver for stage %s", stageID)}
		}
		return resolvedMsg{err: resolver.Resolve(stageID, v)}
	}
}

func (m Model) decide(stageID string, cont bool) tea.Cmd {
	decisions := m.decisions
	return func() tea.Msg {
		if decisions == nil {
			return resolvedMsg{err: fmt.Errorf("no decision resolver for stage %s", stageID)}
		}
		return resolvedMsg{err: decisions.ResolveDecision(stageID, cont)}
	}
}

// apply folds one event into the model.
func (m *Model) apply(e events.Event) {
	switch e.Type {
	case events.SessionStarted:
		m.sessionID = e.SessionID
		m.status = string(orchestrator.SessionRunning)
		m.started = e.Timestamp
		if name := stringField(e.Data, "workflow"); name != "" {
			m.workflow = name
		}
	case events.StageStarted:
		r := m.row(e.StageID)
		r.status = workflow.StageStatusInProgress
		if r.phase == "" {
			r.phase = stringField(e.Data, "phase")
		}
		if r.title == "" {
			r.title = stringField(e.Data, "name")
		}
	case events.AgentAssigned:
		m.row(e.StageID).agent = stringField(e.Data, "type")
	case events.ValidationRequired:
		r := m.row(e.StageID)
		r.status = workflow.StageStatusValidation
		r.tokens, _ = intField(e.Data, "tokens_used")
		m.prompts = append(m.prompts, prompt{
			kind:    promptValidation,
			stageID: e.StageID,
			summary: stringField(e.Data, "summary"),
			outputs: stringsField(e.Data, "outputs"),
		})
	case events.StageCompleted:
		r := m.row(e.StageID)
		r.status = workflow.StageStatusCompleted
		r.detail = ""
		if n, ok := intField(e.Data, "tokens_used"); ok {
			r.tokens = n
		}
		m.tokenHistory = appendToHistory(m.tokenHistory, float64(r.tokens))
	case events.StageSkipped:
		r := m.row(e.StageID)
		r.status = workflow.StageStatusSkipped
		r.detail = stringField(e.Data, "reason")
	case events.StageFailed:
		r := m.row(e.StageID)
		r.status = workflow.StageStatusError
		r.detail = stringField(e.Data, "error")
		m.dropPrompt(promptValidation, e.StageID)
	case events.SessionCompleted:
		m.status = stringField(e.Data, "status")
		m.prompts = nil
		m.done = true
	case events.SessionStopped:
		m.status = string(orchestrator.SessionCancelled)
		m.prompts = nil
		m.done = true
	}
}

func (m *Model) row(id string) *stageRow {
	i, ok := m.index[id]
	if !ok {
		i = len(m.rows)
		m.index[id] = i
		m.rows = append(m.rows, stageRow{id: id, status: workflow.StageStatusPending})
	}
	return &m.rows[i]
}

func (m *Model) dropPrompt(kind promptKind, stageID string) {
	out := m.prompts[:0]
	for i, p := range m.prompts {
		if p.kind == kind && p.stageID == stageID {
			if i == 0 && m.typing {
				m.typing = false
				m.reason.Reset()
				m.reason.Blur()
			}
			continue
		}
		out = append(out, p)
	}
	m.prompts = out
}

// Quitting reports whether the user asked to leave before the session ended.
func (m Model) Quitting() bool {
	return m.quitting && !m.done
}

// View renders the session.
func (m Model) View() string {
	var b strings.Builder

	title := " agentflow "
	if m.workflow != "" {
		title = " " + m.workflow + " "
	}
	b.WriteString(headerStyle.Render(title) + "  " + m.sessionBadge())
	if !m.started.IsZero() {
		b.WriteString("  " + dimStyle.Render(FormatDuration(time.Since(m.started))))
	}
	b.WriteString("\n")

	b.WriteString(sectionStyle.Render("┃ Stages") + "\n")
	var finished int
	var tokens int
	for _, r := range m.rows {
		if r.status.IsTerminal() {
			finished++
		}
		tokens += r.tokens
		line := fmt.Sprintf("  %s %s", statusBadge(r.status), valueStyle.Render(r.id))
		if r.agent != "" {
			line += " " + labelStyle.Render("("+r.agent+")")
		}
		if r.tokens > 0 {
			line += " " + dimStyle.Render(FormatTokens(r.tokens))
		}
		if r.detail != "" {
			line += "  " + dimStyle.Render(truncate(r.detail, summaryWidth))
		}
		b.WriteString(line + "\n")
	}

	ratio := 0.0
	if len(m.rows) > 0 {
		ratio = float64(finished) / float64(len(m.rows))
	}
	b.WriteString(labelStyle.Render("  Progress: ") + m.progress.ViewAs(ratio) + "\n")

	b.WriteString(sectionStyle.Render("┃ Tokens") + "\n")
	b.WriteString(labelStyle.Render("  Used: ") + valueStyle.Render(FormatTokens(tokens)) +
		"   " + createSparkline(m.tokenHistory) + "\n")

	if len(m.prompts) > 0 {
		b.WriteString("\n" + m.renderPrompt(m.prompts[0]) + "\n")
	}
	if m.err != nil {
		b.WriteString(errorStyle.Render("⚠ "+m.err.Error()) + "\n")
	}

	b.WriteString(m.footer())
	return containerStyle.Render(b.String())
}

func (m Model) sessionBadge() string {
	switch m.status {
	case "":
		return dimStyle.Render("waiting")
	case string(orchestrator.SessionCompleted):
		return healthyStyle.Render("✓ COMPLETED")
	case string(orchestrator.SessionError):
		return errorStyle.Render("✗ ERROR")
	case string(orchestrator.SessionCancelled):
		return warningStyle.Render("■ STOPPED")
	default:
		return warningStyle.Render("▶ " + strings.ToUpper(m.status))
	}
}

func (m Model) renderPrompt(p prompt) string {
	var b strings.Builder
	switch p.kind {
	case promptValidation:
		b.WriteString(warningStyle.Render("Validate stage "+p.stageID) + "\n")
		if len(p.outputs) > 0 {
			b.WriteString(labelStyle.Render("Outputs: ") + strings.Join(p.outputs, ", ") + "\n")
		}
		if p.summary != "" {
			for _, line := range strings.Split(p.summary, "\n") {
				b.WriteString(dimStyle.Render(truncate(line, summaryWidth)) + "\n")
			}
		}
		if m.typing {
			b.WriteString(m.reason.View())
		} else {
			b.WriteString(footerKeyStyle.Render("[a]") + " approve  " + footerKeyStyle.Render("[r]") + " reject")
		}
	case promptDecision:
		b.WriteString(errorStyle.Render("Stage "+p.stageID+" failed") + "\n")
		if p.cause != "" {
			b.WriteString(dimStyle.Render(truncate(p.cause, summaryWidth)) + "\n")
		}
		b.WriteString(footerKeyStyle.Render("[c]") + " continue  " + footerKeyStyle.Render("[x]") + " abort")
	}
	return promptStyle.Render(b.String())
}

func (m Model) footer() string {
	if m.typing {
		return footerKeyStyle.Render("[enter]") + footerStyle.Render(" submit  ") +
			footerKeyStyle.Render("[esc]") + footerStyle.Render(" cancel")
	}
	return footerKeyStyle.Render("[q]") + footerStyle.Render(" quit")
}

// appendToHistory appends a value to history, maintaining max size
func appendToHistory(history []float64, value float64) []float64 {
	history = append(history, value)
	if len(history) > historySize {
		history = history[1:]
	}
	return history
}

// createSparkline creates a sparkline chart from historical data
func createSparkline(data []float64) string {
	if len(data) == 0 {
		return dimStyle.Render(fmt.Sprintf("%*s", sparklineWidth, "no data"))
	}

	spark := sparkline.New(sparklineWidth, sparklineHeight)
	for _, v := range data {
		spark.Push(v)
	}
	spark.Draw()

	return sparklineStyle.Render(spark.View())
}

func stringField(data map[string]any, key string) string {
	s, _ := data[key].(string)
	return s
}

func stringsField(data map[string]any, key string) []string {
	switch v := data[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, x := range v {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func intField(data map[string]any, key string) (int, bool) {
	switch v := data[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}
