package console

import (
	"context"
	"errors"
	"io"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/fyrsmithlabs/agentflow/internal/events"
	"github.com/fyrsmithlabs/agentflow/internal/planner"
	"github.com/fyrsmithlabs/agentflow/internal/workflow"
)

// ErrQuit is returned by Run when the user leaves before the session ends.
var ErrQuit = errors.New("console: user quit")

// Options configures a Console.
type Options struct {
	Events    <-chan events.Event
	Plan      *planner.ExecutionPlan
	Resolver  Resolver
	Decisions DecisionResolver

	// Input and Output default to the terminal.
	Input  io.Reader
	Output io.Writer
}

// Console runs the interactive session view.
type Console struct {
	program *tea.Program
}

// New creates a console bound to ctx. Cancelling ctx ends Run.
func New(ctx context.Context, opts Options) *Console {
	programOpts := []tea.ProgramOption{tea.WithContext(ctx)}
	if opts.Input != nil {
		programOpts = append(programOpts, tea.WithInput(opts.Input))
	}
	if opts.Output != nil {
		programOpts = append(programOpts, tea.WithOutput(opts.Output))
	}
	model := NewModel(opts.Events, opts.Plan, opts.Resolver, opts.Decisions)
	return &Console{program: tea.NewProgram(model, programOpts...)}
}

// PromptDecision queues a continue/abort prompt. Its signature matches the
// prompt hook of orchestrator.NewChannelDecider.
func (c *Console) PromptDecision(stage workflow.Stage, cause error) {
	msg := DecisionMsg{StageID: stage.ID}
	if cause != nil {
		msg.Cause = cause.Error()
	}
	c.program.Send(msg)
}

// Quit ends Run without marking the user as quitting.
func (c *Console) Quit() {
	c.program.Send(closedMsg{})
}

// Run blocks until the session ends, the user quits or ctx is cancelled.
func (c *Console) Run() error {
	final, err := c.program.Run()
	if err != nil {
		if errors.Is(err, tea.ErrProgramKilled) {
			return context.Canceled
		}
		return err
	}
	if m, ok := final.(Model); ok && m.Quitting() {
		return ErrQuit
	}
	return nil
}
