package orchestrator

import (
	"context"

	"github.com/fyrsmithlabs/agentflow/internal/workflow"
)

// Decision is the answer to a stage failure.
type Decision string

const (
	DecisionContinue Decision = "continue"
	DecisionAbort    Decision = "abort"
)

// Decider chooses whether a session continues after a stage failure.
type Decider interface {
	Decide(ctx context.Context, stage workflow.Stage, cause error) (Decision, error)
}

// DeciderFunc adapts a function to Decider.
type DeciderFunc func(ctx context.Context, stage workflow.Stage, cause error) (Decision, error)

// Decide implements Decider.
func (f DeciderFunc) Decide(ctx context.Context, stage workflow.Stage, cause error) (Decision, error) {
	return f(ctx, stage, cause)
}

// Always returns a Decider that answers d without asking.
func Always(d Decision) Decider {
	return DeciderFunc(func(context.Context, workflow.Stage, error) (Decision, error) {
		return d, nil
	})
}

// ChannelDecider waits for ResolveDecision to be called for the failed
// stage. It backs the HTTP decision endpoint.
type ChannelDecider struct {
	gates    *gateSet[Decision]
	onPrompt func(stage workflow.Stage, cause error)
}

// NewChannelDecider creates a decider. onPrompt, if set, is called when a
// decision becomes pending.
func NewChannelDecider(onPrompt func(stage workflow.Stage, cause error)) *ChannelDecider {
	return &ChannelDecider{gates: newGateSet[Decision](), onPrompt: onPrompt}
}

// Decide implements Decider.
func (d *ChannelDecider) Decide(ctx context.Context, stage workflow.Stage, cause error) (Decision, error) {
	ch := d.gates.open(stage.ID)
	if d.onPrompt != nil {
		d.onPrompt(stage, cause)
	}
	return d.gates.wait(ctx, stage.ID, ch)
}

// ResolveDecision answers the pending decision for stageID.
func (d *ChannelDecider) ResolveDecision(stageID string, cont bool) error {
	decision := DecisionAbort
	if cont {
		decision = DecisionContinue
	}
	return d.gates.resolve(stageID, decision)
}

// Pending lists stage ids awaiting a decision.
func (d *ChannelDecider) Pending() []string {
	return d.gates.ids()
}

// Close fails every pending decision.
func (d *ChannelDecider) Close() {
	d.gates.failAll()
}
