// Package orchestrator drives a workflow session stage by stage.
//
// # Overview
//
// An Orchestrator runs one session at a time. For each executable step it
// assigns a typed agent from the pool, builds an isolated context, executes
// the agent and then blocks on a human validation gate:
//
//	plan → assign → isolate → execute → validate → (next stage)
//
// Exactly one stage is active at any moment. Stage N+1 never starts before
// stage N reaches a terminal state.
//
// # Validation Gate
//
// After a successful execution the stage enters validation and a
// validation_required event is emitted. The loop waits until
// ResolveValidation is called for that stage. Each pending stage accepts
// exactly one resolution; later calls return ErrAlreadyResolved.
//
// # Failures
//
// Capacity refusals, execution errors and rejections put the stage into
// error and ask the Decider whether to continue. Continuing moves on to the
// next stage; stages depending on the failed one are skipped. Aborting ends
// the session in error.
//
// # Stop
//
// Stop cancels the run context, disposes the pool, fails every pending gate
// with ErrSessionStopped and marks the session cancelled.
package orchestrator
