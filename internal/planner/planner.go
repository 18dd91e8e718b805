// Package planner decides which workflow steps can run given the
// capabilities available to the session.
//
// A step is executable if and only if every required capability is
// available. Context keys and skip hints never change that decision; missing
// context is reported on the step plan as guidance.
package planner

import (
	"fmt"
	"math"
	"strings"

	"github.com/fyrsmithlabs/agentflow/internal/capability"
	"github.com/fyrsmithlabs/agentflow/internal/workflow"
	"go.uber.org/zap"
)

// SkipReasonPrefix starts every capability skip reason.
const SkipReasonPrefix = "missing capability: "

// StepPlan is the planning verdict for one step.
type StepPlan struct {
	ID                  string   `json:"id"`
	Title               string   `json:"title"`
	Phase               string   `json:"phase"`
	Index               int      `json:"index"`
	CanExecute          bool     `json:"can_execute"`
	MissingCapabilities []string `json:"missing_capabilities,omitempty"`
	MissingContext      []string `json:"missing_context,omitempty"`
	OptionalContext     []string `json:"optional_context,omitempty"`
	SkipHints           []string `json:"skip_hints,omitempty"`
}

// PhasePlan aggregates step plans for one phase.
type PhasePlan struct {
	Name            string     `json:"name"`
	Required        bool       `json:"required"`
	TotalSteps      int        `json:"total_steps"`
	ExecutableSteps int        `json:"executable_steps"`
	Steps           []StepPlan `json:"steps"`
}

// SkippedStep records why a step will not run.
type SkippedStep struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
	Title  string `json:"title"`
}

// ExecutionPlan is the result of planning a whole workflow.
type ExecutionPlan struct {
	Workflow        string        `json:"workflow"`
	TotalSteps      int           `json:"total_steps"`
	ExecutableSteps int           `json:"executable_steps"`
	SkippedSteps    []SkippedStep `json:"skipped_steps"`
	ExecutionRate   int           `json:"execution_rate"`
	Phases          []PhasePlan   `json:"phases"`
}

// Option customizes a planning run.
type Option func(*options)

type options struct {
	contextKeys map[string]struct{}
}

// WithContext declares which context keys the session can supply so missing
// required context can be reported.
func WithContext(keys ...string) Option {
	return func(o *options) {
		for _, k := range keys {
			o.contextKeys[k] = struct{}{}
		}
	}
}

// Planner builds execution plans.
type Planner struct {
	logger *zap.Logger
}

// New creates a planner. A nil logger is replaced by a no-op logger.
func New(logger *zap.Logger) *Planner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Planner{logger: logger.Named("planner")}
}

// Plan evaluates every step of def against caps.
func (p *Planner) Plan(def *workflow.Definition, caps capability.Registry, opts ...Option) *ExecutionPlan {
	o := options{contextKeys: make(map[string]struct{})}
	for _, opt := range opts {
		opt(&o)
	}

	plan := &ExecutionPlan{Workflow: def.Name, SkippedSteps: []SkippedStep{}}
	index := 0
	for _, phase := range def.Phases {
		pp := PhasePlan{Name: phase.Name, Required: phase.Required, Steps: make([]StepPlan, 0, len(phase.Steps))}
		for _, step := range phase.Steps {
			sp := planStep(workflow.PhaseStep{Phase: phase.Name, Index: index, Step: step}, caps, o)
			index++

			pp.TotalSteps++
			if sp.CanExecute {
				pp.ExecutableSteps++
			} else {
				plan.SkippedSteps = append(plan.SkippedSteps, SkippedStep{
					ID:     sp.ID,
					Reason: SkipReason(sp.MissingCapabilities),
					Title:  sp.Title,
				})
			}
			pp.Steps = append(pp.Steps, sp)
		}
		plan.TotalSteps += pp.TotalSteps
		plan.ExecutableSteps += pp.ExecutableSteps
		plan.Phases = append(plan.Phases, pp)
	}
	plan.ExecutionRate = ExecutionRate(plan.ExecutableSteps, plan.TotalSteps)

	p.logger.Debug("execution plan built",
		zap.String("workflow", def.Name),
		zap.Int("total", plan.TotalSteps),
		zap.Int("executable", plan.ExecutableSteps),
		zap.Int("rate", plan.ExecutionRate),
	)
	return plan
}

// NextExecutableStep returns the first executable step whose flattened index
// is greater than afterIndex. Pass -1 to start from the beginning.
func (p *Planner) NextExecutableStep(def *workflow.Definition, caps capability.Registry, afterIndex int) (workflow.PhaseStep, bool) {
	for _, ps := range def.Flatten() {
		if ps.Index <= afterIndex {
			continue
		}
		missing := MissingCapabilities(ps.Step, caps)
		if len(missing) == 0 {
			return ps, true
		}
		p.logger.Info("skipping step",
			zap.String("step", ps.Step.ID),
			zap.String("reason", SkipReason(missing)),
		)
	}
	return workflow.PhaseStep{}, false
}

// CanExecute reports whether every required capability of step is available.
func CanExecute(step workflow.Step, caps capability.Registry) bool {
	return len(MissingCapabilities(step, caps)) == 0
}

// MissingCapabilities lists required capabilities caps does not provide, in
// declaration order.
func MissingCapabilities(step workflow.Step, caps capability.Registry) []string {
	var missing []string
	for _, c := range step.Prerequisites.RequiredCapabilities {
		if caps == nil || !caps.IsAvailable(c) {
			missing = append(missing, c)
		}
	}
	return missing
}

// SkipReason renders one "missing capability: X" clause per missing name.
func SkipReason(missing []string) string {
	parts := make([]string, len(missing))
	for i, m := range missing {
		parts[i] = SkipReasonPrefix + m
	}
	return strings.Join(parts, "; ")
}

// ExecutionRate returns round(executable/total*100), or 0 when total is 0.
func ExecutionRate(executable, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(float64(executable) / float64(total) * 100))
}

// Summary renders a one-line description of the plan.
func (ep *ExecutionPlan) Summary() string {
	return fmt.Sprintf("%d/%d steps executable (%d%%), %d skipped",
		ep.ExecutableSteps, ep.TotalSteps, ep.ExecutionRate, len(ep.SkippedSteps))
}

func planStep(ps workflow.PhaseStep, caps capability.Registry, o options) StepPlan {
	missing := MissingCapabilities(ps.Step, caps)
	sp := StepPlan{
		ID:                  ps.Step.ID,
		Title:               ps.Step.DisplayName(),
		Phase:               ps.Phase,
		Index:               ps.Index,
		CanExecute:          len(missing) == 0,
		MissingCapabilities: missing,
		OptionalContext:     ps.Step.Prerequisites.OptionalContext,
		SkipHints:           ps.Step.SkipHints,
	}
	for _, key := range ps.Step.Prerequisites.RequiredContext {
		if _, ok := o.contextKeys[key]; !ok {
			sp.MissingContext = append(sp.MissingContext, key)
		}
	}
	return sp
}
