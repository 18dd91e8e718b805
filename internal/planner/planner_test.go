package planner

import (
	"testing"

	"github.com/fyrsmithlabs/agentflow/internal/capability"
	"github.com/fyrsmithlabs/agentflow/internal/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func step(id string, caps ...string) workflow.Step {
	return workflow.Step{
		ID:            id,
		PromptRef:     "prompts/" + id + ".md",
		Prerequisites: workflow.Prerequisites{RequiredCapabilities: caps},
	}
}

func testDefinition() *workflow.Definition {
	return &workflow.Definition{
		Name: "feature",
		Phases: []workflow.Phase{
			{Name: "analysis", Steps: []workflow.Step{step("A"), step("B", "X")}},
			{Name: "implementation", Steps: []workflow.Step{step("C")}},
		},
	}
}

func TestPlan_MissingCapability(t *testing.T) {
	plan := New(nil).Plan(testDefinition(), capability.Static())

	assert.Equal(t, 3, plan.TotalSteps)
	assert.Equal(t, 2, plan.ExecutableSteps)
	assert.Equal(t, 67, plan.ExecutionRate)
	require.Len(t, plan.SkippedSteps, 1)
	assert.Equal(t, SkippedStep{ID: "B", Reason: "missing capability: X", Title: "B"}, plan.SkippedSteps[0])

	require.Len(t, plan.Phases, 2)
	assert.Equal(t, 2, plan.Phases[0].TotalSteps)
	assert.Equal(t, 1, plan.Phases[0].ExecutableSteps)
	assert.Equal(t, 1, plan.Phases[1].ExecutableSteps)
	assert.Equal(t, []string{"X"}, plan.Phases[0].Steps[1].MissingCapabilities)
}

func TestPlan_Arithmetic(t *testing.T) {
	def := testDefinition()
	for _, caps := range []capability.Registry{capability.Static(), capability.Static("X"), nil} {
		plan := New(nil).Plan(def, caps)

		assert.Equal(t, plan.TotalSteps, plan.ExecutableSteps+len(plan.SkippedSteps))
		phaseTotal := 0
		for _, pp := range plan.Phases {
			phaseTotal += pp.TotalSteps
		}
		assert.Equal(t, plan.TotalSteps, phaseTotal)
	}

	all := New(nil).Plan(def, capability.Static("X"))
	assert.Equal(t, 100, all.ExecutionRate)
	assert.Empty(t, all.SkippedSteps)
}

func TestPlan_MultipleMissing(t *testing.T) {
	def := &workflow.Definition{Name: "w", Phases: []workflow.Phase{{Name: "a", Steps: []workflow.Step{step("s", "git", "search")}}}}

	plan := New(nil).Plan(def, capability.Static("git"))
	require.Len(t, plan.SkippedSteps, 1)
	assert.Equal(t, "missing capability: search", plan.SkippedSteps[0].Reason)

	plan = New(nil).Plan(def, capability.Static())
	assert.Equal(t, "missing capability: git; missing capability: search", plan.SkippedSteps[0].Reason)
}

func TestPlan_EmptyWorkflow(t *testing.T) {
	plan := New(nil).Plan(&workflow.Definition{Name: "empty"}, capability.Static())
	assert.Equal(t, 0, plan.TotalSteps)
	assert.Equal(t, 0, plan.ExecutionRate)
	assert.NotNil(t, plan.SkippedSteps)
}

func TestPlan_ContextAndHintsNeverBlock(t *testing.T) {
	s := step("s")
	s.Prerequisites.RequiredContext = []string{"requirements", "codebase"}
	s.Prerequisites.OptionalContext = []string{"docs"}
	s.SkipHints = []string{"trivial change"}
	def := &workflow.Definition{Name: "w", Phases: []workflow.Phase{{Name: "a", Steps: []workflow.Step{s}}}}

	plan := New(nil).Plan(def, capability.Static(), WithContext("requirements"))

	assert.Equal(t, 1, plan.ExecutableSteps)
	assert.Empty(t, plan.SkippedSteps)
	sp := plan.Phases[0].Steps[0]
	assert.True(t, sp.CanExecute)
	assert.Equal(t, []string{"codebase"}, sp.MissingContext)
	assert.Equal(t, []string{"docs"}, sp.OptionalContext)
	assert.Equal(t, []string{"trivial change"}, sp.SkipHints)
}

func TestNextExecutableStep(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	p := New(zap.New(core))
	def := testDefinition()

	ps, ok := p.NextExecutableStep(def, capability.Static(), -1)
	require.True(t, ok)
	assert.Equal(t, "A", ps.Step.ID)
	assert.Equal(t, 0, ps.Index)

	ps, ok = p.NextExecutableStep(def, capability.Static(), 0)
	require.True(t, ok)
	assert.Equal(t, "C", ps.Step.ID)
	assert.Equal(t, 2, ps.Index)
	assert.Equal(t, 1, logs.FilterMessage("skipping step").Len())

	_, ok = p.NextExecutableStep(def, capability.Static(), 2)
	assert.False(t, ok)

	ps, ok = p.NextExecutableStep(def, capability.Static("X"), 0)
	require.True(t, ok)
	assert.Equal(t, "B", ps.Step.ID)
}

func TestExecutionRate(t *testing.T) {
	tests := []struct {
		exec, total, want int
	}{
		{0, 0, 0},
		{0, 5, 0},
		{1, 3, 33},
		{2, 3, 67},
		{1, 2, 50},
		{5, 5, 100},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ExecutionRate(tt.exec, tt.total))
	}
}

func TestSummary(t *testing.T) {
	plan := New(nil).Plan(testDefinition(), capability.Static())
	assert.Equal(t, "2/3 steps executable (67%), 1 skipped", plan.Summary())
}
