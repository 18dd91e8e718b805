package workflow

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const featureYAML = `
name: feature-development
description: Build a feature end to end
phases:
  - phase: analysis
    required: true
    steps:
      - id: analyze
        title: Analyze requirements
        promptRef: prompts/analyze.md
        required: true
        prerequisites:
          requiredContext: [requirements]
          optionalContext: [existing_docs]
        outputs: [analysis]
  - name: design
    steps:
      - id: design
        prompt_ref: prompts/design.md
        mcp_servers: [filesystem]
        depends_on: [analyze]
        skipHints: [small change]
  - id: implementation
    steps:
      - step_id: implement
        prompt: prompts/implement.md
        prerequisites:
          required_capabilities: [filesystem, git]
        dependencies: [design]
`

func TestParse_NormalizesAliases(t *testing.T) {
	def, err := Parse([]byte(featureYAML))
	require.NoError(t, err)

	assert.Equal(t, "feature-development", def.Name)
	require.Len(t, def.Phases, 3)
	assert.Equal(t, []string{"analysis", "design", "implementation"},
		[]string{def.Phases[0].Name, def.Phases[1].Name, def.Phases[2].Name})
	assert.True(t, def.Phases[0].Required)

	analyze := def.Phases[0].Steps[0]
	assert.Equal(t, "analyze", analyze.ID)
	assert.Equal(t, "Analyze requirements", analyze.Title)
	assert.Equal(t, "prompts/analyze.md", analyze.PromptRef)
	assert.Equal(t, []string{"requirements"}, analyze.Prerequisites.RequiredContext)
	assert.Equal(t, []string{"existing_docs"}, analyze.Prerequisites.OptionalContext)
	assert.Equal(t, []string{"analysis"}, analyze.Outputs)

	design := def.Phases[1].Steps[0]
	assert.Equal(t, []string{"filesystem"}, design.Prerequisites.RequiredCapabilities)
	assert.Equal(t, []string{"analyze"}, design.Dependencies)
	assert.Equal(t, []string{"small change"}, design.SkipHints)
	assert.Equal(t, "design", design.DisplayName())

	implement := def.Phases[2].Steps[0]
	assert.Equal(t, "implement", implement.ID)
	assert.Equal(t, "prompts/implement.md", implement.PromptRef)
	assert.Equal(t, []string{"filesystem", "git"}, implement.Prerequisites.RequiredCapabilities)
}

func TestParse_JSON(t *testing.T) {
	data := `{"name":"j","phases":[{"name":"testing","steps":[{"id":"t1","promptRef":"p"}]}]}`
	def, err := Parse([]byte(data))
	require.NoError(t, err)
	assert.Equal(t, 1, def.TotalSteps())
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		problem string
	}{
		{"missing name", "phases: [{name: a, steps: [{id: s, prompt: p}]}]", "Definition.Name is required"},
		{"no phases", "name: w\nphases: []", "Definition.Phases"},
		{"step without id", "name: w\nphases: [{name: a, steps: [{prompt: p}]}]", "Definition.Phases[0].Steps[0].ID is required"},
		{"step without prompt", "name: w\nphases: [{name: a, steps: [{id: s}]}]", "Definition.Phases[0].Steps[0].PromptRef is required"},
		{"duplicate id", "name: w\nphases: [{name: a, steps: [{id: s, prompt: p}, {id: s, prompt: q}]}]", `duplicate step id "s"`},
		{"unknown dependency", "name: w\nphases: [{name: a, steps: [{id: s, prompt: p, dependencies: [ghost]}]}]", `depends on unknown step "ghost"`},
		{"self dependency", "name: w\nphases: [{name: a, steps: [{id: s, prompt: p, dependencies: [s]}]}]", "depends on itself"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidDefinition))

			var cfgErr *ConfigurationError
			require.True(t, errors.As(err, &cfgErr))
			assert.Contains(t, cfgErr.Error(), tt.problem)
		})
	}
}

func TestParse_MalformedYAML(t *testing.T) {
	_, err := Parse([]byte("name: [unterminated"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidDefinition)
}

func TestValidate_CollectsAllProblems(t *testing.T) {
	def := &Definition{Phases: []Phase{{Name: "a", Steps: []Step{{ID: "x"}, {ID: "x", PromptRef: "p"}}}}}
	err := Validate(def)

	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Len(t, cfgErr.Problems, 3)
	assert.Contains(t, cfgErr.Error(), "<unnamed>")
}

func TestValidate_Nil(t *testing.T) {
	assert.ErrorIs(t, Validate(nil), ErrInvalidDefinition)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "workflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(featureYAML), 0o600))

	def, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3, def.TotalSteps())

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(dir)
	assert.Error(t, err)
}

func TestDefinition_Flatten(t *testing.T) {
	def, err := Parse([]byte(featureYAML))
	require.NoError(t, err)

	steps := def.Flatten()
	require.Len(t, steps, 3)
	for i, ps := range steps {
		assert.Equal(t, i, ps.Index)
	}
	assert.Equal(t, "design", steps[1].Phase)

	ps, ok := def.Step("implement")
	require.True(t, ok)
	assert.Equal(t, 2, ps.Index)

	_, ok = def.Step("nope")
	assert.False(t, ok)
}

func TestStageStatus_Transitions(t *testing.T) {
	tests := []struct {
		from, to StageStatus
		want     bool
	}{
		{StageStatusPending, StageStatusInProgress, true},
		{StageStatusPending, StageStatusSkipped, true},
		{StageStatusPending, StageStatusCompleted, false},
		{StageStatusInProgress, StageStatusValidation, true},
		{StageStatusInProgress, StageStatusError, true},
		{StageStatusValidation, StageStatusCompleted, true},
		{StageStatusValidation, StageStatusError, true},
		{StageStatusCompleted, StageStatusError, false},
		{StageStatusSkipped, StageStatusInProgress, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to))
		})
	}

	assert.True(t, StageStatusError.IsTerminal())
	assert.False(t, StageStatusValidation.IsTerminal())
	assert.True(t, StageStatusValidation.IsActive())
	assert.False(t, StageStatusPending.IsActive())
}

func TestStage_Lifecycle(t *testing.T) {
	def, err := Parse([]byte(featureYAML))
	require.NoError(t, err)

	stages := ExpandStages(def)
	require.Len(t, stages, 3)
	s := stages[1]
	assert.Equal(t, "design", s.ID)
	assert.Equal(t, StageStatusPending, s.Status)
	assert.Equal(t, []string{"analyze"}, s.Dependencies)

	start := time.Now()
	require.NoError(t, s.Transition(StageStatusInProgress, start))
	require.NoError(t, s.Transition(StageStatusValidation, start.Add(time.Second)))
	require.NoError(t, s.Transition(StageStatusCompleted, start.Add(2*time.Second)))
	assert.Equal(t, 2*time.Second, s.Duration())

	err = s.Transition(StageStatusError, time.Now())
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestStage_Clone(t *testing.T) {
	s := NewStage(PhaseStep{Phase: "analysis", Step: Step{ID: "a", PromptRef: "p", Dependencies: []string{"x"}}})
	s.Outputs = map[string]any{"analysis": "text"}
	now := time.Now()
	s.StartTime = &now

	c := s.Clone()
	c.Outputs["analysis"] = "changed"
	c.Dependencies[0] = "y"
	*c.StartTime = now.Add(time.Hour)

	assert.Equal(t, "text", s.Outputs["analysis"])
	assert.Equal(t, "x", s.Dependencies[0])
	assert.Equal(t, now, *s.StartTime)

	var nilStage *Stage
	assert.Nil(t, nilStage.Clone())
}
