package agent

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/fyrsmithlabs/agentflow/internal/isolation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockBackend is a mock implementation of Backend
type MockBackend struct {
	mock.Mock
}

func (m *MockBackend) Invoke(ctx context.Context, prompt string) (*BackendResponse, error) {
	args := m.Called(ctx, prompt)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*BackendResponse), args.Error(1)
}

var longText = strings.Repeat("The service should expose a REST API. ", 3)

func newContext(stageID, phase string) *isolation.IsolatedContext {
	return &isolation.IsolatedContext{
		AgentID:          "agent",
		StageID:          stageID,
		Phase:            phase,
		Task:             "Stage: " + stageID,
		UserRequirements: "build a todo app",
		TokenBudget:      5000,
		SystemPrompt:     isolation.SystemPrompt,
	}
}

func TestExecute_Success(t *testing.T) {
	backend := new(MockBackend)
	backend.On("Invoke", mock.Anything, mock.MatchedBy(func(p string) bool {
		return strings.HasPrefix(p, isolation.SystemPrompt) && strings.Contains(p, "build a todo app")
	})).Return(&BackendResponse{
		Success: true,
		Outputs: map[string]any{"analysis": longText, "decisions": []any{"use postgres"}},
	}, nil)

	p := NewPool(PoolConfig{Backend: backend, HandoffTargetTokens: 200})
	a, err := p.Create(TypeAnalysis)
	require.NoError(t, err)

	res, err := a.Execute(context.Background(), newContext("analyze", "analysis"))
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Empty(t, res.Errors)
	assert.Equal(t, "generic", res.Template)
	assert.Greater(t, res.TokensUsed, 0)
	require.NotNil(t, res.Handoff)
	assert.Equal(t, "analyze", res.Handoff.FromStage)
	assert.Equal(t, a.ID, res.Handoff.FromAgent)
	assert.Equal(t, []string{"use postgres"}, res.Handoff.Decisions)
	assert.LessOrEqual(t, len(res.Handoff.Text), 800)
	assert.Equal(t, StatusCompleted, a.Status())
	backend.AssertExpectations(t)
}

func TestExecute_TemplateResolution(t *testing.T) {
	var seen string
	backend := BackendFunc(func(_ context.Context, prompt string) (*BackendResponse, error) {
		seen = prompt
		return &BackendResponse{Success: true, Outputs: map[string]any{"code": "done"}}, nil
	})
	templates := MapTemplates{
		"implementation.md":     "IMPL {{.StageID}} budget={{.TokenBudget}}",
		"prompts/custom-step.md": "CUSTOM {{.Task}}",
	}
	p := NewPool(PoolConfig{Backend: backend, Templates: templates})

	a, err := p.Create(TypeImplementation)
	require.NoError(t, err)
	res, err := a.Execute(context.Background(), newContext("build", "implementation"))
	require.NoError(t, err)
	assert.Equal(t, "implementation.md", res.Template)
	assert.Contains(t, seen, "IMPL build budget=5000")

	b, err := p.Create(TypeImplementation)
	require.NoError(t, err)
	ic := newContext("custom", "implementation")
	ic.PromptRef = "prompts/custom-step.md"
	res, err = b.Execute(context.Background(), ic)
	require.NoError(t, err)
	assert.Equal(t, "prompts/custom-step.md", res.Template)
	assert.Contains(t, seen, "CUSTOM Stage: custom")
}

func TestExecute_Failures(t *testing.T) {
	tests := []struct {
		name    string
		typ     Type
		backend Backend
		wantErr error
	}{
		{
			name: "backend error",
			typ:  TypeTesting,
			backend: BackendFunc(func(context.Context, string) (*BackendResponse, error) {
				return nil, errors.New("connection refused")
			}),
			wantErr: ErrBackend,
		},
		{
			name: "backend reports failure",
			typ:  TypeTesting,
			backend: BackendFunc(func(context.Context, string) (*BackendResponse, error) {
				return &BackendResponse{Success: false, Error: "model overloaded"}, nil
			}),
			wantErr: ErrBackend,
		},
		{
			name: "empty outputs",
			typ:  TypePlanning,
			backend: BackendFunc(func(context.Context, string) (*BackendResponse, error) {
				return &BackendResponse{Success: true}, nil
			}),
			wantErr: ErrValidationFailed,
		},
		{
			name: "design missing key",
			typ:  TypeDesign,
			backend: BackendFunc(func(context.Context, string) (*BackendResponse, error) {
				return &BackendResponse{Success: true, Outputs: map[string]any{"notes": longText}}, nil
			}),
			wantErr: ErrValidationFailed,
		},
		{
			name: "analysis too short",
			typ:  TypeAnalysis,
			backend: BackendFunc(func(context.Context, string) (*BackendResponse, error) {
				return &BackendResponse{Success: true, Outputs: map[string]any{"analysis": "tiny"}}, nil
			}),
			wantErr: ErrValidationFailed,
		},
		{
			name:    "no backend",
			typ:     TypeTesting,
			wantErr: ErrNoBackend,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPool(PoolConfig{Backend: tt.backend})
			a, err := p.Create(tt.typ)
			require.NoError(t, err)

			res, err := a.Execute(context.Background(), newContext("s1", string(tt.typ)))
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)

			var execErr *ExecutionError
			require.ErrorAs(t, err, &execErr)
			assert.Equal(t, "s1", execErr.StageID)
			assert.Equal(t, a.ID, execErr.AgentID)

			require.NotNil(t, res)
			assert.False(t, res.Success)
			assert.NotEmpty(t, res.Errors)
			assert.Nil(t, res.Handoff)
			assert.Equal(t, StatusError, a.Status())
		})
	}
}

func TestExecute_Timeout(t *testing.T) {
	backend := BackendFunc(func(ctx context.Context, _ string) (*BackendResponse, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	p := NewPool(PoolConfig{Backend: backend, Timeout: 20 * time.Millisecond})
	a, err := p.Create(TypeTesting)
	require.NoError(t, err)

	start := time.Now()
	res, err := a.Execute(context.Background(), newContext("slow", "testing"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAgentTimeout)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.False(t, res.Success)
	assert.Equal(t, StatusError, a.Status())
}

func TestExecute_ParentCancelIsNotTimeout(t *testing.T) {
	backend := BackendFunc(func(ctx context.Context, _ string) (*BackendResponse, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	p := NewPool(PoolConfig{Backend: backend, Timeout: time.Hour})
	a, err := p.Create(TypeTesting)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err = a.Execute(ctx, newContext("s", "testing"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBackend)
	assert.NotErrorIs(t, err, ErrAgentTimeout)
}

func TestExecute_Busy(t *testing.T) {
	a := &Agent{ID: "a", Type: TypeTesting, status: StatusExecuting}
	_, err := a.Execute(context.Background(), newContext("s", "testing"))
	assert.ErrorIs(t, err, ErrAgentBusy)

	_, err = (&Agent{ID: "b", status: StatusIdle}).Execute(context.Background(), nil)
	assert.Error(t, err)
}

func TestEstimateTokensUsed(t *testing.T) {
	assert.Equal(t, 3, EstimateTokensUsed(strings.Repeat("x", 10), 100))
	assert.Equal(t, 100, EstimateTokensUsed(strings.Repeat("x", 3000), 100))
	assert.Equal(t, 1000, EstimateTokensUsed(strings.Repeat("x", 3000), 0))
}

func TestValidateOutputs(t *testing.T) {
	rules := Describe(TypeDesign).Rules

	assert.NoError(t, ValidateOutputs(TypeDesign, rules, map[string]any{"architecture": longText}))
	assert.NoError(t, ValidateOutputs(TypeDesign, rules, map[string]any{"design": 42, "architecture": longText}))
	assert.NoError(t, ValidateOutputs(TypeTesting, ValidationRules{}, map[string]any{"x": 1}))

	structured := map[string]any{"requirements": []string{"r1"}}
	assert.NoError(t, ValidateOutputs(TypeAnalysis, Describe(TypeAnalysis).Rules,
		map[string]any{"analysis": structured, "summary": strings.Repeat("s", 80)}))

	err := ValidateOutputs(TypeDesign, rules, map[string]any{"design": map[string]any{"k": "v"}})
	var vf *ValidationFailure
	require.ErrorAs(t, err, &vf)
	assert.Contains(t, vf.Error(), "no textual output of at least 50 characters")

	err = ValidateOutputs(TypeAnalysis, Describe(TypeAnalysis).Rules,
		map[string]any{"analysis": structured, "summary": "short"})
	require.ErrorAs(t, err, &vf)

	err = ValidateOutputs(TypeAnalysis, Describe(TypeAnalysis).Rules, map[string]any{"summary": longText})
	require.ErrorAs(t, err, &vf)
	assert.Contains(t, vf.Error(), "missing required output")
}

func TestBuildPrompt_Generic(t *testing.T) {
	ic := newContext("design", "design")
	ic.Resources = []string{"README.md"}
	ic.ExpectedOutputs = []string{"design", "risks"}
	ic.Handoff = &isolation.HandoffSummary{Text: "## Decisions\n- use postgres"}

	prompt, err := BuildPrompt(GenericTemplate, TypeDesign, ic)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(prompt, isolation.SystemPrompt))
	assert.Contains(t, prompt, `You are the design agent for stage "design"`)
	assert.Contains(t, prompt, "- README.md")
	assert.Contains(t, prompt, "# Handoff From Previous Stage\n## Decisions\n- use postgres")
	assert.Contains(t, prompt, "including: design, risks")
	assert.Contains(t, prompt, "Stay within 5000 tokens.")

	_, err = BuildPrompt("{{.Broken", TypeDesign, ic)
	assert.Error(t, err)
}
