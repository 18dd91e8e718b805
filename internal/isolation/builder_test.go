package isolation

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fyrsmithlabs/agentflow/internal/workflow"
	"github.com/go-git/go-git/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStage(id, phase string, deps ...string) *workflow.Stage {
	return workflow.NewStage(workflow.PhaseStep{
		Phase: phase,
		Step: workflow.Step{
			ID:           id,
			Title:        "Do " + id,
			PromptRef:    "prompts/" + id + ".md",
			Dependencies: deps,
			Outputs:      []string{phase},
			Prerequisites: workflow.Prerequisites{
				RequiredCapabilities: []string{"filesystem"},
				RequiredContext:      []string{"requirements"},
			},
		},
	})
}

func writeFile(t *testing.T, root, rel string) {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("content"), 0o600))
}

func TestBuildContext_Root(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "README.md")
	writeFile(t, root, "docs/overview.md")

	b := NewBuilder(BuilderConfig{Root: root})
	ic, err := b.BuildContext(context.Background(), "agent-1", testStage("analyze", "analysis"), "  build a todo app  ")
	require.NoError(t, err)

	assert.Equal(t, "agent-1", ic.AgentID)
	assert.Equal(t, "analyze", ic.StageID)
	assert.Equal(t, "build a todo app", ic.UserRequirements)
	assert.Nil(t, ic.Handoff)
	assert.Equal(t, 5000, ic.TokenBudget)
	assert.Contains(t, ic.SystemPrompt, "no access to any prior conversation")
	assert.Contains(t, ic.Task, "Stage: Do analyze (analyze)")
	assert.Contains(t, ic.Task, "Phase: analysis")
	assert.Contains(t, ic.Task, "Capabilities: filesystem")
	assert.Contains(t, ic.Task, "Required context: requirements")
	assert.ElementsMatch(t, []string{"README.md", filepath.Join("docs", "overview.md")}, ic.Resources)
	assert.Equal(t, EstimateTokenCount(ic.Render()), ic.EstimatedTokens)
	assert.Equal(t, []string{"analysis"}, ic.ExpectedOutputs)
}

func TestBuildContext_SinglePredecessorHandoff(t *testing.T) {
	store := NewHandoffStore()
	base := time.Now()
	store.Put(&HandoffSummary{FromStage: "analyze", Timestamp: base, Text: "old"})
	store.Put(&HandoffSummary{FromStage: "research", Timestamp: base.Add(time.Minute), Text: "new"})
	store.Put(&HandoffSummary{FromStage: "unrelated", Timestamp: base.Add(time.Hour), Text: "ignored"})

	b := NewBuilder(BuilderConfig{Root: t.TempDir(), Store: store})
	ic, err := b.BuildContext(context.Background(), "agent-2", testStage("design", "design", "analyze", "research"), "")
	require.NoError(t, err)

	require.NotNil(t, ic.Handoff)
	assert.Equal(t, "new", ic.Handoff.Text)
	assert.Contains(t, ic.Render(), "# Handoff From Previous Stage\nnew")
	assert.NotContains(t, ic.Render(), "ignored")
	assert.Equal(t, 6000, ic.TokenBudget)
}

func TestBuildContext_Errors(t *testing.T) {
	b := NewBuilder(BuilderConfig{})

	_, err := b.BuildContext(context.Background(), "a", nil, "")
	assert.ErrorIs(t, err, ErrNilStage)

	_, err = b.BuildContext(context.Background(), "", testStage("s", "analysis"), "")
	assert.ErrorIs(t, err, ErrEmptyAgentID)
}

func TestBuildContext_ResourcesBounded(t *testing.T) {
	root := t.TempDir()
	var listed []string
	for _, name := range []string{"a.md", "b.md", "c.md", "d.md"} {
		writeFile(t, root, name)
		listed = append(listed, name)
	}
	listed = append(listed, "a.md", "missing.md")

	b := NewBuilder(BuilderConfig{
		Root:         root,
		MaxResources: 3,
		Strategies: map[string]Strategy{
			"analysis": StrategyFunc(func(context.Context, string) ([]string, error) {
				return append([]string{"missing.md", "a.md"}, listed...), nil
			}),
		},
	})
	ic, err := b.BuildContext(context.Background(), "a", testStage("s", "analysis"), "")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.md", "b.md", "c.md"}, ic.Resources)

	ic, err = b.BuildContext(context.Background(), "a", testStage("s", "unknown-phase"), "")
	require.NoError(t, err)
	assert.Empty(t, ic.Resources)
	assert.Equal(t, DefaultBaselineBudget, ic.TokenBudget)
}

func TestBudgetTable(t *testing.T) {
	table := DefaultBudgetTable()
	impl := table.For("implementation")
	for phase := range DefaultPhaseBonus {
		assert.LessOrEqual(t, table.For(phase), impl, phase)
		assert.Greater(t, table.For(phase), DefaultBaselineBudget, phase)
	}
	assert.Equal(t, DefaultBaselineBudget, table.For("other"))
	assert.Equal(t, DefaultBaselineBudget+10, BudgetTable{PhaseBonus: map[string]int{"x": 10}}.For("x"))
}

func TestGitStrategy(t *testing.T) {
	root := t.TempDir()
	_, err := git.PlainInit(root, false)
	require.NoError(t, err)
	writeFile(t, root, "main.go")
	writeFile(t, root, "pkg/util.go")

	got, err := GitStrategy{}.Candidates(context.Background(), root)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"main.go", filepath.Join("pkg", "util.go")}, got)

	_, err = GitStrategy{}.Candidates(context.Background(), t.TempDir())
	assert.ErrorIs(t, err, ErrNotRepository)
}

func TestChain_FallsThrough(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "go.mod")

	got, err := Chain{GitStrategy{}, GlobStrategy{Patterns: []string{"go.mod"}}}.Candidates(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, []string{"go.mod"}, got)
}

func TestHandoffStore(t *testing.T) {
	s := NewHandoffStore()
	s.Put(nil)
	s.Put(&HandoffSummary{})
	assert.Equal(t, 0, s.Len())

	now := time.Now()
	s.Put(&HandoffSummary{FromStage: "a", Timestamp: now, Text: "first"})
	s.Put(&HandoffSummary{FromStage: "a", Timestamp: now.Add(time.Second), Text: "second"})

	h, ok := s.Get("a")
	require.True(t, ok)
	assert.Equal(t, "second", h.Text)
	assert.Nil(t, s.Latest([]string{"b"}))
	assert.Nil(t, s.Latest(nil))

	s.Reset()
	assert.Equal(t, 0, s.Len())
}

func TestHandoffRequest(t *testing.T) {
	r := &HandoffRequest{FromStageID: "a"}
	assert.ErrorIs(t, r.Validate(), ErrInvalidHandoff)

	r.ToStageID = "b"
	require.NoError(t, r.Validate())
	r.ApplyDefaults()
	assert.Equal(t, DefaultTargetTokens, r.TargetTokens)
	assert.False(t, r.RequestedAt.IsZero())
}
