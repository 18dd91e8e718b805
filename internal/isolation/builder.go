package isolation

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fyrsmithlabs/agentflow/internal/workflow"
	"go.uber.org/zap"
)

// DefaultMaxResources bounds the resource shortlist.
const DefaultMaxResources = 10

// SystemPrompt is given to every agent. It states the isolation contract.
const SystemPrompt = `You are an isolated agent executing one stage of a larger workflow.
You have no access to any prior conversation, chat history, or earlier agent turns.
Use only the task, resources, and handoff summary supplied in this bundle.
If information you need is missing, say so in your outputs instead of assuming it.`

// BuilderConfig configures a Builder.
type BuilderConfig struct {
	// Root is the directory resources are discovered under.
	Root         string
	MaxResources int
	Budget       BudgetTable
	Strategies   map[string]Strategy
	Store        *HandoffStore
	Logger       *zap.Logger
	Clock        func() time.Time
}

// Builder assembles isolated contexts.
type Builder struct {
	root         string
	maxResources int
	budget       BudgetTable
	strategies   map[string]Strategy
	store        *HandoffStore
	logger       *zap.Logger
	now          func() time.Time
}

// NewBuilder creates a builder, filling unset fields with defaults.
func NewBuilder(cfg BuilderConfig) *Builder {
	b := &Builder{
		root:         cfg.Root,
		maxResources: cfg.MaxResources,
		budget:       cfg.Budget,
		strategies:   cfg.Strategies,
		store:        cfg.Store,
		logger:       cfg.Logger,
		now:          cfg.Clock,
	}
	if b.root == "" {
		b.root = "."
	}
	if b.maxResources <= 0 {
		b.maxResources = DefaultMaxResources
	}
	if b.budget.Baseline <= 0 && b.budget.PhaseBonus == nil {
		b.budget = DefaultBudgetTable()
	}
	if b.strategies == nil {
		b.strategies = DefaultStrategies()
	}
	if b.store == nil {
		b.store = NewHandoffStore()
	}
	if b.logger == nil {
		b.logger = zap.NewNop()
	}
	b.logger = b.logger.Named("isolation")
	if b.now == nil {
		b.now = time.Now
	}
	return b
}

// Store returns the handoff store the builder reads predecessors from.
func (b *Builder) Store() *HandoffStore {
	return b.store
}

// Budget returns the token budget for phase.
func (b *Builder) Budget(phase string) int {
	return b.budget.For(phase)
}

// BuildContext assembles the bundle for one agent invocation on stage.
// Only the most recent handoff among the stage's direct dependencies is
// attached.
func (b *Builder) BuildContext(ctx context.Context, agentID string, stage *workflow.Stage, userRequirements string) (*IsolatedContext, error) {
	if stage == nil {
		return nil, ErrNilStage
	}
	if agentID == "" {
		return nil, ErrEmptyAgentID
	}

	ic := &IsolatedContext{
		AgentID:          agentID,
		StageID:          stage.ID,
		Phase:            stage.Phase,
		PromptRef:        stage.Step.PromptRef,
		Task:             TaskDescription(stage),
		UserRequirements: strings.TrimSpace(userRequirements),
		Resources:        b.resources(ctx, stage.Phase),
		ExpectedOutputs:  append([]string(nil), stage.Step.Outputs...),
		TokenBudget:      b.budget.For(stage.Phase),
		SystemPrompt:     SystemPrompt,
		CreatedAt:        b.now(),
	}
	if len(stage.Dependencies) > 0 {
		ic.Handoff = b.store.Latest(stage.Dependencies)
	}
	ic.EstimatedTokens = EstimateTokenCount(ic.Render())

	b.logger.Debug("isolated context built",
		zap.String("agent_id", agentID),
		zap.String("stage_id", stage.ID),
		zap.Int("resources", len(ic.Resources)),
		zap.Bool("has_handoff", ic.Handoff != nil),
		zap.Int("token_budget", ic.TokenBudget),
		zap.Int("estimated_tokens", ic.EstimatedTokens),
	)
	return ic, nil
}

// TaskDescription synthesizes the task text from the stage definition.
func TaskDescription(stage *workflow.Stage) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Stage: %s (%s)\n", stage.Name, stage.ID)
	fmt.Fprintf(&b, "Phase: %s\n", stage.Phase)
	if stage.Step.PromptRef != "" {
		fmt.Fprintf(&b, "Template: %s\n", stage.Step.PromptRef)
	}
	pre := stage.Step.Prerequisites
	if len(pre.RequiredCapabilities) > 0 {
		fmt.Fprintf(&b, "Capabilities: %s\n", strings.Join(pre.RequiredCapabilities, ", "))
	}
	if len(pre.RequiredContext) > 0 {
		fmt.Fprintf(&b, "Required context: %s\n", strings.Join(pre.RequiredContext, ", "))
	}
	if len(pre.OptionalContext) > 0 {
		fmt.Fprintf(&b, "Optional context: %s\n", strings.Join(pre.OptionalContext, ", "))
	}
	if len(stage.Dependencies) > 0 {
		fmt.Fprintf(&b, "Builds on: %s\n", strings.Join(stage.Dependencies, ", "))
	}
	if len(stage.Step.Outputs) > 0 {
		fmt.Fprintf(&b, "Expected outputs: %s\n", strings.Join(stage.Step.Outputs, ", "))
	}
	return strings.TrimRight(b.String(), "\n")
}

// Render flattens the bundle into prompt text.
func (ic *IsolatedContext) Render() string {
	var b strings.Builder
	b.WriteString(ic.SystemPrompt)
	b.WriteString("\n\n# Task\n")
	b.WriteString(ic.Task)
	if ic.UserRequirements != "" {
		b.WriteString("\n\n# User Requirements\n")
		b.WriteString(ic.UserRequirements)
	}
	if len(ic.Resources) > 0 {
		b.WriteString("\n\n# Resources\n")
		for _, r := range ic.Resources {
			b.WriteString("- ")
			b.WriteString(r)
			b.WriteString("\n")
		}
	}
	if ic.Handoff != nil {
		b.WriteString("\n\n# Handoff From Previous Stage\n")
		b.WriteString(ic.Handoff.Text)
	}
	return strings.TrimRight(b.String(), "\n")
}

// resources returns a bounded, deduplicated list of existing paths.
func (b *Builder) resources(ctx context.Context, phase string) []string {
	strategy, ok := b.strategies[phase]
	if !ok {
		return nil
	}
	candidates, err := strategy.Candidates(ctx, b.root)
	if err != nil {
		b.logger.Debug("resource discovery failed", zap.String("phase", phase), zap.Error(err))
	}

	seen := make(map[string]struct{}, len(candidates))
	out := make([]string, 0, b.maxResources)
	for _, c := range candidates {
		if len(out) >= b.maxResources {
			break
		}
		c = filepath.Clean(c)
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		if _, err := os.Stat(filepath.Join(b.root, c)); err != nil {
			continue
		}
		out = append(out, c)
	}
	return out
}
