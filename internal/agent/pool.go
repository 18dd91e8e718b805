package agent

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultMaxConcurrentAgents is the per-type ceiling when none is configured.
const DefaultMaxConcurrentAgents = 3

// PoolConfig configures a Pool.
type PoolConfig struct {
	// MaxConcurrentAgents caps live agents per type.
	MaxConcurrentAgents int
	// Timeout bounds each backend call. Zero disables enforcement.
	Timeout time.Duration
	// TokenBudgets overrides descriptor budgets per type.
	TokenBudgets map[Type]int

	Backend             Backend
	Templates           TemplateSource
	Compressor          Compressor
	HandoffTargetTokens int
	Logger              *zap.Logger
}

// Pool creates and releases typed agents, enforcing the per-type ceiling.
// It is the sole owner of the agent map.
type Pool struct {
	cfg    PoolConfig
	logger *zap.Logger

	mu     sync.Mutex
	agents map[string]*Agent
	counts map[Type]int
}

// NewPool creates a pool. A non-positive ceiling uses the default.
func NewPool(cfg PoolConfig) *Pool {
	if cfg.MaxConcurrentAgents <= 0 {
		cfg.MaxConcurrentAgents = DefaultMaxConcurrentAgents
	}
	if cfg.Compressor == nil {
		cfg.Compressor = defaultCompressor()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		cfg:    cfg,
		logger: logger.Named("pool"),
		agents: make(map[string]*Agent),
		counts: make(map[Type]int),
	}
}

// MaxConcurrentAgents returns the per-type ceiling.
func (p *Pool) MaxConcurrentAgents() int {
	return p.cfg.MaxConcurrentAgents
}

// Create returns a new idle agent of type t, or a *CapacityError when t is
// at its ceiling. It never waits for capacity.
func (p *Pool) Create(t Type) (*Agent, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, t)
	}
	desc := Describe(t)

	budget := desc.TokenBudget
	if b, ok := p.cfg.TokenBudgets[t]; ok && b > 0 {
		budget = b
	}

	p.mu.Lock()
	if p.counts[t] >= p.cfg.MaxConcurrentAgents {
		p.mu.Unlock()
		p.logger.Warn("agent capacity reached", zap.String("type", string(t)), zap.Int("limit", p.cfg.MaxConcurrentAgents))
		return nil, &CapacityError{Type: t, Limit: p.cfg.MaxConcurrentAgents}
	}

	a := &Agent{
		ID:   fmt.Sprintf("%s-%s", t, uuid.NewString()),
		Type: t,
		Config: Config{
			TokenBudget:  budget,
			Timeout:      p.cfg.Timeout,
			Capabilities: append([]string(nil), desc.Capabilities...),
		},
		CreatedAt:    time.Now(),
		descriptor:   desc,
		backend:      p.cfg.Backend,
		templates:    p.cfg.Templates,
		compressor:   p.cfg.Compressor,
		targetTokens: p.cfg.HandoffTargetTokens,
		status:       StatusIdle,
	}
	p.agents[a.ID] = a
	p.counts[t]++
	live := p.counts[t]
	p.mu.Unlock()

	p.logger.Debug("agent created", zap.String("agent_id", a.ID), zap.String("type", string(t)), zap.Int("live", live))
	return a, nil
}

// Release disposes the agent and frees exactly one slot of its type.
func (p *Pool) Release(id string) error {
	p.mu.Lock()
	a, ok := p.agents[id]
	if !ok {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAgentNotFound, id)
	}
	delete(p.agents, id)
	p.counts[a.Type]--
	p.mu.Unlock()

	a.dispose()
	p.logger.Debug("agent released", zap.String("agent_id", id), zap.String("type", string(a.Type)))
	return nil
}

// Get looks up a live agent.
func (p *Pool) Get(id string) (*Agent, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.agents[id]
	return a, ok
}

// ListByType returns live agents of t, oldest first.
func (p *Pool) ListByType(t Type) []*Agent {
	p.mu.Lock()
	out := make([]*Agent, 0, p.counts[t])
	for _, a := range p.agents {
		if a.Type == t {
			out = append(out, a)
		}
	}
	p.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Counts returns live agents per type.
func (p *Pool) Counts() map[Type]int {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[Type]int, len(Types))
	for _, t := range Types {
		out[t] = p.counts[t]
	}
	return out
}

// Len returns the number of live agents.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.agents)
}

// Dispose releases every live agent. The pool stays usable.
func (p *Pool) Dispose() {
	p.mu.Lock()
	agents := make([]*Agent, 0, len(p.agents))
	for _, a := range p.agents {
		agents = append(agents, a)
	}
	p.agents = make(map[string]*Agent)
	p.counts = make(map[Type]int)
	p.mu.Unlock()

	for _, a := range agents {
		a.dispose()
	}
	if len(agents) > 0 {
		p.logger.Info("agent pool disposed", zap.Int("released", len(agents)))
	}
}
