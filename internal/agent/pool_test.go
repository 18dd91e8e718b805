package agent

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_CapacityOne(t *testing.T) {
	p := NewPool(PoolConfig{MaxConcurrentAgents: 1})

	first, err := p.Create(TypeAnalysis)
	require.NoError(t, err)
	assert.Equal(t, StatusIdle, first.Status())

	_, err = p.Create(TypeAnalysis)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCapacity)
	var capErr *CapacityError
	require.True(t, errors.As(err, &capErr))
	assert.Equal(t, TypeAnalysis, capErr.Type)
	assert.Equal(t, 1, capErr.Limit)

	// Other types have their own ceiling.
	_, err = p.Create(TypeDesign)
	require.NoError(t, err)

	require.NoError(t, p.Release(first.ID))
	third, err := p.Create(TypeAnalysis)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, third.ID)
}

func TestPool_CapacityN(t *testing.T) {
	const n = 3
	p := NewPool(PoolConfig{MaxConcurrentAgents: n})

	var ids []string
	for i := 0; i < n; i++ {
		a, err := p.Create(TypeTesting)
		require.NoError(t, err)
		ids = append(ids, a.ID)
	}
	_, err := p.Create(TypeTesting)
	assert.ErrorIs(t, err, ErrCapacity)

	require.NoError(t, p.Release(ids[1]))
	_, err = p.Create(TypeTesting)
	require.NoError(t, err)
	_, err = p.Create(TypeTesting)
	assert.ErrorIs(t, err, ErrCapacity, "release restores exactly one slot")
}

func TestPool_ConcurrentCreate(t *testing.T) {
	const limit = 2
	p := NewPool(PoolConfig{MaxConcurrentAgents: limit})

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
		refused int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.Create(TypeImplementation)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				refused++
				return
			}
			created++
		}()
	}
	wg.Wait()

	assert.Equal(t, limit, created)
	assert.Equal(t, 18, refused)
	assert.Equal(t, limit, p.Counts()[TypeImplementation])
}

func TestPool_GetListRelease(t *testing.T) {
	p := NewPool(PoolConfig{
		MaxConcurrentAgents: 5,
		Timeout:             time.Minute,
		TokenBudgets:        map[Type]int{TypeDesign: 1234},
	})

	a1, err := p.Create(TypeDesign)
	require.NoError(t, err)
	a2, err := p.Create(TypeDesign)
	require.NoError(t, err)
	_, err = p.Create(TypePlanning)
	require.NoError(t, err)

	got, ok := p.Get(a1.ID)
	require.True(t, ok)
	assert.Same(t, a1, got)
	assert.Equal(t, 1234, a1.Config.TokenBudget)
	assert.Equal(t, time.Minute, a1.Config.Timeout)
	assert.Equal(t, Describe(TypePlanning).TokenBudget, p.ListByType(TypePlanning)[0].Config.TokenBudget)

	list := p.ListByType(TypeDesign)
	require.Len(t, list, 2)
	assert.ElementsMatch(t, []string{a1.ID, a2.ID}, []string{list[0].ID, list[1].ID})
	assert.Equal(t, 3, p.Len())

	err = p.Release("missing")
	assert.ErrorIs(t, err, ErrAgentNotFound)

	require.NoError(t, a2.SetStatus(StatusExecuting))
	require.NoError(t, p.Release(a2.ID))
	assert.Equal(t, StatusIdle, a2.Status())
	_, ok = p.Get(a2.ID)
	assert.False(t, ok)

	p.Dispose()
	assert.Equal(t, 0, p.Len())
	for _, n := range p.Counts() {
		assert.Zero(t, n)
	}
	_, err = p.Create(TypeDesign)
	assert.NoError(t, err, "pool is reusable after dispose")
}

func TestPool_UnknownType(t *testing.T) {
	p := NewPool(PoolConfig{})
	_, err := p.Create(Type("wizard"))
	assert.ErrorIs(t, err, ErrUnknownType)
	assert.Equal(t, DefaultMaxConcurrentAgents, p.MaxConcurrentAgents())
}

func TestTypeForPhase(t *testing.T) {
	tests := map[string]Type{
		"analysis":       TypeAnalysis,
		"design":         TypeDesign,
		"planning":       TypePlanning,
		"implementation": TypeImplementation,
		"testing":        TypeTesting,
		"refactoring":    TypeRefactoring,
		"deployment":     TypeAnalysis,
		"":               TypeAnalysis,
	}
	for phase, want := range tests {
		assert.Equal(t, want, TypeForPhase(phase), phase)
	}
}

func TestDescriptors(t *testing.T) {
	impl := Describe(TypeImplementation).TokenBudget
	for _, typ := range Types {
		d := Describe(typ)
		assert.Equal(t, typ, d.Type)
		assert.NotEmpty(t, d.Template)
		assert.LessOrEqual(t, d.TokenBudget, impl)
	}
	assert.Equal(t, TypeAnalysis, Describe(Type("nope")).Type)
	assert.Equal(t, []string{"analysis", "requirements"}, Describe(TypeAnalysis).Rules.AnyOfKeys)
	assert.Equal(t, []string{"design", "architecture"}, Describe(TypeDesign).Rules.AnyOfKeys)
	assert.Empty(t, Describe(TypeTesting).Rules.AnyOfKeys)
}

func TestStatusTransitions(t *testing.T) {
	assert.True(t, StatusIdle.CanTransitionTo(StatusExecuting))
	assert.True(t, StatusExecuting.CanTransitionTo(StatusCompleted))
	assert.True(t, StatusExecuting.CanTransitionTo(StatusError))
	assert.True(t, StatusCompleted.CanTransitionTo(StatusWaitingValidation))
	assert.False(t, StatusIdle.CanTransitionTo(StatusCompleted))
	assert.False(t, StatusError.CanTransitionTo(StatusIdle))

	a := &Agent{ID: "a", status: StatusIdle}
	err := a.SetStatus(StatusCompleted)
	var te *TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, StatusIdle, te.From)
}
