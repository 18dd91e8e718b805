package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// gateSet is a map of stage id to single-use response channel. The entry is
// removed on first resolution so a second resolution is rejected.
type gateSet[T any] struct {
	mu       sync.Mutex
	pending  map[string]chan T
	resolved map[string]struct{}
}

func newGateSet[T any]() *gateSet[T] {
	return &gateSet[T]{
		pending:  make(map[string]chan T),
		resolved: make(map[string]struct{}),
	}
}

// open registers a gate for stageID and returns its channel.
func (g *gateSet[T]) open(stageID string) <-chan T {
	g.mu.Lock()
	defer g.mu.Unlock()
	ch := make(chan T, 1)
	g.pending[stageID] = ch
	delete(g.resolved, stageID)
	return ch
}

// resolve delivers v to the gate for stageID.
func (g *gateSet[T]) resolve(stageID string, v T) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	ch, ok := g.pending[stageID]
	if !ok {
		if _, done := g.resolved[stageID]; done {
			return fmt.Errorf("%w: %s", ErrAlreadyResolved, stageID)
		}
		return fmt.Errorf("%w: %s", ErrUnknownStage, stageID)
	}
	delete(g.pending, stageID)
	g.resolved[stageID] = struct{}{}
	ch <- v
	return nil
}

// wait blocks until the gate is resolved, ctx is done or the set is failed.
func (g *gateSet[T]) wait(ctx context.Context, stageID string, ch <-chan T) (T, error) {
	var zero T
	select {
	case v, ok := <-ch:
		if !ok {
			return zero, ErrSessionStopped
		}
		return v, nil
	case <-ctx.Done():
		g.drop(stageID)
		return zero, ctx.Err()
	}
}

// drop removes an unresolved gate.
func (g *gateSet[T]) drop(stageID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.pending, stageID)
}

// failAll closes every pending gate; waiters see ErrSessionStopped.
func (g *gateSet[T]) failAll() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := len(g.pending)
	for id, ch := range g.pending {
		close(ch)
		delete(g.pending, id)
	}
	return n
}

// reset forgets resolution history. Pending gates are left alone.
func (g *gateSet[T]) reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.resolved = make(map[string]struct{})
}

// ids returns pending stage ids, sorted.
func (g *gateSet[T]) ids() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, 0, len(g.pending))
	for id := range g.pending {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Verdict is a reviewer's answer to a validation request.
type Verdict struct {
	Approved bool   `json:"approved"`
	Reason   string `json:"reason,omitempty"`
}
