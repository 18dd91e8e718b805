// Package events carries orchestration progress to external renderers.
//
// Events are fire-and-forget: a sink failure is logged by the sink and never
// stops the workflow.
package events

import (
	"sync"
	"time"
)

// Type identifies an event.
type Type string

const (
	SessionStarted     Type = "session_started"
	SessionCompleted   Type = "session_completed"
	SessionStopped     Type = "session_stopped"
	StageStarted       Type = "stage_started"
	StageCompleted     Type = "stage_completed"
	StageSkipped       Type = "stage_skipped"
	StageFailed        Type = "stage_failed"
	AgentAssigned      Type = "agent_assigned"
	HandoffInitiated   Type = "handoff_initiated"
	ValidationRequired Type = "validation_required"
)

// Event is one progress notification.
type Event struct {
	Type      Type           `json:"type"`
	SessionID string         `json:"session_id"`
	StageID   string         `json:"stage_id,omitempty"`
	AgentID   string         `json:"agent_id,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// Sink receives events. Implementations must be safe for concurrent use and
// must not block for long.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

// Emit implements Sink.
func (f SinkFunc) Emit(e Event) { f(e) }

// Discard drops every event.
var Discard Sink = SinkFunc(func(Event) {})

// Multi fans one event out to several sinks in order.
type Multi []Sink

// Emit implements Sink.
func (m Multi) Emit(e Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(e)
		}
	}
}

// Bus is an in-process sink that records history and notifies subscribers.
type Bus struct {
	mu      sync.Mutex
	history []Event
	subs    map[int]chan Event
	nextID  int
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Emit implements Sink. Slow subscribers miss events rather than block.
func (b *Bus) Emit(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.history = append(b.history, e)
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Subscribe returns a channel of future events and a cancel func that
// closes it.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 16
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// History returns a copy of every event emitted so far.
func (b *Bus) History() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Event(nil), b.history...)
}

// Types returns the type of each recorded event, in order.
func (b *Bus) Types() []Type {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Type, len(b.history))
	for i, e := range b.history {
		out[i] = e.Type
	}
	return out
}

// Filter returns recorded events of type t.
func (b *Bus) Filter(t Type) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []Event
	for _, e := range b.history {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}
