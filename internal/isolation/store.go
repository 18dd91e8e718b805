package isolation

import "sync"

// HandoffStore keeps the most recent handoff summary per source stage.
type HandoffStore struct {
	mu        sync.RWMutex
	summaries map[string]*HandoffSummary
}

// NewHandoffStore creates an empty store.
func NewHandoffStore() *HandoffStore {
	return &HandoffStore{summaries: make(map[string]*HandoffSummary)}
}

// Put records summary as the latest for its source stage.
func (s *HandoffStore) Put(summary *HandoffSummary) {
	if summary == nil || summary.FromStage == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summaries[summary.FromStage] = summary
}

// Get returns the summary recorded for stageID.
func (s *HandoffStore) Get(stageID string) (*HandoffSummary, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.summaries[stageID]
	return h, ok
}

// Latest returns the most recent summary among the given source stages, or
// nil when none has one. Ties keep the earlier stage in the list.
func (s *HandoffStore) Latest(stageIDs []string) *HandoffSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *HandoffSummary
	for _, id := range stageIDs {
		h, ok := s.summaries[id]
		if !ok {
			continue
		}
		if latest == nil || h.Timestamp.After(latest.Timestamp) {
			latest = h
		}
	}
	return latest
}

// Len returns the number of stored summaries.
func (s *HandoffStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.summaries)
}

// Reset drops every stored summary.
func (s *HandoffStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summaries = make(map[string]*HandoffSummary)
}
