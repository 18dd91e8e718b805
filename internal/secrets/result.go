package secrets

import (
	"fmt"
	"sort"
)

// Result holds the outcome of a scrub.
type Result struct {
	Scrubbed string
	Findings []Finding
	ByRule   map[string]int
}

// Finding describes one detected secret. The secret itself is never kept.
type Finding struct {
	RuleID      string
	Description string
	Line        int
}

// HasFindings reports whether any secret was detected.
func (r *Result) HasFindings() bool {
	return len(r.Findings) > 0
}

// RuleIDs returns the distinct rule IDs that matched, sorted.
func (r *Result) RuleIDs() []string {
	ids := make([]string, 0, len(r.ByRule))
	for id := range r.ByRule {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Summary renders a short description for logs.
func (r *Result) Summary() string {
	if !r.HasFindings() {
		return "no secrets found"
	}
	return fmt.Sprintf("%d secret(s) redacted: %v", len(r.Findings), r.RuleIDs())
}
