// Package capability answers whether a named external capability (tool
// server, repository access, search backend) is available to agents.
package capability

import (
	"sort"
	"strings"
)

// Registry reports capability availability.
type Registry interface {
	IsAvailable(name string) bool
}

// Lister is implemented by registries that can enumerate their capabilities.
type Lister interface {
	Available() []string
}

// Set is an immutable snapshot of available capability names.
type Set map[string]struct{}

// NewSet builds a set, ignoring blank names.
func NewSet(names ...string) Set {
	s := make(Set, len(names))
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			s[n] = struct{}{}
		}
	}
	return s
}

// IsAvailable implements Registry.
func (s Set) IsAvailable(name string) bool {
	_, ok := s[name]
	return ok
}

// Available returns the names in sorted order.
func (s Set) Available() []string {
	out := make([]string, 0, len(s))
	for n := range s {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Static returns a registry over a fixed list of names.
func Static(names ...string) Set {
	return NewSet(names...)
}

// Union reports a capability as available if any registry has it.
type Union []Registry

// IsAvailable implements Registry.
func (u Union) IsAvailable(name string) bool {
	for _, r := range u {
		if r != nil && r.IsAvailable(name) {
			return true
		}
	}
	return false
}

// Available merges the names of every member that can list them.
func (u Union) Available() []string {
	merged := NewSet()
	for _, r := range u {
		if l, ok := r.(Lister); ok {
			for _, n := range l.Available() {
				merged[n] = struct{}{}
			}
		}
	}
	return merged.Available()
}
