package extract

import (
	"strings"

	"github.com/MrSnakeDoc/urnharvest/internal/urn"
)

// Exclusions answers whether a urn belongs to another repository.
type Exclusions interface {
	Contains(u string) bool
}

// StaticExclusions is an in-memory set keyed by normalized urn.
type StaticExclusions map[string]struct{}

// NewStaticExclusions builds a set from raw urns.
func NewStaticExclusions(urns ...string) StaticExclusions {
	s := make(StaticExclusions, len(urns))
	for _, u := range urns {
		s[exclusionKey(u)] = struct{}{}
	}
	return s
}

func (s StaticExclusions) Contains(u string) bool {
	_, ok := s[exclusionKey(u)]
	return ok
}

// Len returns the number of urns in the set.
func (s StaticExclusions) Len() int { return len(s) }

// AnyOf combines sets; a urn is excluded if any of them holds it.
type AnyOf []Exclusions

func (a AnyOf) Contains(u string) bool {
	for _, ex := range a {
		if ex != nil && ex.Contains(u) {
			return true
		}
	}
	return false
}

// exclusionKey falls back to a folded raw string for values that are not valid urns.
func exclusionKey(u string) string {
	if n, err := urn.Normalize(u); err == nil {
		return n
	}
	return strings.ToLower(strings.TrimSpace(u))
}
