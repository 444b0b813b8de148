package resolver

import (
	"sort"
	"strings"
)

// ToggleSet is an immutable set of component ids the user wants enabled.
// The zero value is the empty set. Methods return new sets.
type ToggleSet struct {
	ids map[string]struct{}
}

// NewToggleSet builds a set from ids, ignoring duplicates
func NewToggleSet(ids ...string) ToggleSet {
	s := ToggleSet{ids: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		s.ids[id] = struct{}{}
	}
	return s
}

// Has reports membership
func (s ToggleSet) Has(id string) bool {
	_, ok := s.ids[id]
	return ok
}

// Len returns the number of ids
func (s ToggleSet) Len() int {
	return len(s.ids)
}

// Slice returns the ids sorted
func (s ToggleSet) Slice() []string {
	out := make([]string, 0, len(s.ids))
	for id := range s.ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// With returns s plus ids
func (s ToggleSet) With(ids ...string) ToggleSet {
	return NewToggleSet(append(s.Slice(), ids...)...)
}

// Without returns s minus ids
func (s ToggleSet) Without(ids ...string) ToggleSet {
	drop := NewToggleSet(ids...)
	out := NewToggleSet()
	for id := range s.ids {
		if !drop.Has(id) {
			out.ids[id] = struct{}{}
		}
	}
	return out
}

// Union returns s ∪ other
func (s ToggleSet) Union(other ToggleSet) ToggleSet {
	return s.With(other.Slice()...)
}

// Filter returns the ids for which keep returns true
func (s ToggleSet) Filter(keep func(id string) bool) ToggleSet {
	out := NewToggleSet()
	for id := range s.ids {
		if keep(id) {
			out.ids[id] = struct{}{}
		}
	}
	return out
}

// Equal reports set equality
func (s ToggleSet) Equal(other ToggleSet) bool {
	if s.Len() != other.Len() {
		return false
	}
	for id := range s.ids {
		if !other.Has(id) {
			return false
		}
	}
	return true
}

// String renders the set as {a, b}
func (s ToggleSet) String() string {
	return "{" + strings.Join(s.Slice(), ", ") + "}"
}
