// Package util holds small generic helpers shared across packages.
package util

import (
	"cmp"
	"maps"
	"slices"
)

// Set is an unordered collection of distinct values.
type Set[K cmp.Ordered] map[K]struct{}

// Add inserts v and reports whether it was new.
func (s Set[K]) Add(v K) bool {
	if _, ok := s[v]; ok {
		return false
	}
	s[v] = struct{}{}
	return true
}

// Has reports whether v is in the set.
func (s Set[K]) Has(v K) bool {
	_, ok := s[v]
	return ok
}

// Sorted returns the members in ascending order.
func (s Set[K]) Sorted() []K {
	return SortedKeys(s)
}

// SortedKeys returns the keys of a map in sorted order.
func SortedKeys[K cmp.Ordered, V any](m map[K]V) []K {
	return slices.Sorted(maps.Keys(m))
}
