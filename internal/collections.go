package internal

import (
	"cmp"
	"slices"
)

// Set is a collection of unique items backed by a map.
type Set[T cmp.Ordered] struct {
	items map[T]struct{}
}

// NewSet creates a set holding items.
func NewSet[T cmp.Ordered](items ...T) *Set[T] {
	s := &Set[T]{items: make(map[T]struct{}, len(items))}
	for _, item := range items {
		s.Add(item)
	}
	return s
}

// Add inserts an item into the set. If the item already exists, it has no effect.
func (s *Set[T]) Add(item T) {
	s.items[item] = struct{}{}
}

// Remove deletes an item from the set.
func (s *Set[T]) Remove(item T) {
	delete(s.items, item)
}

// Contains checks if an item exists in the set.
func (s *Set[T]) Contains(item T) bool {
	_, exists := s.items[item]
	return exists
}

// Size returns the number of items in the set.
func (s *Set[T]) Size() int {
	return len(s.items)
}

// Sorted returns the items in ascending order.
func (s *Set[T]) Sorted() []T {
	out := make([]T, 0, len(s.items))
	for item := range s.items {
		out = append(out, item)
	}
	slices.Sort(out)
	return out
}

// SortedKeys returns the keys of m in ascending order.
func SortedKeys[K cmp.Ordered, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys
}
