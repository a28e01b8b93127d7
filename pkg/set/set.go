package set

import (
	"encoding/json"
	"sort"

	"golang.org/x/exp/constraints"
)

// ------------------------------------------
// Generic Set implementation (thread-unsafe)
// ------------------------------------------

// Set represents a generic set of comparable items
type Set[T comparable] struct {
	items map[T]struct{}
}

// New creates a new Set
func New[T comparable](elems ...T) Set[T] {
	s := Set[T]{
		items: make(map[T]struct{}),
	}
	s.Append(elems...)
	return s
}

// Append inserts elements into the set
func (s Set[T]) Append(elems ...T) {
	for _, elem := range elems {
		s.items[elem] = struct{}{}
	}
}

// Remove deletes an element from the set
func (s Set[T]) Remove(elem T) {
	delete(s.items, elem)
}

// Contains checks if an element is in the set
func (s Set[T]) Contains(elem T) bool {
	_, ok := s.items[elem]
	return ok
}

// Size returns the number of elements in the set
func (s Set[T]) Size() int {
	return len(s.items)
}

// Values returns all elements in the set as an unsorted slice
func (s Set[T]) Values() []T {
	v := make([]T, 0, len(s.items))
	for elem := range s.items {
		v = append(v, elem)
	}
	return v
}

// Clone returns a shallow copy of the set
func (s Set[T]) Clone() Set[T] {
	return New[T](s.Values()...)
}

// Union returns a new set containing elements of both sets
func (s Set[T]) Union(other Set[T]) Set[T] {
	u := s.Clone()
	u.Append(other.Values()...)
	return u
}

// Intersect returns a new set with elements present in both sets
func (s Set[T]) Intersect(other Set[T]) Set[T] {
	i := New[T]()
	for elem := range s.items {
		if other.Contains(elem) {
			i.Append(elem)
		}
	}
	return i
}

// Difference returns a new set with elements of s not present in other
func (s Set[T]) Difference(other Set[T]) Set[T] {
	d := New[T]()
	for elem := range s.items {
		if !other.Contains(elem) {
			d.Append(elem)
		}
	}
	return d
}

// Ordered is a set of ordered elements that supports sorted Values
// and deterministic JSON encoding.
type Ordered[T constraints.Ordered] struct {
	Set[T]
}

// NewOrdered creates a new Ordered set
func NewOrdered[T constraints.Ordered](elems ...T) Ordered[T] {
	return Ordered[T]{
		Set: New[T](elems...),
	}
}

// Values returns all elements in the set as a sorted slice
func (s Ordered[T]) Values() []T {
	v := s.Set.Values()
	sort.Slice(v, func(i, j int) bool {
		return v[i] < v[j]
	})
	return v
}

// Clone returns a shallow copy of the set
func (s Ordered[T]) Clone() Ordered[T] {
	return NewOrdered[T](s.Set.Values()...)
}

// Union returns a new ordered set containing elements of both sets
func (s Ordered[T]) Union(other Ordered[T]) Ordered[T] {
	u := s.Clone()
	u.Append(other.Set.Values()...)
	return u
}

// MarshalJSON encodes the set as a sorted array
func (s Ordered[T]) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Values())
}

// UnmarshalJSON decodes the set from an array
func (s *Ordered[T]) UnmarshalJSON(data []byte) error {
	var v []T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*s = NewOrdered[T](v...)
	return nil
}
