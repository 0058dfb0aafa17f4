// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package disjointset implements a generic union-find structure.
//
// It is the foundation of the range and shape grouping analyses: each element is a program point,
// and elements that must share one runtime observer are joined into the same set.
//
// The structure uses path compression and union by rank, but neither is observable: set ids returned
// by SetIds are only stable within one call.
package disjointset

import (
	"github.com/gomlx/qcalib/pkg/support/sets"
	"github.com/pkg/errors"
)

// ErrMissingElement is returned by Join if one of the elements was never added.
var ErrMissingElement = errors.New("element not in disjoint-set")

// DisjointSet over elements of type T.
//
// The zero value is not usable, create it with New.
type DisjointSet[T comparable] struct {
	parent map[T]T
	rank   map[T]int

	// order keeps insertion order, so that SetIds and Sets are deterministic.
	order []T
}

// New creates an empty DisjointSet.
func New[T comparable]() *DisjointSet[T] {
	return &DisjointSet[T]{
		parent: make(map[T]T),
		rank:   make(map[T]int),
	}
}

// Add element as a singleton set. It's a no-op if the element is already present.
func (ds *DisjointSet[T]) Add(elem T) {
	if _, found := ds.parent[elem]; found {
		return
	}
	ds.parent[elem] = elem
	ds.order = append(ds.order, elem)
}

// Contains returns whether elem was added.
func (ds *DisjointSet[T]) Contains(elem T) bool {
	_, found := ds.parent[elem]
	return found
}

// Len returns the number of elements.
func (ds *DisjointSet[T]) Len() int {
	return len(ds.order)
}

func (ds *DisjointSet[T]) find(elem T) T {
	root := elem
	for {
		p := ds.parent[root]
		if p == root {
			break
		}
		root = p
	}
	// Path compression.
	for elem != root {
		next := ds.parent[elem]
		ds.parent[elem] = root
		elem = next
	}
	return root
}

// Find returns the representative of the set containing elem, and whether elem is present.
func (ds *DisjointSet[T]) Find(elem T) (root T, found bool) {
	if !ds.Contains(elem) {
		return
	}
	return ds.find(elem), true
}

// Join merges the sets of a and b. It fails if either is absent.
func (ds *DisjointSet[T]) Join(a, b T) error {
	if !ds.Contains(a) {
		return errors.Wrapf(ErrMissingElement, "Join(%v, %v): %v", a, b, a)
	}
	if !ds.Contains(b) {
		return errors.Wrapf(ErrMissingElement, "Join(%v, %v): %v", a, b, b)
	}
	ds.union(a, b)
	return nil
}

// MaybeJoin merges the sets of a and b if both are present. Otherwise, it's a no-op.
// It returns whether both elements were present.
func (ds *DisjointSet[T]) MaybeJoin(a, b T) bool {
	if !ds.Contains(a) || !ds.Contains(b) {
		return false
	}
	ds.union(a, b)
	return true
}

func (ds *DisjointSet[T]) union(a, b T) {
	ra, rb := ds.find(a), ds.find(b)
	if ra == rb {
		return
	}
	switch {
	case ds.rank[ra] < ds.rank[rb]:
		ds.parent[ra] = rb
	case ds.rank[ra] > ds.rank[rb]:
		ds.parent[rb] = ra
	default:
		ds.parent[rb] = ra
		ds.rank[ra]++
	}
}

// Same returns whether a and b are both present and in the same set.
func (ds *DisjointSet[T]) Same(a, b T) bool {
	if !ds.Contains(a) || !ds.Contains(b) {
		return false
	}
	return ds.find(a) == ds.find(b)
}

// NumSets returns the number of disjoint sets.
func (ds *DisjointSet[T]) NumSets() int {
	count := 0
	for _, elem := range ds.order {
		if ds.find(elem) == elem {
			count++
		}
	}
	return count
}

// SetIds maps each element to the id of its set. Ids are contiguous from 0, numbered in the order
// in which the first element of each set was added.
func (ds *DisjointSet[T]) SetIds() map[T]int {
	rootIds := make(map[T]int)
	ids := make(map[T]int, len(ds.order))
	for _, elem := range ds.order {
		root := ds.find(elem)
		id, found := rootIds[root]
		if !found {
			id = len(rootIds)
			rootIds[root] = id
		}
		ids[elem] = id
	}
	return ids
}

// Sets returns the partition, one set per group, ordered by set id (see SetIds).
func (ds *DisjointSet[T]) Sets() []sets.Set[T] {
	ids := ds.SetIds()
	partition := make([]sets.Set[T], ds.NumSets())
	for _, elem := range ds.order {
		id := ids[elem]
		if partition[id] == nil {
			partition[id] = sets.Make[T]()
		}
		partition[id].Insert(elem)
	}
	return partition
}
