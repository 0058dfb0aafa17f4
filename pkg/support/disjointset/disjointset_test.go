// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package disjointset

import (
	"math/rand"
	"testing"

	"github.com/gomlx/qcalib/pkg/support/sets"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBasic(t *testing.T) {
	ds := New[string]()
	ds.Add("a")
	ds.Add("b")
	ds.Add("c")
	ds.Add("a") // Idempotent.
	require.Equal(t, 3, ds.Len())
	require.Equal(t, 3, ds.NumSets())
	assert.True(t, ds.Contains("b"))
	assert.False(t, ds.Contains("z"))

	require.NoError(t, ds.Join("a", "b"))
	assert.Equal(t, 2, ds.NumSets())
	ids := ds.SetIds()
	assert.Equal(t, ids["a"], ids["b"])
	assert.NotEqual(t, ids["a"], ids["c"])
	assert.Equal(t, map[string]int{"a": 0, "b": 0, "c": 1}, ids)

	err := ds.Join("a", "z")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingElement))

	assert.False(t, ds.MaybeJoin("z", "c"))
	assert.True(t, ds.MaybeJoin("a", "b")) // Already joined, still a no-op.
	assert.Equal(t, 2, ds.NumSets())

	partition := ds.Sets()
	require.Len(t, partition, 2)
	assert.True(t, partition[0].Equal(sets.MakeWith("a", "b")))
	assert.True(t, partition[1].Equal(sets.MakeWith("c")))
}

// TestLaws checks join implies same id, transitivity, and that NumSets matches the image of SetIds.
func TestLaws(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	const n = 200
	ds := New[int]()
	for ii := range n {
		ds.Add(ii)
	}
	type pair struct{ a, b int }
	var joins []pair
	for range 120 {
		p := pair{rng.Intn(n), rng.Intn(n)}
		require.NoError(t, ds.Join(p.a, p.b))
		joins = append(joins, p)
	}
	ids := ds.SetIds()
	for _, p := range joins {
		assert.Equal(t, ids[p.a], ids[p.b], "join(%d, %d) must share id", p.a, p.b)
	}

	// Transitivity through chains.
	require.NoError(t, ds.Join(1, 2))
	require.NoError(t, ds.Join(2, 3))
	assert.True(t, ds.Same(1, 3))

	ids = ds.SetIds()
	image := sets.Make[int]()
	for _, id := range ids {
		image.Insert(id)
	}
	assert.Equal(t, ds.NumSets(), len(image))
	for id := range ds.NumSets() {
		assert.True(t, image.Has(id), "ids must be contiguous, missing %d", id)
	}
}
