// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package xslices

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAt(t *testing.T) {
	s := []int{1, 2, 3}
	assert.Equal(t, 3, Last(s))
	assert.Equal(t, 2, At(s, -2))
	assert.Equal(t, 1, At(s, 0))
}

func TestMapFilter(t *testing.T) {
	got := Map([]int{1, 2, 3}, strconv.Itoa)
	assert.Equal(t, []string{"1", "2", "3"}, got)
	even := Filter(Iota(0, 6), func(e int) bool { return e%2 == 0 })
	assert.Equal(t, []int{0, 2, 4}, even)
}

func TestInsertRemove(t *testing.T) {
	s := []string{"a", "d"}
	s = InsertAt(s, 1, "b", "c")
	require.Equal(t, []string{"a", "b", "c", "d"}, s)
	s = RemoveAt(s, 0)
	require.Equal(t, []string{"b", "c", "d"}, s)
	v, s := Pop(s)
	assert.Equal(t, "d", v)
	assert.Len(t, s, 2)
	assert.Nil(t, Copy([]int{}))
	assert.Equal(t, []float64{3, 4}, Iota(3.0, 2))
	assert.Equal(t, []string{"a", "b"}, SortedKeys(map[string]int{"b": 1, "a": 2}))
	assert.Equal(t, []bool{true, true}, SliceWithValue(2, true))
}
