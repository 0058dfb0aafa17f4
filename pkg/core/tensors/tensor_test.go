// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"math"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

func TestConstructors(t *testing.T) {
	x := FromFlatDataAndDimensions([]float32{1, 2, 3, 4, 5, 6}, 2, 3)
	assert.Equal(t, dtypes.Float32, x.DType())
	assert.Equal(t, []int{2, 3}, x.Dimensions())
	assert.Equal(t, 6, x.Size())
	assert.True(t, x.IsFloat())
	assert.Equal(t, 1.0, x.Min())
	assert.Equal(t, 6.0, x.Max())
	assert.Equal(t, "(Float32)[2 3]: [1 2 3 4 5 6]", x.String())

	s := FromScalar(int32(7))
	assert.True(t, s.IsScalar())
	assert.False(t, s.IsFloat())
	v, err := s.Value()
	require.NoError(t, err)
	assert.Equal(t, 7.0, v)

	_, err = x.Value()
	require.Error(t, err)

	ones := FromScalarAndDimensions(1.0, 3)
	assert.Equal(t, []float64{1, 1, 1}, ones.Flat())

	assert.Panics(t, func() { FromFlatDataAndDimensions([]int8{1, 2, 3}, 2, 2) })
}

func TestRounding(t *testing.T) {
	// 1/3 isn't representable: each dtype rounds it differently.
	third := 1.0 / 3.0
	f16 := FromFloat16([]float16.Float16{float16.Fromfloat32(float32(third))})
	assert.Equal(t, dtypes.Float16, f16.DType())
	assert.InDelta(t, third, f16.At(0), 1e-3)
	assert.NotEqual(t, third, f16.At(0))

	bf16 := FromBFloat16([]bfloat16.BFloat16{bfloat16.FromFloat32(float32(third))})
	assert.Equal(t, dtypes.BFloat16, bf16.DType())
	assert.InDelta(t, third, bf16.At(0), 1e-2)

	ints := FromFlatDataAndDimensions([]float64{1.7, -2.5}, 2).ConvertDType(dtypes.Int32)
	assert.Equal(t, []float64{1, -2}, ints.Flat())
	assert.Equal(t, 0.0, Round(dtypes.Int64, math.NaN()))
	assert.Equal(t, 1.0, Round(dtypes.Bool, -3))
}

func TestBinary(t *testing.T) {
	a := FromFlatDataAndDimensions([]float32{1, 2, 3}, 3)
	b := FromFlatDataAndDimensions([]float32{10, 20, 30}, 3)
	sum, err := Binary(a, b, func(x, y float64) float64 { return x + y })
	require.NoError(t, err)
	assert.Equal(t, []float64{11, 22, 33}, sum.Flat())

	scaled, err := Binary(FromScalar(float32(2)), a, func(x, y float64) float64 { return x * y })
	require.NoError(t, err)
	assert.Equal(t, []int{3}, scaled.Dimensions())
	assert.Equal(t, []float64{2, 4, 6}, scaled.Flat())

	_, err = Binary(a, FromScalarAndDimensions(float32(1), 2), func(x, y float64) float64 { return x })
	require.Error(t, err)
}

func TestConcatenateAndChunk(t *testing.T) {
	a := FromFlatDataAndDimensions([]float32{1, 2, 3, 4}, 2, 2)
	b := FromFlatDataAndDimensions([]float32{5, 6}, 2, 1)
	c, err := Concatenate(1, a, b)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, c.Dimensions())
	assert.Equal(t, []float64{1, 2, 5, 3, 4, 6}, c.Flat())

	c0, err := Concatenate(0, a, a)
	require.NoError(t, err)
	assert.Equal(t, []int{4, 2}, c0.Dimensions())

	_, err = Concatenate(0, a, b)
	require.Error(t, err)

	parts, err := c.Chunk(3, -1)
	require.NoError(t, err)
	require.Len(t, parts, 3)
	assert.Equal(t, []float64{1, 3}, parts[0].Flat())
	assert.Equal(t, []float64{5, 6}, parts[2].Flat())
	rejoined, err := Concatenate(1, parts...)
	require.NoError(t, err)
	assert.True(t, rejoined.Equal(c))

	// 5 elements in 3 chunks: sizes 2, 2, 1.
	parts, err = FromFlatDataAndDimensions([]int64{1, 2, 3, 4, 5}, 5).Chunk(3, 0)
	require.NoError(t, err)
	require.Len(t, parts, 3)
	assert.Equal(t, []int{1}, parts[2].Dimensions())

	// 4 elements in 3 chunks: sizes 2, 2 only.
	parts, err = FromFlatDataAndDimensions([]int64{1, 2, 3, 4}, 4).Chunk(3, 0)
	require.NoError(t, err)
	assert.Len(t, parts, 2)
}

func TestShapeOps(t *testing.T) {
	x := FromFlatDataAndDimensions([]float64{1, 2, 3, 4, 5, 6}, 2, 3)
	r, err := x.Reshape(3, -1)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 2}, r.Dimensions())
	_, err = x.Reshape(4, -1)
	require.Error(t, err)

	tr, err := x.Transpose(0, 1)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 2}, tr.Dimensions())
	assert.Equal(t, []float64{1, 4, 2, 5, 3, 6}, tr.Flat())

	eye := FromFlatDataAndDimensions([]float64{1, 0, 0, 0, 1, 0, 0, 0, 1}, 3, 3)
	prod, err := MatMul(x, eye)
	require.NoError(t, err)
	assert.True(t, prod.Equal(x))
	_, err = MatMul(x, x)
	require.Error(t, err)

	sm := FromFlatDataAndDimensions([]float32{1, 1, 1, 1}, 2, 2).Softmax()
	assert.True(t, sm.InDelta(FromScalarAndDimensions(float32(0.5), 2, 2), 1e-6))

	oh := FromFlatDataAndDimensions([]int32{0, 2}, 2).OneHot(3, dtypes.Float32)
	assert.Equal(t, []float64{1, 0, 0, 0, 0, 1}, oh.Flat())
}

func TestNorms(t *testing.T) {
	a := FromFlatDataAndDimensions([]float64{3, 4}, 2)
	assert.Equal(t, 5.0, a.Norm())
	b := FromFlatDataAndDimensions([]float64{2, 2}, 2)
	l1, err := Distance(a, b, 1)
	require.NoError(t, err)
	assert.Equal(t, 3.0, l1)
	l2, err := Distance(a, b, 2)
	require.NoError(t, err)
	assert.InDelta(t, math.Sqrt(5), l2, 1e-12)
}
