// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package tensors implements a host `Tensor`, a multidimensional array used by the reference interpreter
// and by the observer runtime.
//
// A Tensor is defined by its dtype (dtypes.DType), its axes' dimensions and its content, stored as a flat
// (row-major) slice. Values are kept as float64 internally, and every operation rounds its results to the
// precision of the tensor's dtype, so Float16, BFloat16 and integer tensors behave as their native
// representations would.
//
// There are various ways to construct a Tensor:
//
//   - FromScalar[T](value T): a scalar (rank 0) tensor.
//   - FromScalarAndDimensions[T](value T, dimensions ...int): a tensor filled with the scalar value.
//   - FromFlatDataAndDimensions[T](data []T, dimensions ...int): a tensor with the given flat data. Example:
//
//     t := FromFlatDataAndDimensions([]float32{1, 2, 3, 4}, 2, 2) // Tensor with [[1,2], [3,4]]
//
//   - FromFloat16 and FromBFloat16 for the half-precision types.
package tensors

import (
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/pkg/errors"
	"github.com/x448/float16"
	"golang.org/x/exp/constraints"
)

// Number is the set of Go types a Tensor can be created from.
type Number interface {
	constraints.Integer | constraints.Float
}

// Tensor is an immutable multidimensional array. Operations return new tensors.
type Tensor struct {
	dtype      dtypes.DType
	dimensions []int
	flat       []float64
}

func sizeOf(dimensions []int) int {
	size := 1
	for _, dim := range dimensions {
		size *= dim
	}
	return size
}

// dtypeFor returns the dtype of the Go type T.
func dtypeFor[T Number]() dtypes.DType {
	var zero T
	switch any(zero).(type) {
	case float64:
		return dtypes.Float64
	case float32:
		return dtypes.Float32
	case int64, int:
		return dtypes.Int64
	case int32:
		return dtypes.Int32
	case int16:
		return dtypes.Int16
	case int8:
		return dtypes.Int8
	case uint64, uint:
		return dtypes.Uint64
	case uint32:
		return dtypes.Uint32
	case uint16:
		return dtypes.Uint16
	case uint8:
		return dtypes.Uint8
	}
	return dtypes.Float64
}

// newTensor creates a tensor taking ownership of flat, rounding its values to dtype.
func newTensor(dtype dtypes.DType, flat []float64, dimensions ...int) *Tensor {
	if dimensions == nil {
		dimensions = []int{}
	}
	t := &Tensor{dtype: dtype, dimensions: dimensions, flat: flat}
	for ii, v := range flat {
		flat[ii] = Round(dtype, v)
	}
	return t
}

// FromFlatDataAndDimensions creates a tensor with the given dimensions and flat (row-major) data.
// It panics if the data size doesn't match the dimensions: that is a bug in the caller.
func FromFlatDataAndDimensions[T Number](data []T, dimensions ...int) *Tensor {
	if len(data) != sizeOf(dimensions) {
		panic(errors.Errorf("FromFlatDataAndDimensions: data has %d elements, dimensions %v require %d",
			len(data), dimensions, sizeOf(dimensions)))
	}
	flat := make([]float64, len(data))
	for ii, v := range data {
		flat[ii] = float64(v)
	}
	return newTensor(dtypeFor[T](), flat, slices.Clone(dimensions)...)
}

// FromScalar returns a scalar (rank 0) tensor.
func FromScalar[T Number](value T) *Tensor {
	return FromFlatDataAndDimensions([]T{value})
}

// FromScalarAndDimensions returns a tensor with the given dimensions filled with value.
func FromScalarAndDimensions[T Number](value T, dimensions ...int) *Tensor {
	data := make([]T, sizeOf(dimensions))
	for ii := range data {
		data[ii] = value
	}
	return FromFlatDataAndDimensions(data, dimensions...)
}

// FromFloat16 creates a Float16 tensor.
func FromFloat16(data []float16.Float16, dimensions ...int) *Tensor {
	flat := make([]float64, len(data))
	for ii, v := range data {
		flat[ii] = float64(v.Float32())
	}
	return FromFlatDataAndDimensions(flat, dimensions...).ConvertDType(dtypes.Float16)
}

// FromBFloat16 creates a BFloat16 tensor.
func FromBFloat16(data []bfloat16.BFloat16, dimensions ...int) *Tensor {
	flat := make([]float64, len(data))
	for ii, v := range data {
		flat[ii] = float64(v.Float32())
	}
	return FromFlatDataAndDimensions(flat, dimensions...).ConvertDType(dtypes.BFloat16)
}

// Round rounds v to the closest value representable by dtype.
func Round(dtype dtypes.DType, v float64) float64 {
	switch dtype {
	case dtypes.Float64:
		return v
	case dtypes.Float32:
		return float64(float32(v))
	case dtypes.Float16:
		return float64(float16.Fromfloat32(float32(v)).Float32())
	case dtypes.BFloat16:
		return float64(bfloat16.FromFloat32(float32(v)).Float32())
	case dtypes.Bool:
		if v != 0 {
			return 1
		}
		return 0
	}
	if dtype.IsInt() {
		if math.IsNaN(v) {
			return 0
		}
		return math.Trunc(v)
	}
	return v
}

// DType of the tensor.
func (t *Tensor) DType() dtypes.DType { return t.dtype }

// Dimensions returns a copy of the tensor's axes dimensions.
func (t *Tensor) Dimensions() []int { return slices.Clone(t.dimensions) }

// Rank returns the number of axes.
func (t *Tensor) Rank() int { return len(t.dimensions) }

// Size returns the number of elements.
func (t *Tensor) Size() int { return len(t.flat) }

// IsScalar returns whether the tensor has rank 0.
func (t *Tensor) IsScalar() bool { return len(t.dimensions) == 0 }

// IsFloat returns whether the tensor holds floating point values.
func (t *Tensor) IsFloat() bool { return t.dtype.IsFloat() }

// Flat returns a copy of the flat values, as float64.
func (t *Tensor) Flat() []float64 { return slices.Clone(t.flat) }

// At returns the element at the given flat index.
func (t *Tensor) At(flatIdx int) float64 { return t.flat[flatIdx] }

// Value returns the value of a scalar tensor.
func (t *Tensor) Value() (float64, error) {
	if t.Size() != 1 {
		return 0, errors.Errorf("Value() requires a tensor with one element, got dimensions %v", t.dimensions)
	}
	return t.flat[0], nil
}

// Min returns the minimum value of the tensor, or +Inf for an empty tensor.
func (t *Tensor) Min() float64 {
	minV := math.Inf(1)
	for _, v := range t.flat {
		minV = min(minV, v)
	}
	return minV
}

// Max returns the maximum value of the tensor, or -Inf for an empty tensor.
func (t *Tensor) Max() float64 {
	maxV := math.Inf(-1)
	for _, v := range t.flat {
		maxV = max(maxV, v)
	}
	return maxV
}

// Clone returns a copy of the tensor.
func (t *Tensor) Clone() *Tensor {
	return &Tensor{dtype: t.dtype, dimensions: slices.Clone(t.dimensions), flat: slices.Clone(t.flat)}
}

// ConvertDType returns a copy of the tensor converted to dtype.
func (t *Tensor) ConvertDType(dtype dtypes.DType) *Tensor {
	return newTensor(dtype, slices.Clone(t.flat), slices.Clone(t.dimensions)...)
}

// SameShape returns whether both tensors have the same dimensions.
func (t *Tensor) SameShape(other *Tensor) bool {
	return slices.Equal(t.dimensions, other.dimensions)
}

// Equal returns whether both tensors have the same dtype, dimensions and values.
func (t *Tensor) Equal(other *Tensor) bool {
	return t.dtype == other.dtype && t.SameShape(other) && slices.Equal(t.flat, other.flat)
}

// InDelta returns whether both tensors have the same dimensions and values within delta.
func (t *Tensor) InDelta(other *Tensor, delta float64) bool {
	if !t.SameShape(other) {
		return false
	}
	for ii, v := range t.flat {
		if math.Abs(v-other.flat[ii]) > delta {
			return false
		}
	}
	return true
}

const maxStringElements = 16

// String implements fmt.Stringer, e.g. "(Float32)[2 3]: [1 2 3 4 5 6]".
func (t *Tensor) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "(%s)%v: [", t.dtype, t.dimensions)
	for ii, v := range t.flat {
		if ii >= maxStringElements {
			fmt.Fprintf(&sb, " ... (%d more)", len(t.flat)-ii)
			break
		}
		if ii > 0 {
			sb.WriteString(" ")
		}
		fmt.Fprintf(&sb, "%g", v)
	}
	sb.WriteString("]")
	return sb.String()
}
