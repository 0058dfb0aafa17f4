// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"math"
	"slices"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

// Map returns a new tensor with fn applied to every element, rounded to the tensor's dtype.
func (t *Tensor) Map(fn func(v float64) float64) *Tensor {
	flat := make([]float64, len(t.flat))
	for ii, v := range t.flat {
		flat[ii] = fn(v)
	}
	return newTensor(t.dtype, flat, slices.Clone(t.dimensions)...)
}

// Binary applies fn elementwise to a and b. Either both have the same dimensions or one of them
// is a scalar (or has a single element), which is broadcast. The result has the dtype of the
// non-broadcast operand, or of a if neither is broadcast.
func Binary(a, b *Tensor, fn func(x, y float64) float64) (*Tensor, error) {
	switch {
	case a.SameShape(b):
		flat := make([]float64, len(a.flat))
		for ii := range flat {
			flat[ii] = fn(a.flat[ii], b.flat[ii])
		}
		return newTensor(a.dtype, flat, slices.Clone(a.dimensions)...), nil
	case b.Size() == 1:
		y := b.flat[0]
		return a.Map(func(x float64) float64 { return fn(x, y) }), nil
	case a.Size() == 1:
		x := a.flat[0]
		return b.Map(func(y float64) float64 { return fn(x, y) }), nil
	}
	return nil, errors.Errorf("incompatible dimensions %v and %v for elementwise operation", a.dimensions, b.dimensions)
}

// Reshape returns a tensor with the same content and new dimensions. One dimension can be -1, in which
// case it's inferred from the size.
func (t *Tensor) Reshape(dimensions ...int) (*Tensor, error) {
	dimensions = slices.Clone(dimensions)
	inferred := -1
	known := 1
	for axis, dim := range dimensions {
		if dim == -1 {
			if inferred >= 0 {
				return nil, errors.Errorf("Reshape(%v): only one dimension can be inferred", dimensions)
			}
			inferred = axis
			continue
		}
		known *= dim
	}
	if inferred >= 0 {
		if known == 0 || t.Size()%known != 0 {
			return nil, errors.Errorf("Reshape(%v): cannot infer dimension for tensor of size %d", dimensions, t.Size())
		}
		dimensions[inferred] = t.Size() / known
	}
	if sizeOf(dimensions) != t.Size() {
		return nil, errors.Errorf("Reshape(%v): tensor with dimensions %v has %d elements", dimensions, t.dimensions, t.Size())
	}
	return &Tensor{dtype: t.dtype, dimensions: dimensions, flat: slices.Clone(t.flat)}, nil
}

// normalizeAxis converts a negative axis to its positive counterpart.
func normalizeAxis(axis, rank int) (int, error) {
	if axis < 0 {
		axis += rank
	}
	if axis < 0 || axis >= rank {
		return 0, errors.Errorf("axis %d out of range for rank %d", axis, rank)
	}
	return axis, nil
}

// splitAt returns the number of "outer" blocks and the size of each inner block for the given axis.
func (t *Tensor) splitAt(axis int) (outer, inner int) {
	outer = sizeOf(t.dimensions[:axis])
	inner = sizeOf(t.dimensions[axis+1:])
	return
}

// Concatenate joins the tensors along the axis. All other dimensions must match.
func Concatenate(axis int, parts ...*Tensor) (*Tensor, error) {
	if len(parts) == 0 {
		return nil, errors.New("Concatenate requires at least one tensor")
	}
	first := parts[0]
	axis, err := normalizeAxis(axis, first.Rank())
	if err != nil {
		return nil, errors.WithMessage(err, "Concatenate")
	}
	dimensions := first.Dimensions()
	dimensions[axis] = 0
	for ii, part := range parts {
		if part.Rank() != first.Rank() {
			return nil, errors.Errorf("Concatenate: tensor #%d has rank %d, expected %d", ii, part.Rank(), first.Rank())
		}
		for a, dim := range part.dimensions {
			if a != axis && dim != first.dimensions[a] {
				return nil, errors.Errorf("Concatenate: tensor #%d has dimensions %v incompatible with %v on axis %d",
					ii, part.dimensions, first.dimensions, axis)
			}
		}
		dimensions[axis] += part.dimensions[axis]
	}
	outer, inner := first.splitAt(axis)
	flat := make([]float64, 0, sizeOf(dimensions))
	for o := range outer {
		for _, part := range parts {
			block := part.dimensions[axis] * inner
			flat = append(flat, part.flat[o*block:(o+1)*block]...)
		}
	}
	return newTensor(first.dtype, flat, dimensions...), nil
}

// Chunk splits the tensor into up to `chunks` pieces along the axis. Each piece has ceil(dim/chunks)
// elements on the axis, except possibly the last, so fewer than `chunks` pieces may be returned.
func (t *Tensor) Chunk(chunks, axis int) ([]*Tensor, error) {
	if chunks <= 0 {
		return nil, errors.Errorf("Chunk: number of chunks must be positive, got %d", chunks)
	}
	axis, err := normalizeAxis(axis, t.Rank())
	if err != nil {
		return nil, errors.WithMessage(err, "Chunk")
	}
	dim := t.dimensions[axis]
	step := (dim + chunks - 1) / chunks
	outer, inner := t.splitAt(axis)
	var parts []*Tensor
	for start := 0; start < dim; start += step {
		end := min(start+step, dim)
		dimensions := t.Dimensions()
		dimensions[axis] = end - start
		flat := make([]float64, 0, sizeOf(dimensions))
		for o := range outer {
			base := o * dim * inner
			flat = append(flat, t.flat[base+start*inner:base+end*inner]...)
		}
		parts = append(parts, &Tensor{dtype: t.dtype, dimensions: dimensions, flat: flat})
	}
	return parts, nil
}

// Transpose swaps the two axes.
func (t *Tensor) Transpose(axis0, axis1 int) (*Tensor, error) {
	rank := t.Rank()
	a0, err := normalizeAxis(axis0, rank)
	if err != nil {
		return nil, errors.WithMessage(err, "Transpose")
	}
	a1, err := normalizeAxis(axis1, rank)
	if err != nil {
		return nil, errors.WithMessage(err, "Transpose")
	}
	dimensions := t.Dimensions()
	dimensions[a0], dimensions[a1] = dimensions[a1], dimensions[a0]
	srcStrides := strides(t.dimensions)
	flat := make([]float64, len(t.flat))
	idx := make([]int, rank)
	for ii := range flat {
		// idx is the multi-index of ii in the output: map it back to the source.
		srcIdx := 0
		for axis := range rank {
			srcAxis := axis
			if axis == a0 {
				srcAxis = a1
			} else if axis == a1 {
				srcAxis = a0
			}
			srcIdx += idx[axis] * srcStrides[srcAxis]
		}
		flat[ii] = t.flat[srcIdx]
		for axis := rank - 1; axis >= 0; axis-- {
			idx[axis]++
			if idx[axis] < dimensions[axis] {
				break
			}
			idx[axis] = 0
		}
	}
	return &Tensor{dtype: t.dtype, dimensions: dimensions, flat: flat}, nil
}

func strides(dimensions []int) []int {
	s := make([]int, len(dimensions))
	stride := 1
	for axis := len(dimensions) - 1; axis >= 0; axis-- {
		s[axis] = stride
		stride *= dimensions[axis]
	}
	return s
}

// MatMul multiplies two rank-2 tensors.
func MatMul(a, b *Tensor) (*Tensor, error) {
	if a.Rank() != 2 || b.Rank() != 2 || a.dimensions[1] != b.dimensions[0] {
		return nil, errors.Errorf("MatMul requires [m, k] x [k, n] tensors, got %v and %v", a.dimensions, b.dimensions)
	}
	m, k, n := a.dimensions[0], a.dimensions[1], b.dimensions[1]
	flat := make([]float64, m*n)
	col := make([]float64, k)
	for j := range n {
		for kk := range k {
			col[kk] = b.flat[kk*n+j]
		}
		for i := range m {
			flat[i*n+j] = floats.Dot(a.flat[i*k:(i+1)*k], col)
		}
	}
	return newTensor(a.dtype, flat, m, n), nil
}

// Softmax computes the softmax over the last axis.
func (t *Tensor) Softmax() *Tensor {
	if t.Rank() == 0 {
		return t.Map(func(float64) float64 { return 1 })
	}
	last := t.dimensions[t.Rank()-1]
	flat := slices.Clone(t.flat)
	for start := 0; start < len(flat); start += last {
		row := flat[start : start+last]
		maxV := floats.Max(row)
		for ii, v := range row {
			row[ii] = math.Exp(v - maxV)
		}
		floats.Scale(1/floats.Sum(row), row)
	}
	return newTensor(t.dtype, flat, t.Dimensions()...)
}

// OneHot returns a tensor with a new last axis of the given depth, with 1 at the index given by each
// element of t, and 0 elsewhere.
func (t *Tensor) OneHot(depth int, dtype dtypes.DType) *Tensor {
	flat := make([]float64, t.Size()*depth)
	for ii, v := range t.flat {
		idx := int(v)
		if idx >= 0 && idx < depth {
			flat[ii*depth+idx] = 1
		}
	}
	return newTensor(dtype, flat, append(t.Dimensions(), depth)...)
}

// Norm returns the L2 norm of the tensor's values.
func (t *Tensor) Norm() float64 {
	return floats.Norm(t.flat, 2)
}

// Distance returns the L-norm of a - b. Both tensors must have the same number of elements.
func Distance(a, b *Tensor, l float64) (float64, error) {
	if a.Size() != b.Size() {
		return 0, errors.Errorf("Distance between tensors of dimensions %v and %v", a.dimensions, b.dimensions)
	}
	return floats.Distance(a.flat, b.flat, l), nil
}
