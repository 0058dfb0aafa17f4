// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package observer

import (
	"slices"

	"github.com/gomlx/qcalib/pkg/core/tensors"
	"github.com/gomlx/qcalib/pkg/qerrors"
)

// UnknownDim marks an axis whose size changed between observations.
const UnknownDim = -1

// ShapeObserver records the shape shared by the tensors of a shape group. Axes whose sizes differ
// between observations become UnknownDim.
type ShapeObserver struct {
	recorded   bool
	dimensions []int
}

// Observe merges the shape of the tensor. A rank different from the one recorded is an error.
func (s *ShapeObserver) Observe(t *tensors.Tensor) error {
	dims := t.Dimensions()
	if !s.recorded {
		s.recorded = true
		s.dimensions = dims
		return nil
	}
	if len(dims) != len(s.dimensions) {
		return qerrors.Consistencyf("observed tensor of rank %d (dimensions %v) in a shape group of rank %d (%v)",
			len(dims), dims, len(s.dimensions), s.dimensions)
	}
	for axis, dim := range dims {
		if s.dimensions[axis] != UnknownDim && s.dimensions[axis] != dim {
			s.dimensions[axis] = UnknownDim
		}
	}
	return nil
}

// Shape returns the recorded dimensions, with UnknownDim for dynamic axes. ok is false if nothing was
// observed yet.
func (s *ShapeObserver) Shape() (dimensions []int, ok bool) {
	return slices.Clone(s.dimensions), s.recorded
}

// Serialize returns the flat state: [recorded, (dim or nil)...].
func (s *ShapeObserver) Serialize() State {
	dims := make(State, len(s.dimensions))
	for ii, dim := range s.dimensions {
		dims[ii] = optional(dim, dim != UnknownDim)
	}
	return State{s.recorded, dims}
}

// Deserialize restores the state returned by Serialize.
func (s *ShapeObserver) Deserialize(state State) error {
	r := newStateReader("ShapeObserver", state, 2)
	recorded := r.boolean()
	dimsState := r.tuple()
	if r.err != nil {
		return r.err
	}
	dims := make([]int, len(dimsState))
	dr := newStateReader("ShapeObserver dimensions", dimsState, len(dimsState))
	for ii, dim := range dimsState {
		if dim == nil {
			dr.next()
			dims[ii] = UnknownDim
			continue
		}
		dims[ii] = dr.integer()
	}
	if dr.err != nil {
		return dr.err
	}
	if !recorded {
		dims = nil
	}
	s.recorded, s.dimensions = recorded, dims
	return nil
}
