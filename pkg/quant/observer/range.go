// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package observer

import (
	"math"

	"github.com/gomlx/qcalib/pkg/core/tensors"
	"github.com/gomlx/qcalib/pkg/qerrors"
)

// StaticRangeTolerance is the largest difference between two static ranges considered equal.
const StaticRangeTolerance = 1e-4

// Int8 fake quantization bounds (zero-point 0).
const (
	QuantMin = -128
	QuantMax = 127
)

// RangeObserver tracks the numeric range of the tensors of a range group.
//
// A static RangeObserver has its range fixed (e.g. softmax outputs are in [0, 1]): observations don't
// update it.
type RangeObserver struct {
	floatKnown, isFloat bool
	static              bool
	hasRange            bool
	min, max            float64
}

// IsFloat returns whether the group holds floating point tensors. known is false before the first
// observation.
func (r *RangeObserver) IsFloat() (isFloat, known bool) {
	return r.isFloat, r.floatKnown
}

// IsStatic returns whether the range was fixed with SetStaticRange.
func (r *RangeObserver) IsStatic() bool { return r.static }

// Range returns the recorded range. ok is false if no range was recorded yet.
func (r *RangeObserver) Range() (minV, maxV float64, ok bool) {
	return r.min, r.max, r.hasRange
}

// SetStaticRange fixes the range of the group. Once set, setting a range that differs by more than
// StaticRangeTolerance is an error.
func (r *RangeObserver) SetStaticRange(minV, maxV float64) error {
	if minV > maxV {
		return qerrors.Consistencyf("invalid static range [%g, %g]", minV, maxV)
	}
	if r.static {
		if math.Abs(r.min-minV) > StaticRangeTolerance || math.Abs(r.max-maxV) > StaticRangeTolerance {
			return qerrors.Consistencyf("static range already set to [%g, %g], cannot change it to [%g, %g]",
				r.min, r.max, minV, maxV)
		}
		return nil
	}
	r.static, r.hasRange = true, true
	r.min, r.max = minV, maxV
	return nil
}

// Observe merges the extrema of the tensor into the range.
//
// The first observation determines whether the group is floating point, and observing a tensor of the
// other kind later is an error. Static observers only check their range was set.
func (r *RangeObserver) Observe(t *tensors.Tensor) error {
	if !r.floatKnown {
		r.floatKnown, r.isFloat = true, t.IsFloat()
	} else if r.isFloat != t.IsFloat() {
		return qerrors.Consistencyf("range group of floating point=%v observed a tensor of dtype %s", r.isFloat, t.DType())
	}
	if r.static {
		if !r.hasRange {
			return qerrors.Consistencyf("static range group observed before its range was set")
		}
		return nil
	}
	if t.Size() == 0 {
		return nil
	}
	minV, maxV := t.Min(), t.Max()
	if !r.hasRange {
		r.hasRange = true
		r.min, r.max = minV, maxV
		return nil
	}
	r.min = min(r.min, minV)
	r.max = max(r.max, maxV)
	return nil
}

// Scale returns the int8 quantization scale for the recorded range: max(-min, max*128/127)/256.
func (r *RangeObserver) Scale() (float64, error) {
	if !r.hasRange {
		return 0, qerrors.Consistencyf("no range recorded, cannot compute quantization scale")
	}
	return max(-r.min, r.max*128/127) / 256, nil
}

// FakeQuantize rounds the tensor to the int8 grid of the recorded range, keeping it in floating point.
// Non floating point tensors are returned unchanged.
func (r *RangeObserver) FakeQuantize(t *tensors.Tensor) (*tensors.Tensor, error) {
	if !t.IsFloat() {
		return t, nil
	}
	scale, err := r.Scale()
	if err != nil {
		return nil, err
	}
	if scale <= 0 || math.IsInf(scale, 0) || math.IsNaN(scale) {
		return t.Clone(), nil
	}
	return t.Map(func(v float64) float64 {
		q := math.Round(v / scale)
		q = min(max(q, QuantMin), QuantMax)
		return q * scale
	}), nil
}

// Serialize returns the flat state: [isFloat or nil, static, min or nil, max or nil].
func (r *RangeObserver) Serialize() State {
	return State{
		optional(r.isFloat, r.floatKnown),
		r.static,
		optional(r.min, r.hasRange),
		optional(r.max, r.hasRange),
	}
}

// Deserialize restores the state returned by Serialize.
func (r *RangeObserver) Deserialize(state State) error {
	sr := newStateReader("RangeObserver", state, 4)
	isFloat, floatKnown := sr.optionalBool()
	static := sr.boolean()
	minV, hasMin := sr.optionalFloat()
	maxV, hasMax := sr.optionalFloat()
	if sr.err != nil {
		return sr.err
	}
	if hasMin != hasMax {
		return qerrors.Consistencyf("RangeObserver state has only one of min/max set")
	}
	if static && !hasMin {
		return qerrors.Consistencyf("RangeObserver state is static without a range")
	}
	*r = RangeObserver{floatKnown: floatKnown, isFloat: isFloat, static: static, hasRange: hasMin, min: minV, max: maxV}
	return nil
}
