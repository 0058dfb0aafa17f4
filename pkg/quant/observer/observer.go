// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package observer implements the runtime objects invoked by instrumented graphs: one Observer per
// module, holding a RangeObserver per range group, a ShapeObserver per shape group and a Stats per
// implicit tensor, all sharing one Params.
//
// An Observer is mutated on every execution of the instrumented graph and it's not safe for concurrent
// use: executions sharing an Observer must be serialized by the caller.
//
// Every object has a symmetric Serialize/Deserialize pair using a flat State tuple, and the whole Observer
// can be persisted as JSON with Save and Load.
package observer

import (
	"fmt"

	"github.com/gomlx/qcalib/pkg/core/tensors"
	"github.com/gomlx/qcalib/pkg/qerrors"
	"github.com/pkg/errors"
)

// Observer aggregates the trackers of one instrumented module.
type Observer struct {
	Params Params

	called bool
	ranges []RangeObserver
	shapes []ShapeObserver
	stats  []Stats
}

// New creates an Observer with the given number of range groups, shape groups and tracked tensors.
func New(params Params, numRanges, numShapes, numTensors int) *Observer {
	return &Observer{
		Params: params,
		ranges: make([]RangeObserver, numRanges),
		shapes: make([]ShapeObserver, numShapes),
		stats:  make([]Stats, numTensors),
	}
}

// String implements fmt.Stringer.
func (o *Observer) String() string {
	return fmt.Sprintf("Observer(%d ranges, %d shapes, %d tensors)", len(o.ranges), len(o.shapes), len(o.stats))
}

// NumRanges returns the number of range groups.
func (o *Observer) NumRanges() int { return len(o.ranges) }

// NumShapes returns the number of shape groups.
func (o *Observer) NumShapes() int { return len(o.shapes) }

// NumTensors returns the number of tracked tensors.
func (o *Observer) NumTensors() int { return len(o.stats) }

// Called returns whether Observe was called at least once.
func (o *Observer) Called() bool { return o.called }

// RangeObserver returns the tracker of the range group.
func (o *Observer) RangeObserver(rangeID int) *RangeObserver { return &o.ranges[rangeID] }

// ShapeObserver returns the tracker of the shape group.
func (o *Observer) ShapeObserver(shapeID int) *ShapeObserver { return &o.shapes[shapeID] }

// Stats returns the quantization error tracker of the tensor.
func (o *Observer) Stats(tensorID int) *Stats { return &o.stats[tensorID] }

// Shape returns the dimensions recorded for the shape group, see ShapeObserver.Shape.
func (o *Observer) Shape(shapeID int) ([]int, bool) { return o.shapes[shapeID].Shape() }

// Range returns the range recorded for the range group.
func (o *Observer) Range(rangeID int) (minV, maxV float64, ok bool) { return o.ranges[rangeID].Range() }

// IsFloat returns whether the range group holds floating point tensors.
func (o *Observer) IsFloat(rangeID int) (isFloat, known bool) { return o.ranges[rangeID].IsFloat() }

// MeanSQNR returns the mean signal-to-quantization-noise ratio of the tensor.
func (o *Observer) MeanSQNR(tensorID int) float64 { return o.stats[tensorID].MeanSQNR() }

// MeanL1 returns the mean L1 quantization error of the tensor.
func (o *Observer) MeanL1(tensorID int) float64 { return o.stats[tensorID].MeanL1() }

// SetStaticRange fixes the range of a range group, see RangeObserver.SetStaticRange.
func (o *Observer) SetStaticRange(rangeID int, minV, maxV float64) error {
	if err := checkID("range", rangeID, len(o.ranges)); err != nil {
		return err
	}
	return errors.WithMessagef(o.ranges[rangeID].SetStaticRange(minV, maxV), "range group #%d", rangeID)
}

func checkID(what string, id, n int) error {
	if id < 0 || id >= n {
		return qerrors.Consistencyf("%s id %d out of bounds (%d in observer)", what, id, n)
	}
	return nil
}

func (o *Observer) checkIDs(rangeID, shapeID, tensorID int) error {
	if err := checkID("range", rangeID, len(o.ranges)); err != nil {
		return err
	}
	if err := checkID("shape", shapeID, len(o.shapes)); err != nil {
		return err
	}
	return checkID("tensor", tensorID, len(o.stats))
}

// Observe is invoked by the instrumented graph for the tensor with the given ids. It returns the tensor
// that replaces it in the rest of the graph.
//
//   - If observation is enabled, the shape group is updated, and for outputs also the range group.
//   - For floating point outputs with fake quantization enabled, it returns the fake-quantized tensor,
//     optionally recording the quantization error.
//   - With only stats tracking enabled, the quantization error is recorded (if the range group has a
//     range already) but the original tensor is returned.
//   - Non floating point tensors are always returned unchanged.
func (o *Observer) Observe(t *tensors.Tensor, rangeID, shapeID, tensorID int, isOutput bool) (*tensors.Tensor, error) {
	if err := o.checkIDs(rangeID, shapeID, tensorID); err != nil {
		return nil, err
	}
	o.called = true
	p := &o.Params
	if p.ObserverEnabled {
		if err := o.shapes[shapeID].Observe(t); err != nil {
			return nil, errors.WithMessagef(err, "shape group #%d, tensor #%d", shapeID, tensorID)
		}
		if isOutput {
			if err := o.ranges[rangeID].Observe(t); err != nil {
				return nil, errors.WithMessagef(err, "range group #%d, tensor #%d", rangeID, tensorID)
			}
		}
	}
	if !t.IsFloat() {
		return t, nil
	}
	rangeObs := &o.ranges[rangeID]
	if p.FakeQuantizeEnabled && isOutput {
		quantized, err := rangeObs.FakeQuantize(t)
		if err != nil {
			return nil, errors.WithMessagef(err, "range group #%d, tensor #%d", rangeID, tensorID)
		}
		if p.TrackQuantStats {
			if err := o.stats[tensorID].Update(t, quantized); err != nil {
				return nil, err
			}
		}
		return quantized, nil
	}
	if p.TrackQuantStats {
		if _, _, ok := rangeObs.Range(); ok {
			quantized, err := rangeObs.FakeQuantize(t)
			if err != nil {
				return nil, err
			}
			if err := o.stats[tensorID].Update(t, quantized); err != nil {
				return nil, err
			}
		}
	}
	return t, nil
}

// Serialize returns the flat state: [called, params, (range states...), (shape states...), (stats states...)].
func (o *Observer) Serialize() State {
	ranges := make(State, len(o.ranges))
	for ii := range o.ranges {
		ranges[ii] = o.ranges[ii].Serialize()
	}
	shapes := make(State, len(o.shapes))
	for ii := range o.shapes {
		shapes[ii] = o.shapes[ii].Serialize()
	}
	stats := make(State, len(o.stats))
	for ii := range o.stats {
		stats[ii] = o.stats[ii].Serialize()
	}
	return State{o.called, o.Params.Serialize(), ranges, shapes, stats}
}

// Deserialize restores the state returned by Serialize. The number of groups and tensors is taken
// from the state. On error the Observer is left unchanged.
func (o *Observer) Deserialize(state State) error {
	r := newStateReader("Observer", state, 5)
	called := r.boolean()
	paramsState := r.tuple()
	rangesState := r.tuple()
	shapesState := r.tuple()
	statsState := r.tuple()
	if r.err != nil {
		return r.err
	}
	restored := &Observer{called: called}
	if err := restored.Params.Deserialize(paramsState); err != nil {
		return err
	}
	restored.ranges = make([]RangeObserver, len(rangesState))
	for ii, s := range rangesState {
		if err := deserializeElement(&restored.ranges[ii], s, "range", ii); err != nil {
			return err
		}
	}
	restored.shapes = make([]ShapeObserver, len(shapesState))
	for ii, s := range shapesState {
		if err := deserializeElement(&restored.shapes[ii], s, "shape", ii); err != nil {
			return err
		}
	}
	restored.stats = make([]Stats, len(statsState))
	for ii, s := range statsState {
		if err := deserializeElement(&restored.stats[ii], s, "stats", ii); err != nil {
			return err
		}
	}
	*o = *restored
	return nil
}

type deserializer interface {
	Deserialize(state State) error
}

func deserializeElement(d deserializer, s any, what string, idx int) error {
	state, ok := s.(State)
	if !ok {
		return errors.Errorf("Observer %s state #%d must be a tuple, got %T", what, idx, s)
	}
	return errors.WithMessagef(d.Deserialize(state), "Observer %s state #%d", what, idx)
}

// Clone returns an independent copy of the Observer.
func (o *Observer) Clone() *Observer {
	o2 := &Observer{
		Params: o.Params,
		called: o.called,
		ranges: make([]RangeObserver, len(o.ranges)),
		shapes: make([]ShapeObserver, len(o.shapes)),
		stats:  make([]Stats, len(o.stats)),
	}
	copy(o2.ranges, o.ranges)
	copy(o2.stats, o.stats)
	for ii, s := range o.shapes {
		dims, _ := s.Shape()
		o2.shapes[ii] = ShapeObserver{recorded: s.recorded, dimensions: dims}
	}
	return o2
}

// CloneAttr implements module.AttrCloner, so cloned modules get their own Observer.
func (o *Observer) CloneAttr() any { return o.Clone() }
