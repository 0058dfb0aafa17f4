// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package quant

import (
	"github.com/gomlx/qcalib/pkg/config"
	"github.com/gomlx/qcalib/pkg/core/ir"
	"github.com/gomlx/qcalib/pkg/module"
	"github.com/gomlx/qcalib/pkg/qerrors"
	"github.com/gomlx/qcalib/pkg/quant/observer"
	"github.com/gomlx/qcalib/pkg/support/xslices"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ObserverType is the type of the value holding the Observer in instrumented graphs.
var ObserverType = ir.ClassOf("qcalib.Observer")

// Attributes of the Observe nodes.
const (
	AttrRangeID  = "range_id"
	AttrShapeID  = "shape_id"
	AttrTensorID = "tensor_id"
	AttrIsOutput = "is_output"
)

// NewObserver creates the Observer for the grouping: one RangeObserver per range group, one
// ShapeObserver per shape group and one Stats per tensor, with the static ranges already set.
func NewObserver(cfg *config.Config, gr *Grouping) (*observer.Observer, error) {
	obs := observer.New(observer.ParamsFromConfig(cfg), gr.NumRanges, gr.NumShapes, len(gr.Tensors))
	for _, static := range gr.Static {
		if err := obs.SetStaticRange(static.RangeID, static.Min, static.Max); err != nil {
			return nil, err
		}
	}
	return obs, nil
}

// AttachObserver creates the Observer for the grouping, attaches it to m as module.ObserverAttr, and
// instruments every graph of the grouping with Observe calls (see InstrumentGraph).
//
// Either all graphs are instrumented and the observer attached, or, on error, nothing is changed.
// It fails with an error wrapping qerrors.ErrQuantConsistency if m already has an observer.
func AttachObserver(m *module.Module, cfg *config.Config, gr *Grouping) (*observer.Observer, error) {
	if m.HasAttr(module.ObserverAttr) {
		return nil, qerrors.Consistencyf("module %s already has an observer attribute %q", m, module.ObserverAttr)
	}
	obs, err := NewObserver(cfg, gr)
	if err != nil {
		return nil, err
	}
	instrumented := make(map[string]*ir.Graph, len(gr.Graphs))
	for _, method := range xslices.SortedKeys(gr.Graphs) {
		g := gr.Graphs[method].Clone()
		if err := InstrumentGraph(g, method, gr); err != nil {
			return nil, err
		}
		instrumented[method] = g
	}
	if err := m.RegisterAttribute(module.ObserverAttr, obs); err != nil {
		return nil, errors.Wrap(qerrors.ErrQuantConsistency, err.Error())
	}
	for method, g := range instrumented {
		gr.Graphs[method].Assign(g)
	}
	klog.V(1).Infof("attached %s to %s", obs, m)
	return obs, nil
}

// InstrumentGraph inserts an accessor of the observer attribute at the start of the graph, and an Observe
// node after the definition of each implicit tensor of the method (or after the accessor, if that comes
// later). Uses of the tensor ordered after the Observe node are redirected to its output.
//
// The graph's first input must be the module (self).
func InstrumentGraph(g *ir.Graph, method string, gr *Grouping) error {
	inputs := g.Inputs()
	if len(inputs) == 0 || g.Type(inputs[0]).Kind != ir.TypeClass {
		return qerrors.Invariantf("method %q graph must take the module as its first input to be instrumented", method)
	}
	accessor := g.InsertAfter(g.CreateNode(ir.KindGetAttr, []ir.ValueId{inputs[0]}, ObserverType), g.ParamNode(g.TopBlock()))
	g.SetAttr(accessor, "name", module.ObserverAttr)
	obsValue := g.Output(accessor, 0)

	count := 0
	for id, ref := range gr.Tensors {
		if ref.Method != method {
			continue
		}
		v := ref.Value
		after := g.Producer(v)
		if g.IsBefore(after, accessor) {
			after = accessor
		}
		observe := g.InsertAfter(g.CreateNode(ir.KindObserve, []ir.ValueId{obsValue, v}, g.Type(v)), after)
		g.SetAttr(observe, AttrRangeID, int64(gr.RangeIDs[id]))
		g.SetAttr(observe, AttrShapeID, int64(gr.ShapeIDs[id]))
		g.SetAttr(observe, AttrTensorID, int64(id))
		g.SetAttr(observe, AttrIsOutput, gr.IsOutput[id])
		if producer := g.Producer(v); g.Source(producer) != "" {
			g.SetSource(observe, g.Source(producer))
		}
		observed := g.Output(observe, 0)
		if name := g.DebugName(v); name != "" {
			g.SetName(observed, name+".observed")
		}
		g.ReplaceUsesAfter(v, observed, observe)
		count++
	}
	klog.V(1).Infof("method %q: %d observers inserted", method, count)
	return nil
}
