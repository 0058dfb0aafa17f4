// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package quant

import (
	"fmt"

	"github.com/gomlx/qcalib/pkg/core/ir"
	"github.com/gomlx/qcalib/pkg/qerrors"
	"github.com/gomlx/qcalib/pkg/support/disjointset"
	"github.com/gomlx/qcalib/pkg/support/xslices"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// TensorRef identifies an implicit tensor of one method graph.
type TensorRef struct {
	Method string
	Value  ir.ValueId
}

// StaticRange is a fixed range assigned to a range group.
type StaticRange struct {
	RangeID  int
	Min, Max float64
}

// staticRanges lists the kinds whose outputs have a known range, regardless of their inputs.
var staticRanges = map[ir.Kind][2]float64{
	ir.KindOneHot:  {0, 1},
	ir.KindSoftmax: {0, 1},
}

// Grouping of the implicit tensors of a set of method graphs into range groups and shape groups.
//
// Tensors in the same range group share one RangeObserver, and tensors in the same shape group share one
// ShapeObserver. Ids are dense, starting from 0, and only valid for the Grouping that created them.
type Grouping struct {
	Graphs map[string]*ir.Graph

	// Tensors indexed by their tensor id. They are ordered by method name and then in graph order.
	Tensors []TensorRef

	// RangeIDs and ShapeIDs are indexed by tensor id.
	RangeIDs, ShapeIDs []int

	// IsOutput is indexed by tensor id: whether the tensor value is an output of its range group, so
	// it gets a frozen range.
	IsOutput []bool

	NumRanges, NumShapes int

	// Static ranges of the range groups holding the outputs of ops with a known range.
	Static []StaticRange

	tensorIDs map[TensorRef]int
}

// TensorID returns the id of the implicit tensor v of the method, or false if it's not an implicit tensor.
func (gr *Grouping) TensorID(method string, v ir.ValueId) (int, bool) {
	id, found := gr.tensorIDs[TensorRef{Method: method, Value: v}]
	return id, found
}

// String implements fmt.Stringer.
func (gr *Grouping) String() string {
	return fmt.Sprintf("Grouping{%d tensors, %d range groups, %d shape groups}", len(gr.Tensors), gr.NumRanges, gr.NumShapes)
}

// GroupTensors partitions the implicit tensors of the graphs (see package implicit) into range and shape
// groups, and finds the output of each range group.
//
// Control-flow linked values (a loop input, its body parameter, its body return and the loop output;
// the branch returns and the output of an If) share both groups. Range-preserving ops join all their
// tensor inputs and outputs into one range group; shape-preserving ops join their input 0 and output
// into one shape group.
//
// It fails with qerrors.ErrNoOutputTensor if a graph has no output tensor.
func GroupTensors(graphs map[string]*ir.Graph, implicitTensors map[string][]ir.ValueId) (*Grouping, error) {
	gr := &Grouping{
		Graphs:    graphs,
		tensorIDs: make(map[TensorRef]int),
	}
	ranges := disjointset.New[TensorRef]()
	shapes := disjointset.New[TensorRef]()
	methods := xslices.SortedKeys(graphs)
	for _, method := range methods {
		for _, v := range implicitTensors[method] {
			ref := TensorRef{Method: method, Value: v}
			if _, found := gr.tensorIDs[ref]; found {
				continue
			}
			gr.tensorIDs[ref] = len(gr.Tensors)
			gr.Tensors = append(gr.Tensors, ref)
			ranges.Add(ref)
			shapes.Add(ref)
		}
	}

	for _, method := range methods {
		g := graphs[method]
		for _, n := range g.AllNodes() {
			kind := g.Kind(n)
			switch kind {
			case ir.KindLoop:
				body := g.Block(n, 0)
				params, returns := g.BlockParams(body), g.BlockReturns(body)
				for ii, out := range g.NodeOutputs(n) {
					linked := []ir.ValueId{g.Input(n, ii+2), params[ii+1], returns[ii+1], out}
					joinAll(ranges, method, linked)
					joinAll(shapes, method, linked)
				}
			case ir.KindIf:
				for ii, out := range g.NodeOutputs(n) {
					linked := []ir.ValueId{out}
					for _, branch := range g.NodeBlocks(n) {
						linked = append(linked, g.BlockReturns(branch)[ii])
					}
					joinAll(ranges, method, linked)
					joinAll(shapes, method, linked)
				}
			}
			if kind.IsRangePreserving() {
				joinAll(ranges, method, append(g.NodeInputs(n), g.NodeOutputs(n)...))
			}
			if kind.IsShapePreserving() && g.NumInputs(n) > 0 && g.NumOutputs(n) > 0 {
				joinAll(shapes, method, []ir.ValueId{g.Input(n, 0), g.Output(n, 0)})
			}
		}
	}

	rangeSetIDs, shapeSetIDs := ranges.SetIds(), shapes.SetIds()
	gr.NumRanges, gr.NumShapes = ranges.NumSets(), shapes.NumSets()
	gr.RangeIDs = make([]int, len(gr.Tensors))
	gr.ShapeIDs = make([]int, len(gr.Tensors))
	for id, ref := range gr.Tensors {
		gr.RangeIDs[id] = rangeSetIDs[ref]
		gr.ShapeIDs[id] = shapeSetIDs[ref]
	}

	if err := gr.findOutputs(methods); err != nil {
		return nil, err
	}
	for id, ref := range gr.Tensors {
		g := graphs[ref.Method]
		if bounds, found := staticRanges[g.Kind(g.Producer(ref.Value))]; found {
			gr.Static = append(gr.Static, StaticRange{RangeID: gr.RangeIDs[id], Min: bounds[0], Max: bounds[1]})
		}
	}
	klog.V(1).Infof("%s", gr)
	return gr, nil
}

// joinAll joins the values that are implicit tensors of the method into one set.
func joinAll(ds *disjointset.DisjointSet[TensorRef], method string, values []ir.ValueId) {
	var first TensorRef
	found := false
	for _, v := range values {
		ref := TensorRef{Method: method, Value: v}
		if !ds.Contains(ref) {
			continue
		}
		if !found {
			first, found = ref, true
			continue
		}
		ds.MaybeJoin(first, ref)
	}
}

// findOutputs sets IsOutput for every tensor, and checks that every graph has at least one output.
func (gr *Grouping) findOutputs(methods []string) error {
	gr.IsOutput = make([]bool, len(gr.Tensors))
	graphHasOutput := make(map[string]bool, len(methods))
	groupHasOutput := make([]bool, gr.NumRanges)
	for id, ref := range gr.Tensors {
		if gr.isOutput(id, ref) {
			gr.IsOutput[id] = true
			graphHasOutput[ref.Method] = true
			groupHasOutput[gr.RangeIDs[id]] = true
		}
	}
	for _, method := range methods {
		if !graphHasOutput[method] {
			return errors.Wrapf(qerrors.ErrNoOutputTensor, "method %q", method)
		}
	}
	for rangeID, hasOutput := range groupHasOutput {
		if !hasOutput {
			klog.Warningf("range group #%d has no output tensor, its range won't be frozen", rangeID)
		}
	}
	return nil
}

// isOutput returns whether the tensor reaches the graph outputs (possibly inside containers), or is
// used to compute a tensor of another range group.
func (gr *Grouping) isOutput(id int, ref TensorRef) bool {
	g := gr.Graphs[ref.Method]
	for _, use := range g.Uses(ref.Value) {
		if reachesReturn(g, use.Node) {
			return true
		}
		for _, out := range useOutputs(g, use) {
			if otherID, found := gr.TensorID(ref.Method, out); found && gr.RangeIDs[otherID] != gr.RangeIDs[id] {
				return true
			}
		}
	}
	return false
}

// useOutputs returns the outputs of the user node computed from the used value. For a Loop, that's only
// the output of the same carried value.
func useOutputs(g *ir.Graph, use ir.Use) []ir.ValueId {
	if g.Kind(use.Node) != ir.KindLoop {
		return g.NodeOutputs(use.Node)
	}
	if use.Offset < 2 {
		return nil
	}
	return []ir.ValueId{g.Output(use.Node, use.Offset-2)}
}

// reachesReturn returns whether node n is the graph Return, or a container construct whose output
// reaches it.
func reachesReturn(g *ir.Graph, n ir.NodeId) bool {
	if n == g.ReturnNode(g.TopBlock()) {
		return true
	}
	if !g.Kind(n).IsContainerConstruct() {
		return false
	}
	for _, out := range g.NodeOutputs(n) {
		for _, use := range g.Uses(out) {
			if reachesReturn(g, use.Node) {
				return true
			}
		}
	}
	return false
}
