// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package passes

import (
	"slices"

	"github.com/gomlx/qcalib/pkg/core/ir"
	"k8s.io/klog/v2"
)

// DefaultMaxUnrollTripCount is the largest constant trip count of a loop fully unrolled by default.
const DefaultMaxUnrollTripCount = 32

// LoopUnroller rewrites for-style loops: loops whose initial condition and continue condition are both
// the constant true.
//
// If the body uses the iteration counter, it's first exposed as an explicit carried value incremented
// by the body. Then, if the trip count is a constant no larger than MaxTripCount, the loop is fully
// unrolled: the body is copied once per iteration, each copy taking the carried values of the previous one.
type LoopUnroller struct {
	MaxTripCount int
}

// NewLoopUnroller returns a LoopUnroller that fully unrolls loops of up to maxTripCount iterations.
func NewLoopUnroller(maxTripCount int) *LoopUnroller {
	return &LoopUnroller{MaxTripCount: maxTripCount}
}

// Name implements Pass.
func (u *LoopUnroller) Name() string { return "loop-unroller" }

// Run implements Pass.
func (u *LoopUnroller) Run(g *ir.Graph) (bool, error) {
	changed := false
	// Inner loops first: unrolling an outer loop copies its body.
	for _, n := range slices.Backward(g.FindNodes(ir.KindLoop)) {
		if !g.IsAlive(n) || !isForStyle(g, n) {
			continue
		}
		changed = exposeCounter(g, n) || changed
		if trip, ok := g.ConstantInt(g.Input(n, 0)); ok && trip <= int64(u.MaxTripCount) {
			unroll(g, n, int(max(trip, 0)))
			changed = true
		}
	}
	return changed, nil
}

// isForStyle returns whether the loop runs exactly its trip count: the initial and continue conditions
// are constant true.
func isForStyle(g *ir.Graph, n ir.NodeId) bool {
	if cond, ok := g.ConstantBool(g.Input(n, 1)); !ok || !cond {
		return false
	}
	body := g.Block(n, 0)
	cont, ok := g.ConstantBool(g.BlockReturns(body)[0])
	return ok && cont
}

// exposeCounter replaces the uses of the iteration counter of the loop body by a carried value,
// initialized with 0 and incremented at the end of the body. It returns false if the counter is unused.
func exposeCounter(g *ir.Graph, n ir.NodeId) bool {
	body := g.Block(n, 0)
	iter := g.BlockParams(body)[0]
	if !g.HasUses(iter) {
		return false
	}
	g.AddNodeInput(n, g.InsertConstant(n, int64(0)))
	counter := g.AddBlockParam(body, ir.IntType)
	g.SetName(counter, g.DebugName(iter))
	g.ReplaceAllUsesWith(iter, counter)
	returnNode := g.ReturnNode(body)
	next := g.Insert(returnNode, ir.KindAdd, []ir.ValueId{counter, g.InsertConstant(returnNode, int64(1))}, ir.IntType)
	g.AddBlockReturn(body, g.Output(next, 0))
	g.AddNodeOutput(n, ir.IntType)
	return true
}

// unroll replaces the loop by tripCount copies of its body.
func unroll(g *ir.Graph, n ir.NodeId, tripCount int) {
	klog.V(2).Infof("%s: unrolling %d iterations of %s", g.Name(), tripCount, g.NodeString(n))
	body := g.Block(n, 0)
	carried := g.NodeInputs(n)[2:]
	for i := range tripCount {
		args := append([]ir.ValueId{g.InsertConstant(n, int64(i))}, carried...)
		carried = g.CopyBlock(g, body, args, n)[1:]
	}
	replaceWithValues(g, n, carried...)
}
