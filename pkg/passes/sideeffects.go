// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package passes

import (
	"github.com/gomlx/qcalib/pkg/core/ir"
	"k8s.io/klog/v2"
)

var (
	// RemoveExpands removes the Expand nodes marked as implicit broadcasting (attribute "implicit" set to
	// true): the consumers broadcast their inputs anyway.
	RemoveExpands = NewPass("remove-expands", infallible(removeExpands))

	// EliminateExceptions replaces the condition of If nodes whose branch raises an exception by a
	// constant selecting the other branch. The following constant propagation removes the If.
	EliminateExceptions = NewPass("eliminate-exceptions", infallible(eliminateExceptions))
)

func removeExpands(g *ir.Graph) bool {
	changed := false
	for _, n := range g.FindNodes(ir.KindExpand) {
		implicit, _ := g.Attr(n, "implicit")
		if isImplicit, _ := implicit.(bool); !isImplicit {
			continue
		}
		g.ReplaceAllUsesWith(g.Output(n, 0), g.Input(n, 0))
		g.Destroy(n)
		changed = true
	}
	return changed
}

func eliminateExceptions(g *ir.Graph) bool {
	changed := false
	for _, n := range g.FindNodes(ir.KindIf) {
		if !g.IsAlive(n) {
			continue
		}
		if _, isConst := g.ConstantBool(g.Input(n, 0)); isConst {
			continue
		}
		raisesOnTrue := blockRaises(g, g.Block(n, 0))
		raisesOnFalse := blockRaises(g, g.Block(n, 1))
		if raisesOnTrue == raisesOnFalse {
			// Both raising means the whole If raises: nothing to choose.
			continue
		}
		klog.V(2).Infof("%s: removing exception branch of %s", g.Name(), g.NodeString(n))
		g.ReplaceNodeInput(n, 0, g.InsertConstant(n, raisesOnFalse))
		changed = true
	}
	return changed
}

// blockRaises returns whether the block raises an exception at its top level.
func blockRaises(g *ir.Graph, b ir.BlockId) bool {
	for _, n := range g.BlockNodes(b) {
		if g.Kind(n) == ir.KindRaiseException {
			return true
		}
	}
	return false
}
