// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package passes implements the graph simplification passes and the Scheduler that drives them to
// a fixpoint.
//
// Every pass rewrites a graph in place and reports whether it changed anything. A pass that finds a
// rewrite opportunity inapplicable (e.g. a loop with a non-constant trip count) simply doesn't change
// the graph: that's not an error. Errors are reserved for malformed graphs, and internal invariant
// breaks panic (with exceptions.Panicf), to be caught by the Scheduler.
//
// The passes:
//
//   - Inliner: inlines CallFunction and CallMethod nodes, except for calls into modules that already
//     carry an observer.
//   - RemoveExpands and EliminateExceptions: remove implicit broadcasting expansions and the branches
//     that only raise exceptions.
//   - LoopUnroller: exposes the loop counter as carried state and fully unrolls for-style loops with a
//     small constant trip count.
//   - LowerBlockTuples, LowerBlockLists: split tuples (and tuple-like lists) crossing loop and
//     conditional boundaries into their components.
//   - FuseListOps: Cat over a ListConstruct becomes FusedCat, Chunk with constant arguments becomes
//     FusedChunk.
//   - Cleanup: constant propagation, peepholes, dead-code elimination, common-subexpression elimination
//     and canonicalization, to a fixpoint.
package passes

import (
	"github.com/gomlx/qcalib/pkg/core/ir"
)

// Pass is a graph rewrite.
type Pass interface {
	// Name of the pass, used in logs and errors.
	Name() string

	// Run rewrites the graph in place and returns whether it changed anything.
	Run(g *ir.Graph) (changed bool, err error)
}

// funcPass adapts a function to the Pass interface.
type funcPass struct {
	name string
	fn   func(g *ir.Graph) (bool, error)
}

// Name implements Pass.
func (p *funcPass) Name() string { return p.name }

// Run implements Pass.
func (p *funcPass) Run(g *ir.Graph) (bool, error) { return p.fn(g) }

// NewPass creates a Pass from a function.
func NewPass(name string, fn func(g *ir.Graph) (bool, error)) Pass {
	return &funcPass{name: name, fn: fn}
}

// infallible adapts a rewrite that can't fail.
func infallible(fn func(g *ir.Graph) bool) func(g *ir.Graph) (bool, error) {
	return func(g *ir.Graph) (bool, error) { return fn(g), nil }
}

// replaceInputWithMany replaces input idx of node n by the given values.
func replaceInputWithMany(g *ir.Graph, n ir.NodeId, idx int, values []ir.ValueId) {
	g.RemoveNodeInput(n, idx)
	for ii, v := range values {
		g.InsertNodeInput(n, idx+ii, v)
	}
}

// outputTypes returns the types of the given values.
func outputTypes(g *ir.Graph, values []ir.ValueId) []*ir.Type {
	types := make([]*ir.Type, len(values))
	for ii, v := range values {
		types[ii] = g.Type(v)
	}
	return types
}

// repeatType returns n copies of t.
func repeatType(t *ir.Type, n int) []*ir.Type {
	types := make([]*ir.Type, n)
	for ii := range types {
		types[ii] = t
	}
	return types
}

// destroyIfUnused destroys the producer of v if it has no side effects and none of its outputs are used.
func destroyIfUnused(g *ir.Graph, v ir.ValueId) {
	n := g.Producer(v)
	if !g.IsAlive(n) || !isRemovable(g, n) {
		return
	}
	g.Destroy(n)
}
