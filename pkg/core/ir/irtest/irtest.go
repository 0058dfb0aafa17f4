// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package irtest holds test utilities to build graphs for packages that depend on the ir package.
package irtest

import (
	"testing"

	"github.com/gomlx/qcalib/pkg/core/ir"
	"github.com/stretchr/testify/require"
)

// Builder appends nodes to the end of a block of a graph.
type Builder struct {
	G     *ir.Graph
	Block ir.BlockId
}

// New creates a new graph and a Builder positioned on its top block.
func New(name string) *Builder {
	g := ir.New(name)
	return &Builder{G: g, Block: g.TopBlock()}
}

// In returns a Builder for another block of the same graph.
func (b *Builder) In(block ir.BlockId) *Builder {
	return &Builder{G: b.G, Block: block}
}

// Input adds a named graph input.
func (b *Builder) Input(name string, t *ir.Type) ir.ValueId {
	return b.G.AddInput(name, t)
}

// Node appends a node and returns it.
func (b *Builder) Node(kind ir.Kind, inputs []ir.ValueId, outTypes ...*ir.Type) ir.NodeId {
	return b.G.AppendNode(b.Block, b.G.CreateNode(kind, inputs, outTypes...))
}

// Op appends a node with a single output of type t and returns the output.
func (b *Builder) Op(kind ir.Kind, t *ir.Type, inputs ...ir.ValueId) ir.ValueId {
	return b.G.Output(b.Node(kind, inputs, t), 0)
}

// Tensor appends a node with a single tensor output.
func (b *Builder) Tensor(kind ir.Kind, inputs ...ir.ValueId) ir.ValueId {
	return b.Op(kind, ir.TensorType, inputs...)
}

// Named sets the debug name of v and returns it.
func (b *Builder) Named(v ir.ValueId, name string) ir.ValueId {
	b.G.SetName(v, name)
	return v
}

// Const appends a constant and returns its value.
func (b *Builder) Const(value any) ir.ValueId {
	return b.G.InsertConstant(b.G.ReturnNode(b.Block), value)
}

// Return appends values to the block returns.
func (b *Builder) Return(values ...ir.ValueId) {
	for _, v := range values {
		b.G.AddBlockReturn(b.Block, v)
	}
}

// BodyFn builds the body of a loop given its iteration counter and carried values, and returns the
// continue condition and the next carried values.
type BodyFn func(body *Builder, iter ir.ValueId, carried []ir.ValueId) (cont ir.ValueId, next []ir.ValueId)

// Loop appends a Loop node carrying the given initial values and returns its outputs.
func (b *Builder) Loop(maxTrip, cond ir.ValueId, initial []ir.ValueId, bodyFn BodyFn) []ir.ValueId {
	g := b.G
	inputs := append([]ir.ValueId{maxTrip, cond}, initial...)
	types := make([]*ir.Type, len(initial))
	for ii, v := range initial {
		types[ii] = g.Type(v)
	}
	n := b.Node(ir.KindLoop, inputs, types...)
	body := b.In(g.AddNodeBlock(n))
	iter := body.Named(g.AddBlockParam(body.Block, ir.IntType), "i")
	carried := make([]ir.ValueId, len(initial))
	for ii, t := range types {
		carried[ii] = g.AddBlockParam(body.Block, t)
	}
	cont, next := bodyFn(body, iter, carried)
	body.Return(cont)
	body.Return(next...)
	return g.NodeOutputs(n)
}

// ForLoop appends a for-style loop (constant true conditions) with the given trip count.
func (b *Builder) ForLoop(tripCount ir.ValueId, initial []ir.ValueId,
	bodyFn func(body *Builder, iter ir.ValueId, carried []ir.ValueId) []ir.ValueId) []ir.ValueId {
	return b.Loop(tripCount, b.Const(true), initial, func(body *Builder, iter ir.ValueId, carried []ir.ValueId) (ir.ValueId, []ir.ValueId) {
		next := bodyFn(body, iter, carried)
		return body.Const(true), next
	})
}

// If appends an If node with the given output types, building each branch with the given functions.
func (b *Builder) If(cond ir.ValueId, outTypes []*ir.Type, thenFn, elseFn func(branch *Builder) []ir.ValueId) []ir.ValueId {
	g := b.G
	n := b.Node(ir.KindIf, []ir.ValueId{cond}, outTypes...)
	for _, fn := range []func(*Builder) []ir.ValueId{thenFn, elseFn} {
		branch := b.In(g.AddNodeBlock(n))
		branch.Return(fn(branch)...)
	}
	return g.NodeOutputs(n)
}

// RequireLint fails the test if the graph is not well-formed.
func RequireLint(t *testing.T, g *ir.Graph) {
	t.Helper()
	require.NoErrorf(t, g.Lint(), "graph:\n%s", g)
}

// CountKind returns the number of nodes of the given kind in the graph, at any depth.
func CountKind(g *ir.Graph, kind ir.Kind) int {
	return len(g.FindNodes(kind))
}
