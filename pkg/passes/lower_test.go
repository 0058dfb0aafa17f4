// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package passes

import (
	"testing"

	"github.com/gomlx/qcalib/pkg/core/ir"
	"github.com/gomlx/qcalib/pkg/core/ir/irtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireNoContainerOutputs(t *testing.T, g *ir.Graph, kind ir.TypeKind) {
	t.Helper()
	for _, n := range g.FindNodes(ir.KindLoop, ir.KindIf) {
		for _, out := range g.NodeOutputs(n) {
			require.NotEqualf(t, kind, g.Type(out).Kind, "%s still outputs a %s:\n%s", g.NodeString(n), kind, g)
		}
	}
}

func TestLowerBlockTuplesLoop(t *testing.T) {
	b := irtest.New("f")
	x := b.Input("x", ir.TensorType)
	n := b.Input("n", ir.IntType)
	tupleT := ir.TupleOf(ir.TensorType, ir.IntType, ir.TensorType)
	tuple := b.Op(ir.KindTupleConstruct, tupleT, x, b.Const(1), b.Tensor(ir.KindNeg, x))
	outs := b.Loop(n, b.Const(true), []ir.ValueId{tuple},
		func(body *irtest.Builder, _ ir.ValueId, carried []ir.ValueId) (ir.ValueId, []ir.ValueId) {
			tup := carried[0]
			a := body.Tensor(ir.KindTupleIndex, tup, body.Const(0))
			c := body.Op(ir.KindTupleIndex, ir.IntType, tup, body.Const(1))
			d := body.Tensor(ir.KindTupleIndex, tup, body.Const(2))
			nextC := body.Op(ir.KindMul, ir.IntType, c, body.Const(2))
			next := body.Op(ir.KindTupleConstruct, tupleT, body.Tensor(ir.KindAdd, a, d), nextC, d)
			return body.Op(ir.KindLt, ir.BoolType, nextC, body.Const(16)), []ir.ValueId{next}
		})
	b.Return(outs[0])
	irtest.RequireLint(t, b.G)
	original := b.G.Clone()

	changed, err := LowerBlockTuples.Run(b.G)
	require.NoError(t, err)
	require.True(t, changed)
	irtest.RequireLint(t, b.G)
	requireNoContainerOutputs(t, b.G, ir.TypeTuple)

	// Round trip: the loop components are re-packed right after the loop, in order.
	loop := b.G.FindNodes(ir.KindLoop)[0]
	require.Equal(t, 3, b.G.NumOutputs(loop))
	repacked := b.G.Outputs()[0]
	assert.True(t, b.G.Type(repacked).Equal(tupleT))
	assert.Equal(t, b.G.NodeOutputs(loop), b.G.NodeInputs(b.G.Producer(repacked)))
	for _, trips := range []int64{0, 1, 3, 10} {
		requireSameResults(t, original, b.G, vector(1, 2), trips)
	}

	// After cleanup no tuple is built inside the loop.
	_, err = Cleanup.Run(b.G)
	require.NoError(t, err)
	irtest.RequireLint(t, b.G)
	assert.Zero(t, irtest.CountKind(b.G, ir.KindTupleIndex), "graph:\n%s", b.G)
	assert.Equal(t, 1, irtest.CountKind(b.G, ir.KindTupleConstruct), "graph:\n%s", b.G)
	requireSameResults(t, original, b.G, vector(1, 2), int64(10))
}

func TestLowerBlockTuplesIf(t *testing.T) {
	b := irtest.New("f")
	x := b.Input("x", ir.TensorType)
	flag := b.Input("flag", ir.BoolType)
	tupleT := ir.TupleOf(ir.TensorType, ir.TensorType)
	outs := b.If(flag, []*ir.Type{tupleT},
		func(branch *irtest.Builder) []ir.ValueId {
			return []ir.ValueId{branch.Op(ir.KindTupleConstruct, tupleT, x, branch.Tensor(ir.KindRelu, x))}
		},
		func(branch *irtest.Builder) []ir.ValueId {
			return []ir.ValueId{branch.Op(ir.KindTupleConstruct, tupleT, branch.Tensor(ir.KindNeg, x), x)}
		})
	b.Return(b.Tensor(ir.KindTupleIndex, outs[0], b.Const(1)))
	original := b.G.Clone()

	changed, err := LowerBlockTuples.Run(b.G)
	require.NoError(t, err)
	require.True(t, changed)
	irtest.RequireLint(t, b.G)
	requireNoContainerOutputs(t, b.G, ir.TypeTuple)
	ifNode := b.G.FindNodes(ir.KindIf)[0]
	assert.Equal(t, 2, b.G.NumOutputs(ifNode))

	_, err = Cleanup.Run(b.G)
	require.NoError(t, err)
	assert.Zero(t, irtest.CountKind(b.G, ir.KindTupleConstruct), "graph:\n%s", b.G)
	for _, flag := range []bool{true, false} {
		requireSameResults(t, original, b.G, vector(-1, 1), flag)
	}
}

func TestLowerBlockLists(t *testing.T) {
	listT := ir.ListOf(ir.TensorType)
	build := func(mutate bool) *irtest.Builder {
		b := irtest.New("f")
		x := b.Input("x", ir.TensorType)
		n := b.Input("n", ir.IntType)
		list := b.Op(ir.KindListConstruct, listT, x, b.Tensor(ir.KindNeg, x))
		outs := b.ForLoop(n, []ir.ValueId{list, x},
			func(body *irtest.Builder, _ ir.ValueId, carried []ir.ValueId) []ir.ValueId {
				if mutate {
					body.Node(ir.KindListSetItem, []ir.ValueId{carried[0], body.Const(0), carried[1]})
				}
				first := body.Tensor(ir.KindListGetItem, carried[0], body.Const(0))
				return []ir.ValueId{carried[0], body.Tensor(ir.KindAdd, carried[1], first)}
			})
		b.Return(outs[1], b.Tensor(ir.KindListGetItem, outs[0], b.Const(1)))
		return b
	}

	b := build(false)
	original := b.G.Clone()
	changed, err := LowerBlockLists.Run(b.G)
	require.NoError(t, err)
	require.True(t, changed)
	irtest.RequireLint(t, b.G)
	requireNoContainerOutputs(t, b.G, ir.TypeList)
	loop := b.G.FindNodes(ir.KindLoop)[0]
	assert.Equal(t, 3, b.G.NumOutputs(loop))
	for _, trips := range []int64{0, 2} {
		requireSameResults(t, original, b.G, vector(1, 2), trips)
	}

	// A list mutated in the loop is not tuple-like.
	b = build(true)
	changed, err = LowerBlockLists.Run(b.G)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestLowerBlockListsIf(t *testing.T) {
	listT := ir.ListOf(ir.TensorType)
	b := irtest.New("f")
	x := b.Input("x", ir.TensorType)
	flag := b.Input("flag", ir.BoolType)
	outs := b.If(flag, []*ir.Type{listT},
		func(branch *irtest.Builder) []ir.ValueId {
			return []ir.ValueId{branch.Op(ir.KindListConstruct, listT, x, x)}
		},
		func(branch *irtest.Builder) []ir.ValueId {
			return []ir.ValueId{branch.Op(ir.KindListConstruct, listT, branch.Tensor(ir.KindRelu, x), x)}
		})
	b.Return(b.Tensor(ir.KindCat, outs[0], b.Const(0)))
	original := b.G.Clone()

	changed, err := LowerBlockLists.Run(b.G)
	require.NoError(t, err)
	require.True(t, changed)
	irtest.RequireLint(t, b.G)
	requireNoContainerOutputs(t, b.G, ir.TypeList)
	for _, flag := range []bool{true, false} {
		requireSameResults(t, original, b.G, vector(-1, 1), flag)
	}

	// Branches building lists of different sizes are left untouched.
	b = irtest.New("g")
	x = b.Input("x", ir.TensorType)
	flag = b.Input("flag", ir.BoolType)
	outs = b.If(flag, []*ir.Type{listT},
		func(branch *irtest.Builder) []ir.ValueId {
			return []ir.ValueId{branch.Op(ir.KindListConstruct, listT, x)}
		},
		func(branch *irtest.Builder) []ir.ValueId {
			return []ir.ValueId{branch.Op(ir.KindListConstruct, listT, x, x)}
		})
	b.Return(b.Tensor(ir.KindCat, outs[0], b.Const(0)))
	changed, err = LowerBlockLists.Run(b.G)
	require.NoError(t, err)
	assert.False(t, changed)
}
