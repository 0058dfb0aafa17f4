// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package passes

import (
	"testing"

	"github.com/gomlx/qcalib/pkg/core/ir"
	"github.com/gomlx/qcalib/pkg/core/ir/irtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstantPropagation(t *testing.T) {
	b := irtest.New("f")
	x := b.Input("x", ir.TensorType)
	sum := b.Op(ir.KindAdd, ir.IntType, b.Const(2), b.Const(3))
	ratio := b.Op(ir.KindDiv, ir.FloatType, sum, b.Const(2))
	small := b.Op(ir.KindLt, ir.BoolType, sum, b.Const(10))
	branched := b.If(small, []*ir.Type{ir.TensorType},
		func(branch *irtest.Builder) []ir.ValueId { return []ir.ValueId{branch.Tensor(ir.KindRelu, x)} },
		func(branch *irtest.Builder) []ir.ValueId { return []ir.ValueId{branch.Tensor(ir.KindNeg, x)} })
	tuple := b.Op(ir.KindTupleConstruct, ir.TupleOf(ir.TensorType, ir.IntType), branched[0], sum)
	first := b.Tensor(ir.KindTupleIndex, tuple, b.Const(0))
	list := b.Op(ir.KindListConstruct, ir.ListOf(ir.TensorType), x, first)
	length := b.Op(ir.KindListLen, ir.IntType, list)
	last := b.Tensor(ir.KindListGetItem, list, b.Const(-1))
	b.Return(ratio, length, last)
	original := b.G.Clone()

	changed, err := Cleanup.Run(b.G)
	require.NoError(t, err)
	require.True(t, changed)
	irtest.RequireLint(t, b.G)

	outputs := b.G.Outputs()
	value, ok := b.G.ConstantValue(outputs[0])
	require.True(t, ok)
	assert.Equal(t, 2.5, value)
	n, ok := b.G.ConstantInt(outputs[1])
	require.True(t, ok)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, ir.KindRelu, b.G.Kind(b.G.Producer(outputs[2])))
	for _, kind := range []ir.Kind{ir.KindIf, ir.KindTupleConstruct, ir.KindTupleIndex, ir.KindListConstruct, ir.KindListLen, ir.KindListGetItem} {
		assert.Zerof(t, irtest.CountKind(b.G, kind), "%s should have been removed:\n%s", kind, b.G)
	}
	requireSameResults(t, original, b.G, vector(-1, 2))
}

func TestFoldLoop(t *testing.T) {
	b := irtest.New("f")
	x := b.Input("x", ir.TensorType)
	outs := b.ForLoop(b.Const(0), []ir.ValueId{x}, func(body *irtest.Builder, _ ir.ValueId, carried []ir.ValueId) []ir.ValueId {
		return []ir.ValueId{body.Tensor(ir.KindNeg, carried[0])}
	})
	b.Return(outs...)
	changed, err := ConstantPropagation.Run(b.G)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Zero(t, irtest.CountKind(b.G, ir.KindLoop))
	assert.Equal(t, x, b.G.Outputs()[0])
}

func TestDeadCodeElimination(t *testing.T) {
	b := irtest.New("f")
	self := b.Input("self", ir.ClassOf("Net"))
	x := b.Input("x", ir.TensorType)
	flag := b.Input("flag", ir.BoolType)
	_ = b.Tensor(ir.KindRelu, x) // Unused.
	setAttr := b.Node(ir.KindSetAttr, []ir.ValueId{self, x})
	b.G.SetAttr(setAttr, "name", "last")
	outs := b.ForLoop(b.Input("n", ir.IntType), []ir.ValueId{x, x},
		func(body *irtest.Builder, _ ir.ValueId, carried []ir.ValueId) []ir.ValueId {
			// carried[1] is only passed along, and the corresponding output is unused.
			return []ir.ValueId{body.Tensor(ir.KindNeg, carried[0]), carried[1]}
		})
	branched := b.If(flag, []*ir.Type{ir.TensorType, ir.TensorType},
		func(branch *irtest.Builder) []ir.ValueId {
			return []ir.ValueId{outs[0], branch.Tensor(ir.KindSigmoid, x)}
		},
		func(branch *irtest.Builder) []ir.ValueId {
			return []ir.ValueId{x, branch.Tensor(ir.KindTanh, x)}
		})
	b.Return(branched[0])
	irtest.RequireLint(t, b.G)

	changed, err := DeadCodeElimination.Run(b.G)
	require.NoError(t, err)
	require.True(t, changed)
	irtest.RequireLint(t, b.G)
	assert.Zero(t, irtest.CountKind(b.G, ir.KindRelu))
	assert.Zero(t, irtest.CountKind(b.G, ir.KindSigmoid))
	assert.Zero(t, irtest.CountKind(b.G, ir.KindTanh))
	assert.Equal(t, 1, irtest.CountKind(b.G, ir.KindSetAttr), "side effects are kept")

	loop := b.G.FindNodes(ir.KindLoop)[0]
	assert.Equal(t, 1, b.G.NumOutputs(loop))
	assert.Equal(t, 3, b.G.NumInputs(loop))
	ifNode := b.G.FindNodes(ir.KindIf)[0]
	assert.Equal(t, 1, b.G.NumOutputs(ifNode))

	changed, err = DeadCodeElimination.Run(b.G)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestCSE(t *testing.T) {
	b := irtest.New("f")
	x := b.Input("x", ir.TensorType)
	flag := b.Input("flag", ir.BoolType)
	r1 := b.Tensor(ir.KindRelu, x)
	r2 := b.Tensor(ir.KindRelu, x)
	branched := b.If(flag, []*ir.Type{ir.TensorType},
		func(branch *irtest.Builder) []ir.ValueId { return []ir.ValueId{branch.Tensor(ir.KindRelu, x)} },
		func(branch *irtest.Builder) []ir.ValueId { return []ir.ValueId{branch.Tensor(ir.KindSigmoid, x)} })
	sig := b.Tensor(ir.KindSigmoid, x) // Not merged with the one inside the branch.
	c1 := b.Const(1.0)
	c2 := b.Const(1.0)
	b.Return(r1, r2, branched[0], sig, c1, c2)

	changed, err := CSE.Run(b.G)
	require.NoError(t, err)
	require.True(t, changed)
	irtest.RequireLint(t, b.G)
	outputs := b.G.Outputs()
	assert.Equal(t, outputs[0], outputs[1])
	assert.Equal(t, outputs[4], outputs[5])
	assert.NotEqual(t, outputs[2], outputs[3])
	assert.Equal(t, 2, irtest.CountKind(b.G, ir.KindSigmoid))

	// Relu inside the branch reuses the one defined before the If.
	ifNode := b.G.FindNodes(ir.KindIf)[0]
	assert.Equal(t, outputs[0], b.G.BlockReturns(b.G.Block(ifNode, 0))[0])
}

func TestCanonicalize(t *testing.T) {
	b := irtest.New("f")
	tupleT := ir.TupleOf(ir.TensorType, ir.IntType)
	tuple := b.Input("t", tupleT)
	n := b.Input("n", ir.IntType)
	repacked := b.Op(ir.KindTupleConstruct, tupleT,
		b.Tensor(ir.KindTupleIndex, tuple, b.Const(0)),
		b.Op(ir.KindTupleIndex, ir.IntType, tuple, b.Const(1)))
	swapped := b.Op(ir.KindTupleConstruct, tupleT,
		b.Tensor(ir.KindTupleIndex, tuple, b.Const(1)),
		b.Op(ir.KindTupleIndex, ir.IntType, tuple, b.Const(0)))
	one := b.Const(1)
	sum := b.Op(ir.KindAdd, ir.IntType, one, n)
	b.Return(repacked, swapped, sum)

	changed, err := Canonicalize.Run(b.G)
	require.NoError(t, err)
	require.True(t, changed)
	outputs := b.G.Outputs()
	assert.Equal(t, tuple, outputs[0])
	assert.Equal(t, swapped, outputs[1], "not a re-packing")
	add := b.G.Producer(outputs[2])
	assert.Equal(t, []ir.ValueId{n, one}, b.G.NodeInputs(add))

	changed, err = Canonicalize.Run(b.G)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestListsAreNotFoldedWhenMutated(t *testing.T) {
	b := irtest.New("f")
	x := b.Input("x", ir.TensorType)
	list := b.Op(ir.KindListConstruct, ir.ListOf(ir.TensorType), x)
	b.Node(ir.KindListAppend, []ir.ValueId{list, x})
	length := b.Op(ir.KindListLen, ir.IntType, list)
	b.Return(length)
	original := b.G.Clone()

	_, err := Cleanup.Run(b.G)
	require.NoError(t, err)
	assert.Equal(t, 1, irtest.CountKind(b.G, ir.KindListLen))
	requireSameResults(t, original, b.G, vector(1))
}
