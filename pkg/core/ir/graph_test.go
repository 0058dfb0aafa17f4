// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ir_test

import (
	"strings"
	"testing"

	"github.com/gomlx/exceptions"
	. "github.com/gomlx/qcalib/pkg/core/ir"
	"github.com/gomlx/qcalib/pkg/core/ir/irtest"
	"github.com/gomlx/qcalib/pkg/qerrors"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUses(t *testing.T) {
	b := irtest.New("f")
	g := b.G
	x := b.Input("x", TensorType)
	y := b.Tensor(KindAdd, x, x)
	add := g.Producer(y)
	assert.Equal(t, []Use{{Node: add, Offset: 0}, {Node: add, Offset: 1}}, g.Uses(x))

	// Inserting an input in front shifts the offsets of both uses of x.
	c := g.InsertConstant(add, 1.0)
	g.InsertNodeInput(add, 0, c)
	assert.Equal(t, []Use{{Node: add, Offset: 1}, {Node: add, Offset: 2}}, g.Uses(x))
	assert.Equal(t, []Use{{Node: add, Offset: 0}}, g.Uses(c))

	g.RemoveNodeInput(add, 1)
	assert.Equal(t, []Use{{Node: add, Offset: 1}}, g.Uses(x))
	assert.Equal(t, []ValueId{c, x}, g.NodeInputs(add))

	b.Return(y)
	irtest.RequireLint(t, g)
	assert.Equal(t, []ValueId{x}, g.Inputs())
	assert.Equal(t, []ValueId{y}, g.Outputs())
	assert.True(t, g.IsBlockParam(x))
	assert.Equal(t, "x", g.DebugName(x))
}

func TestIsBefore(t *testing.T) {
	b := irtest.New("f")
	g := b.G
	x := b.Input("x", TensorType)
	a := b.Tensor(KindRelu, x)
	var inner NodeId
	outs := b.ForLoop(b.Const(3), []ValueId{a}, func(body *irtest.Builder, _ ValueId, carried []ValueId) []ValueId {
		v := body.Tensor(KindRelu, carried[0])
		inner = g.Producer(v)
		return []ValueId{v}
	})
	last := b.Tensor(KindNeg, outs[0])
	b.Return(last)
	irtest.RequireLint(t, g)

	loop := g.Producer(outs[0])
	first := g.Producer(a)
	assert.True(t, g.IsBefore(first, loop))
	assert.True(t, g.IsBefore(first, inner))
	assert.True(t, g.IsBefore(loop, inner), "a node is before the nodes in its blocks")
	assert.True(t, g.IsBefore(inner, g.Producer(last)))
	assert.False(t, g.IsBefore(g.Producer(last), inner))
	assert.False(t, g.IsBefore(first, first))
	assert.True(t, g.IsAncestor(loop, inner))
	assert.False(t, g.IsAncestor(inner, loop))
	assert.True(t, g.IsBefore(g.Producer(x), first))
	assert.True(t, g.IsBefore(g.Producer(last), g.ReturnNode(g.TopBlock())))
	assert.Equal(t, 1, g.BlockDepth(g.Owner(inner)))

	// Nodes of sibling branches are not ordered.
	var thenNode, elseNode NodeId
	b.If(b.Const(true), []*Type{TensorType},
		func(branch *irtest.Builder) []ValueId {
			v := branch.Tensor(KindRelu, x)
			thenNode = g.Producer(v)
			return []ValueId{v}
		},
		func(branch *irtest.Builder) []ValueId {
			v := branch.Tensor(KindNeg, x)
			elseNode = g.Producer(v)
			return []ValueId{v}
		})
	assert.False(t, g.IsBefore(thenNode, elseNode))
	assert.False(t, g.IsBefore(elseNode, thenNode))
	assert.True(t, g.IsBefore(first, elseNode))
}

func TestReplaceUsesAfter(t *testing.T) {
	b := irtest.New("f")
	g := b.G
	x := b.Input("x", TensorType)
	y1 := b.Tensor(KindRelu, x)
	y2 := b.Tensor(KindNeg, x)
	b.Return(x, y1, y2)

	// Insert a replacement for x right after y1's producer: only the later uses change.
	obs := g.CreateNode(KindDetach, []ValueId{x}, TensorType)
	g.InsertAfter(obs, g.Producer(y1))
	x2 := g.Output(obs, 0)
	g.ReplaceUsesAfter(x, x2, obs)
	irtest.RequireLint(t, g)

	assert.Equal(t, x, g.Input(g.Producer(y1), 0))
	assert.Equal(t, x2, g.Input(g.Producer(y2), 0))
	assert.Equal(t, x, g.Input(obs, 0))
	assert.Equal(t, []ValueId{x2, y1, y2}, g.Outputs())
}

func TestDestroy(t *testing.T) {
	b := irtest.New("f")
	g := b.G
	x := b.Input("x", TensorType)
	y := b.Tensor(KindRelu, x)
	b.Return(x)

	outs := b.ForLoop(b.Const(2), []ValueId{x}, func(body *irtest.Builder, _ ValueId, carried []ValueId) []ValueId {
		return []ValueId{body.Tensor(KindNeg, carried[0])}
	})
	loop := g.Producer(outs[0])

	// y is not used: it can be destroyed.
	relu := g.Producer(y)
	g.Destroy(relu)
	assert.False(t, g.IsAlive(relu))
	assert.False(t, g.IsValueAlive(y))
	assert.Len(t, g.Uses(x), 2) // Return and the loop.

	g.Destroy(loop)
	assert.Len(t, g.Uses(x), 1)
	assert.False(t, g.IsAlive(loop))
	irtest.RequireLint(t, g)

	// Destroying a node with used outputs is a bug.
	c := b.Const(1)
	b.Return(c)
	err := exceptions.TryCatch[error](func() { g.Destroy(g.Producer(c)) })
	require.Error(t, err)
}

func TestCloneAndCopyBlock(t *testing.T) {
	b := irtest.New("f")
	g := b.G
	x := b.Input("x", TensorType)
	outs := b.ForLoop(b.Const(2), []ValueId{x}, func(body *irtest.Builder, iter ValueId, carried []ValueId) []ValueId {
		return []ValueId{body.Tensor(KindAdd, carried[0], x)}
	})
	b.Return(outs...)
	irtest.RequireLint(t, g)
	before := g.String()

	g2 := g.Clone()
	require.Equal(t, before, g2.String())

	// Copy the loop body twice into the top block of the clone (a manual unroll).
	loop := g2.Producer(outs[0])
	body := g2.Block(loop, 0)
	current := x
	for ii := range 2 {
		iter := g2.InsertConstant(loop, ii)
		results := g2.CopyBlock(g2, body, []ValueId{iter, current}, loop)
		current = results[1]
	}
	g2.ReplaceAllUsesWith(outs[0], current)
	g2.Destroy(loop)
	irtest.RequireLint(t, g2)
	assert.Equal(t, 2, irtest.CountKind(g2, KindAdd))
	assert.Equal(t, 0, irtest.CountKind(g2, KindLoop))

	// Original is untouched.
	assert.Equal(t, before, g.String())
	assert.Equal(t, 1, irtest.CountKind(g, KindLoop))
}

func TestInlineGraph(t *testing.T) {
	cb := irtest.New("callee")
	a := cb.Input("a", TensorType)
	cb.Return(cb.Tensor(KindRelu, cb.Tensor(KindNeg, a)))

	b := irtest.New("caller")
	g := b.G
	x := b.Input("x", TensorType)
	call := b.Node(KindCallFunction, []ValueId{x}, TensorType)
	g.SetAttr(call, "callee", cb.G)
	b.Return(g.Output(call, 0))

	results := g.InlineGraph(cb.G, []ValueId{x}, call)
	g.ReplaceAllUsesOfNodeWith(call, results)
	g.Destroy(call)
	irtest.RequireLint(t, g)
	assert.Equal(t, 0, irtest.CountKind(g, KindCallFunction))
	assert.Equal(t, KindRelu, g.Kind(g.Producer(g.Outputs()[0])))
}

func TestLint(t *testing.T) {
	b := irtest.New("f")
	g := b.G
	x := b.Input("x", TensorType)
	outs := b.ForLoop(b.Const(2), []ValueId{x}, func(body *irtest.Builder, _ ValueId, carried []ValueId) []ValueId {
		return []ValueId{body.Tensor(KindRelu, carried[0])}
	})
	b.Return(outs...)
	irtest.RequireLint(t, g)

	// Break the loop arity: an extra body return.
	body := g.Block(g.Producer(outs[0]), 0)
	g.AddBlockReturn(body, x)
	err := g.Lint()
	require.Error(t, err)
	assert.True(t, errors.Is(err, qerrors.ErrGraphInvariant))
	g.EraseBlockReturn(body, 2)
	irtest.RequireLint(t, g)

	// The loop body can't use the outputs of its own loop.
	relu := g.Producer(g.BlockReturns(body)[1])
	carried := g.Input(relu, 0)
	g.ReplaceNodeInput(relu, 0, outs[0])
	err = g.Lint()
	require.Error(t, err)
	assert.True(t, errors.Is(err, qerrors.ErrGraphInvariant))
	assert.Contains(t, err.Error(), "is not defined before its use")
	g.ReplaceNodeInput(relu, 0, carried)
	irtest.RequireLint(t, g)

	// If with mismatched branch arity.
	cond := b.Const(true)
	ifOuts := b.If(cond, []*Type{TensorType},
		func(branch *irtest.Builder) []ValueId { return []ValueId{x} },
		func(branch *irtest.Builder) []ValueId { return []ValueId{x, x} })
	_ = ifOuts
	err = g.Lint()
	require.Error(t, err)
	assert.True(t, errors.Is(err, qerrors.ErrGraphInvariant))
	assert.Contains(t, err.Error(), "branch block")
}

func TestString(t *testing.T) {
	b := irtest.New("f")
	x := b.Input("x", TensorType)
	y := b.Named(b.Tensor(KindRelu, x), "y")
	b.Return(y)
	dump := b.G.String()
	assert.True(t, strings.HasPrefix(dump, "graph f(%x: Tensor):\n"), dump)
	assert.Contains(t, dump, "%y: Tensor = Relu(%x)")
	assert.Contains(t, dump, "return (%y)")
	assert.Contains(t, b.G.Summary(), `graph "f"`)
}
