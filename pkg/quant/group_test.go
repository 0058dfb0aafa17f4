// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package quant

import (
	"testing"

	"github.com/gomlx/qcalib/pkg/analysis/implicit"
	"github.com/gomlx/qcalib/pkg/core/interp"
	"github.com/gomlx/qcalib/pkg/core/ir"
	"github.com/gomlx/qcalib/pkg/core/ir/irtest"
	"github.com/gomlx/qcalib/pkg/core/tensors"
	"github.com/gomlx/qcalib/pkg/module"
	"github.com/gomlx/qcalib/pkg/qerrors"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// groupGraph runs the implicit tensor analysis and the grouping on a single graph.
func groupGraph(t *testing.T, g *ir.Graph) (*Grouping, error) {
	t.Helper()
	implicitTensors, err := implicit.Analyze(g)
	require.NoError(t, err)
	graphs := map[string]*ir.Graph{g.Name(): g}
	return GroupTensors(graphs, map[string][]ir.ValueId{g.Name(): implicitTensors})
}

// rangeOf returns the range group of the implicit tensor v.
func rangeOf(t *testing.T, gr *Grouping, g *ir.Graph, v ir.ValueId) int {
	t.Helper()
	id, found := gr.TensorID(g.Name(), v)
	require.Truef(t, found, "%s is not an implicit tensor", g.ValueString(v))
	return gr.RangeIDs[id]
}

func isOutput(t *testing.T, gr *Grouping, g *ir.Graph, v ir.ValueId) bool {
	t.Helper()
	id, found := gr.TensorID(g.Name(), v)
	require.Truef(t, found, "%s is not an implicit tensor", g.ValueString(v))
	return gr.IsOutput[id]
}

// buildLoopSoftmax builds forward(self, x, n) = softmax(sigmoid(loop relu(x) n times)).
func buildLoopSoftmax(net *module.Module) (b *irtest.Builder, x, param, relu, looped, h, s ir.ValueId) {
	b = irtest.New("forward")
	b.Input("self", net.ClassType())
	x = b.Input("x", ir.TensorType)
	n := b.Input("n", ir.IntType)
	outs := b.ForLoop(n, []ir.ValueId{x}, func(body *irtest.Builder, _ ir.ValueId, carried []ir.ValueId) []ir.ValueId {
		param = carried[0]
		relu = body.Tensor(ir.KindRelu, carried[0])
		return []ir.ValueId{relu}
	})
	looped = outs[0]
	h = b.Tensor(ir.KindSigmoid, looped)
	s = b.Tensor(ir.KindSoftmax, h)
	b.Return(s)
	net.SetMethod("forward", b.G)
	return
}

func TestGroupTensorsLoop(t *testing.T) {
	net := module.New("Net")
	b, x, param, relu, looped, h, s := buildLoopSoftmax(net)
	g := b.G
	gr, err := groupGraph(t, g)
	require.NoError(t, err)
	require.Len(t, gr.Tensors, 6)
	assert.Equal(t, 3, gr.NumRanges)
	assert.Equal(t, 3, gr.NumShapes)

	loopGroup := rangeOf(t, gr, g, x)
	for _, v := range []ir.ValueId{param, relu, looped} {
		assert.Equal(t, loopGroup, rangeOf(t, gr, g, v), "loop carried values share a range group")
	}
	assert.NotEqual(t, loopGroup, rangeOf(t, gr, g, h))
	assert.NotEqual(t, rangeOf(t, gr, g, h), rangeOf(t, gr, g, s))

	assert.False(t, isOutput(t, gr, g, x))
	assert.False(t, isOutput(t, gr, g, relu))
	assert.True(t, isOutput(t, gr, g, looped), "used by a different range group")
	assert.True(t, isOutput(t, gr, g, h))
	assert.True(t, isOutput(t, gr, g, s), "returned")

	require.Len(t, gr.Static, 1)
	assert.Equal(t, StaticRange{RangeID: rangeOf(t, gr, g, s), Min: 0, Max: 1}, gr.Static[0])
}

func TestInstrumentLoop(t *testing.T) {
	net := module.New("Net")
	b, _, _, _, _, _, _ := buildLoopSoftmax(net)
	g := b.G
	original := g.Clone()
	want, err := interp.Run(original, net, vector(-1, 0.5, 2), int64(3))
	require.NoError(t, err)

	_, err = InsertObservers(net, testConfig(), false)
	require.NoError(t, err)
	irtest.RequireLint(t, g)
	assert.Equal(t, 6, irtest.CountKind(g, ir.KindObserve))
	assert.Equal(t, 1, irtest.CountKind(g, ir.KindGetAttr))
	loop := g.FindNodes(ir.KindLoop)[0]
	bodyObserves := 0
	for _, n := range g.BlockNodes(g.Block(loop, 0)) {
		if g.Kind(n) == ir.KindObserve {
			bodyObserves++
		}
	}
	assert.Equal(t, 2, bodyObserves, "body parameter and relu are observed inside the loop")

	got, err := interp.CallMethod(net, "forward", vector(-1, 0.5, 2), int64(3))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, want[0].(*tensors.Tensor).InDelta(got[0].(*tensors.Tensor), 1e-9))

	// The softmax output is returned through its Observe node, and its range is static.
	observeSoftmax := g.Producer(g.Outputs()[0])
	require.Equal(t, ir.KindObserve, g.Kind(observeSoftmax))
	obs, _ := ObserverOf(net)
	rangeID := int(g.IntAttr(observeSoftmax, AttrRangeID))
	assert.True(t, obs.RangeObserver(rangeID).IsStatic())
	minV, maxV, ok := obs.Range(rangeID)
	require.True(t, ok)
	assert.Equal(t, 0.0, minV)
	assert.Equal(t, 1.0, maxV)
	shape, ok := obs.Shape(int(g.IntAttr(observeSoftmax, AttrShapeID)))
	require.True(t, ok)
	assert.Equal(t, []int{3}, shape)
}

func TestGroupTensorsIf(t *testing.T) {
	b := irtest.New("forward")
	x := b.Input("x", ir.TensorType)
	flag := b.Input("flag", ir.BoolType)
	var relu, neg ir.ValueId
	outs := b.If(flag, []*ir.Type{ir.TensorType},
		func(branch *irtest.Builder) []ir.ValueId {
			relu = branch.Tensor(ir.KindRelu, x)
			return []ir.ValueId{relu}
		},
		func(branch *irtest.Builder) []ir.ValueId {
			neg = branch.Tensor(ir.KindNeg, x)
			return []ir.ValueId{neg}
		})
	b.Return(outs[0])

	gr, err := groupGraph(t, b.G)
	require.NoError(t, err)
	assert.Equal(t, 1, gr.NumRanges, "branch returns join the If output, relu joins x")
	assert.Equal(t, rangeOf(t, gr, b.G, neg), rangeOf(t, gr, b.G, outs[0]))
	assert.True(t, isOutput(t, gr, b.G, outs[0]))
	assert.False(t, isOutput(t, gr, b.G, relu))
}

func TestGroupTensorsNoOutput(t *testing.T) {
	b := irtest.New("forward")
	x := b.Input("x", ir.TensorType)
	b.Return(b.Op(ir.KindSize, ir.IntType, x))
	_, err := groupGraph(t, b.G)
	require.Error(t, err)
	assert.True(t, errors.Is(err, qerrors.ErrNoOutputTensor))
	assert.True(t, errors.Is(err, qerrors.ErrQuantConsistency))
	assert.Contains(t, err.Error(), "forward")
}

func TestGroupTensorsContainerOutput(t *testing.T) {
	b := irtest.New("forward")
	x := b.Input("x", ir.TensorType)
	y := b.Tensor(ir.KindTanh, x)
	b.Return(b.Op(ir.KindTupleConstruct, ir.TupleOf(ir.TensorType, ir.TensorType), x, y))
	gr, err := groupGraph(t, b.G)
	require.NoError(t, err)
	assert.True(t, isOutput(t, gr, b.G, y), "returned inside a tuple")
	assert.True(t, isOutput(t, gr, b.G, x), "returned inside a tuple, and used by another range group")
}

func TestGroupTensorsLoopCarriedOutputs(t *testing.T) {
	b := irtest.New("forward")
	x := b.Input("x", ir.TensorType)
	y := b.Input("y", ir.TensorType)
	outs := b.ForLoop(b.Const(2), []ir.ValueId{x, y}, func(body *irtest.Builder, _ ir.ValueId, carried []ir.ValueId) []ir.ValueId {
		return []ir.ValueId{body.Tensor(ir.KindRelu, carried[0]), body.Tensor(ir.KindTanh, carried[1])}
	})
	b.Return(outs...)

	gr, err := groupGraph(t, b.G)
	require.NoError(t, err)
	assert.Equal(t, 2, gr.NumRanges)
	assert.Equal(t, rangeOf(t, gr, b.G, x), rangeOf(t, gr, b.G, outs[0]))
	assert.NotEqual(t, rangeOf(t, gr, b.G, x), rangeOf(t, gr, b.G, outs[1]))

	// Each loop input only feeds the loop output of its own carried value.
	assert.False(t, isOutput(t, gr, b.G, x))
	assert.False(t, isOutput(t, gr, b.G, y))
	assert.True(t, isOutput(t, gr, b.G, outs[0]))
	assert.True(t, isOutput(t, gr, b.G, outs[1]))
}
