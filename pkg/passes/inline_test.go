// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package passes

import (
	"testing"

	"github.com/gomlx/qcalib/pkg/core/interp"
	"github.com/gomlx/qcalib/pkg/core/ir"
	"github.com/gomlx/qcalib/pkg/core/ir/irtest"
	"github.com/gomlx/qcalib/pkg/module"
	"github.com/gomlx/qcalib/pkg/qerrors"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// unaryMethod builds a method graph self, x -> kind(x).
func unaryMethod(m *module.Module, name string, kind ir.Kind) *ir.Graph {
	b := irtest.New(name)
	b.Input("self", m.ClassType())
	b.Return(b.Tensor(kind, b.Input("x", ir.TensorType)))
	m.SetMethod(name, b.G)
	return b.G
}

// callMethod appends a call of method name of obj.
func callMethod(b *irtest.Builder, obj ir.ValueId, name string, args ...ir.ValueId) ir.ValueId {
	call := b.Node(ir.KindCallMethod, append([]ir.ValueId{obj}, args...), ir.TensorType)
	b.G.SetAttr(call, "name", name)
	return b.G.Output(call, 0)
}

// getAttr appends a GetAttr of a submodule.
func getAttr(b *irtest.Builder, obj ir.ValueId, name string, sub *module.Module) ir.ValueId {
	get := b.Node(ir.KindGetAttr, []ir.ValueId{obj}, sub.ClassType())
	b.G.SetAttr(get, "name", name)
	return b.G.Output(get, 0)
}

// buildNet returns a module whose forward calls a function, a method of itself, a submodule and a
// submodule carrying an observer.
func buildNet() *module.Module {
	net := module.New("Net")
	block := module.New("Block")
	unaryMethod(block, "forward", ir.KindRelu)
	observed := module.New("Observed")
	unaryMethod(observed, "forward", ir.KindSigmoid)
	observed.SetAttr(module.ObserverAttr, "placeholder")
	net.SetAttr("block", block)
	net.SetAttr("observed", observed)
	unaryMethod(net, "helper", ir.KindTanh)

	negate := irtest.New("negate")
	negate.Return(negate.Tensor(ir.KindNeg, negate.Input("x", ir.TensorType)))

	b := irtest.New("forward")
	self := b.Input("self", net.ClassType())
	x := b.Input("x", ir.TensorType)
	call := b.Node(ir.KindCallFunction, []ir.ValueId{x}, ir.TensorType)
	b.G.SetAttr(call, "callee", negate.G)
	y := callMethod(b, getAttr(b, self, "block", block), "forward", b.G.Output(call, 0))
	y = callMethod(b, self, "helper", y)
	y = callMethod(b, getAttr(b, self, "observed", observed), "forward", y)
	b.Return(y)
	net.SetMethod("forward", b.G)
	return net
}

func TestInliner(t *testing.T) {
	net := buildNet()
	want, err := interp.CallMethod(net, "forward", vector(-1, 2))
	require.NoError(t, err)

	g, _ := net.Method("forward")
	changed, err := NewInliner(net).Run(g)
	require.NoError(t, err)
	require.True(t, changed)
	irtest.RequireLint(t, g)
	assert.Zero(t, irtest.CountKind(g, ir.KindCallFunction))
	assert.Equal(t, 1, irtest.CountKind(g, ir.KindCallMethod), "call into the observed submodule is kept")
	for _, kind := range []ir.Kind{ir.KindNeg, ir.KindRelu, ir.KindTanh} {
		assert.Equalf(t, 1, irtest.CountKind(g, kind), "%s should have been inlined", kind)
	}
	assert.Zero(t, irtest.CountKind(g, ir.KindSigmoid))

	got, err := interp.CallMethod(net, "forward", vector(-1, 2))
	require.NoError(t, err)
	requireSameValues(t, want[0], got[0])

	// Callees are copied, not shared.
	helper, _ := net.Method("helper")
	assert.Equal(t, 1, irtest.CountKind(helper, ir.KindTanh))
}

func TestInlinerMissingMethod(t *testing.T) {
	net := module.New("Net")
	b := irtest.New("forward")
	self := b.Input("self", net.ClassType())
	b.Return(callMethod(b, self, "missing", b.Input("x", ir.TensorType)))
	net.SetMethod("forward", b.G)

	_, err := NewInliner(net).Run(b.G)
	require.Error(t, err)
	assert.True(t, errors.Is(err, qerrors.ErrGraphInvariant))
	assert.Contains(t, err.Error(), "missing")

	// Without a module, method calls are left alone.
	changed, err := NewInliner(nil).Run(b.G)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestInlinerRecursion(t *testing.T) {
	net := module.New("Net")
	b := irtest.New("forward")
	self := b.Input("self", net.ClassType())
	b.Return(callMethod(b, self, "forward", b.Input("x", ir.TensorType)))
	net.SetMethod("forward", b.G)

	changed, err := NewInliner(net).Run(b.G)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, 1, irtest.CountKind(b.G, ir.KindCallMethod), "recursion is cut")
}
