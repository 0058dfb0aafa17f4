// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package passes

import (
	"fmt"
	"testing"

	"github.com/gomlx/qcalib/pkg/core/ir"
	"github.com/gomlx/qcalib/pkg/core/ir/irtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildCountingLoop builds f(x) = (x + tripCount, sum(i for i < tripCount)) with a for-style loop.
func buildCountingLoop(tripCount ir.ValueId, b *irtest.Builder, x ir.ValueId) []ir.ValueId {
	return b.ForLoop(tripCount, []ir.ValueId{x, b.Const(0)},
		func(body *irtest.Builder, iter ir.ValueId, carried []ir.ValueId) []ir.ValueId {
			return []ir.ValueId{
				body.Tensor(ir.KindAdd, carried[0], body.Const(1.0)),
				body.Op(ir.KindAdd, ir.IntType, carried[1], iter),
			}
		})
}

func TestLoopUnroller(t *testing.T) {
	for _, tripCount := range []int{0, 1, 2, 32, 33} {
		t.Run(fmt.Sprintf("trip=%d", tripCount), func(t *testing.T) {
			b := irtest.New("f")
			x := b.Input("x", ir.TensorType)
			b.Return(buildCountingLoop(b.Const(tripCount), b, x)...)
			irtest.RequireLint(t, b.G)
			original := b.G.Clone()

			_, err := NewScheduler(nil, nil).Optimize("f", b.G)
			require.NoError(t, err)
			irtest.RequireLint(t, b.G)
			if tripCount <= DefaultMaxUnrollTripCount {
				assert.Zero(t, irtest.CountKind(b.G, ir.KindLoop), "graph:\n%s", b.G)
				sum, ok := b.G.ConstantInt(b.G.Outputs()[1])
				require.Truef(t, ok, "graph:\n%s", b.G)
				assert.Equal(t, int64(tripCount*(tripCount-1)/2), sum)
			} else {
				assert.Equal(t, 1, irtest.CountKind(b.G, ir.KindLoop), "graph:\n%s", b.G)
			}
			requireSameResults(t, original, b.G, vector(1, -2))
		})
	}
}

func TestExposeCounter(t *testing.T) {
	b := irtest.New("f")
	x := b.Input("x", ir.TensorType)
	n := b.Input("n", ir.IntType)
	b.Return(buildCountingLoop(n, b, x)...)
	original := b.G.Clone()

	unroller := NewLoopUnroller(DefaultMaxUnrollTripCount)
	changed, err := unroller.Run(b.G)
	require.NoError(t, err)
	require.True(t, changed)
	irtest.RequireLint(t, b.G)

	loop := b.G.FindNodes(ir.KindLoop)[0]
	assert.Equal(t, 3, b.G.NumOutputs(loop), "counter exposed as carried value")
	body := b.G.Block(loop, 0)
	assert.False(t, b.G.HasUses(b.G.BlockParams(body)[0]))
	for _, trip := range []int64{0, 1, 5} {
		requireSameResults(t, original, b.G, vector(3), trip)
	}

	// Idempotent: the iteration counter is no longer used.
	changed, err = unroller.Run(b.G)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestLoopUnrollerSkipsWhileLoops(t *testing.T) {
	b := irtest.New("f")
	x := b.Input("x", ir.TensorType)
	outs := b.Loop(b.Const(4), b.Input("go", ir.BoolType), []ir.ValueId{x},
		func(body *irtest.Builder, _ ir.ValueId, carried []ir.ValueId) (ir.ValueId, []ir.ValueId) {
			return body.Const(true), []ir.ValueId{body.Tensor(ir.KindNeg, carried[0])}
		})
	b.Return(outs...)
	changed, err := NewLoopUnroller(DefaultMaxUnrollTripCount).Run(b.G)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, 1, irtest.CountKind(b.G, ir.KindLoop))
}

func TestUnrollNestedLoops(t *testing.T) {
	b := irtest.New("f")
	x := b.Input("x", ir.TensorType)
	outs := b.ForLoop(b.Const(3), []ir.ValueId{x}, func(body *irtest.Builder, _ ir.ValueId, carried []ir.ValueId) []ir.ValueId {
		inner := buildCountingLoop(body.Const(2), body, carried[0])
		return inner[:1]
	})
	b.Return(outs...)
	original := b.G.Clone()

	_, err := NewScheduler(nil, nil).Optimize("f", b.G)
	require.NoError(t, err)
	irtest.RequireLint(t, b.G)
	assert.Zero(t, irtest.CountKind(b.G, ir.KindLoop))
	requireSameResults(t, original, b.G, vector(0.5))
}
