// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package module

import (
	"testing"

	"github.com/gomlx/qcalib/pkg/core/ir"
	"github.com/gomlx/qcalib/pkg/core/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counter struct{ n int }

func (c *counter) CloneAttr() any { return &counter{n: c.n} }

func TestModule(t *testing.T) {
	m := New("Net")
	g := ir.New("forward")
	g.AddInput("self", m.ClassType())
	m.SetMethod("forward", g)
	m.SetMethod("debug", ir.New("debug"))
	assert.Equal(t, []string{"debug", "forward"}, m.MethodNames())
	assert.True(t, m.HasMethod("forward"))
	assert.False(t, m.HasMethod("train"))

	sub := New("Block")
	m.SetAttr("block", sub)
	m.SetAttr("scale", 2.0)
	require.NoError(t, m.RegisterAttribute("weights", tensors.FromScalarAndDimensions(float32(1), 2)))
	require.Error(t, m.RegisterAttribute("scale", 3.0))
	assert.Equal(t, []string{"block", "scale", "weights"}, m.AttrNames())
	assert.Equal(t, []string{"block"}, m.Submodules())
	gotSub, ok := m.Submodule("block")
	require.True(t, ok)
	assert.Same(t, sub, gotSub)
	_, ok = m.Submodule("scale")
	assert.False(t, ok)
}

func TestClone(t *testing.T) {
	m := New("Net")
	m.SetMethod("forward", ir.New("forward"))
	sub := New("Block")
	m.SetAttr("block", sub)
	m.SetAttr("counter", &counter{n: 3})
	m.SetAttr("name", "net")

	m2 := m.Clone()
	assert.NotEqual(t, m.ID(), m2.ID())
	assert.Equal(t, m.AttrNames(), m2.AttrNames())

	g1, _ := m.Method("forward")
	g2, _ := m2.Method("forward")
	assert.NotSame(t, g1, g2)

	sub2, ok := m2.Submodule("block")
	require.True(t, ok)
	assert.NotSame(t, sub, sub2)
	assert.NotEqual(t, sub.ID(), sub2.ID())

	c2, _ := m2.Attr("counter")
	c2.(*counter).n = 10
	c1, _ := m.Attr("counter")
	assert.Equal(t, 3, c1.(*counter).n)

	name, _ := m2.Attr("name")
	assert.Equal(t, "net", name)
}
