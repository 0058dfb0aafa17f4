// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ir

import (
	"maps"
	"slices"

	"github.com/gomlx/exceptions"
)

// Clone returns an independent deep copy of the graph. Handles are preserved: a ValueId, NodeId or BlockId
// of g refers to the corresponding element of the clone.
//
// Types and attribute values are shared, since they are immutable.
func (g *Graph) Clone() *Graph {
	g2 := &Graph{
		name:   g.name,
		values: slices.Clone(g.values),
		nodes:  slices.Clone(g.nodes),
		blocks: slices.Clone(g.blocks),
		top:    g.top,
	}
	for ii := range g2.values {
		g2.values[ii].uses = slices.Clone(g2.values[ii].uses)
	}
	for ii := range g2.nodes {
		nd := &g2.nodes[ii]
		nd.inputs = slices.Clone(nd.inputs)
		nd.outputs = slices.Clone(nd.outputs)
		nd.blocks = slices.Clone(nd.blocks)
		nd.attrs = maps.Clone(nd.attrs)
	}
	for ii := range g2.blocks {
		g2.blocks[ii].nodes = slices.Clone(g2.blocks[ii].nodes)
	}
	return g2
}

// Assign replaces the contents of g by those of other, usually an edited Clone of g. other must not be
// used afterwards.
func (g *Graph) Assign(other *Graph) {
	*g = *other
}

// CopyBlock copies the nodes of block srcBlock of the graph src (which can be g itself) into g, right
// before the node `before`. The parameters of the source block are substituted by args, and it returns
// the values corresponding to the source block returns.
//
// Nested blocks are copied recursively. When src is g, values defined outside srcBlock and used inside it
// are kept as they are.
func (g *Graph) CopyBlock(src *Graph, srcBlock BlockId, args []ValueId, before NodeId) []ValueId {
	params := src.BlockParams(srcBlock)
	if len(params) != len(args) {
		exceptions.Panicf("copying block with %d parameters using %d arguments", len(params), len(args))
	}
	c := &blockCopier{dst: g, src: src, mapping: make(map[ValueId]ValueId)}
	for ii, p := range params {
		c.mapping[p] = args[ii]
	}
	for _, n := range src.BlockNodes(srcBlock) {
		g.InsertBefore(c.copyNode(n), before)
	}
	return c.mapAll(src.BlockReturns(srcBlock))
}

type blockCopier struct {
	dst, src *Graph
	mapping  map[ValueId]ValueId
}

func (c *blockCopier) mapValue(v ValueId) ValueId {
	if mapped, found := c.mapping[v]; found {
		return mapped
	}
	if c.src != c.dst {
		exceptions.Panicf("value %s of graph %q used in a copied block but not defined in it",
			c.src.ValueString(v), c.src.name)
	}
	return v
}

func (c *blockCopier) mapAll(values []ValueId) []ValueId {
	mapped := make([]ValueId, len(values))
	for ii, v := range values {
		mapped[ii] = c.mapValue(v)
	}
	return mapped
}

// copyNode creates (but doesn't insert) a copy of the source node n, with its nested blocks.
func (c *blockCopier) copyNode(n NodeId) NodeId {
	src, dst := c.src, c.dst
	outputs := src.NodeOutputs(n)
	outTypes := make([]*Type, len(outputs))
	for ii, out := range outputs {
		outTypes[ii] = src.Type(out)
	}
	newNode := dst.CreateNode(src.Kind(n), c.mapAll(src.NodeInputs(n)), outTypes...)
	dst.nodes[newNode].attrs = maps.Clone(src.nodes[n].attrs)
	dst.nodes[newNode].source = src.nodes[n].source
	for ii, out := range outputs {
		newOut := dst.Output(newNode, ii)
		dst.SetName(newOut, src.DebugName(out))
		c.mapping[out] = newOut
	}
	for _, srcBlock := range src.NodeBlocks(n) {
		b := dst.AddNodeBlock(newNode)
		for _, p := range src.BlockParams(srcBlock) {
			newP := dst.AddBlockParam(b, src.Type(p))
			dst.SetName(newP, src.DebugName(p))
			c.mapping[p] = newP
		}
		for _, nested := range src.BlockNodes(srcBlock) {
			dst.AppendNode(b, c.copyNode(nested))
		}
		for _, r := range src.BlockReturns(srcBlock) {
			dst.AddBlockReturn(b, c.mapValue(r))
		}
	}
	return newNode
}

// InlineGraph copies the body of the graph callee right before the node `before`, substituting its
// inputs by args. It returns the values corresponding to the callee outputs.
func (g *Graph) InlineGraph(callee *Graph, args []ValueId, before NodeId) []ValueId {
	return g.CopyBlock(callee, callee.top, args, before)
}
