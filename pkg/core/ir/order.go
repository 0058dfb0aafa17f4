// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ir

import "slices"

// chain returns the nodes from the outermost ancestor (a node of the top block) down to n.
func (g *Graph) chain(n NodeId) []NodeId {
	var nodes []NodeId
	for n != InvalidNode {
		nodes = append(nodes, n)
		b := g.Owner(n)
		if b == InvalidBlock {
			break
		}
		n = g.BlockOwner(b)
	}
	slices.Reverse(nodes)
	return nodes
}

// IsBefore returns whether node a is ordered before node b in the graph.
//
// Nodes in the same block are ordered by position (the Param node first, the Return node last).
// Nodes in different blocks are ordered by their ancestors in the closest common block, and a node is
// ordered before every node nested in its blocks. Nodes in different blocks of the same node (the two
// branches of an If) are not ordered: IsBefore returns false both ways.
func (g *Graph) IsBefore(a, b NodeId) bool {
	ca, cb := g.chain(a), g.chain(b)
	for ii := 0; ii < len(ca) && ii < len(cb); ii++ {
		if ca[ii] != cb[ii] {
			if g.nodes[ca[ii]].owner != g.nodes[cb[ii]].owner {
				return false
			}
			return g.nodes[ca[ii]].pos < g.nodes[cb[ii]].pos
		}
	}
	return len(ca) < len(cb)
}

// IsAncestor returns whether node b is nested (at any depth) in one of the blocks of node a.
func (g *Graph) IsAncestor(a, b NodeId) bool {
	if a == b {
		return false
	}
	cb := g.chain(b)
	return slices.Contains(cb[:len(cb)-1], a)
}

// BlockDepth returns the number of nodes enclosing the block: 0 for the top block.
func (g *Graph) BlockDepth(b BlockId) int {
	depth := 0
	for b != g.top {
		depth++
		b = g.Owner(g.BlockOwner(b))
	}
	return depth
}

// WalkBlock calls fn on every node of the block in order, recursing into nested blocks right after
// each node (pre-order). Param and Return nodes are not visited.
//
// fn must not destroy or move nodes: collect them first with BlockNodesRecursive for that.
func (g *Graph) WalkBlock(b BlockId, fn func(n NodeId)) {
	for _, n := range g.block(b).nodes {
		fn(n)
		for _, nested := range g.nodes[n].blocks {
			g.WalkBlock(nested, fn)
		}
	}
}

// Walk calls fn on every node of the graph, see WalkBlock.
func (g *Graph) Walk(fn func(n NodeId)) {
	g.WalkBlock(g.top, fn)
}

// BlockNodesRecursive returns the nodes visited by WalkBlock, in the same order.
func (g *Graph) BlockNodesRecursive(b BlockId) []NodeId {
	var nodes []NodeId
	g.WalkBlock(b, func(n NodeId) { nodes = append(nodes, n) })
	return nodes
}

// AllNodes returns all the nodes of the graph in pre-order, see Walk.
func (g *Graph) AllNodes() []NodeId {
	return g.BlockNodesRecursive(g.top)
}

// FindNodes returns all the nodes of the given kinds, in pre-order.
func (g *Graph) FindNodes(kinds ...Kind) []NodeId {
	var nodes []NodeId
	g.Walk(func(n NodeId) {
		if slices.Contains(kinds, g.nodes[n].kind) {
			nodes = append(nodes, n)
		}
	})
	return nodes
}
