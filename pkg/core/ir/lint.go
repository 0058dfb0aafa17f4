// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ir

import (
	"slices"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/qcalib/pkg/qerrors"
	"github.com/gomlx/qcalib/pkg/support/sets"
)

// Compatible returns whether a value of type a can flow where type b is expected.
// It's Equal, except that a tensor of unknown dtype is compatible with any tensor.
func Compatible(a, b *Type) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Kind != b.Kind || a.Name != b.Name || len(a.Elems) != len(b.Elems) {
		return false
	}
	if a.Kind == TypeTensor && a.DType != b.DType && a.DType != dtypes.InvalidDType && b.DType != dtypes.InvalidDType {
		return false
	}
	for ii, e := range a.Elems {
		if !Compatible(e, b.Elems[ii]) {
			return false
		}
	}
	return true
}

// Lint verifies the well-formedness of the graph, and returns an error wrapping qerrors.ErrGraphInvariant
// describing the first violation found:
//
//   - Use lists are consistent with the node inputs, and outputs point back to their producers.
//   - Every input is visible at its use: defined earlier in the same block or in an enclosing block.
//   - Loop: len(inputs) == len(outputs)+2, len(inputs) == len(body params)+1, len(body params) ==
//     len(body returns), and the carried types agree.
//   - If: exactly one input and two blocks without params, each returning as many values as the If
//     outputs, with compatible types.
func (g *Graph) Lint() error {
	return g.lintBlock(g.top, sets.Make[ValueId]())
}

func (g *Graph) lintBlock(b BlockId, visible sets.Set[ValueId]) error {
	visible = visible.Clone()
	bd := g.block(b)
	if err := g.lintNode(bd.paramNode, visible); err != nil {
		return err
	}
	visible.Insert(g.nodes[bd.paramNode].outputs...)
	for _, n := range bd.nodes {
		if err := g.lintNode(n, visible); err != nil {
			return err
		}
		nd := &g.nodes[n]
		if nd.owner != b {
			return qerrors.Invariantf("node %s listed in block %d but owned by block %d", g.NodeString(n), b, nd.owner)
		}
		for _, nested := range nd.blocks {
			if g.blocks[nested].owner != n {
				return qerrors.Invariantf("block %d of node %s has a different owner", nested, g.NodeString(n))
			}
			if err := g.lintBlock(nested, visible); err != nil {
				return err
			}
		}
		if err := g.lintStructure(n); err != nil {
			return err
		}
		// Outputs are only visible after the node's own blocks.
		visible.Insert(nd.outputs...)
	}
	return g.lintNode(bd.returnNode, visible)
}

// lintNode checks the use lists of the node and the visibility of its inputs.
func (g *Graph) lintNode(n NodeId, visible sets.Set[ValueId]) error {
	nd := &g.nodes[n]
	if nd.dead {
		return qerrors.Invariantf("dead node #%d (%s) still in a block", n, nd.kind)
	}
	for ii, v := range nd.inputs {
		if !g.IsValueAlive(v) {
			return qerrors.Invariantf("node %s input #%d is a destroyed value", g.NodeString(n), ii)
		}
		if !visible.Has(v) {
			return qerrors.Invariantf("node %s input #%d %s is not defined before its use",
				g.NodeString(n), ii, g.ValueString(v))
		}
		if !slices.Contains(g.values[v].uses, Use{Node: n, Offset: ii}) {
			return qerrors.Invariantf("value %s misses its use by node %s input #%d",
				g.ValueString(v), g.NodeString(n), ii)
		}
	}
	for ii, v := range nd.outputs {
		vd := &g.values[v]
		if vd.dead || vd.node != n || vd.offset != ii {
			return qerrors.Invariantf("node %s output #%d %s doesn't point back to it", g.NodeString(n), ii, g.ValueString(v))
		}
		for _, u := range vd.uses {
			if !g.IsAlive(u.Node) || u.Offset >= len(g.nodes[u.Node].inputs) || g.nodes[u.Node].inputs[u.Offset] != v {
				return qerrors.Invariantf("value %s has a stale use (#%d, %d)", g.ValueString(v), u.Node, u.Offset)
			}
		}
	}
	return nil
}

// lintStructure checks the arity and types of control-flow nodes.
func (g *Graph) lintStructure(n NodeId) error {
	nd := &g.nodes[n]
	switch nd.kind {
	case KindLoop:
		if len(nd.blocks) != 1 {
			return qerrors.Invariantf("loop %s must have exactly one block, got %d", g.NodeString(n), len(nd.blocks))
		}
		body := nd.blocks[0]
		params, returns := g.BlockParams(body), g.BlockReturns(body)
		if len(nd.inputs) != len(nd.outputs)+2 {
			return qerrors.Invariantf("loop %s has %d inputs and %d outputs, expected inputs == outputs+2",
				g.NodeString(n), len(nd.inputs), len(nd.outputs))
		}
		if len(nd.inputs) != len(params)+1 {
			return qerrors.Invariantf("loop %s has %d inputs and its body %d params, expected inputs == params+1",
				g.NodeString(n), len(nd.inputs), len(params))
		}
		if len(params) != len(returns) {
			return qerrors.Invariantf("loop %s body has %d params and %d returns", g.NodeString(n), len(params), len(returns))
		}
		for ii, out := range nd.outputs {
			carried := []ValueId{nd.inputs[ii+2], params[ii+1], returns[ii+1]}
			for _, v := range carried {
				if !Compatible(g.Type(v), g.Type(out)) {
					return qerrors.Invariantf("loop %s carried value #%d: %s has type %s, loop output has type %s",
						g.NodeString(n), ii, g.ValueString(v), g.Type(v), g.Type(out))
				}
			}
		}
	case KindIf:
		if len(nd.blocks) != 2 || len(nd.inputs) != 1 {
			return qerrors.Invariantf("if %s must have one input and two blocks, got %d and %d",
				g.NodeString(n), len(nd.inputs), len(nd.blocks))
		}
		for _, branch := range nd.blocks {
			if len(g.BlockParams(branch)) != 0 {
				return qerrors.Invariantf("if %s branch block %d takes parameters", g.NodeString(n), branch)
			}
			returns := g.BlockReturns(branch)
			if len(returns) != len(nd.outputs) {
				return qerrors.Invariantf("if %s has %d outputs, but branch block %d returns %d values",
					g.NodeString(n), len(nd.outputs), branch, len(returns))
			}
			for ii, r := range returns {
				if !Compatible(g.Type(r), g.Type(nd.outputs[ii])) {
					return qerrors.Invariantf("if %s output #%d has type %s, but branch block %d returns %s",
						g.NodeString(n), ii, g.Type(nd.outputs[ii]), branch, g.Type(r))
				}
			}
		}
	default:
		if len(nd.blocks) != 0 {
			return qerrors.Invariantf("node %s of kind %s cannot own blocks", g.NodeString(n), nd.kind)
		}
	}
	return nil
}
