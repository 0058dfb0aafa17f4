// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package passes

import (
	"github.com/gomlx/qcalib/pkg/core/ir"
	"k8s.io/klog/v2"
)

var (
	// LowerBlockTuples splits tuples carried by loops or output by If nodes into their elements.
	LowerBlockTuples = NewPass("lower-block-tuples", infallible(lowerBlockTuples))

	// LowerBlockLists splits lists of static size, used only as tuples, that are carried by loops or output
	// by If nodes into their elements.
	LowerBlockLists = NewPass("lower-block-lists", infallible(lowerBlockLists))
)

// aggregate describes how to split and rebuild a container.
type aggregate struct {
	unpack, construct ir.Kind
}

var (
	tupleAggregate = aggregate{unpack: ir.KindTupleUnpack, construct: ir.KindTupleConstruct}
	listAggregate  = aggregate{unpack: ir.KindListUnpack, construct: ir.KindListConstruct}
)

// lowering is one container crossing a block boundary: output j of node n, with the given element types.
type lowering struct {
	n         ir.NodeId
	j         int
	elemTypes []*ir.Type
}

// lowerAll applies the lowerings returned by find, one at a time, until there are no more.
func lowerAll(g *ir.Graph, agg aggregate, find func(g *ir.Graph) (lowering, bool)) bool {
	changed := false
	for {
		l, found := find(g)
		if !found {
			return changed
		}
		klog.V(2).Infof("%s: lowering %s output #%d into %d elements", g.Name(), g.Kind(l.n), l.j, len(l.elemTypes))
		if g.Kind(l.n) == ir.KindLoop {
			agg.lowerLoopCarried(g, l)
		} else {
			agg.lowerIfOutput(g, l)
		}
		changed = true
	}
}

func lowerBlockTuples(g *ir.Graph) bool {
	return lowerAll(g, tupleAggregate, func(g *ir.Graph) (lowering, bool) {
		for _, n := range g.FindNodes(ir.KindLoop, ir.KindIf) {
			for j, out := range g.NodeOutputs(n) {
				if t := g.Type(out); t.Kind == ir.TypeTuple {
					return lowering{n: n, j: j, elemTypes: t.Elems}, true
				}
			}
		}
		return lowering{}, false
	})
}

func lowerBlockLists(g *ir.Graph) bool {
	return lowerAll(g, listAggregate, func(g *ir.Graph) (lowering, bool) {
		for _, n := range g.FindNodes(ir.KindLoop, ir.KindIf) {
			for j, out := range g.NodeOutputs(n) {
				t := g.Type(out)
				if t.Kind != ir.TypeList {
					continue
				}
				size, ok := staticListSize(g, n, j)
				if !ok {
					continue
				}
				return lowering{n: n, j: j, elemTypes: repeatType(t.Elem(), size)}, true
			}
		}
		return lowering{}, false
	})
}

// staticListSize returns the number of elements of the list output j of the Loop or If n, if it's built
// with a static number of elements and only used as a tuple.
func staticListSize(g *ir.Graph, n ir.NodeId, j int) (int, bool) {
	if g.Kind(n) == ir.KindLoop {
		init := g.Input(n, j+2)
		elems, ok := constructed(g, init, ir.KindListConstruct)
		if !ok || !isTupleLike(g, init) {
			return 0, false
		}
		return len(elems), true
	}

	size := -1
	for _, branch := range g.NodeBlocks(n) {
		r := g.BlockReturns(branch)[j]
		elems, ok := constructed(g, r, ir.KindListConstruct)
		if !ok || (size >= 0 && len(elems) != size) || !isTupleLike(g, r) {
			return 0, false
		}
		size = len(elems)
	}
	return size, true
}

// isTupleLike returns whether the list v is only read, and its identity doesn't matter: it can be
// replaced by a new list with the same elements.
//
// Allowed uses are the reading kinds, being carried unchanged by a loop whose carried values are
// themselves tuple-like, and being returned by an If branch whose corresponding output is tuple-like.
// Any other use disqualifies the list.
func isTupleLike(g *ir.Graph, v ir.ValueId) bool {
	for _, use := range g.Uses(v) {
		user := use.Node
		switch kind := g.Kind(user); {
		case readOnlyListUses[kind]:
			if use.Offset != 0 {
				return false
			}

		case kind == ir.KindLoop:
			if use.Offset < 2 {
				return false
			}
			body := g.Block(user, 0)
			param := g.BlockParams(body)[use.Offset-1]
			if g.BlockReturns(body)[use.Offset-1] != param {
				return false
			}
			if !isTupleLike(g, param) || !isTupleLike(g, g.Output(user, use.Offset-2)) {
				return false
			}

		case kind == ir.KindReturn:
			owner := g.BlockOwner(g.Owner(user))
			if owner == ir.InvalidNode {
				return false
			}
			switch g.Kind(owner) {
			case ir.KindLoop:
				// Only passing the body parameter unchanged to the next iteration.
				body := g.Owner(user)
				if use.Offset == 0 || g.BlockParams(body)[use.Offset] != v {
					return false
				}
			case ir.KindIf:
				if !isTupleLike(g, g.Output(owner, use.Offset)) {
					return false
				}
			default:
				return false
			}

		default:
			return false
		}
	}
	return true
}

// blockStart returns the node before which to insert at the start of the block.
func blockStart(g *ir.Graph, b ir.BlockId) ir.NodeId {
	if nodes := g.BlockNodes(b); len(nodes) > 0 {
		return nodes[0]
	}
	return g.ReturnNode(b)
}

// unpackBefore inserts a node unpacking v before the node `before` and returns the elements.
func (agg aggregate) unpackBefore(g *ir.Graph, v ir.ValueId, elemTypes []*ir.Type, before ir.NodeId) []ir.ValueId {
	unpack := g.Insert(before, agg.unpack, []ir.ValueId{v}, elemTypes...)
	return g.NodeOutputs(unpack)
}

// splitOutput replaces output j of n by one output per element, rebuilding the container for the
// former uses right after n.
func (agg aggregate) splitOutput(g *ir.Graph, n ir.NodeId, j int, elemTypes []*ir.Type) {
	old := g.Output(n, j)
	elems := make([]ir.ValueId, len(elemTypes))
	for k, t := range elemTypes {
		elems[k] = g.InsertNodeOutput(n, j+k, t)
	}
	rebuilt := g.InsertAfter(g.CreateNode(agg.construct, elems, g.Type(old)), n)
	g.ReplaceAllUsesWith(old, g.Output(rebuilt, 0))
	g.EraseNodeOutput(n, j+len(elemTypes))
}

func (agg aggregate) lowerLoopCarried(g *ir.Graph, l lowering) {
	n, j, elemTypes := l.n, l.j, l.elemTypes
	body := g.Block(n, 0)

	// Initial values.
	replaceInputWithMany(g, n, j+2, agg.unpackBefore(g, g.Input(n, j+2), elemTypes, n))

	// Body parameters.
	oldParam := g.BlockParams(body)[j+1]
	params := make([]ir.ValueId, len(elemTypes))
	for k, t := range elemTypes {
		params[k] = g.InsertBlockParam(body, j+1+k, t)
	}
	rebuilt := g.Insert(blockStart(g, body), agg.construct, params, g.Type(oldParam))
	g.ReplaceAllUsesWith(oldParam, g.Output(rebuilt, 0))
	g.EraseBlockParam(body, j+1+len(elemTypes))

	// Body returns.
	returnNode := g.ReturnNode(body)
	replaceInputWithMany(g, returnNode, j+1, agg.unpackBefore(g, g.Input(returnNode, j+1), elemTypes, returnNode))

	agg.splitOutput(g, n, j, elemTypes)
}

func (agg aggregate) lowerIfOutput(g *ir.Graph, l lowering) {
	n, j, elemTypes := l.n, l.j, l.elemTypes
	for _, branch := range g.NodeBlocks(n) {
		returnNode := g.ReturnNode(branch)
		replaceInputWithMany(g, returnNode, j, agg.unpackBefore(g, g.Input(returnNode, j), elemTypes, returnNode))
	}
	agg.splitOutput(g, n, j, elemTypes)
}
