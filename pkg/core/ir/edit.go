// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ir

import (
	"slices"

	"github.com/gomlx/exceptions"
)

func (g *Graph) newNode(kind Kind) NodeId {
	g.nodes = append(g.nodes, nodeData{kind: kind, owner: InvalidBlock})
	return NodeId(len(g.nodes) - 1)
}

func (g *Graph) addUse(v ValueId, u Use) {
	vd := g.value(v)
	vd.uses = append(vd.uses, u)
}

func (g *Graph) removeUse(v ValueId, u Use) {
	vd := g.value(v)
	idx := slices.Index(vd.uses, u)
	if idx < 0 {
		exceptions.Panicf("value %s has no use (#%d, %d) in graph %q", g.ValueString(v), u.Node, u.Offset, g.name)
	}
	vd.uses = slices.Delete(vd.uses, idx, idx+1)
}

// shiftUses adjusts the offsets of the uses of inputs of n at positions >= from by delta.
// The same value may be used in several slots, so slots are visited in the direction that never
// revisits an already shifted use.
func (g *Graph) shiftUses(n NodeId, from, delta int) {
	nd := g.node(n)
	shift := func(ii int) {
		vd := g.value(nd.inputs[ii])
		for jj, u := range vd.uses {
			if u.Node == n && u.Offset == ii {
				vd.uses[jj].Offset = ii + delta
			}
		}
	}
	if delta > 0 {
		for ii := len(nd.inputs) - 1; ii >= from; ii-- {
			shift(ii)
		}
		return
	}
	for ii := from; ii < len(nd.inputs); ii++ {
		shift(ii)
	}
}

// CreateNode creates a node not yet inserted in any block. Use InsertBefore, InsertAfter or AppendNode
// to insert it.
func (g *Graph) CreateNode(kind Kind, inputs []ValueId, outTypes ...*Type) NodeId {
	if kind <= KindReturn || kind >= KindLast {
		exceptions.Panicf("cannot create node of kind %s", kind)
	}
	n := g.newNode(kind)
	for ii, v := range inputs {
		g.addUse(v, Use{Node: n, Offset: ii})
	}
	g.nodes[n].inputs = slices.Clone(inputs)
	for ii, t := range outTypes {
		out := g.newValue(n, ii, t)
		g.nodes[n].outputs = append(g.nodes[n].outputs, out)
	}
	return n
}

func (g *Graph) insertAt(n NodeId, b BlockId, idx int) {
	nd := g.node(n)
	if nd.owner != InvalidBlock {
		exceptions.Panicf("node #%d (%s) is already inserted in block %d", n, nd.kind, nd.owner)
	}
	nd.owner = b
	bd := g.block(b)
	bd.nodes = slices.Insert(bd.nodes, idx, n)
	g.renumber(b)
}

func (g *Graph) detach(n NodeId) {
	nd := g.node(n)
	b := nd.owner
	if b == InvalidBlock {
		return
	}
	bd := g.block(b)
	idx := slices.Index(bd.nodes, n)
	if idx < 0 {
		exceptions.Panicf("node #%d (%s) not found in its owner block %d", n, nd.kind, b)
	}
	bd.nodes = slices.Delete(bd.nodes, idx, idx+1)
	nd.owner = InvalidBlock
	g.renumber(b)
}

// renumber refreshes the ordinal position of every node of the block.
func (g *Graph) renumber(b BlockId) {
	bd := g.block(b)
	for ii, n := range bd.nodes {
		g.nodes[n].pos = ii
	}
	g.nodes[bd.paramNode].pos = -1
	g.nodes[bd.returnNode].pos = len(bd.nodes)
}

// InsertBefore inserts the created node n right before the node `before`.
// If `before` is a block's Return node, n is appended to the end of that block.
func (g *Graph) InsertBefore(n, before NodeId) NodeId {
	bnd := g.node(before)
	if bnd.kind == KindParam {
		exceptions.Panicf("cannot insert node #%d before a Param node", n)
	}
	if bnd.owner == InvalidBlock {
		exceptions.Panicf("cannot insert node #%d before node #%d that is not inserted", n, before)
	}
	g.insertAt(n, bnd.owner, bnd.pos)
	return n
}

// InsertAfter inserts the created node n right after the node `after`.
// If `after` is a block's Param node, n is prepended to the start of that block.
func (g *Graph) InsertAfter(n, after NodeId) NodeId {
	and := g.node(after)
	if and.kind == KindReturn {
		exceptions.Panicf("cannot insert node #%d after a Return node", n)
	}
	if and.owner == InvalidBlock {
		exceptions.Panicf("cannot insert node #%d after node #%d that is not inserted", n, after)
	}
	g.insertAt(n, and.owner, and.pos+1)
	return n
}

// AppendNode inserts the created node n at the end of block b.
func (g *Graph) AppendNode(b BlockId, n NodeId) NodeId {
	return g.InsertBefore(n, g.ReturnNode(b))
}

// Insert creates a node and inserts it before the node `before`, returning the new node.
func (g *Graph) Insert(before NodeId, kind Kind, inputs []ValueId, outTypes ...*Type) NodeId {
	return g.InsertBefore(g.CreateNode(kind, inputs, outTypes...), before)
}

// InsertConstant creates a Constant node with the given value before the node `before` and returns its
// output. Accepted values are int, int64, float64, bool, string and nil.
func (g *Graph) InsertConstant(before NodeId, value any) ValueId {
	value, t := constantType(value)
	n := g.Insert(before, KindConstant, nil, t)
	g.SetAttr(n, "value", value)
	return g.Output(n, 0)
}

func constantType(value any) (any, *Type) {
	switch v := value.(type) {
	case nil:
		return nil, NoneType
	case int:
		return int64(v), IntType
	case int64:
		return v, IntType
	case float64:
		return v, FloatType
	case bool:
		return v, BoolType
	case string:
		return v, StringType
	}
	exceptions.Panicf("unsupported constant value %v (%T)", value, value)
	return nil, nil
}

// ConstantValue returns the value of v if it's the output of a Constant node.
func (g *Graph) ConstantValue(v ValueId) (value any, ok bool) {
	n := g.Producer(v)
	if g.Kind(n) != KindConstant {
		return nil, false
	}
	return g.Attr(n, "value")
}

// ConstantInt returns the value of v if it's an integer constant.
func (g *Graph) ConstantInt(v ValueId) (int64, bool) {
	value, ok := g.ConstantValue(v)
	if !ok {
		return 0, false
	}
	i, ok := value.(int64)
	return i, ok
}

// ConstantBool returns the value of v if it's a boolean constant.
func (g *Graph) ConstantBool(v ValueId) (value, ok bool) {
	c, found := g.ConstantValue(v)
	if !found {
		return false, false
	}
	value, ok = c.(bool)
	return
}

// Inputs edition -------------------------------------------------------------------------------------------

// AddNodeInput appends an input to the node.
func (g *Graph) AddNodeInput(n NodeId, v ValueId) {
	g.InsertNodeInput(n, g.NumInputs(n), v)
}

// InsertNodeInput inserts an input at position i of the node.
func (g *Graph) InsertNodeInput(n NodeId, i int, v ValueId) {
	g.shiftUses(n, i, 1)
	nd := g.node(n)
	nd.inputs = slices.Insert(nd.inputs, i, v)
	g.addUse(v, Use{Node: n, Offset: i})
}

// ReplaceNodeInput replaces the input at position i of the node.
func (g *Graph) ReplaceNodeInput(n NodeId, i int, v ValueId) {
	nd := g.node(n)
	old := nd.inputs[i]
	g.removeUse(old, Use{Node: n, Offset: i})
	nd.inputs[i] = v
	g.addUse(v, Use{Node: n, Offset: i})
}

// RemoveNodeInput removes the input at position i of the node.
func (g *Graph) RemoveNodeInput(n NodeId, i int) {
	nd := g.node(n)
	g.removeUse(nd.inputs[i], Use{Node: n, Offset: i})
	g.shiftUses(n, i+1, -1)
	nd.inputs = slices.Delete(nd.inputs, i, i+1)
}

// RemoveAllNodeInputs disconnects all inputs of the node.
func (g *Graph) RemoveAllNodeInputs(n NodeId) {
	nd := g.node(n)
	for ii, v := range nd.inputs {
		g.removeUse(v, Use{Node: n, Offset: ii})
	}
	nd.inputs = nil
}

// Outputs edition ------------------------------------------------------------------------------------------

// AddNodeOutput appends a new output to the node and returns it.
func (g *Graph) AddNodeOutput(n NodeId, t *Type) ValueId {
	return g.InsertNodeOutput(n, g.NumOutputs(n), t)
}

// InsertNodeOutput inserts a new output at position i of the node and returns it.
func (g *Graph) InsertNodeOutput(n NodeId, i int, t *Type) ValueId {
	v := g.newValue(n, i, t)
	nd := g.node(n)
	nd.outputs = slices.Insert(nd.outputs, i, v)
	for ii := i + 1; ii < len(nd.outputs); ii++ {
		g.values[nd.outputs[ii]].offset = ii
	}
	return v
}

// EraseNodeOutput removes the output at position i of the node. The output must have no uses.
func (g *Graph) EraseNodeOutput(n NodeId, i int) {
	nd := g.node(n)
	v := nd.outputs[i]
	if g.HasUses(v) {
		exceptions.Panicf("cannot erase output %s of node #%d (%s): it still has uses", g.ValueString(v), n, nd.kind)
	}
	g.values[v].dead = true
	nd.outputs = slices.Delete(nd.outputs, i, i+1)
	for ii := i; ii < len(nd.outputs); ii++ {
		g.values[nd.outputs[ii]].offset = ii
	}
}

// Blocks edition -------------------------------------------------------------------------------------------

// AddNodeBlock creates a new empty block owned by the node.
func (g *Graph) AddNodeBlock(n NodeId) BlockId {
	g.node(n)
	b := g.newBlock(n)
	g.nodes[n].blocks = append(g.nodes[n].blocks, b)
	return b
}

// AddBlockParam appends a parameter to the block.
func (g *Graph) AddBlockParam(b BlockId, t *Type) ValueId {
	return g.AddNodeOutput(g.ParamNode(b), t)
}

// InsertBlockParam inserts a parameter at position i of the block.
func (g *Graph) InsertBlockParam(b BlockId, i int, t *Type) ValueId {
	return g.InsertNodeOutput(g.ParamNode(b), i, t)
}

// EraseBlockParam removes the parameter at position i of the block. It must have no uses.
func (g *Graph) EraseBlockParam(b BlockId, i int) {
	g.EraseNodeOutput(g.ParamNode(b), i)
}

// AddBlockReturn appends an output to the block.
func (g *Graph) AddBlockReturn(b BlockId, v ValueId) {
	g.AddNodeInput(g.ReturnNode(b), v)
}

// InsertBlockReturn inserts an output at position i of the block.
func (g *Graph) InsertBlockReturn(b BlockId, i int, v ValueId) {
	g.InsertNodeInput(g.ReturnNode(b), i, v)
}

// SetBlockReturn replaces the output at position i of the block.
func (g *Graph) SetBlockReturn(b BlockId, i int, v ValueId) {
	g.ReplaceNodeInput(g.ReturnNode(b), i, v)
}

// EraseBlockReturn removes the output at position i of the block.
func (g *Graph) EraseBlockReturn(b BlockId, i int) {
	g.RemoveNodeInput(g.ReturnNode(b), i)
}

// Uses edition ---------------------------------------------------------------------------------------------

// ReplaceAllUsesWith redirects every use of old to newV.
func (g *Graph) ReplaceAllUsesWith(old, newV ValueId) {
	if old == newV {
		return
	}
	for _, u := range g.Uses(old) {
		g.ReplaceNodeInput(u.Node, u.Offset, newV)
	}
}

// ReplaceUsesAfter redirects the uses of old by nodes ordered after the node `after` (see IsBefore) to newV.
// The node `after` itself is not affected, neither are uses by its nested blocks.
func (g *Graph) ReplaceUsesAfter(old, newV ValueId, after NodeId) {
	for _, u := range g.Uses(old) {
		if u.Node == after || !g.IsBefore(after, u.Node) || g.IsAncestor(after, u.Node) {
			continue
		}
		g.ReplaceNodeInput(u.Node, u.Offset, newV)
	}
}

// ReplaceAllUsesOfNodeWith redirects the uses of each output of oldNode to the corresponding value.
func (g *Graph) ReplaceAllUsesOfNodeWith(oldNode NodeId, values []ValueId) {
	outputs := g.NodeOutputs(oldNode)
	if len(outputs) != len(values) {
		exceptions.Panicf("replacing %d outputs of node #%d (%s) with %d values", len(outputs), oldNode, g.Kind(oldNode), len(values))
	}
	for ii, out := range outputs {
		g.ReplaceAllUsesWith(out, values[ii])
	}
}

// Destruction ----------------------------------------------------------------------------------------------

// Destroy removes the node from its block and marks it and its outputs dead.
// The outputs must not have uses. Nested blocks are destroyed with all their contents.
func (g *Graph) Destroy(n NodeId) {
	nd := g.node(n)
	if nd.kind == KindParam || nd.kind == KindReturn {
		exceptions.Panicf("cannot destroy %s node #%d directly", nd.kind, n)
	}
	for _, out := range nd.outputs {
		if g.HasUses(out) {
			exceptions.Panicf("cannot destroy node #%d (%s): output %s still has %d uses",
				n, nd.kind, g.ValueString(out), len(g.values[out].uses))
		}
	}
	g.detach(n)
	g.destroyNode(n)
}

// destroyNode releases the node without checking uses: used for nested contents where uses are internal.
func (g *Graph) destroyNode(n NodeId) {
	nd := g.node(n)
	for _, b := range slices.Backward(nd.blocks) {
		g.destroyBlock(b)
	}
	nd = g.node(n)
	for ii, v := range nd.inputs {
		if g.IsValueAlive(v) {
			g.removeUse(v, Use{Node: n, Offset: ii})
		}
	}
	nd.inputs = nil
	for _, out := range nd.outputs {
		g.values[out].dead = true
		g.values[out].uses = nil
	}
	nd.dead = true
}

func (g *Graph) destroyBlock(b BlockId) {
	bd := g.block(b)
	g.destroyNode(bd.returnNode)
	for _, n := range slices.Backward(slices.Clone(bd.nodes)) {
		g.destroyNode(n)
	}
	g.destroyNode(bd.paramNode)
	bd = g.block(b)
	bd.nodes = nil
	bd.dead = true
}

// MoveBefore moves an inserted node to right before the node `before`.
func (g *Graph) MoveBefore(n, before NodeId) {
	g.detach(n)
	g.InsertBefore(n, before)
}

// MoveAfter moves an inserted node to right after the node `after`.
func (g *Graph) MoveAfter(n, after NodeId) {
	g.detach(n)
	g.InsertAfter(n, after)
}
