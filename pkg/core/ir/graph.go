// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package ir implements the block/node/value intermediate representation the passes operate on.
//
// The main elements in the package are:
//
//   - Value: a typed, single-definition data-flow edge. Every Value is an output of exactly one Node
//     (block parameters are the outputs of the block's Param node).
//   - Node: an operation instance, tagged with a Kind, with ordered inputs and outputs and optionally
//     owning nested Blocks (If owns two, Loop owns one).
//   - Block: an ordered sequence of Nodes, framed by a Param node (its inputs) and a Return node (its
//     outputs).
//   - Graph: a named top-level Block, the unit passes operate on.
//
// All of them live in an arena owned by the Graph, and are addressed by stable integer handles
// (ValueId, NodeId, BlockId). Destroyed entries are only marked dead, so handles never dangle:
// using a dead handle is a bug and panics.
//
// Misuse of the API (e.g. destroying a node whose outputs are still used) is a bug in the caller, and
// it panics with exceptions.Panicf, as the rest of the framework. Graph invariants that may be broken by
// passes are verified with Lint, which returns an error instead.
package ir

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/exceptions"
)

// ValueId is the handle of a Value within a Graph.
type ValueId int

// NodeId is the handle of a Node within a Graph.
type NodeId int

// BlockId is the handle of a Block within a Graph.
type BlockId int

const (
	InvalidValue ValueId = -1
	InvalidNode  NodeId  = -1
	InvalidBlock BlockId = -1
)

// Use pairs a consuming Node with the input slot where a Value is used.
type Use struct {
	Node   NodeId
	Offset int
}

type valueData struct {
	typ    *Type
	name   string
	node   NodeId
	offset int
	uses   []Use
	dead   bool
}

type nodeData struct {
	kind    Kind
	inputs  []ValueId
	outputs []ValueId
	blocks  []BlockId
	attrs   map[string]any
	source  string

	// owner is the block where the node is inserted, or InvalidBlock if not inserted yet.
	owner BlockId

	// pos is the ordinal of the node within its owner block. Param nodes are at -1 and Return nodes
	// are after the last node.
	pos int

	dead bool
}

type blockData struct {
	paramNode  NodeId
	returnNode NodeId
	nodes      []NodeId
	owner      NodeId
	dead       bool
}

// Graph with the nodes of one method. See package documentation.
//
// A Graph is not safe for concurrent mutation: it's exclusively owned by whoever runs passes on it.
type Graph struct {
	name   string
	values []valueData
	nodes  []nodeData
	blocks []blockData
	top    BlockId
}

// New creates an empty graph with the given name.
func New(name string) *Graph {
	g := &Graph{name: name}
	g.top = g.newBlock(InvalidNode)
	return g
}

// Name of the graph, usually the method name.
func (g *Graph) Name() string { return g.name }

// Rename changes the name of the graph.
func (g *Graph) Rename(name string) { g.name = name }

// TopBlock returns the top-level block of the graph.
func (g *Graph) TopBlock() BlockId { return g.top }

// Inputs returns the graph inputs, the parameters of the top block.
func (g *Graph) Inputs() []ValueId { return g.BlockParams(g.top) }

// Outputs returns the graph outputs, the returns of the top block.
func (g *Graph) Outputs() []ValueId { return g.BlockReturns(g.top) }

// AddInput appends a named input to the graph.
func (g *Graph) AddInput(name string, t *Type) ValueId {
	v := g.AddBlockParam(g.top, t)
	g.SetName(v, name)
	return v
}

// RegisterOutput appends v to the graph outputs.
func (g *Graph) RegisterOutput(v ValueId) {
	g.AddBlockReturn(g.top, v)
}

// NumNodes returns the number of live nodes, including the Param and Return nodes of each block.
func (g *Graph) NumNodes() int {
	count := 0
	for ii := range g.nodes {
		if !g.nodes[ii].dead && g.nodes[ii].owner != InvalidBlock {
			count++
		}
	}
	return count
}

// Summary returns a one line description of the graph's size.
func (g *Graph) Summary() string {
	numValues := 0
	for ii := range g.values {
		if !g.values[ii].dead {
			numValues++
		}
	}
	return fmt.Sprintf("graph %q: %s nodes, %s values", g.name,
		humanize.Comma(int64(g.NumNodes())), humanize.Comma(int64(numValues)))
}

// Values ---------------------------------------------------------------------------------------------------

func (g *Graph) value(v ValueId) *valueData {
	if v < 0 || int(v) >= len(g.values) {
		exceptions.Panicf("invalid value handle %d in graph %q", v, g.name)
	}
	vd := &g.values[v]
	if vd.dead {
		exceptions.Panicf("value %%%d used after being destroyed in graph %q", v, g.name)
	}
	return vd
}

func (g *Graph) newValue(node NodeId, offset int, t *Type) ValueId {
	if t == nil {
		exceptions.Panicf("value created with nil type in graph %q", g.name)
	}
	g.values = append(g.values, valueData{typ: t, node: node, offset: offset})
	return ValueId(len(g.values) - 1)
}

// IsValueAlive returns whether v is a valid handle to a value not yet destroyed.
func (g *Graph) IsValueAlive(v ValueId) bool {
	return v >= 0 && int(v) < len(g.values) && !g.values[v].dead
}

// Type returns the type of the value.
func (g *Graph) Type(v ValueId) *Type { return g.value(v).typ }

// SetType changes the type of the value.
func (g *Graph) SetType(v ValueId, t *Type) { g.value(v).typ = t }

// DebugName returns the debug name of the value, possibly empty.
func (g *Graph) DebugName(v ValueId) string { return g.value(v).name }

// SetName sets the debug name of the value.
func (g *Graph) SetName(v ValueId, name string) { g.value(v).name = name }

// Uses returns a copy of the uses of v.
func (g *Graph) Uses(v ValueId) []Use {
	uses := g.value(v).uses
	out := make([]Use, len(uses))
	copy(out, uses)
	return out
}

// HasUses returns whether the value is used by any node.
func (g *Graph) HasUses(v ValueId) bool { return len(g.value(v).uses) > 0 }

// Producer returns the node that defines v. For block parameters, it's the block's Param node.
func (g *Graph) Producer(v ValueId) NodeId { return g.value(v).node }

// OutputIndex returns the index of v among its producer's outputs.
func (g *Graph) OutputIndex(v ValueId) int { return g.value(v).offset }

// IsBlockParam returns whether v is a block parameter.
func (g *Graph) IsBlockParam(v ValueId) bool {
	return g.Kind(g.Producer(v)) == KindParam
}

// ValueString returns the textual reference of a value: "%name" or "%id".
func (g *Graph) ValueString(v ValueId) string {
	if !g.IsValueAlive(v) {
		return fmt.Sprintf("%%<dead:%d>", v)
	}
	if name := g.values[v].name; name != "" {
		return "%" + name
	}
	return fmt.Sprintf("%%%d", v)
}

// Nodes ----------------------------------------------------------------------------------------------------

func (g *Graph) node(n NodeId) *nodeData {
	if n < 0 || int(n) >= len(g.nodes) {
		exceptions.Panicf("invalid node handle %d in graph %q", n, g.name)
	}
	nd := &g.nodes[n]
	if nd.dead {
		exceptions.Panicf("node #%d (%s) used after being destroyed in graph %q", n, nd.kind, g.name)
	}
	return nd
}

// IsAlive returns whether n is a valid handle to a node not yet destroyed.
func (g *Graph) IsAlive(n NodeId) bool {
	return n >= 0 && int(n) < len(g.nodes) && !g.nodes[n].dead
}

// Kind returns the operator tag of the node.
func (g *Graph) Kind(n NodeId) Kind { return g.node(n).kind }

// NodeInputs returns a copy of the node's inputs.
func (g *Graph) NodeInputs(n NodeId) []ValueId {
	inputs := g.node(n).inputs
	out := make([]ValueId, len(inputs))
	copy(out, inputs)
	return out
}

// Input returns the i-th input of the node.
func (g *Graph) Input(n NodeId, i int) ValueId { return g.node(n).inputs[i] }

// NumInputs returns the number of inputs of the node.
func (g *Graph) NumInputs(n NodeId) int { return len(g.node(n).inputs) }

// NodeOutputs returns a copy of the node's outputs.
func (g *Graph) NodeOutputs(n NodeId) []ValueId {
	outputs := g.node(n).outputs
	out := make([]ValueId, len(outputs))
	copy(out, outputs)
	return out
}

// Output returns the i-th output of the node.
func (g *Graph) Output(n NodeId, i int) ValueId { return g.node(n).outputs[i] }

// NumOutputs returns the number of outputs of the node.
func (g *Graph) NumOutputs(n NodeId) int { return len(g.node(n).outputs) }

// NodeBlocks returns a copy of the blocks owned by the node.
func (g *Graph) NodeBlocks(n NodeId) []BlockId {
	blocks := g.node(n).blocks
	out := make([]BlockId, len(blocks))
	copy(out, blocks)
	return out
}

// Block returns the i-th block owned by the node.
func (g *Graph) Block(n NodeId, i int) BlockId { return g.node(n).blocks[i] }

// Owner returns the block where the node is inserted, or InvalidBlock.
func (g *Graph) Owner(n NodeId) BlockId { return g.node(n).owner }

// Attr returns the attribute of the node with the given key.
func (g *Graph) Attr(n NodeId, key string) (value any, found bool) {
	value, found = g.node(n).attrs[key]
	return
}

// SetAttr sets an attribute of the node. Attribute values must be comparable with ==.
func (g *Graph) SetAttr(n NodeId, key string, value any) {
	nd := g.node(n)
	if nd.attrs == nil {
		nd.attrs = make(map[string]any)
	}
	nd.attrs[key] = value
}

// IntAttr returns an integer attribute. It panics if it is missing or not an integer.
func (g *Graph) IntAttr(n NodeId, key string) int64 {
	value, found := g.Attr(n, key)
	if !found {
		exceptions.Panicf("node #%d (%s) has no attribute %q", n, g.Kind(n), key)
	}
	i, ok := value.(int64)
	if !ok {
		exceptions.Panicf("node #%d (%s) attribute %q is %T, not int64", n, g.Kind(n), key, value)
	}
	return i
}

// StringAttr returns a string attribute, or "" if missing.
func (g *Graph) StringAttr(n NodeId, key string) string {
	value, _ := g.Attr(n, key)
	s, _ := value.(string)
	return s
}

// AttrKeys returns the attribute keys of the node, in no particular order.
func (g *Graph) AttrKeys(n NodeId) []string {
	keys := make([]string, 0, len(g.node(n).attrs))
	for k := range g.node(n).attrs {
		keys = append(keys, k)
	}
	return keys
}

// Source returns the source location tag of the node.
func (g *Graph) Source(n NodeId) string { return g.node(n).source }

// SetSource sets the source location tag of the node.
func (g *Graph) SetSource(n NodeId, source string) { g.node(n).source = source }

// Blocks ---------------------------------------------------------------------------------------------------

func (g *Graph) block(b BlockId) *blockData {
	if b < 0 || int(b) >= len(g.blocks) {
		exceptions.Panicf("invalid block handle %d in graph %q", b, g.name)
	}
	bd := &g.blocks[b]
	if bd.dead {
		exceptions.Panicf("block %d used after being destroyed in graph %q", b, g.name)
	}
	return bd
}

func (g *Graph) newBlock(owner NodeId) BlockId {
	b := BlockId(len(g.blocks))
	g.blocks = append(g.blocks, blockData{owner: owner})
	param := g.newNode(KindParam)
	ret := g.newNode(KindReturn)
	g.nodes[param].owner, g.nodes[param].pos = b, -1
	g.nodes[ret].owner, g.nodes[ret].pos = b, 0
	g.blocks[b].paramNode = param
	g.blocks[b].returnNode = ret
	return b
}

// BlockParams returns the parameters (inputs) of the block.
func (g *Graph) BlockParams(b BlockId) []ValueId { return g.NodeOutputs(g.block(b).paramNode) }

// BlockReturns returns the outputs of the block.
func (g *Graph) BlockReturns(b BlockId) []ValueId { return g.NodeInputs(g.block(b).returnNode) }

// ParamNode returns the Param node of the block.
func (g *Graph) ParamNode(b BlockId) NodeId { return g.block(b).paramNode }

// ReturnNode returns the Return node of the block.
func (g *Graph) ReturnNode(b BlockId) NodeId { return g.block(b).returnNode }

// BlockNodes returns a copy of the nodes of the block, in order, excluding its Param and Return nodes.
func (g *Graph) BlockNodes(b BlockId) []NodeId {
	nodes := g.block(b).nodes
	out := make([]NodeId, len(nodes))
	copy(out, nodes)
	return out
}

// BlockOwner returns the node owning the block, or InvalidNode for the top block.
func (g *Graph) BlockOwner(b BlockId) NodeId { return g.block(b).owner }
