// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package passes

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/gomlx/qcalib/pkg/core/ir"
)

// maxCleanupIterations bounds the fixpoint iteration of Cleanup.
const maxCleanupIterations = 100

var (
	// ConstantPropagation folds scalar arithmetic over constants, If nodes with a constant condition,
	// loops that never run, and accesses to tuples and read-only lists built in the graph.
	ConstantPropagation = NewPass("constant-propagation", infallible(constantPropagation))

	// DeadCodeElimination removes nodes without side effects whose outputs are unused, and the unused
	// carried values of loops and outputs of conditionals.
	DeadCodeElimination = NewPass("dead-code-elimination", infallible(deadCodeElimination))

	// CSE merges pure nodes with the same kind, inputs and attributes.
	CSE = NewPass("common-subexpression-elimination", infallible(commonSubexpressionElimination))

	// Canonicalize replaces re-packed tuples by the original tuple and moves constants to the second
	// operand of commutative operations.
	Canonicalize = NewPass("canonicalize", infallible(canonicalize))

	// Cleanup runs all the cleanup passes until none of them changes the graph.
	Cleanup = NewPass("cleanup", infallible(cleanup))
)

func cleanup(g *ir.Graph) bool {
	changed := false
	for range maxCleanupIterations {
		iterChanged := constantPropagation(g)
		iterChanged = canonicalize(g) || iterChanged
		iterChanged = commonSubexpressionElimination(g) || iterChanged
		iterChanged = deadCodeElimination(g) || iterChanged
		if !iterChanged {
			break
		}
		changed = true
	}
	return changed
}

// Constant propagation ---------------------------------------------------------------------------------------

// folder tries to fold node n and returns whether it did.
type folder func(g *ir.Graph, n ir.NodeId) bool

var folders = [ir.KindLast]folder{
	ir.KindAdd: foldScalarOp,
	ir.KindSub: foldScalarOp,
	ir.KindMul: foldScalarOp,
	ir.KindDiv: foldScalarOp,
	ir.KindNeg: foldScalarOp,
	ir.KindLt:  foldScalarOp,
	ir.KindGt:  foldScalarOp,
	ir.KindEq:  foldScalarOp,
	ir.KindNe:  foldScalarOp,
	ir.KindNot: foldScalarOp,

	ir.KindIf:   foldIf,
	ir.KindLoop: foldLoop,

	ir.KindTupleIndex:  foldTupleIndex,
	ir.KindTupleUnpack: foldTupleUnpack,
	ir.KindTupleSlice:  foldTupleSlice,
	ir.KindListGetItem: foldListGetItem,
	ir.KindListUnpack:  foldListUnpack,
	ir.KindListLen:     foldListLen,
}

func constantPropagation(g *ir.Graph) bool {
	changed := false
	for _, n := range g.AllNodes() {
		if !g.IsAlive(n) {
			continue
		}
		if fold := folders[g.Kind(n)]; fold != nil && fold(g, n) {
			changed = true
		}
	}
	return changed
}

// replaceWithValues redirects the uses of the outputs of n to values, and destroys n.
func replaceWithValues(g *ir.Graph, n ir.NodeId, values ...ir.ValueId) {
	g.ReplaceAllUsesOfNodeWith(n, values)
	g.Destroy(n)
}

func constantScalars(g *ir.Graph, n ir.NodeId) ([]any, bool) {
	inputs := g.NodeInputs(n)
	values := make([]any, len(inputs))
	for ii, v := range inputs {
		value, ok := g.ConstantValue(v)
		if !ok {
			return nil, false
		}
		values[ii] = value
	}
	return values, true
}

func foldScalarOp(g *ir.Graph, n ir.NodeId) bool {
	if g.NumOutputs(n) != 1 || g.Type(g.Output(n, 0)).IsTensor() {
		return false
	}
	args, ok := constantScalars(g, n)
	if !ok {
		return false
	}
	result, ok := evalScalar(g.Kind(n), args)
	if !ok {
		return false
	}
	replaceWithValues(g, n, g.InsertConstant(n, result))
	return true
}

// evalScalar evaluates a scalar operation. Integer arithmetic stays integer, except for Div.
func evalScalar(kind ir.Kind, args []any) (any, bool) {
	if kind == ir.KindNot {
		if len(args) != 1 {
			return nil, false
		}
		b, ok := args[0].(bool)
		return !b, ok
	}
	if kind == ir.KindNeg {
		if len(args) != 1 {
			return nil, false
		}
		switch x := args[0].(type) {
		case int64:
			return -x, true
		case float64:
			return -x, true
		}
		return nil, false
	}
	if len(args) != 2 {
		return nil, false
	}
	if kind == ir.KindEq || kind == ir.KindNe {
		if _, isFloat := args[0].(float64); !isFloat {
			if _, isFloat := args[1].(float64); !isFloat {
				return (args[0] == args[1]) == (kind == ir.KindEq), true
			}
		}
	}
	ia, aIsInt := args[0].(int64)
	ib, bIsInt := args[1].(int64)
	if aIsInt && bIsInt {
		switch kind {
		case ir.KindAdd:
			return ia + ib, true
		case ir.KindSub:
			return ia - ib, true
		case ir.KindMul:
			return ia * ib, true
		case ir.KindLt:
			return ia < ib, true
		case ir.KindGt:
			return ia > ib, true
		}
	}
	fa, okA := toFloat(args[0])
	fb, okB := toFloat(args[1])
	if !okA || !okB {
		return nil, false
	}
	switch kind {
	case ir.KindAdd:
		return fa + fb, true
	case ir.KindSub:
		return fa - fb, true
	case ir.KindMul:
		return fa * fb, true
	case ir.KindDiv:
		if fb == 0 {
			return nil, false
		}
		return fa / fb, true
	case ir.KindLt:
		return fa < fb, true
	case ir.KindGt:
		return fa > fb, true
	case ir.KindEq:
		return fa == fb, true
	case ir.KindNe:
		return fa != fb, true
	}
	return nil, false
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case float64:
		return x, true
	}
	return 0, false
}

// foldIf inlines the branch selected by a constant condition.
func foldIf(g *ir.Graph, n ir.NodeId) bool {
	cond, ok := g.ConstantBool(g.Input(n, 0))
	if !ok {
		return false
	}
	branch := g.Block(n, 1)
	if cond {
		branch = g.Block(n, 0)
	}
	results := g.CopyBlock(g, branch, nil, n)
	replaceWithValues(g, n, results...)
	return true
}

// foldLoop removes loops that never execute their body.
func foldLoop(g *ir.Graph, n ir.NodeId) bool {
	neverRuns := false
	if trip, ok := g.ConstantInt(g.Input(n, 0)); ok && trip <= 0 {
		neverRuns = true
	}
	if cond, ok := g.ConstantBool(g.Input(n, 1)); ok && !cond {
		neverRuns = true
	}
	if !neverRuns {
		return false
	}
	replaceWithValues(g, n, g.NodeInputs(n)[2:]...)
	return true
}

// constructed returns the elements of v if it's built by a node of the given kind.
func constructed(g *ir.Graph, v ir.ValueId, kind ir.Kind) ([]ir.ValueId, bool) {
	producer := g.Producer(v)
	if g.Kind(producer) != kind {
		return nil, false
	}
	return g.NodeInputs(producer), true
}

// constantIndex returns the index given by the constant v, normalized for a container of the given length.
func constantIndex(g *ir.Graph, v ir.ValueId, length int) (int, bool) {
	idx, ok := g.ConstantInt(v)
	if !ok {
		return 0, false
	}
	i := int(idx)
	if i < 0 {
		i += length
	}
	return i, i >= 0 && i < length
}

func foldTupleIndex(g *ir.Graph, n ir.NodeId) bool {
	elems, ok := constructed(g, g.Input(n, 0), ir.KindTupleConstruct)
	if !ok {
		return false
	}
	idx, ok := constantIndex(g, g.Input(n, 1), len(elems))
	if !ok {
		return false
	}
	replaceWithValues(g, n, elems[idx])
	return true
}

func foldTupleUnpack(g *ir.Graph, n ir.NodeId) bool {
	elems, ok := constructed(g, g.Input(n, 0), ir.KindTupleConstruct)
	if !ok || len(elems) != g.NumOutputs(n) {
		return false
	}
	replaceWithValues(g, n, elems...)
	return true
}

func foldTupleSlice(g *ir.Graph, n ir.NodeId) bool {
	elems, ok := constructed(g, g.Input(n, 0), ir.KindTupleConstruct)
	if !ok {
		return false
	}
	start, end := int(g.IntAttr(n, "start")), int(g.IntAttr(n, "end"))
	if start < 0 || end > len(elems) || start > end {
		return false
	}
	sliced := elems[start:end]
	tuple := g.Insert(n, ir.KindTupleConstruct, sliced, ir.TupleOf(outputTypes(g, sliced)...))
	replaceWithValues(g, n, g.Output(tuple, 0))
	return true
}

// readOnlyListUses are the kinds that read a list (given as input 0) without mutating or leaking it.
var readOnlyListUses = [ir.KindLast]bool{
	ir.KindListGetItem: true,
	ir.KindListLen:     true,
	ir.KindListUnpack:  true,
	ir.KindListSlice:   true,
	ir.KindCat:         true,
}

// readOnlyList returns the elements of v if it's built by a ListConstruct and never mutated.
func readOnlyList(g *ir.Graph, v ir.ValueId) ([]ir.ValueId, bool) {
	elems, ok := constructed(g, v, ir.KindListConstruct)
	if !ok {
		return nil, false
	}
	for _, use := range g.Uses(v) {
		if use.Offset != 0 || !readOnlyListUses[g.Kind(use.Node)] {
			return nil, false
		}
	}
	return elems, true
}

func foldListGetItem(g *ir.Graph, n ir.NodeId) bool {
	elems, ok := readOnlyList(g, g.Input(n, 0))
	if !ok {
		return false
	}
	idx, ok := constantIndex(g, g.Input(n, 1), len(elems))
	if !ok {
		return false
	}
	replaceWithValues(g, n, elems[idx])
	return true
}

func foldListUnpack(g *ir.Graph, n ir.NodeId) bool {
	elems, ok := readOnlyList(g, g.Input(n, 0))
	if !ok || len(elems) != g.NumOutputs(n) {
		return false
	}
	replaceWithValues(g, n, elems...)
	return true
}

func foldListLen(g *ir.Graph, n ir.NodeId) bool {
	elems, ok := readOnlyList(g, g.Input(n, 0))
	if !ok {
		return false
	}
	replaceWithValues(g, n, g.InsertConstant(n, len(elems)))
	return true
}

// Dead code elimination --------------------------------------------------------------------------------------

// isRemovable returns whether n can be destroyed without changing the semantics of the graph.
func isRemovable(g *ir.Graph, n ir.NodeId) bool {
	kind := g.Kind(n)
	if kind == ir.KindParam || kind == ir.KindReturn || kind.HasSideEffects() {
		return false
	}
	for _, out := range g.NodeOutputs(n) {
		if g.HasUses(out) {
			return false
		}
	}
	for _, b := range g.NodeBlocks(n) {
		for _, nested := range g.BlockNodesRecursive(b) {
			if g.Kind(nested).HasSideEffects() {
				return false
			}
		}
	}
	return true
}

func deadCodeElimination(g *ir.Graph) bool {
	return dceBlock(g, g.TopBlock())
}

func dceBlock(g *ir.Graph, b ir.BlockId) bool {
	changed := false
	for _, n := range slices.Backward(g.BlockNodes(b)) {
		switch g.Kind(n) {
		case ir.KindLoop:
			changed = removeDeadCarried(g, n) || changed
		case ir.KindIf:
			changed = removeDeadIfOutputs(g, n) || changed
		}
		for _, nested := range g.NodeBlocks(n) {
			changed = dceBlock(g, nested) || changed
		}
		if isRemovable(g, n) {
			g.Destroy(n)
			changed = true
		}
	}
	return changed
}

// removeDeadCarried removes loop carried values whose output is unused and whose body parameter is only
// used to be passed to the next iteration.
func removeDeadCarried(g *ir.Graph, n ir.NodeId) bool {
	body := g.Block(n, 0)
	returnNode := g.ReturnNode(body)
	changed := false
	for j := g.NumOutputs(n) - 1; j >= 0; j-- {
		if g.HasUses(g.Output(n, j)) {
			continue
		}
		param := g.BlockParams(body)[j+1]
		onlyPassedOn := true
		for _, use := range g.Uses(param) {
			if use.Node != returnNode || use.Offset != j+1 {
				onlyPassedOn = false
				break
			}
		}
		if !onlyPassedOn {
			continue
		}
		g.EraseBlockReturn(body, j+1)
		g.EraseBlockParam(body, j+1)
		g.RemoveNodeInput(n, j+2)
		g.EraseNodeOutput(n, j)
		changed = true
	}
	return changed
}

// removeDeadIfOutputs removes the unused outputs of an If node, and the corresponding branch returns.
func removeDeadIfOutputs(g *ir.Graph, n ir.NodeId) bool {
	changed := false
	for j := g.NumOutputs(n) - 1; j >= 0; j-- {
		if g.HasUses(g.Output(n, j)) {
			continue
		}
		for _, branch := range g.NodeBlocks(n) {
			g.EraseBlockReturn(branch, j)
		}
		g.EraseNodeOutput(n, j)
		changed = true
	}
	return changed
}

// Common subexpression elimination ---------------------------------------------------------------------------

func commonSubexpressionElimination(g *ir.Graph) bool {
	changed := false
	var walk func(b ir.BlockId, seen map[string]ir.NodeId)
	walk = func(b ir.BlockId, seen map[string]ir.NodeId) {
		seen = maps.Clone(seen)
		for _, n := range g.BlockNodes(b) {
			for _, nested := range g.NodeBlocks(n) {
				walk(nested, seen)
			}
			if !g.Kind(n).IsPure() || len(g.NodeBlocks(n)) > 0 || hasListOutput(g, n) {
				continue
			}
			key := cseKey(g, n)
			if prev, found := seen[key]; found {
				replaceWithValues(g, n, g.NodeOutputs(prev)...)
				changed = true
				continue
			}
			seen[key] = n
		}
	}
	walk(g.TopBlock(), make(map[string]ir.NodeId))
	return changed
}

// hasListOutput returns whether n outputs a (mutable) list: those are never merged.
func hasListOutput(g *ir.Graph, n ir.NodeId) bool {
	for _, out := range g.NodeOutputs(n) {
		if g.Type(out).Kind == ir.TypeList {
			return true
		}
	}
	return false
}

// cseKey identifies the computation of a pure node.
func cseKey(g *ir.Graph, n ir.NodeId) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s%v", g.Kind(n), g.NodeInputs(n))
	keys := g.AttrKeys(n)
	slices.Sort(keys)
	for _, key := range keys {
		value, _ := g.Attr(n, key)
		fmt.Fprintf(&sb, "|%s=%T:%v", key, value, value)
	}
	for _, out := range g.NodeOutputs(n) {
		fmt.Fprintf(&sb, "|%s", g.Type(out))
	}
	return sb.String()
}

// Canonicalization -------------------------------------------------------------------------------------------

var commutative = [ir.KindLast]bool{
	ir.KindAdd: true,
	ir.KindMul: true,
	ir.KindEq:  true,
	ir.KindNe:  true,
}

func canonicalize(g *ir.Graph) bool {
	changed := false
	for _, n := range g.AllNodes() {
		if !g.IsAlive(n) {
			continue
		}
		kind := g.Kind(n)
		switch {
		case kind == ir.KindTupleConstruct:
			if tuple, ok := repackedTuple(g, n); ok {
				replaceWithValues(g, n, tuple)
				changed = true
			}
		case commutative[kind] && g.NumInputs(n) == 2:
			_, firstIsConst := g.ConstantValue(g.Input(n, 0))
			_, secondIsConst := g.ConstantValue(g.Input(n, 1))
			if firstIsConst && !secondIsConst {
				first, second := g.Input(n, 0), g.Input(n, 1)
				g.ReplaceNodeInput(n, 0, second)
				g.ReplaceNodeInput(n, 1, first)
				changed = true
			}
		}
	}
	return changed
}

// repackedTuple checks whether the TupleConstruct n builds (t[0], t[1], ..., t[k-1]) out of a tuple t of k
// elements, and returns t.
func repackedTuple(g *ir.Graph, n ir.NodeId) (ir.ValueId, bool) {
	inputs := g.NodeInputs(n)
	source := ir.InvalidValue
	for ii, v := range inputs {
		producer := g.Producer(v)
		if g.Kind(producer) != ir.KindTupleIndex {
			return ir.InvalidValue, false
		}
		tuple := g.Input(producer, 0)
		if idx, ok := g.ConstantInt(g.Input(producer, 1)); !ok || int(idx) != ii {
			return ir.InvalidValue, false
		}
		if ii == 0 {
			source = tuple
		} else if tuple != source {
			return ir.InvalidValue, false
		}
	}
	if source == ir.InvalidValue || len(g.Type(source).Elems) != len(inputs) {
		return ir.InvalidValue, false
	}
	if !g.Type(source).Equal(g.Type(g.Output(n, 0))) {
		return ir.InvalidValue, false
	}
	return source, true
}
