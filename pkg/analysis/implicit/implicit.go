// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package implicit discovers the implicit tensors of a graph: every value that denotes a tensor reachable
// from the graph inputs, including tensors carried inside lists, tuples, dicts and optionals
// ("tensor containers") whose elements can be enumerated statically.
//
// The traversal starts from the graph inputs (unwrapping tensor containers along their uses), and moves
// forward through the consumers of each discovered value. Loop carried values are followed into the loop
// body and out of the loop, and branch returns are followed to the outputs of their If node. The
// container-construct nodes feeding the graph outputs are terminal: the traversal doesn't go past them.
//
// A tensor container whose elements can't be enumerated (it's not built by a construct node) is an
// error: all of them are collected and reported in one qerrors.NodeException.
package implicit

import (
	"context"
	"slices"
	"sync"

	"github.com/gomlx/qcalib/pkg/core/ir"
	"github.com/gomlx/qcalib/pkg/qerrors"
	"github.com/gomlx/qcalib/pkg/support/sets"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"
)

// Class of a value's type, as far as the analysis is concerned.
type Class int

const (
	NotTensor Class = iota
	Tensor
	Container
)

// Classify the type: a tensor, a container structurally holding a tensor type, or neither.
func Classify(t *ir.Type) Class {
	switch {
	case t.IsTensor():
		return Tensor
	case t.ContainsTensor():
		return Container
	}
	return NotTensor
}

// IsResolvable returns whether the elements of the container value v can be enumerated: that is,
// whether it is built by a container-construct node.
func IsResolvable(g *ir.Graph, v ir.ValueId) bool {
	return g.Kind(g.Producer(v)).IsContainerConstruct()
}

type analysis struct {
	g        *ir.Graph
	terminal sets.Set[ir.NodeId]
	visited  sets.Set[ir.ValueId]
	tensors  sets.Set[ir.ValueId]
	queue    []ir.ValueId
	errs     []*qerrors.NodeError
}

// Analyze returns the implicit tensors of the graph, in graph order (see GraphOrder).
func Analyze(g *ir.Graph) ([]ir.ValueId, error) {
	a := &analysis{
		g:        g,
		terminal: sets.Make[ir.NodeId](),
		visited:  sets.Make[ir.ValueId](),
		tensors:  sets.Make[ir.ValueId](),
	}
	for _, out := range g.Outputs() {
		a.markTerminal(g.Producer(out))
	}
	seeded := sets.Make[ir.ValueId]()
	for _, input := range g.Inputs() {
		a.seed(input, seeded)
	}
	for len(a.queue) > 0 {
		v := a.queue[0]
		a.queue = a.queue[1:]
		for _, use := range g.Uses(v) {
			a.follow(use)
		}
	}
	if err := qerrors.NewNodeException(qerrors.ErrContainerResolution, a.errs...); err != nil {
		return nil, err
	}
	ordered := GraphOrder(g, a.tensors)
	klog.V(2).Infof("implicit tensors of graph %q: %d", g.Name(), len(ordered))
	return ordered, nil
}

// markTerminal marks the container-construct nodes feeding the graph outputs.
func (a *analysis) markTerminal(n ir.NodeId) {
	g := a.g
	if !g.Kind(n).IsContainerConstruct() || a.terminal.Has(n) {
		return
	}
	a.terminal.Insert(n)
	for _, input := range g.NodeInputs(n) {
		a.markTerminal(g.Producer(input))
	}
}

// seed records the tensors reachable from a graph input, unwrapping containers along their uses.
func (a *analysis) seed(v ir.ValueId, seeded sets.Set[ir.ValueId]) {
	if !seeded.InsertNew(v) {
		return
	}
	g := a.g
	switch Classify(g.Type(v)) {
	case Tensor:
		a.visit(v)
	case Container:
		for _, use := range g.Uses(v) {
			if g.Kind(use.Node) == ir.KindReturn {
				continue
			}
			for _, out := range g.NodeOutputs(use.Node) {
				a.seed(out, seeded)
			}
		}
	}
}

// follow visits the values downstream of one use.
func (a *analysis) follow(use ir.Use) {
	g := a.g
	n := use.Node
	switch g.Kind(n) {
	case ir.KindLoop:
		if use.Offset >= 2 {
			body := g.Block(n, 0)
			a.visit(g.BlockParams(body)[use.Offset-1])
			a.visit(g.Output(n, use.Offset-2))
		}
	case ir.KindReturn:
		block := g.Owner(n)
		owner := g.BlockOwner(block)
		if owner == ir.InvalidNode {
			return
		}
		switch g.Kind(owner) {
		case ir.KindLoop:
			if use.Offset >= 1 {
				a.visit(g.Output(owner, use.Offset-1))
				a.visit(g.BlockParams(block)[use.Offset])
			}
		case ir.KindIf:
			a.visit(g.Output(owner, use.Offset))
		}
	default:
		if a.terminal.Has(n) {
			return
		}
		for _, out := range g.NodeOutputs(n) {
			a.visit(out)
		}
	}
}

// visit records tensors and enqueues them, and checks tensor containers can be resolved.
func (a *analysis) visit(v ir.ValueId) {
	if !a.visited.InsertNew(v) {
		return
	}
	g := a.g
	switch Classify(g.Type(v)) {
	case Tensor:
		a.tensors.Insert(v)
		a.queue = append(a.queue, v)
	case Container:
		if !IsResolvable(g, v) {
			producer := g.Producer(v)
			a.errs = append(a.errs, &qerrors.NodeError{
				Graph:  g.Name(),
				Node:   g.NodeString(producer),
				Source: g.Source(producer),
				Kind:   qerrors.ErrContainerResolution,
				Msg:    "tensor container " + g.ValueString(v) + " of type " + g.Type(v).String() + " has no concrete values",
			})
			return
		}
		a.queue = append(a.queue, v)
	}
}

// GraphOrder returns the values of the set ordered as they are defined in the graph: block parameters
// first, then the nodes in order, where the outputs of a node come after the contents of its blocks.
func GraphOrder(g *ir.Graph, values sets.Set[ir.ValueId]) []ir.ValueId {
	ordered := make([]ir.ValueId, 0, len(values))
	var walk func(b ir.BlockId)
	walk = func(b ir.BlockId) {
		for _, p := range g.BlockParams(b) {
			if values.Has(p) {
				ordered = append(ordered, p)
			}
		}
		for _, n := range g.BlockNodes(b) {
			for _, nested := range g.NodeBlocks(n) {
				walk(nested)
			}
			for _, out := range g.NodeOutputs(n) {
				if values.Has(out) {
					ordered = append(ordered, out)
				}
			}
		}
	}
	walk(g.TopBlock())
	return ordered
}

// AnalyzeAll runs Analyze on every graph, with up to parallelism graphs concurrently (0 for sequential).
// Errors of all graphs are combined.
func AnalyzeAll(ctx context.Context, graphs map[string]*ir.Graph, parallelism int) (map[string][]ir.ValueId, error) {
	names := make([]string, 0, len(graphs))
	for name := range graphs {
		names = append(names, name)
	}
	slices.Sort(names)

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(max(parallelism, 1))
	var (
		mu      sync.Mutex
		results = make(map[string][]ir.ValueId, len(graphs))
		allErrs error
	)
	for _, name := range names {
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			tensors, err := Analyze(graphs[name])
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				allErrs = multierr.Append(allErrs, errors.WithMessagef(err, "implicit tensors of method %q", name))
				return nil
			}
			results[name] = tensors
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	if allErrs != nil {
		return nil, allErrs
	}
	return results, nil
}

// Names returns the debug names (or value references, for unnamed values) of the tensors.
func Names(g *ir.Graph, tensors []ir.ValueId) []string {
	names := make([]string, len(tensors))
	for ii, v := range tensors {
		if name := g.DebugName(v); name != "" {
			names[ii] = name
		} else {
			names[ii] = g.ValueString(v)
		}
	}
	return names
}
