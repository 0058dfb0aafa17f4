// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package interp is a reference interpreter for the ir package graphs.
//
// It's used to check that graph rewrites preserve semantics, by evaluating the graph before and after,
// and to run instrumented graphs on sample inputs (calibration), executing Observe nodes against the
// Observer attached to the module.
//
// Runtime values are represented as:
//
//   - Scalars: int64, float64, bool, string and nil (None).
//   - Tensors: *tensors.Tensor. Tensors are immutable: in-place kinds return a new tensor.
//   - Lists: *List, mutable and shared by reference.
//   - Tuples: Tuple. Dicts: Dict.
//   - Objects: *module.Module, and whatever attributes they hold (e.g. *observer.Observer).
//
// Node kinds are dispatched with a table indexed by ir.Kind; a few kinds (e.g. Conv2d) are not
// supported and return an error wrapping ErrUnsupported.
package interp

import (
	"fmt"
	"strings"

	"github.com/gomlx/qcalib/pkg/core/ir"
	"github.com/gomlx/qcalib/pkg/module"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

var (
	// ErrUnsupported is returned when the graph uses a kind the interpreter doesn't implement.
	ErrUnsupported = errors.New("kind not supported by the interpreter")

	// ErrRaised is returned when the graph executes a RaiseException node.
	ErrRaised = errors.New("exception raised by graph")
)

// MaxCallDepth limits the nesting of CallFunction/CallMethod executions.
const MaxCallDepth = 64

// List is a mutable list value.
type List struct {
	Elems []any
}

// NewList creates a List with the given elements.
func NewList(elems ...any) *List {
	return &List{Elems: elems}
}

// Tuple is an immutable tuple value.
type Tuple []any

// Dict is a dictionary value: keys must be comparable scalars.
type Dict map[any]any

// Run executes the graph with the given arguments, and returns the values of its outputs.
func Run(g *ir.Graph, args ...any) ([]any, error) {
	return run(g, args, 0)
}

// CallMethod executes the method of the module, passing the module itself as the first argument.
func CallMethod(m *module.Module, method string, args ...any) ([]any, error) {
	g, found := m.Method(method)
	if !found {
		return nil, errors.Errorf("module %s has no method %q", m, method)
	}
	return run(g, append([]any{m}, args...), 0)
}

// execution holds the state of one graph invocation.
type execution struct {
	g     *ir.Graph
	env   map[ir.ValueId]any
	depth int
}

func run(g *ir.Graph, args []any, depth int) ([]any, error) {
	if depth > MaxCallDepth {
		return nil, errors.Errorf("maximum call depth %d exceeded calling graph %q", MaxCallDepth, g.Name())
	}
	inputs := g.Inputs()
	if len(args) != len(inputs) {
		return nil, errors.Errorf("graph %q takes %d arguments, %d given", g.Name(), len(inputs), len(args))
	}
	e := &execution{g: g, env: make(map[ir.ValueId]any), depth: depth}
	results, err := e.runBlock(g.TopBlock(), args)
	if err != nil {
		return nil, errors.WithMessagef(err, "running graph %q", g.Name())
	}
	return results, nil
}

// runBlock binds the block parameters to args, executes its nodes and returns the values of its returns.
func (e *execution) runBlock(b ir.BlockId, args []any) ([]any, error) {
	g := e.g
	params := g.BlockParams(b)
	if len(params) != len(args) {
		return nil, errors.Errorf("block %d takes %d parameters, %d given", b, len(params), len(args))
	}
	for ii, p := range params {
		e.env[p] = args[ii]
	}
	for _, n := range g.BlockNodes(b) {
		if err := e.execNode(n); err != nil {
			return nil, err
		}
	}
	return e.values(g.BlockReturns(b))
}

func (e *execution) values(vs []ir.ValueId) ([]any, error) {
	results := make([]any, len(vs))
	for ii, v := range vs {
		value, found := e.env[v]
		if !found {
			return nil, errors.Errorf("value %s used before being computed", e.g.ValueString(v))
		}
		results[ii] = value
	}
	return results, nil
}

func (e *execution) execNode(n ir.NodeId) error {
	g := e.g
	kind := g.Kind(n)
	if klog.V(3).Enabled() {
		klog.Infof("interp %q: %s", g.Name(), g.NodeString(n))
	}
	exec := executors[kind]
	if exec == nil {
		return errors.Wrapf(ErrUnsupported, "%s at %s", kind, g.NodeString(n))
	}
	inputs, err := e.values(g.NodeInputs(n))
	if err != nil {
		return err
	}
	outputs, err := exec(e, n, inputs)
	if err != nil {
		if errors.Is(err, ErrRaised) {
			return err
		}
		return errors.WithMessagef(err, "executing %s", g.NodeString(n))
	}
	if len(outputs) != g.NumOutputs(n) {
		return errors.Errorf("%s produced %d values, but the node has %d outputs",
			g.NodeString(n), len(outputs), g.NumOutputs(n))
	}
	for ii, out := range g.NodeOutputs(n) {
		e.env[out] = outputs[ii]
	}
	return nil
}

// Format returns a short representation of a runtime value, used in error messages and by Print.
func Format(v any) string {
	switch value := v.(type) {
	case nil:
		return "None"
	case *List:
		return "[" + formatAll(value.Elems) + "]"
	case Tuple:
		return "(" + formatAll(value) + ")"
	}
	return fmt.Sprintf("%v", v)
}

func formatAll(values []any) string {
	parts := make([]string, len(values))
	for ii, v := range values {
		parts[ii] = Format(v)
	}
	return strings.Join(parts, ", ")
}
