// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package qerrors defines the error taxonomy of the instrumentation pipeline.
//
// Every error returned by the pipeline wraps one of the sentinel errors below, so callers can
// classify failures with errors.Is:
//
//   - ErrConfig: bad export/exclude configuration, reported before any graph is touched.
//   - ErrGraphInvariant: loop/conditional arity or type mismatch. A bug or an unsupported graph.
//   - ErrContainerResolution: tensor containers without enumerable elements, aggregated per scan.
//   - ErrPassFailure: an error escaping a simplification pass, wrapped with the pass name.
//   - ErrQuantConsistency: conflicting static ranges, dtype mismatches, missing output tensors.
package qerrors

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

var (
	ErrConfig              = errors.New("configuration error")
	ErrGraphInvariant      = errors.New("graph invariant violated")
	ErrContainerResolution = errors.New("tensor container without concrete values")
	ErrPassFailure         = errors.New("pass failure")
	ErrQuantConsistency    = errors.New("quantization consistency error")

	// ErrNoOutputTensor is a quantization consistency error: a graph has no value that needs a range.
	ErrNoOutputTensor = errors.Wrap(ErrQuantConsistency, "no output tensor")
)

// Configf returns a new ErrConfig error with the formatted message.
func Configf(format string, args ...any) error {
	return errors.Wrapf(ErrConfig, format, args...)
}

// Invariantf returns a new ErrGraphInvariant error with the formatted message.
func Invariantf(format string, args ...any) error {
	return errors.Wrapf(ErrGraphInvariant, format, args...)
}

// Consistencyf returns a new ErrQuantConsistency error with the formatted message.
func Consistencyf(format string, args ...any) error {
	return errors.Wrapf(ErrQuantConsistency, format, args...)
}

// NodeError reports a problem located at one node of a graph.
type NodeError struct {
	// Graph is the name of the graph (method) where the node lives.
	Graph string

	// Node is a textual description of the offending node, usually its dump line.
	Node string

	// Source is the optional source location tag of the node.
	Source string

	// Kind is the sentinel this error is classified under.
	Kind error

	Msg string
}

// Error implements error.
func (e *NodeError) Error() string {
	var sb strings.Builder
	if e.Kind != nil {
		fmt.Fprintf(&sb, "%s: ", e.Kind)
	}
	sb.WriteString(e.Msg)
	fmt.Fprintf(&sb, " at node %q in graph %q", e.Node, e.Graph)
	if e.Source != "" {
		fmt.Fprintf(&sb, " (%s)", e.Source)
	}
	return sb.String()
}

// Is implements errors.Is matching against the sentinel kind.
func (e *NodeError) Is(target error) bool {
	return e.Kind != nil && target == e.Kind
}

// NodeException aggregates all NodeErrors of one analysis, so a user sees every offending location
// in a single report rather than only the first.
type NodeException struct {
	Kind error
	err  error // multierr combination of *NodeError.
}

// NewNodeException combines the given errors. It returns nil if nodeErrs is empty.
func NewNodeException(kind error, nodeErrs ...*NodeError) *NodeException {
	if len(nodeErrs) == 0 {
		return nil
	}
	e := &NodeException{Kind: kind}
	for _, ne := range nodeErrs {
		e.err = multierr.Append(e.err, ne)
	}
	return e
}

// Errors returns the individual errors.
func (e *NodeException) Errors() []error {
	return multierr.Errors(e.err)
}

// Error implements error, listing all offending nodes.
func (e *NodeException) Error() string {
	errs := e.Errors()
	parts := make([]string, 0, len(errs)+1)
	parts = append(parts, fmt.Sprintf("%d error(s) found:", len(errs)))
	for _, err := range errs {
		parts = append(parts, "  - "+err.Error())
	}
	return strings.Join(parts, "\n")
}

// Is implements errors.Is matching against the sentinel kind.
func (e *NodeException) Is(target error) bool {
	return e.Kind != nil && target == e.Kind
}

// Unwrap returns the combined errors.
func (e *NodeException) Unwrap() error { return e.err }

// PassFailure wraps an error escaping a simplification pass with the pass and method names.
type PassFailure struct {
	Pass   string
	Method string
	Err    error
}

// Error implements error.
func (e *PassFailure) Error() string {
	return fmt.Sprintf("%s: pass %q failed on method %q: %v", ErrPassFailure, e.Pass, e.Method, e.Err)
}

// Is implements errors.Is: a PassFailure is an ErrPassFailure.
func (e *PassFailure) Is(target error) bool {
	return target == ErrPassFailure
}

// Unwrap returns the original error.
func (e *PassFailure) Unwrap() error { return e.Err }
