// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package observer

import (
	"github.com/pkg/errors"
)

// State is the flat serialized form of an observer object: a tuple whose elements are nil, bool, int,
// float64 or nested State tuples.
type State = []any

// stateReader consumes a State tuple element by element, remembering the first error.
type stateReader struct {
	what  string
	state State
	pos   int
	err   error
}

func newStateReader(what string, state State, expectedLen int) *stateReader {
	r := &stateReader{what: what, state: state}
	if len(state) != expectedLen {
		r.err = errors.Errorf("%s state must have %d elements, got %d", what, expectedLen, len(state))
	}
	return r
}

func (r *stateReader) next() any {
	if r.err != nil || r.pos >= len(r.state) {
		return nil
	}
	v := r.state[r.pos]
	r.pos++
	return v
}

func (r *stateReader) fail(v any, expected string) {
	if r.err == nil {
		r.err = errors.Errorf("%s state element #%d must be %s, got %v (%T)", r.what, r.pos-1, expected, v, v)
	}
}

func (r *stateReader) boolean() bool {
	v := r.next()
	b, ok := v.(bool)
	if !ok {
		r.fail(v, "a bool")
	}
	return b
}

func (r *stateReader) integer() int {
	v := r.next()
	switch i := v.(type) {
	case int:
		return i
	case int64:
		return int(i)
	}
	r.fail(v, "an int")
	return 0
}

func (r *stateReader) float() float64 {
	v := r.next()
	f, ok := asFloat(v)
	if !ok {
		r.fail(v, "a float")
	}
	return f
}

// optionalFloat reads a float64 or nil.
func (r *stateReader) optionalFloat() (f float64, present bool) {
	v := r.next()
	if v == nil {
		return 0, false
	}
	f, ok := asFloat(v)
	if !ok {
		r.fail(v, "a float or nil")
	}
	return f, ok
}

// optionalBool reads a bool or nil.
func (r *stateReader) optionalBool() (b bool, present bool) {
	v := r.next()
	if v == nil {
		return false, false
	}
	b, ok := v.(bool)
	if !ok {
		r.fail(v, "a bool or nil")
	}
	return b, ok
}

func (r *stateReader) tuple() State {
	v := r.next()
	t, ok := v.(State)
	if !ok {
		r.fail(v, "a tuple")
	}
	return t
}

func asFloat(v any) (float64, bool) {
	switch f := v.(type) {
	case float64:
		return f, true
	case float32:
		return float64(f), true
	case int:
		return float64(f), true
	}
	return 0, false
}

// optional returns nil if not present, or the value otherwise.
func optional[T any](value T, present bool) any {
	if !present {
		return nil
	}
	return value
}
