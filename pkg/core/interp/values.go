// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package interp

import (
	"github.com/gomlx/qcalib/pkg/core/tensors"
	"github.com/gomlx/qcalib/pkg/module"
	"github.com/pkg/errors"
)

func asInt(v any) (int64, error) {
	switch value := v.(type) {
	case int64:
		return value, nil
	case bool:
		if value {
			return 1, nil
		}
		return 0, nil
	case *tensors.Tensor:
		f, err := value.Value()
		return int64(f), err
	}
	return 0, errors.Errorf("expected an int, got %s (%T)", Format(v), v)
}

func asFloat(v any) (float64, error) {
	switch value := v.(type) {
	case float64:
		return value, nil
	case int64:
		return float64(value), nil
	case bool:
		if value {
			return 1, nil
		}
		return 0, nil
	case *tensors.Tensor:
		return value.Value()
	}
	return 0, errors.Errorf("expected a number, got %s (%T)", Format(v), v)
}

func asBool(v any) (bool, error) {
	switch value := v.(type) {
	case bool:
		return value, nil
	case int64:
		return value != 0, nil
	case *tensors.Tensor:
		f, err := value.Value()
		return f != 0, err
	}
	return false, errors.Errorf("expected a bool, got %s (%T)", Format(v), v)
}

// asTensor converts scalars to Float64/Int64 scalar tensors.
func asTensor(v any) (*tensors.Tensor, error) {
	switch value := v.(type) {
	case *tensors.Tensor:
		return value, nil
	case float64:
		return tensors.FromScalar(value), nil
	case int64:
		return tensors.FromScalar(value), nil
	}
	return nil, errors.Errorf("expected a tensor, got %s (%T)", Format(v), v)
}

func asList(v any) (*List, error) {
	if l, ok := v.(*List); ok {
		return l, nil
	}
	return nil, errors.Errorf("expected a list, got %s (%T)", Format(v), v)
}

// asElems returns the elements of a list or a tuple.
func asElems(v any) ([]any, error) {
	switch value := v.(type) {
	case *List:
		return value.Elems, nil
	case Tuple:
		return value, nil
	}
	return nil, errors.Errorf("expected a list or tuple, got %s (%T)", Format(v), v)
}

// asInts converts a list or tuple of ints.
func asInts(v any) ([]int, error) {
	elems, err := asElems(v)
	if err != nil {
		return nil, err
	}
	ints := make([]int, len(elems))
	for ii, e := range elems {
		i, err := asInt(e)
		if err != nil {
			return nil, errors.WithMessagef(err, "element #%d", ii)
		}
		ints[ii] = int(i)
	}
	return ints, nil
}

func asModule(v any) (*module.Module, error) {
	if m, ok := v.(*module.Module); ok {
		return m, nil
	}
	return nil, errors.Errorf("expected a module, got %s (%T)", Format(v), v)
}

// optionalFloat returns nil if the input is missing or None.
func optionalFloat(inputs []any, idx int) (*float64, error) {
	if idx >= len(inputs) || inputs[idx] == nil {
		return nil, nil
	}
	f, err := asFloat(inputs[idx])
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// normalizeIndex converts a negative index (counting from the end) and checks bounds.
func normalizeIndex(idx int64, length int) (int, error) {
	i := int(idx)
	if i < 0 {
		i += length
	}
	if i < 0 || i >= length {
		return 0, errors.Errorf("index %d out of range for length %d", idx, length)
	}
	return i, nil
}

// sliceBounds converts optional start/end values to bounds clamped to [0, length].
func sliceBounds(start, end any, length int) (int, int, error) {
	bound := func(v any, def int) (int, error) {
		if v == nil {
			return def, nil
		}
		i, err := asInt(v)
		if err != nil {
			return 0, err
		}
		b := int(i)
		if b < 0 {
			b += length
		}
		return min(max(b, 0), length), nil
	}
	s, err := bound(start, 0)
	if err != nil {
		return 0, 0, err
	}
	e, err := bound(end, length)
	if err != nil {
		return 0, 0, err
	}
	return s, max(s, e), nil
}

// isScalar returns whether v can be compared with ==.
func isScalar(v any) bool {
	switch v.(type) {
	case nil, bool, int64, float64, string:
		return true
	}
	return false
}
