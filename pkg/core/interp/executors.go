// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package interp

import (
	"math"
	"slices"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/qcalib/pkg/core/ir"
	"github.com/gomlx/qcalib/pkg/core/tensors"
	"github.com/gomlx/qcalib/pkg/quant/observer"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// executor computes the outputs of node n given the values of its inputs.
type executor func(e *execution, n ir.NodeId, inputs []any) ([]any, error)

// executors is the dispatch table. A nil entry is an unsupported kind.
// It's set in init() since some executors (Loop, If, calls) recursively use it.
var executors [ir.KindLast]executor

func init() {
	executors = [ir.KindLast]executor{
		ir.KindConstant:      execConstant,
		ir.KindUninitialized: execUninitialized,

		ir.KindListConstruct:  execListConstruct,
		ir.KindListUnpack:     execUnpack,
		ir.KindTupleConstruct: execTupleConstruct,
		ir.KindTupleUnpack:    execUnpack,
		ir.KindTupleIndex:     execGetItem,
		ir.KindTupleSlice:     execTupleSlice,
		ir.KindDictConstruct:  execDictConstruct,
		ir.KindListGetItem:    execGetItem,
		ir.KindListSetItem:    execListSetItem,
		ir.KindListAppend:     execListAppend,
		ir.KindListLen:        execListLen,
		ir.KindListSlice:      execListSlice,

		ir.KindLoop:           execLoop,
		ir.KindIf:             execIf,
		ir.KindCallFunction:   execCallFunction,
		ir.KindCallMethod:     execCallMethod,
		ir.KindGetAttr:        execGetAttr,
		ir.KindSetAttr:        execSetAttr,
		ir.KindRaiseException: execRaiseException,
		ir.KindPrint:          execPrint,

		ir.KindAdd: arith{ints: func(a, b int64) any { return a + b }, floats: func(a, b float64) float64 { return a + b }}.exec,
		ir.KindSub: arith{ints: func(a, b int64) any { return a - b }, floats: func(a, b float64) float64 { return a - b }}.exec,
		ir.KindMul: arith{ints: func(a, b int64) any { return a * b }, floats: func(a, b float64) float64 { return a * b }}.exec,
		ir.KindDiv: arith{floats: func(a, b float64) float64 { return a / b }}.exec,
		ir.KindNeg: execNeg,
		ir.KindLt:  compare(func(a, b float64) bool { return a < b }),
		ir.KindGt:  compare(func(a, b float64) bool { return a > b }),
		ir.KindEq:  execEquality(true),
		ir.KindNe:  execEquality(false),
		ir.KindNot: execNot,

		ir.KindSize:   execSize,
		ir.KindDim:    execDim,
		ir.KindExpand: execExpand,

		ir.KindRelu:            execRelu,
		ir.KindReluInplace:     execRelu,
		ir.KindRelu6:           execRelu6,
		ir.KindHardtanh:        execHardtanh,
		ir.KindHardtanhInplace: execHardtanh,
		ir.KindClamp:           execClamp,
		ir.KindClampInplace:    execClamp,
		ir.KindClampMin:        execClampMin,
		ir.KindClampMax:        execClampMax,
		ir.KindBatchNorm:       execBatchNorm,

		ir.KindClone:       execClone,
		ir.KindCopyInplace: execCopyInplace,
		ir.KindFlatten:     execFlatten,
		ir.KindSqueeze:     execSqueeze,
		ir.KindUnsqueeze:   execUnsqueeze,
		ir.KindTranspose:   execTranspose,
		ir.KindView:        execReshape,
		ir.KindReshape:     execReshape,
		ir.KindContiguous:  execClone,
		ir.KindDetach:      execClone,

		ir.KindCat:        execCat,
		ir.KindChunk:      execChunk,
		ir.KindFusedCat:   execFusedCat,
		ir.KindFusedChunk: execFusedChunk,

		ir.KindOneHot:  execOneHot,
		ir.KindSoftmax: execSoftmax,
		ir.KindSigmoid: unaryTensor(func(v float64) float64 { return 1 / (1 + math.Exp(-v)) }),
		ir.KindTanh:    unaryTensor(math.Tanh),
		ir.KindLinear:  execLinear,
		ir.KindMatmul:  execMatmul,

		ir.KindObserve: execObserve,
	}
}

func single(v any) ([]any, error) { return []any{v}, nil }

func singleTensor(t *tensors.Tensor, err error) ([]any, error) {
	if err != nil {
		return nil, err
	}
	return []any{t}, nil
}

func checkInputs(inputs []any, minInputs int) error {
	if len(inputs) < minInputs {
		return errors.Errorf("expected at least %d inputs, got %d", minInputs, len(inputs))
	}
	return nil
}

// Values and containers ---------------------------------------------------------------------------------------

func execConstant(e *execution, n ir.NodeId, _ []any) ([]any, error) {
	value, _ := e.g.Attr(n, "value")
	return single(value)
}

func execUninitialized(e *execution, n ir.NodeId, _ []any) ([]any, error) {
	return make([]any, e.g.NumOutputs(n)), nil
}

func execListConstruct(_ *execution, _ ir.NodeId, inputs []any) ([]any, error) {
	return single(NewList(slices.Clone(inputs)...))
}

func execTupleConstruct(_ *execution, _ ir.NodeId, inputs []any) ([]any, error) {
	return single(Tuple(slices.Clone(inputs)))
}

func execUnpack(e *execution, n ir.NodeId, inputs []any) ([]any, error) {
	if err := checkInputs(inputs, 1); err != nil {
		return nil, err
	}
	elems, err := asElems(inputs[0])
	if err != nil {
		return nil, err
	}
	if len(elems) != e.g.NumOutputs(n) {
		return nil, errors.Errorf("unpacking %d elements into %d outputs", len(elems), e.g.NumOutputs(n))
	}
	return slices.Clone(elems), nil
}

func execGetItem(_ *execution, _ ir.NodeId, inputs []any) ([]any, error) {
	if err := checkInputs(inputs, 2); err != nil {
		return nil, err
	}
	elems, err := asElems(inputs[0])
	if err != nil {
		return nil, err
	}
	idx, err := asInt(inputs[1])
	if err != nil {
		return nil, err
	}
	i, err := normalizeIndex(idx, len(elems))
	if err != nil {
		return nil, err
	}
	return single(elems[i])
}

func execTupleSlice(e *execution, n ir.NodeId, inputs []any) ([]any, error) {
	if err := checkInputs(inputs, 1); err != nil {
		return nil, err
	}
	elems, err := asElems(inputs[0])
	if err != nil {
		return nil, err
	}
	start, end, err := sliceBounds(e.g.IntAttr(n, "start"), e.g.IntAttr(n, "end"), len(elems))
	if err != nil {
		return nil, err
	}
	return single(Tuple(slices.Clone(elems[start:end])))
}

func execDictConstruct(_ *execution, _ ir.NodeId, inputs []any) ([]any, error) {
	if len(inputs)%2 != 0 {
		return nil, errors.Errorf("DictConstruct takes key/value pairs, got %d inputs", len(inputs))
	}
	d := make(Dict, len(inputs)/2)
	for ii := 0; ii < len(inputs); ii += 2 {
		if !isScalar(inputs[ii]) {
			return nil, errors.Errorf("dict key %s is not a scalar", Format(inputs[ii]))
		}
		d[inputs[ii]] = inputs[ii+1]
	}
	return single(d)
}

// listResult returns the list as output if the mutating node has one.
func listResult(e *execution, n ir.NodeId, l *List) ([]any, error) {
	if e.g.NumOutputs(n) == 1 {
		return single(l)
	}
	return nil, nil
}

func execListSetItem(e *execution, n ir.NodeId, inputs []any) ([]any, error) {
	if err := checkInputs(inputs, 3); err != nil {
		return nil, err
	}
	l, err := asList(inputs[0])
	if err != nil {
		return nil, err
	}
	idx, err := asInt(inputs[1])
	if err != nil {
		return nil, err
	}
	i, err := normalizeIndex(idx, len(l.Elems))
	if err != nil {
		return nil, err
	}
	l.Elems[i] = inputs[2]
	return listResult(e, n, l)
}

func execListAppend(e *execution, n ir.NodeId, inputs []any) ([]any, error) {
	if err := checkInputs(inputs, 2); err != nil {
		return nil, err
	}
	l, err := asList(inputs[0])
	if err != nil {
		return nil, err
	}
	l.Elems = append(l.Elems, inputs[1])
	return listResult(e, n, l)
}

func execListLen(_ *execution, _ ir.NodeId, inputs []any) ([]any, error) {
	if err := checkInputs(inputs, 1); err != nil {
		return nil, err
	}
	elems, err := asElems(inputs[0])
	if err != nil {
		return nil, err
	}
	return single(int64(len(elems)))
}

func execListSlice(_ *execution, _ ir.NodeId, inputs []any) ([]any, error) {
	if err := checkInputs(inputs, 3); err != nil {
		return nil, err
	}
	l, err := asList(inputs[0])
	if err != nil {
		return nil, err
	}
	start, end, err := sliceBounds(inputs[1], inputs[2], len(l.Elems))
	if err != nil {
		return nil, err
	}
	return single(NewList(slices.Clone(l.Elems[start:end])...))
}

// Control flow and objects ------------------------------------------------------------------------------------

func execLoop(e *execution, n ir.NodeId, inputs []any) ([]any, error) {
	if err := checkInputs(inputs, 2); err != nil {
		return nil, err
	}
	maxTrip, err := asInt(inputs[0])
	if err != nil {
		return nil, errors.WithMessage(err, "loop trip count")
	}
	cond, err := asBool(inputs[1])
	if err != nil {
		return nil, errors.WithMessage(err, "loop condition")
	}
	carried := slices.Clone(inputs[2:])
	body := e.g.Block(n, 0)
	for iter := int64(0); iter < maxTrip && cond; iter++ {
		results, err := e.runBlock(body, append([]any{iter}, carried...))
		if err != nil {
			return nil, err
		}
		cond, err = asBool(results[0])
		if err != nil {
			return nil, errors.WithMessage(err, "loop condition")
		}
		carried = results[1:]
	}
	return carried, nil
}

func execIf(e *execution, n ir.NodeId, inputs []any) ([]any, error) {
	if err := checkInputs(inputs, 1); err != nil {
		return nil, err
	}
	cond, err := asBool(inputs[0])
	if err != nil {
		return nil, err
	}
	branch := e.g.Block(n, 1)
	if cond {
		branch = e.g.Block(n, 0)
	}
	return e.runBlock(branch, nil)
}

func execCallFunction(e *execution, n ir.NodeId, inputs []any) ([]any, error) {
	value, _ := e.g.Attr(n, "callee")
	callee, ok := value.(*ir.Graph)
	if !ok {
		return nil, errors.Errorf("CallFunction without a callee graph (attribute is %T)", value)
	}
	return run(callee, inputs, e.depth+1)
}

func execCallMethod(e *execution, n ir.NodeId, inputs []any) ([]any, error) {
	if err := checkInputs(inputs, 1); err != nil {
		return nil, err
	}
	m, err := asModule(inputs[0])
	if err != nil {
		return nil, err
	}
	name := e.g.StringAttr(n, "name")
	method, found := m.Method(name)
	if !found {
		return nil, errors.Errorf("module %s has no method %q", m, name)
	}
	return run(method, inputs, e.depth+1)
}

func execGetAttr(e *execution, n ir.NodeId, inputs []any) ([]any, error) {
	if err := checkInputs(inputs, 1); err != nil {
		return nil, err
	}
	m, err := asModule(inputs[0])
	if err != nil {
		return nil, err
	}
	name := e.g.StringAttr(n, "name")
	value, found := m.Attr(name)
	if !found {
		return nil, errors.Errorf("module %s has no attribute %q", m, name)
	}
	return single(value)
}

func execSetAttr(e *execution, n ir.NodeId, inputs []any) ([]any, error) {
	if err := checkInputs(inputs, 2); err != nil {
		return nil, err
	}
	m, err := asModule(inputs[0])
	if err != nil {
		return nil, err
	}
	m.SetAttr(e.g.StringAttr(n, "name"), inputs[1])
	return nil, nil
}

func execRaiseException(e *execution, n ir.NodeId, inputs []any) ([]any, error) {
	msg := e.g.StringAttr(n, "message")
	if msg == "" && len(inputs) > 0 {
		msg = Format(inputs[0])
	}
	return nil, errors.Wrapf(ErrRaised, "%s (at %s)", msg, e.g.NodeString(n))
}

func execPrint(e *execution, _ ir.NodeId, inputs []any) ([]any, error) {
	klog.Infof("%s: %s", e.g.Name(), formatAll(inputs))
	return nil, nil
}

// Arithmetic -------------------------------------------------------------------------------------------------

// arith implements a binary arithmetic kind: ints is optional (if nil, ints are converted to floats).
// Tensors are combined elementwise, with scalars broadcast.
type arith struct {
	ints   func(a, b int64) any
	floats func(a, b float64) float64
}

func (op arith) exec(_ *execution, _ ir.NodeId, inputs []any) ([]any, error) {
	if err := checkInputs(inputs, 2); err != nil {
		return nil, err
	}
	result, err := op.apply(inputs[0], inputs[1])
	if err != nil {
		return nil, err
	}
	return single(result)
}

func (op arith) apply(a, b any) (any, error) {
	_, aIsTensor := a.(*tensors.Tensor)
	_, bIsTensor := b.(*tensors.Tensor)
	if aIsTensor || bIsTensor {
		x, err := asTensor(a)
		if err != nil {
			return nil, err
		}
		y, err := asTensor(b)
		if err != nil {
			return nil, err
		}
		result, err := tensors.Binary(x, y, op.floats)
		if err != nil {
			return nil, err
		}
		return result, nil
	}
	ia, aIsInt := a.(int64)
	ib, bIsInt := b.(int64)
	if aIsInt && bIsInt && op.ints != nil {
		return op.ints(ia, ib), nil
	}
	fa, err := asFloat(a)
	if err != nil {
		return nil, err
	}
	fb, err := asFloat(b)
	if err != nil {
		return nil, err
	}
	return op.floats(fa, fb), nil
}

var (
	addOp = arith{floats: func(a, b float64) float64 { return a + b }}
	subOp = arith{floats: func(a, b float64) float64 { return a - b }}
	mulOp = arith{floats: func(a, b float64) float64 { return a * b }}
	divOp = arith{floats: func(a, b float64) float64 { return a / b }}
)

func execNeg(_ *execution, _ ir.NodeId, inputs []any) ([]any, error) {
	if err := checkInputs(inputs, 1); err != nil {
		return nil, err
	}
	switch x := inputs[0].(type) {
	case int64:
		return single(-x)
	case float64:
		return single(-x)
	case *tensors.Tensor:
		return single(x.Map(func(v float64) float64 { return -v }))
	}
	return nil, errors.Errorf("cannot negate %s", Format(inputs[0]))
}

func compare(fn func(a, b float64) bool) executor {
	return func(_ *execution, _ ir.NodeId, inputs []any) ([]any, error) {
		if err := checkInputs(inputs, 2); err != nil {
			return nil, err
		}
		a, err := asFloat(inputs[0])
		if err != nil {
			return nil, err
		}
		b, err := asFloat(inputs[1])
		if err != nil {
			return nil, err
		}
		return single(fn(a, b))
	}
}

func execEquality(equal bool) executor {
	return func(_ *execution, _ ir.NodeId, inputs []any) ([]any, error) {
		if err := checkInputs(inputs, 2); err != nil {
			return nil, err
		}
		a, b := inputs[0], inputs[1]
		if !isScalar(a) || !isScalar(b) {
			return nil, errors.Errorf("cannot compare %s and %s", Format(a), Format(b))
		}
		fa, errA := asFloat(a)
		fb, errB := asFloat(b)
		if errA == nil && errB == nil {
			return single((fa == fb) == equal)
		}
		return single((a == b) == equal)
	}
}

func execNot(_ *execution, _ ir.NodeId, inputs []any) ([]any, error) {
	if err := checkInputs(inputs, 1); err != nil {
		return nil, err
	}
	b, err := asBool(inputs[0])
	if err != nil {
		return nil, err
	}
	return single(!b)
}

// Shapes -----------------------------------------------------------------------------------------------------

func execSize(_ *execution, _ ir.NodeId, inputs []any) ([]any, error) {
	if err := checkInputs(inputs, 1); err != nil {
		return nil, err
	}
	x, err := asTensor(inputs[0])
	if err != nil {
		return nil, err
	}
	dims := x.Dimensions()
	if len(inputs) > 1 && inputs[1] != nil {
		axis, err := asInt(inputs[1])
		if err != nil {
			return nil, err
		}
		i, err := normalizeIndex(axis, len(dims))
		if err != nil {
			return nil, err
		}
		return single(int64(dims[i]))
	}
	elems := make([]any, len(dims))
	for ii, dim := range dims {
		elems[ii] = int64(dim)
	}
	return single(NewList(elems...))
}

func execDim(_ *execution, _ ir.NodeId, inputs []any) ([]any, error) {
	if err := checkInputs(inputs, 1); err != nil {
		return nil, err
	}
	x, err := asTensor(inputs[0])
	if err != nil {
		return nil, err
	}
	return single(int64(x.Rank()))
}

// execExpand broadcasts x to the given dimensions.
func execExpand(_ *execution, _ ir.NodeId, inputs []any) ([]any, error) {
	if err := checkInputs(inputs, 2); err != nil {
		return nil, err
	}
	x, err := asTensor(inputs[0])
	if err != nil {
		return nil, err
	}
	dims, err := asInts(inputs[1])
	if err != nil {
		return nil, err
	}
	xDims := x.Dimensions()
	for ii, dim := range dims {
		// -1 keeps the corresponding dimension of x.
		if dim == -1 {
			offset := len(dims) - len(xDims)
			if ii < offset {
				return nil, errors.Errorf("Expand(%v): -1 not allowed for new leading axis %d", dims, ii)
			}
			dims[ii] = xDims[ii-offset]
		}
	}
	if slices.Equal(dims, xDims) {
		return single(x)
	}
	zeros := tensors.FromScalarAndDimensions(0.0, dims...).ConvertDType(x.DType())
	return singleTensor(tensors.Binary(zeros, x, func(_, v float64) float64 { return v }))
}

// Elementwise ------------------------------------------------------------------------------------------------

func unaryTensor(fn func(v float64) float64) executor {
	return func(_ *execution, _ ir.NodeId, inputs []any) ([]any, error) {
		if err := checkInputs(inputs, 1); err != nil {
			return nil, err
		}
		x, err := asTensor(inputs[0])
		if err != nil {
			return nil, err
		}
		return single(x.Map(fn))
	}
}

func clampTensor(inputs []any, lower, upper *float64) ([]any, error) {
	x, err := asTensor(inputs[0])
	if err != nil {
		return nil, err
	}
	return single(x.Map(func(v float64) float64 {
		if lower != nil {
			v = max(v, *lower)
		}
		if upper != nil {
			v = min(v, *upper)
		}
		return v
	}))
}

func execRelu(_ *execution, _ ir.NodeId, inputs []any) ([]any, error) {
	if err := checkInputs(inputs, 1); err != nil {
		return nil, err
	}
	zero := 0.0
	return clampTensor(inputs, &zero, nil)
}

func execRelu6(_ *execution, _ ir.NodeId, inputs []any) ([]any, error) {
	if err := checkInputs(inputs, 1); err != nil {
		return nil, err
	}
	zero, six := 0.0, 6.0
	return clampTensor(inputs, &zero, &six)
}

func execHardtanh(_ *execution, _ ir.NodeId, inputs []any) ([]any, error) {
	if err := checkInputs(inputs, 1); err != nil {
		return nil, err
	}
	lower, err := optionalFloat(inputs, 1)
	if err != nil {
		return nil, err
	}
	upper, err := optionalFloat(inputs, 2)
	if err != nil {
		return nil, err
	}
	if lower == nil {
		lower = new(float64)
		*lower = -1
	}
	if upper == nil {
		upper = new(float64)
		*upper = 1
	}
	return clampTensor(inputs, lower, upper)
}

func execClamp(_ *execution, _ ir.NodeId, inputs []any) ([]any, error) {
	if err := checkInputs(inputs, 1); err != nil {
		return nil, err
	}
	lower, err := optionalFloat(inputs, 1)
	if err != nil {
		return nil, err
	}
	upper, err := optionalFloat(inputs, 2)
	if err != nil {
		return nil, err
	}
	return clampTensor(inputs, lower, upper)
}

func execClampMin(_ *execution, _ ir.NodeId, inputs []any) ([]any, error) {
	if err := checkInputs(inputs, 2); err != nil {
		return nil, err
	}
	lower, err := optionalFloat(inputs, 1)
	if err != nil {
		return nil, err
	}
	return clampTensor(inputs, lower, nil)
}

func execClampMax(_ *execution, _ ir.NodeId, inputs []any) ([]any, error) {
	if err := checkInputs(inputs, 2); err != nil {
		return nil, err
	}
	upper, err := optionalFloat(inputs, 1)
	if err != nil {
		return nil, err
	}
	return clampTensor(inputs, nil, upper)
}

// execBatchNorm computes (x-mean)/sqrt(var+eps)*weight+bias, with inputs [x, mean, var, weight?, bias?]
// and the attribute "eps" (default 1e-5). Statistics must be scalars or have the shape of x.
func execBatchNorm(e *execution, n ir.NodeId, inputs []any) ([]any, error) {
	if err := checkInputs(inputs, 3); err != nil {
		return nil, err
	}
	eps := 1e-5
	if value, found := e.g.Attr(n, "eps"); found {
		if f, ok := value.(float64); ok {
			eps = f
		}
	}
	x, err := subOp.apply(inputs[0], inputs[1])
	if err != nil {
		return nil, err
	}
	std, err := addOp.apply(inputs[2], eps)
	if err != nil {
		return nil, err
	}
	if stdT, ok := std.(*tensors.Tensor); ok {
		std = stdT.Map(math.Sqrt)
	} else {
		f, err := asFloat(std)
		if err != nil {
			return nil, err
		}
		std = math.Sqrt(f)
	}
	if x, err = divOp.apply(x, std); err != nil {
		return nil, err
	}
	if len(inputs) > 3 && inputs[3] != nil {
		if x, err = mulOp.apply(x, inputs[3]); err != nil {
			return nil, err
		}
	}
	if len(inputs) > 4 && inputs[4] != nil {
		if x, err = addOp.apply(x, inputs[4]); err != nil {
			return nil, err
		}
	}
	return single(x)
}

// Layout -----------------------------------------------------------------------------------------------------

func execClone(_ *execution, _ ir.NodeId, inputs []any) ([]any, error) {
	if err := checkInputs(inputs, 1); err != nil {
		return nil, err
	}
	x, err := asTensor(inputs[0])
	if err != nil {
		return nil, err
	}
	return single(x.Clone())
}

// execCopyInplace returns the source [1] broadcast to the destination [0].
func execCopyInplace(_ *execution, _ ir.NodeId, inputs []any) ([]any, error) {
	if err := checkInputs(inputs, 2); err != nil {
		return nil, err
	}
	dst, err := asTensor(inputs[0])
	if err != nil {
		return nil, err
	}
	src, err := asTensor(inputs[1])
	if err != nil {
		return nil, err
	}
	return singleTensor(tensors.Binary(dst, src, func(_, v float64) float64 { return v }))
}

// execFlatten flattens the axes [start, end] (default all) into one.
func execFlatten(_ *execution, _ ir.NodeId, inputs []any) ([]any, error) {
	if err := checkInputs(inputs, 1); err != nil {
		return nil, err
	}
	x, err := asTensor(inputs[0])
	if err != nil {
		return nil, err
	}
	dims := x.Dimensions()
	if len(dims) == 0 {
		return singleTensor(x.Reshape(1))
	}
	start, end := 0, len(dims)-1
	if len(inputs) > 1 {
		s, err := asInt(inputs[1])
		if err != nil {
			return nil, err
		}
		if start, err = normalizeIndex(s, len(dims)); err != nil {
			return nil, err
		}
	}
	if len(inputs) > 2 {
		e, err := asInt(inputs[2])
		if err != nil {
			return nil, err
		}
		if end, err = normalizeIndex(e, len(dims)); err != nil {
			return nil, err
		}
	}
	if start > end {
		return nil, errors.Errorf("Flatten: start axis %d after end axis %d", start, end)
	}
	newDims := slices.Concat(dims[:start], []int{-1}, dims[end+1:])
	return singleTensor(x.Reshape(newDims...))
}

func execSqueeze(_ *execution, _ ir.NodeId, inputs []any) ([]any, error) {
	if err := checkInputs(inputs, 1); err != nil {
		return nil, err
	}
	x, err := asTensor(inputs[0])
	if err != nil {
		return nil, err
	}
	dims := x.Dimensions()
	if len(inputs) > 1 && inputs[1] != nil {
		axis, err := asInt(inputs[1])
		if err != nil {
			return nil, err
		}
		i, err := normalizeIndex(axis, len(dims))
		if err != nil {
			return nil, err
		}
		if dims[i] == 1 {
			dims = slices.Delete(dims, i, i+1)
		}
		return singleTensor(x.Reshape(dims...))
	}
	dims = slices.DeleteFunc(dims, func(dim int) bool { return dim == 1 })
	return singleTensor(x.Reshape(dims...))
}

func execUnsqueeze(_ *execution, _ ir.NodeId, inputs []any) ([]any, error) {
	if err := checkInputs(inputs, 2); err != nil {
		return nil, err
	}
	x, err := asTensor(inputs[0])
	if err != nil {
		return nil, err
	}
	axis, err := asInt(inputs[1])
	if err != nil {
		return nil, err
	}
	dims := x.Dimensions()
	i, err := normalizeIndex(axis, len(dims)+1)
	if err != nil {
		return nil, err
	}
	return singleTensor(x.Reshape(slices.Insert(dims, i, 1)...))
}

func execTranspose(_ *execution, _ ir.NodeId, inputs []any) ([]any, error) {
	if err := checkInputs(inputs, 3); err != nil {
		return nil, err
	}
	x, err := asTensor(inputs[0])
	if err != nil {
		return nil, err
	}
	a0, err := asInt(inputs[1])
	if err != nil {
		return nil, err
	}
	a1, err := asInt(inputs[2])
	if err != nil {
		return nil, err
	}
	return singleTensor(x.Transpose(int(a0), int(a1)))
}

func execReshape(_ *execution, _ ir.NodeId, inputs []any) ([]any, error) {
	if err := checkInputs(inputs, 2); err != nil {
		return nil, err
	}
	x, err := asTensor(inputs[0])
	if err != nil {
		return nil, err
	}
	dims, err := asInts(inputs[1])
	if err != nil {
		return nil, err
	}
	return singleTensor(x.Reshape(dims...))
}

// Lists of tensors -------------------------------------------------------------------------------------------

func tensorsOf(values []any) ([]*tensors.Tensor, error) {
	ts := make([]*tensors.Tensor, len(values))
	for ii, v := range values {
		var err error
		if ts[ii], err = asTensor(v); err != nil {
			return nil, errors.WithMessagef(err, "element #%d", ii)
		}
	}
	return ts, nil
}

func chunksToValues(parts []*tensors.Tensor) []any {
	values := make([]any, len(parts))
	for ii, p := range parts {
		values[ii] = p
	}
	return values
}

func execCat(_ *execution, _ ir.NodeId, inputs []any) ([]any, error) {
	if err := checkInputs(inputs, 2); err != nil {
		return nil, err
	}
	elems, err := asElems(inputs[0])
	if err != nil {
		return nil, err
	}
	parts, err := tensorsOf(elems)
	if err != nil {
		return nil, err
	}
	axis, err := asInt(inputs[1])
	if err != nil {
		return nil, err
	}
	return singleTensor(tensors.Concatenate(int(axis), parts...))
}

func execFusedCat(e *execution, n ir.NodeId, inputs []any) ([]any, error) {
	parts, err := tensorsOf(inputs)
	if err != nil {
		return nil, err
	}
	return singleTensor(tensors.Concatenate(int(e.g.IntAttr(n, "axis")), parts...))
}

func execChunk(_ *execution, _ ir.NodeId, inputs []any) ([]any, error) {
	if err := checkInputs(inputs, 3); err != nil {
		return nil, err
	}
	x, err := asTensor(inputs[0])
	if err != nil {
		return nil, err
	}
	chunks, err := asInt(inputs[1])
	if err != nil {
		return nil, err
	}
	axis, err := asInt(inputs[2])
	if err != nil {
		return nil, err
	}
	parts, err := x.Chunk(int(chunks), int(axis))
	if err != nil {
		return nil, err
	}
	return single(NewList(chunksToValues(parts)...))
}

func execFusedChunk(e *execution, n ir.NodeId, inputs []any) ([]any, error) {
	if err := checkInputs(inputs, 1); err != nil {
		return nil, err
	}
	x, err := asTensor(inputs[0])
	if err != nil {
		return nil, err
	}
	parts, err := x.Chunk(int(e.g.IntAttr(n, "chunks")), int(e.g.IntAttr(n, "axis")))
	if err != nil {
		return nil, err
	}
	if len(parts) != e.g.NumOutputs(n) {
		return nil, errors.Errorf("tensor with dimensions %v split into %d chunks, but %d outputs expected",
			x.Dimensions(), len(parts), e.g.NumOutputs(n))
	}
	return chunksToValues(parts), nil
}

// Neural network ops -----------------------------------------------------------------------------------------

func execOneHot(_ *execution, _ ir.NodeId, inputs []any) ([]any, error) {
	if err := checkInputs(inputs, 2); err != nil {
		return nil, err
	}
	x, err := asTensor(inputs[0])
	if err != nil {
		return nil, err
	}
	depth, err := asInt(inputs[1])
	if err != nil {
		return nil, err
	}
	return single(x.OneHot(int(depth), dtypes.Int64))
}

func execSoftmax(_ *execution, _ ir.NodeId, inputs []any) ([]any, error) {
	if err := checkInputs(inputs, 1); err != nil {
		return nil, err
	}
	x, err := asTensor(inputs[0])
	if err != nil {
		return nil, err
	}
	if len(inputs) > 1 && inputs[1] != nil && x.Rank() > 0 {
		axis, err := asInt(inputs[1])
		if err != nil {
			return nil, err
		}
		i, err := normalizeIndex(axis, x.Rank())
		if err != nil {
			return nil, err
		}
		if i != x.Rank()-1 {
			return nil, errors.Wrapf(ErrUnsupported, "Softmax over axis %d of a rank-%d tensor", axis, x.Rank())
		}
	}
	return single(x.Softmax())
}

// execLinear computes x·wᵀ+bias, with inputs [x, w, bias?].
func execLinear(_ *execution, _ ir.NodeId, inputs []any) ([]any, error) {
	if err := checkInputs(inputs, 2); err != nil {
		return nil, err
	}
	ts, err := tensorsOf(inputs[:2])
	if err != nil {
		return nil, err
	}
	wT, err := ts[1].Transpose(0, 1)
	if err != nil {
		return nil, err
	}
	y, err := tensors.MatMul(ts[0], wT)
	if err != nil {
		return nil, err
	}
	if len(inputs) < 3 || inputs[2] == nil {
		return single(y)
	}
	bias, err := asTensor(inputs[2])
	if err != nil {
		return nil, err
	}
	if bias.Rank() != 1 || bias.Size() != y.Dimensions()[1] {
		return singleTensor(tensors.Binary(y, bias, func(a, b float64) float64 { return a + b }))
	}
	flat := y.Flat()
	cols := bias.Size()
	for ii := range flat {
		flat[ii] += bias.At(ii % cols)
	}
	return single(tensors.FromFlatDataAndDimensions(flat, y.Dimensions()...).ConvertDType(y.DType()))
}

func execMatmul(_ *execution, _ ir.NodeId, inputs []any) ([]any, error) {
	if err := checkInputs(inputs, 2); err != nil {
		return nil, err
	}
	ts, err := tensorsOf(inputs[:2])
	if err != nil {
		return nil, err
	}
	return singleTensor(tensors.MatMul(ts[0], ts[1]))
}

// execObserve calls the Observer given as input 0 with the tensor given as input 1.
func execObserve(e *execution, n ir.NodeId, inputs []any) ([]any, error) {
	if err := checkInputs(inputs, 2); err != nil {
		return nil, err
	}
	obs, ok := inputs[0].(*observer.Observer)
	if !ok {
		return nil, errors.Errorf("Observe expects an *observer.Observer, got %T", inputs[0])
	}
	x, err := asTensor(inputs[1])
	if err != nil {
		return nil, err
	}
	g := e.g
	isOutput, _ := g.Attr(n, "is_output")
	isOutputBool, _ := isOutput.(bool)
	return singleTensor(obs.Observe(x, int(g.IntAttr(n, "range_id")), int(g.IntAttr(n, "shape_id")),
		int(g.IntAttr(n, "tensor_id")), isOutputBool))
}
