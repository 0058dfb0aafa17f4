// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ir

import "fmt"

// Kind is the operator tag of a Node. It's a closed enum: every recognized operator has an entry in
// the kindInfos table below, and consumers (passes, groupings, the interpreter) dispatch on it
// with tables indexed by Kind.
//
// Input conventions for the structural kinds:
//
//	Param:          no inputs; outputs are the block parameters.
//	Return:         inputs are the block outputs; no outputs.
//	Constant:       attribute "value" (int64, float64, bool, string or nil).
//	Loop:           inputs [maxTripCount, initialCondition, carried...]; outputs [carried...];
//	                one block with params [iteration, carried...] and returns [continue, carried...].
//	If:             inputs [condition]; two blocks ("true" and "false") with no params.
//	CallFunction:   attribute "callee" (*Graph); inputs are the arguments.
//	CallMethod:     attribute "name"; inputs [object, arguments...].
//	GetAttr:        attribute "name"; inputs [object].
//	SetAttr:        attribute "name"; inputs [object, value].
//	TupleIndex:     inputs [tuple, index].
//	TupleSlice:     attributes "start", "end"; inputs [tuple].
//	ListGetItem:    inputs [list, index].        ListSetItem: inputs [list, index, value].
//	ListAppend:     inputs [list, value].        ListSlice:   inputs [list, start, end].
//	Cat:            inputs [list, axis].         Chunk:       inputs [x, chunks, axis], output List[Tensor].
//	FusedCat:       inputs [x...], attribute "axis".
//	FusedChunk:     inputs [x], attributes "chunks" and "axis", one output per chunk.
//	Clamp/Hardtanh: inputs [x, min, max] (min/max may be None constants).
//	Observe:        inputs [observer, x]; attributes "range_id", "shape_id", "tensor_id", "is_output".
type Kind int

const (
	KindInvalid Kind = iota
	KindParam
	KindReturn
	KindConstant
	KindUninitialized

	KindListConstruct
	KindListUnpack
	KindTupleConstruct
	KindTupleUnpack
	KindTupleIndex
	KindTupleSlice
	KindDictConstruct
	KindListGetItem
	KindListSetItem
	KindListAppend
	KindListLen
	KindListSlice

	KindLoop
	KindIf
	KindCallFunction
	KindCallMethod
	KindGetAttr
	KindSetAttr
	KindRaiseException
	KindPrint

	KindAdd
	KindSub
	KindMul
	KindDiv
	KindNeg
	KindLt
	KindGt
	KindEq
	KindNe
	KindNot

	KindSize
	KindDim
	KindExpand

	KindRelu
	KindReluInplace
	KindRelu6
	KindHardtanh
	KindHardtanhInplace
	KindClamp
	KindClampInplace
	KindClampMin
	KindClampMax
	KindBatchNorm

	KindClone
	KindCopyInplace
	KindFlatten
	KindSqueeze
	KindUnsqueeze
	KindTranspose
	KindView
	KindReshape
	KindContiguous
	KindDetach

	KindCat
	KindChunk
	KindFusedCat
	KindFusedChunk

	KindOneHot
	KindSoftmax
	KindSigmoid
	KindTanh
	KindLinear
	KindConv2d
	KindMatmul

	KindObserve

	// KindLast should always be kept the last, it is used as a counter/marker for Kind.
	KindLast
)

// kindFlags describe static properties of a Kind.
type kindFlags uint32

const (
	// flagSideEffect marks kinds that must never be removed or merged, even if their outputs are unused.
	flagSideEffect kindFlags = 1 << iota

	// flagPure marks kinds whose outputs depend only on their inputs and attributes: candidates for
	// common-subexpression elimination.
	flagPure

	// flagRangePreserving marks kinds that don't change the numeric distribution of their tensor inputs.
	flagRangePreserving

	// flagShapePreserving marks kinds whose output has the shape of input 0.
	flagShapePreserving

	// flagMutatesInput marks kinds that mutate their first input in place.
	flagMutatesInput

	// flagContainerConstruct marks kinds that build a container from its elements.
	flagContainerConstruct
)

type kindInfo struct {
	name  string
	flags kindFlags
}

// kindInfos must have one entry per Kind: this is checked by TestKindTable.
var kindInfos = [KindLast]kindInfo{
	KindInvalid:       {"Invalid", 0},
	KindParam:         {"Param", 0},
	KindReturn:        {"Return", 0},
	KindConstant:      {"Constant", flagPure},
	KindUninitialized: {"Uninitialized", 0},

	KindListConstruct:  {"ListConstruct", flagContainerConstruct},
	KindListUnpack:     {"ListUnpack", 0},
	KindTupleConstruct: {"TupleConstruct", flagPure | flagContainerConstruct},
	KindTupleUnpack:    {"TupleUnpack", flagPure},
	KindTupleIndex:     {"TupleIndex", flagPure},
	KindTupleSlice:     {"TupleSlice", flagPure},
	KindDictConstruct:  {"DictConstruct", flagContainerConstruct},
	KindListGetItem:    {"ListGetItem", 0},
	KindListSetItem:    {"ListSetItem", flagSideEffect | flagMutatesInput},
	KindListAppend:     {"ListAppend", flagSideEffect | flagMutatesInput},
	KindListLen:        {"ListLen", 0},
	KindListSlice:      {"ListSlice", 0},

	KindLoop:           {"Loop", 0},
	KindIf:             {"If", 0},
	KindCallFunction:   {"CallFunction", flagSideEffect},
	KindCallMethod:     {"CallMethod", flagSideEffect},
	KindGetAttr:        {"GetAttr", 0},
	KindSetAttr:        {"SetAttr", flagSideEffect},
	KindRaiseException: {"RaiseException", flagSideEffect},
	KindPrint:          {"Print", flagSideEffect},

	KindAdd: {"Add", flagPure},
	KindSub: {"Sub", flagPure},
	KindMul: {"Mul", flagPure},
	KindDiv: {"Div", flagPure},
	KindNeg: {"Neg", flagPure},
	KindLt:  {"Lt", flagPure},
	KindGt:  {"Gt", flagPure},
	KindEq:  {"Eq", flagPure},
	KindNe:  {"Ne", flagPure},
	KindNot: {"Not", flagPure},

	KindSize:   {"Size", flagPure},
	KindDim:    {"Dim", flagPure},
	KindExpand: {"Expand", flagPure},

	KindRelu:            {"Relu", flagPure | flagRangePreserving | flagShapePreserving},
	KindReluInplace:     {"ReluInplace", flagSideEffect | flagMutatesInput | flagRangePreserving | flagShapePreserving},
	KindRelu6:           {"Relu6", flagPure | flagRangePreserving | flagShapePreserving},
	KindHardtanh:        {"Hardtanh", flagPure | flagRangePreserving | flagShapePreserving},
	KindHardtanhInplace: {"HardtanhInplace", flagSideEffect | flagMutatesInput | flagRangePreserving | flagShapePreserving},
	KindClamp:           {"Clamp", flagPure | flagRangePreserving | flagShapePreserving},
	KindClampInplace:    {"ClampInplace", flagSideEffect | flagMutatesInput | flagRangePreserving | flagShapePreserving},
	KindClampMin:        {"ClampMin", flagPure | flagRangePreserving | flagShapePreserving},
	KindClampMax:        {"ClampMax", flagPure | flagRangePreserving | flagShapePreserving},
	KindBatchNorm:       {"BatchNorm", flagPure | flagRangePreserving | flagShapePreserving},

	KindClone:       {"Clone", flagRangePreserving},
	KindCopyInplace: {"CopyInplace", flagSideEffect | flagMutatesInput | flagRangePreserving},
	KindFlatten:     {"Flatten", flagPure | flagRangePreserving},
	KindSqueeze:     {"Squeeze", flagPure | flagRangePreserving},
	KindUnsqueeze:   {"Unsqueeze", flagPure | flagRangePreserving},
	KindTranspose:   {"Transpose", flagPure | flagRangePreserving},
	KindView:        {"View", flagPure | flagRangePreserving},
	KindReshape:     {"Reshape", flagPure | flagRangePreserving},
	KindContiguous:  {"Contiguous", flagPure | flagRangePreserving},
	KindDetach:      {"Detach", flagPure | flagRangePreserving},

	KindCat:        {"Cat", 0},
	KindChunk:      {"Chunk", flagPure},
	KindFusedCat:   {"FusedCat", flagPure | flagRangePreserving},
	KindFusedChunk: {"FusedChunk", flagPure | flagRangePreserving},

	KindOneHot:  {"OneHot", flagPure},
	KindSoftmax: {"Softmax", flagPure},
	KindSigmoid: {"Sigmoid", flagPure},
	KindTanh:    {"Tanh", flagPure},
	KindLinear:  {"Linear", flagPure},
	KindConv2d:  {"Conv2d", flagPure},
	KindMatmul:  {"Matmul", flagPure},

	KindObserve: {"Observe", flagSideEffect},
}

func (k Kind) info() kindInfo {
	if k < 0 || k >= KindLast {
		return kindInfo{}
	}
	return kindInfos[k]
}

// String implements fmt.Stringer.
func (k Kind) String() string {
	if name := k.info().name; name != "" {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// KindFromString returns the Kind with the given name, or KindInvalid.
func KindFromString(name string) Kind {
	for k := range KindLast {
		if kindInfos[k].name == name {
			return k
		}
	}
	return KindInvalid
}

// HasSideEffects returns whether nodes of this kind must be preserved even if unused.
func (k Kind) HasSideEffects() bool { return k.info().flags&flagSideEffect != 0 }

// IsPure returns whether nodes of this kind compute a function of their inputs and attributes only.
func (k Kind) IsPure() bool { return k.info().flags&flagPure != 0 }

// IsRangePreserving returns whether the kind preserves the numeric range of its tensor inputs.
func (k Kind) IsRangePreserving() bool { return k.info().flags&flagRangePreserving != 0 }

// IsShapePreserving returns whether the kind's output has the shape of its input 0.
func (k Kind) IsShapePreserving() bool { return k.info().flags&flagShapePreserving != 0 }

// MutatesInput returns whether the kind mutates its first input in place.
func (k Kind) MutatesInput() bool { return k.info().flags&flagMutatesInput != 0 }

// IsContainerConstruct returns whether the kind builds a container from its inputs.
func (k Kind) IsContainerConstruct() bool { return k.info().flags&flagContainerConstruct != 0 }
