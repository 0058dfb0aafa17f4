// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ir

import (
	"fmt"
	"strings"

	"github.com/gomlx/gopjrt/dtypes"
)

// TypeKind enumerates the structural kinds of a value's type.
type TypeKind int

const (
	TypeInvalid TypeKind = iota
	TypeNone
	TypeBool
	TypeInt
	TypeFloat
	TypeString
	TypeTensor
	TypeList
	TypeTuple
	TypeDict
	TypeOptional
	TypeClass
	TypeFunction
)

var typeKindNames = [...]string{
	TypeInvalid:  "Invalid",
	TypeNone:     "None",
	TypeBool:     "bool",
	TypeInt:      "int",
	TypeFloat:    "float",
	TypeString:   "str",
	TypeTensor:   "Tensor",
	TypeList:     "List",
	TypeTuple:    "Tuple",
	TypeDict:     "Dict",
	TypeOptional: "Optional",
	TypeClass:    "Class",
	TypeFunction: "Function",
}

// String implements fmt.Stringer.
func (k TypeKind) String() string {
	if k < 0 || int(k) >= len(typeKindNames) {
		return fmt.Sprintf("TypeKind(%d)", int(k))
	}
	return typeKindNames[k]
}

// Type of a Value. Types are immutable once created and can be shared among values and graphs.
//
//   - Tensor types carry an optional DType (dtypes.InvalidDType if unknown).
//   - List and Optional have one element type; Dict has key and value types; Tuple has any number.
//   - Class types carry the qualified name of the module class they represent.
type Type struct {
	Kind  TypeKind
	DType dtypes.DType
	Elems []*Type
	Name  string
}

var (
	NoneType   = &Type{Kind: TypeNone}
	BoolType   = &Type{Kind: TypeBool}
	IntType    = &Type{Kind: TypeInt}
	FloatType  = &Type{Kind: TypeFloat}
	StringType = &Type{Kind: TypeString}

	// TensorType is a tensor of unknown dtype.
	TensorType = &Type{Kind: TypeTensor}

	FunctionType = &Type{Kind: TypeFunction}
)

// TensorOf returns a tensor type with a known dtype.
func TensorOf(dtype dtypes.DType) *Type {
	return &Type{Kind: TypeTensor, DType: dtype}
}

// ListOf returns the type `List[elem]`.
func ListOf(elem *Type) *Type {
	return &Type{Kind: TypeList, Elems: []*Type{elem}}
}

// TupleOf returns the type `Tuple[elems...]`.
func TupleOf(elems ...*Type) *Type {
	return &Type{Kind: TypeTuple, Elems: elems}
}

// DictOf returns the type `Dict[key, value]`.
func DictOf(key, value *Type) *Type {
	return &Type{Kind: TypeDict, Elems: []*Type{key, value}}
}

// OptionalOf returns the type `Optional[elem]`.
func OptionalOf(elem *Type) *Type {
	return &Type{Kind: TypeOptional, Elems: []*Type{elem}}
}

// ClassOf returns the class type with the given qualified name.
func ClassOf(name string) *Type {
	return &Type{Kind: TypeClass, Name: name}
}

// Elem returns the element type of a List or Optional, or the value type of a Dict.
func (t *Type) Elem() *Type {
	switch t.Kind {
	case TypeList, TypeOptional:
		return t.Elems[0]
	case TypeDict:
		return t.Elems[1]
	}
	return nil
}

// IsTensor returns whether t is a tensor type.
func (t *Type) IsTensor() bool {
	return t != nil && t.Kind == TypeTensor
}

// IsContainer returns whether t is one of the structural container types.
func (t *Type) IsContainer() bool {
	if t == nil {
		return false
	}
	switch t.Kind {
	case TypeList, TypeTuple, TypeDict, TypeOptional:
		return true
	}
	return false
}

// ContainsTensor returns whether t is a container that structurally holds a tensor type.
func (t *Type) ContainsTensor() bool {
	if !t.IsContainer() {
		return false
	}
	for _, e := range t.Elems {
		if e.IsTensor() || e.ContainsTensor() {
			return true
		}
	}
	return false
}

// Equal returns whether the two types are structurally equal.
// An unknown tensor dtype only matches another unknown dtype.
func (t *Type) Equal(other *Type) bool {
	if t == other {
		return true
	}
	if t == nil || other == nil {
		return false
	}
	if t.Kind != other.Kind || t.DType != other.DType || t.Name != other.Name || len(t.Elems) != len(other.Elems) {
		return false
	}
	for ii, e := range t.Elems {
		if !e.Equal(other.Elems[ii]) {
			return false
		}
	}
	return true
}

// String implements fmt.Stringer.
func (t *Type) String() string {
	if t == nil {
		return "<nil>"
	}
	switch t.Kind {
	case TypeTensor:
		if t.DType == dtypes.InvalidDType {
			return "Tensor"
		}
		return fmt.Sprintf("Tensor(%s)", t.DType)
	case TypeClass:
		return fmt.Sprintf("Class(%s)", t.Name)
	case TypeList, TypeTuple, TypeDict, TypeOptional:
		parts := make([]string, len(t.Elems))
		for ii, e := range t.Elems {
			parts[ii] = e.String()
		}
		return fmt.Sprintf("%s[%s]", t.Kind, strings.Join(parts, ", "))
	}
	return t.Kind.String()
}
