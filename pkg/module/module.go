// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package module implements the container of method graphs the pipeline transforms: a Module has named
// methods (one ir.Graph each) and an attribute namespace, where submodules are attributes holding
// other Modules.
//
// By convention the first input of every method graph is the module itself ("self"), typed with the
// module's ClassType.
package module

import (
	"fmt"
	"slices"

	"github.com/gomlx/qcalib/pkg/core/ir"
	"github.com/gomlx/qcalib/pkg/core/tensors"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// ObserverAttr is the name of the attribute holding the quantization observer of a module. Submodules
// carrying it are calibrated independently and are not inlined into their parents.
const ObserverAttr = "_quant_observer"

// AttrCloner is implemented by attribute values that must be deep copied when their Module is cloned.
type AttrCloner interface {
	CloneAttr() any
}

// Module holds named method graphs and attributes.
type Module struct {
	id        uuid.UUID
	className string
	methods   map[string]*ir.Graph
	attrNames []string
	attrs     map[string]any
}

// New creates an empty module of the given class name.
func New(className string) *Module {
	return &Module{
		id:        uuid.New(),
		className: className,
		methods:   make(map[string]*ir.Graph),
		attrs:     make(map[string]any),
	}
}

// ID uniquely identifies the module instance. Clones get a new ID.
func (m *Module) ID() uuid.UUID { return m.id }

// ClassName of the module.
func (m *Module) ClassName() string { return m.className }

// ClassType is the type of values referring to this module in graphs.
func (m *Module) ClassType() *ir.Type { return ir.ClassOf(m.className) }

// String implements fmt.Stringer.
func (m *Module) String() string {
	return fmt.Sprintf("Module(%s, %d methods, %d attributes)", m.className, len(m.methods), len(m.attrNames))
}

// SetMethod sets (or replaces) the graph of the named method.
func (m *Module) SetMethod(name string, g *ir.Graph) {
	m.methods[name] = g
}

// Method returns the graph of the named method.
func (m *Module) Method(name string) (g *ir.Graph, found bool) {
	g, found = m.methods[name]
	return
}

// HasMethod returns whether the module defines the named method.
func (m *Module) HasMethod(name string) bool {
	_, found := m.methods[name]
	return found
}

// MethodNames returns the names of the methods, sorted.
func (m *Module) MethodNames() []string {
	names := make([]string, 0, len(m.methods))
	for name := range m.methods {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// HasAttr returns whether the attribute exists.
func (m *Module) HasAttr(name string) bool {
	_, found := m.attrs[name]
	return found
}

// Attr returns the value of the attribute.
func (m *Module) Attr(name string) (value any, found bool) {
	value, found = m.attrs[name]
	return
}

// SetAttr sets the value of the attribute, creating it if needed.
func (m *Module) SetAttr(name string, value any) {
	if _, found := m.attrs[name]; !found {
		m.attrNames = append(m.attrNames, name)
	}
	m.attrs[name] = value
}

// RegisterAttribute creates a new attribute. It fails if the attribute already exists.
func (m *Module) RegisterAttribute(name string, value any) error {
	if m.HasAttr(name) {
		return errors.Errorf("module %s already has an attribute named %q", m.className, name)
	}
	m.SetAttr(name, value)
	return nil
}

// AttrNames returns the names of the attributes in the order they were created.
func (m *Module) AttrNames() []string {
	return slices.Clone(m.attrNames)
}

// Submodule returns the named attribute if it holds a Module.
func (m *Module) Submodule(name string) (*Module, bool) {
	value := m.attrs[name]
	sub, ok := value.(*Module)
	return sub, ok
}

// Submodules returns the names of the attributes holding Modules, in creation order.
func (m *Module) Submodules() []string {
	var names []string
	for _, name := range m.attrNames {
		if _, ok := m.attrs[name].(*Module); ok {
			names = append(names, name)
		}
	}
	return names
}

// Clone returns an independent deep copy of the module: methods are cloned, submodules, tensors and
// attributes implementing AttrCloner are deep copied, and other attribute values are shared.
func (m *Module) Clone() *Module {
	m2 := New(m.className)
	for name, g := range m.methods {
		m2.methods[name] = g.Clone()
	}
	for _, name := range m.attrNames {
		m2.SetAttr(name, cloneAttr(m.attrs[name]))
	}
	return m2
}

func cloneAttr(value any) any {
	switch v := value.(type) {
	case *Module:
		return v.Clone()
	case *tensors.Tensor:
		return v.Clone()
	case AttrCloner:
		return v.CloneAttr()
	}
	return value
}
