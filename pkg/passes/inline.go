// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package passes

import (
	"sync"

	"github.com/gomlx/qcalib/pkg/core/ir"
	"github.com/gomlx/qcalib/pkg/module"
	"github.com/gomlx/qcalib/pkg/qerrors"
	"github.com/gomlx/qcalib/pkg/support/sets"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// MaxInlineRounds bounds the rounds of inlining (each round inlines all eligible calls of the graph
// present at its start): it's the maximum call depth inlined, and it stops recursive methods.
const MaxInlineRounds = 32

// Inliner substitutes CallFunction and CallMethod nodes by a copy of the body of their callee.
//
// Calls into modules carrying a module.ObserverAttr are preserved: those are calibrated on their own.
// The object of a CallMethod is resolved statically, following GetAttr of submodules from the "self"
// input of the graph (input 0). Calls whose object can't be resolved are left untouched.
type Inliner struct {
	// Module owning the graphs being inlined. If nil, only CallFunction nodes are inlined.
	Module *module.Module

	// Prepare, if set, returns the optimized copy of a callee that is inlined in its place. owner is the
	// module of the callee method, or nil for functions. It's called once per callee, and a callee whose
	// preparation is in progress (a recursive call) or fails is inlined as is.
	Prepare func(owner *module.Module, callee *ir.Graph) (*ir.Graph, error)

	cache *calleeCache
}

// calleeCache holds the prepared callees, shared by the inliners of submodules.
type calleeCache struct {
	mu         sync.Mutex
	prepared   map[*ir.Graph]*ir.Graph
	inProgress sets.Set[*ir.Graph]
}

// NewInliner returns an Inliner for graphs of the given module.
func NewInliner(m *module.Module) *Inliner {
	return &Inliner{
		Module: m,
		cache:  &calleeCache{prepared: make(map[*ir.Graph]*ir.Graph), inProgress: sets.Make[*ir.Graph]()},
	}
}

// WithModule returns an Inliner for the graphs of module m sharing the Prepare function and the
// prepared callees of in.
func (in *Inliner) WithModule(m *module.Module) *Inliner {
	return &Inliner{Module: m, Prepare: in.Prepare, cache: in.cache}
}

// Name implements Pass.
func (in *Inliner) Name() string { return "inliner" }

// Run implements Pass.
func (in *Inliner) Run(g *ir.Graph) (bool, error) {
	changed := false
	for round := range MaxInlineRounds {
		roundChanged, err := in.inlineRound(g)
		if err != nil {
			return changed, err
		}
		if !roundChanged {
			return changed, nil
		}
		changed = true
		if round == MaxInlineRounds-1 {
			klog.Warningf("%s: inlining stopped after %d rounds, recursive calls are left in place", g.Name(), MaxInlineRounds)
		}
	}
	return changed, nil
}

func (in *Inliner) inlineRound(g *ir.Graph) (bool, error) {
	changed := false
	for _, n := range g.FindNodes(ir.KindCallFunction, ir.KindCallMethod) {
		owner, callee, err := in.callee(g, n)
		if err != nil {
			return changed, err
		}
		if callee == nil {
			continue
		}
		if len(callee.Inputs()) != g.NumInputs(n) || len(callee.Outputs()) != g.NumOutputs(n) {
			return changed, qerrors.Invariantf("%s: call %s doesn't match the signature of %q (%d inputs, %d outputs)",
				g.Name(), g.NodeString(n), callee.Name(), len(callee.Inputs()), len(callee.Outputs()))
		}
		if callee != g {
			callee = in.prepared(owner, callee)
		}
		klog.V(2).Infof("%s: inlining %q", g.Name(), callee.Name())
		results := g.InlineGraph(callee, g.NodeInputs(n), n)
		g.ReplaceAllUsesOfNodeWith(n, results)
		g.Destroy(n)
		changed = true
	}
	return changed, nil
}

// callee returns the graph to inline for the call node n and the module owning it, or a nil graph if it
// shouldn't be inlined.
func (in *Inliner) callee(g *ir.Graph, n ir.NodeId) (*module.Module, *ir.Graph, error) {
	if g.Kind(n) == ir.KindCallFunction {
		value, _ := g.Attr(n, "callee")
		callee, ok := value.(*ir.Graph)
		if !ok {
			return nil, nil, qerrors.Invariantf("%s: CallFunction %s without a callee graph", g.Name(), g.NodeString(n))
		}
		return nil, callee, nil
	}
	if in.Module == nil {
		return nil, nil, nil
	}
	obj := in.resolveObject(g, g.Input(n, 0))
	if obj == nil {
		klog.V(2).Infof("%s: can't resolve the object of %s, not inlining", g.Name(), g.NodeString(n))
		return nil, nil, nil
	}
	if obj.HasAttr(module.ObserverAttr) {
		return nil, nil, nil
	}
	name := g.StringAttr(n, "name")
	callee, found := obj.Method(name)
	if !found {
		return nil, nil, errors.Wrapf(qerrors.ErrGraphInvariant, "%s: %s has no method %q", g.Name(), obj, name)
	}
	return obj, callee, nil
}

// prepared returns the callee to inline: the result of Prepare, computed once per callee.
func (in *Inliner) prepared(owner *module.Module, callee *ir.Graph) *ir.Graph {
	if in.Prepare == nil {
		return callee
	}
	c := in.cache
	c.mu.Lock()
	if p, found := c.prepared[callee]; found {
		c.mu.Unlock()
		return p
	}
	if c.inProgress.Has(callee) {
		c.mu.Unlock()
		return callee
	}
	c.inProgress.Insert(callee)
	c.mu.Unlock()

	p, err := in.Prepare(owner, callee)
	if err != nil {
		klog.V(1).Infof("optimizing callee %q failed, inlining it as is: %+v", callee.Name(), err)
		p = callee
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inProgress, callee)
	c.prepared[callee] = p
	return p
}

// resolveObject returns the module referred to by v, or nil if it can't be determined statically.
func (in *Inliner) resolveObject(g *ir.Graph, v ir.ValueId) *module.Module {
	inputs := g.Inputs()
	if len(inputs) > 0 && v == inputs[0] {
		return in.Module
	}
	producer := g.Producer(v)
	if g.Kind(producer) != ir.KindGetAttr {
		return nil
	}
	parent := in.resolveObject(g, g.Input(producer, 0))
	if parent == nil {
		return nil
	}
	sub, _ := parent.Submodule(g.StringAttr(producer, "name"))
	return sub
}
