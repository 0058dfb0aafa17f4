// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package passes

import (
	"maps"
	"slices"
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/qcalib/internal/workerspool"
	"github.com/gomlx/qcalib/pkg/config"
	"github.com/gomlx/qcalib/pkg/core/ir"
	"github.com/gomlx/qcalib/pkg/module"
	"github.com/gomlx/qcalib/pkg/qerrors"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"k8s.io/klog/v2"
)

// MaxSchedulingRounds bounds the rounds of the lowering passes. Reaching it means some passes undo each
// other's rewrites, and it's reported as a failure.
const MaxSchedulingRounds = 100

// Scheduler runs the passes over graphs until they reach a fixpoint:
//
//  1. Inliner, RemoveExpands and EliminateExceptions, each followed by Cleanup if it changed the graph.
//     If none of them changed anything, Cleanup is still run once.
//  2. Rounds of LoopUnroller, LowerBlockTuples, LowerBlockLists and FuseListOps, each followed by
//     Cleanup if it changed the graph, until a whole round (and a final Cleanup) changes nothing.
//
// The graph is linted after every pass that changes it. Errors and panics escaping a pass are returned
// as a *qerrors.PassFailure.
type Scheduler struct {
	// Module owning the graphs, used to resolve method calls. It can be nil.
	Module *module.Module

	// Config provides MaxUnrollTripCount and Parallelism.
	Config *config.Config
}

// NewScheduler creates a Scheduler for the graphs of the given module. If cfg is nil, config.Default()
// is used.
func NewScheduler(m *module.Module, cfg *config.Config) *Scheduler {
	if cfg == nil {
		cfg = config.Default()
	}
	return &Scheduler{Module: m, Config: cfg}
}

// Optimize runs the passes on the graph of the given method until a fixpoint. It returns whether the
// graph changed.
func (s *Scheduler) Optimize(method string, g *ir.Graph) (changed bool, err error) {
	return s.optimize(method, g, s.newInliner(s.Module))
}

// newInliner returns an Inliner for the graphs of m that optimizes copies of the callees before
// inlining them.
func (s *Scheduler) newInliner(m *module.Module) *Inliner {
	inliner := NewInliner(m)
	inliner.Prepare = func(owner *module.Module, callee *ir.Graph) (*ir.Graph, error) {
		prepared := callee.Clone()
		if _, err := s.optimize(callee.Name(), prepared, inliner.WithModule(owner)); err != nil {
			return nil, err
		}
		return prepared, nil
	}
	return inliner
}

// Run optimizes all the given graphs, keyed by method name, in parallel as allowed by
// Config.Parallelism.
//
// A failure on one method doesn't stop the others: all errors are returned combined.
func (s *Scheduler) Run(graphs map[string]*ir.Graph) error {
	// Concurrently optimized graphs can't be inlined: callees are taken from a snapshot.
	var snapshot *module.Module
	if s.Module != nil {
		snapshot = s.Module.Clone()
	}
	inliner := s.newInliner(snapshot)
	names := slices.Sorted(maps.Keys(graphs))
	pool := workerspool.New(s.Config.Parallelism)
	var mu sync.Mutex
	var errs error
	pool.ForEach(len(names), func(i int) {
		name := names[i]
		if _, err := s.optimize(name, graphs[name], inliner); err != nil {
			mu.Lock()
			errs = multierr.Append(errs, err)
			mu.Unlock()
		}
	})
	return errs
}

func (s *Scheduler) optimize(method string, g *ir.Graph, inliner *Inliner) (changed bool, err error) {
	unroller := NewLoopUnroller(s.Config.MaxUnrollTripCount)

	// runWithCleanup runs the pass and, if it changed the graph, Cleanup.
	runWithCleanup := func(p Pass) (bool, error) {
		passChanged, err := s.runPass(method, g, p)
		if err != nil || !passChanged {
			return false, err
		}
		changed = true
		if _, err = s.runPass(method, g, Cleanup); err != nil {
			return false, err
		}
		return true, nil
	}

	firstChanged := false
	for _, p := range []Pass{inliner, RemoveExpands, EliminateExceptions} {
		passChanged, err := runWithCleanup(p)
		if err != nil {
			return changed, err
		}
		firstChanged = firstChanged || passChanged
	}
	if !firstChanged {
		cleaned, err := s.runPass(method, g, Cleanup)
		if err != nil {
			return changed, err
		}
		changed = changed || cleaned
	}

	for round := 0; ; round++ {
		if round >= MaxSchedulingRounds {
			return changed, &qerrors.PassFailure{Pass: "scheduler", Method: method,
				Err: errors.Errorf("no fixpoint reached after %d rounds", MaxSchedulingRounds)}
		}
		roundChanged := false
		for _, p := range []Pass{unroller, LowerBlockTuples, LowerBlockLists, FuseListOps} {
			passChanged, err := runWithCleanup(p)
			if err != nil {
				return changed, err
			}
			roundChanged = roundChanged || passChanged
		}
		klog.V(2).Infof("method %q: scheduling round %d, changed=%v, %s", method, round, roundChanged, g.Summary())
		if !roundChanged {
			cleaned, err := s.runPass(method, g, Cleanup)
			if err != nil {
				return changed, err
			}
			if !cleaned {
				break
			}
			changed = true
		}
	}
	return changed, nil
}

// runPass runs one pass, converting panics and lint failures to a *qerrors.PassFailure.
func (s *Scheduler) runPass(method string, g *ir.Graph, p Pass) (changed bool, err error) {
	exception := exceptions.Try(func() {
		changed, err = p.Run(g)
	})
	if exception != nil {
		var ok bool
		if err, ok = exception.(error); !ok {
			err = errors.Errorf("panic: %v", exception)
		}
	}
	if err == nil && changed {
		err = g.Lint()
	}
	if err != nil {
		return false, &qerrors.PassFailure{Pass: p.Name(), Method: method, Err: err}
	}
	if changed {
		klog.V(1).Infof("pass %q changed graph %q", p.Name(), method)
	}
	return changed, nil
}
