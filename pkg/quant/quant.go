// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package quant instruments the methods of a module for post-training quantization calibration.
//
// The pipeline has these steps, each exposed on its own:
//
//  1. ExtractMethodGraphs: selects the method graphs to process, validating the configuration.
//  2. ApplyAllPasses: simplifies the graphs (inlining, unrolling, container lowering and fusion) with
//     a passes.Scheduler, so the tensors to observe become individual values.
//  3. InsertObservers: finds the implicit tensors of each graph, groups them (see GroupTensors) and
//     inserts an Observe call after each of them, all sharing one observer.Observer attached to the module.
//
// InsertAllObservers runs the whole pipeline. Running the instrumented methods (e.g. with the interp
// package) on calibration data records the ranges and shapes in the Observer, which can then be saved
// with observer.Observer.SaveFile.
//
// Every top-level operation takes a copyModule flag: if set, the module is cloned first and the clone is
// modified and returned; otherwise the module is modified in place.
package quant

import (
	"context"

	"github.com/gomlx/qcalib/pkg/analysis/implicit"
	"github.com/gomlx/qcalib/pkg/config"
	"github.com/gomlx/qcalib/pkg/core/ir"
	"github.com/gomlx/qcalib/pkg/module"
	"github.com/gomlx/qcalib/pkg/passes"
	"github.com/gomlx/qcalib/pkg/quant/observer"
	"k8s.io/klog/v2"
)

// prepare validates the configuration, clones the module if requested and extracts its method graphs.
func prepare(m *module.Module, cfg *config.Config, copyModule bool) (*module.Module, *config.Config, map[string]*ir.Graph, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, nil, err
	}
	if copyModule {
		m = m.Clone()
	}
	graphs, err := ExtractMethodGraphs(m, cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	return m, cfg, graphs, nil
}

// ApplyAllPasses simplifies the graphs of the methods of m, except the excluded ones, up to a fixpoint.
// A nil cfg uses config.Default.
//
// The methods are processed independently: if some fail, the others are still simplified, and the
// returned error combines a qerrors.PassFailure per failed method.
func ApplyAllPasses(m *module.Module, cfg *config.Config, copyModule bool) (*module.Module, error) {
	m, cfg, graphs, err := prepare(m, cfg, copyModule)
	if err != nil {
		return nil, err
	}
	if err := passes.NewScheduler(m, cfg).Run(graphs); err != nil {
		return nil, err
	}
	return m, nil
}

// InsertObservers instruments the graphs of the methods of m, except the excluded ones, with Observe calls,
// and attaches the observer.Observer they share to m, as module.ObserverAttr. A nil cfg uses config.Default.
//
// The graphs are not simplified first: see InsertAllObservers.
func InsertObservers(m *module.Module, cfg *config.Config, copyModule bool) (*module.Module, error) {
	m, cfg, graphs, err := prepare(m, cfg, copyModule)
	if err != nil {
		return nil, err
	}
	implicitTensors, err := implicit.AnalyzeAll(context.Background(), graphs, cfg.Parallelism)
	if err != nil {
		return nil, err
	}
	gr, err := GroupTensors(graphs, implicitTensors)
	if err != nil {
		return nil, err
	}
	if _, err = AttachObserver(m, cfg, gr); err != nil {
		return nil, err
	}
	return m, nil
}

// InsertAllObservers simplifies the graphs with ApplyAllPasses and then instruments them with InsertObservers.
func InsertAllObservers(m *module.Module, cfg *config.Config, copyModule bool) (*module.Module, error) {
	m, err := ApplyAllPasses(m, cfg, copyModule)
	if err != nil {
		return nil, err
	}
	klog.V(1).Infof("passes applied to %s, inserting observers", m)
	return InsertObservers(m, cfg, false)
}

// ImplicitTensorNames returns, per method, the debug names of its implicit tensors, in graph order.
// Unnamed tensors are listed by their value reference.
func ImplicitTensorNames(m *module.Module, cfg *config.Config) (map[string][]string, error) {
	_, cfg, graphs, err := prepare(m, cfg, false)
	if err != nil {
		return nil, err
	}
	implicitTensors, err := implicit.AnalyzeAll(context.Background(), graphs, cfg.Parallelism)
	if err != nil {
		return nil, err
	}
	names := make(map[string][]string, len(graphs))
	for method, tensors := range implicitTensors {
		names[method] = implicit.Names(graphs[method], tensors)
	}
	return names, nil
}

// ObserverOf returns the Observer attached to m by InsertObservers.
func ObserverOf(m *module.Module) (*observer.Observer, bool) {
	value, found := m.Attr(module.ObserverAttr)
	if !found {
		return nil, false
	}
	obs, ok := value.(*observer.Observer)
	return obs, ok
}
