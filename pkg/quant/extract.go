// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package quant

import (
	"github.com/gomlx/qcalib/pkg/config"
	"github.com/gomlx/qcalib/pkg/core/ir"
	"github.com/gomlx/qcalib/pkg/module"
	"github.com/gomlx/qcalib/pkg/qerrors"
	"github.com/gomlx/qcalib/pkg/support/sets"
	"k8s.io/klog/v2"
)

// ExtractMethodGraphs returns the graphs of the methods of m to be processed: all methods except those
// in cfg.ExcludeFuncs. The graphs are the module's own, not copies.
//
// It fails with an error wrapping qerrors.ErrConfig if the configuration is invalid, if the exported
// function is not a method of m, or if an excluded function is not a method of m.
func ExtractMethodGraphs(m *module.Module, cfg *config.Config) (map[string]*ir.Graph, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if !m.HasMethod(cfg.ExportFunc) {
		return nil, qerrors.Configf("export function %q is not a method of %s, available methods: %q",
			cfg.ExportFunc, m, m.MethodNames())
	}
	for _, name := range sets.Sorted(cfg.ExcludeFuncs) {
		if !m.HasMethod(name) {
			return nil, qerrors.Configf("excluded function %q is not a method of %s, available methods: %q",
				name, m, m.MethodNames())
		}
	}

	graphs := make(map[string]*ir.Graph)
	for _, name := range m.MethodNames() {
		if cfg.ExcludeFuncs.Has(name) {
			klog.V(1).Infof("method %q of %s excluded", name, m)
			continue
		}
		graphs[name], _ = m.Method(name)
	}
	return graphs, nil
}
