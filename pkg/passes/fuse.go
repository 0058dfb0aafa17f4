// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package passes

import (
	"github.com/gomlx/qcalib/pkg/core/ir"
	"k8s.io/klog/v2"
)

// FuseListOps replaces Cat over a read-only ListConstruct by a FusedCat taking the elements directly, and
// Chunk with constant arguments, whose list is only unpacked or indexed with constants, by a FusedChunk
// with one output per chunk.
var FuseListOps = NewPass("fuse-list-ops", infallible(fuseListOps))

func fuseListOps(g *ir.Graph) bool {
	changed := false
	for _, n := range g.FindNodes(ir.KindCat, ir.KindChunk) {
		if !g.IsAlive(n) {
			continue
		}
		if g.Kind(n) == ir.KindCat {
			changed = fuseCat(g, n) || changed
		} else {
			changed = fuseChunk(g, n) || changed
		}
	}
	return changed
}

func fuseCat(g *ir.Graph, n ir.NodeId) bool {
	elems, ok := readOnlyList(g, g.Input(n, 0))
	if !ok {
		return false
	}
	axis, ok := g.ConstantInt(g.Input(n, 1))
	if !ok {
		return false
	}
	fused := g.Insert(n, ir.KindFusedCat, elems, g.Type(g.Output(n, 0)))
	g.SetAttr(fused, "axis", axis)
	g.SetSource(fused, g.Source(n))
	replaceWithValues(g, n, g.Output(fused, 0))
	return true
}

func fuseChunk(g *ir.Graph, n ir.NodeId) bool {
	chunks, ok := g.ConstantInt(g.Input(n, 1))
	if !ok || chunks <= 0 {
		return false
	}
	axis, ok := g.ConstantInt(g.Input(n, 2))
	if !ok {
		return false
	}
	list := g.Output(n, 0)
	uses := g.Uses(list)
	for _, use := range uses {
		if use.Offset != 0 {
			return false
		}
		switch g.Kind(use.Node) {
		case ir.KindListUnpack:
			if g.NumOutputs(use.Node) != int(chunks) {
				return false
			}
		case ir.KindListGetItem:
			if _, ok := constantIndex(g, g.Input(use.Node, 1), int(chunks)); !ok {
				return false
			}
		default:
			return false
		}
	}

	chunkType := g.Type(list).Elem()
	if chunkType == nil {
		chunkType = ir.TensorType
	}
	fused := g.Insert(n, ir.KindFusedChunk, []ir.ValueId{g.Input(n, 0)}, repeatType(chunkType, int(chunks))...)
	g.SetAttr(fused, "chunks", chunks)
	g.SetAttr(fused, "axis", axis)
	g.SetSource(fused, g.Source(n))
	parts := g.NodeOutputs(fused)
	for _, use := range uses {
		if g.Kind(use.Node) == ir.KindListUnpack {
			replaceWithValues(g, use.Node, parts...)
		} else {
			idx, _ := constantIndex(g, g.Input(use.Node, 1), int(chunks))
			replaceWithValues(g, use.Node, parts[idx])
		}
	}
	klog.V(2).Infof("%s: fused %s into %d chunks", g.Name(), g.NodeString(n), chunks)
	g.Destroy(n)
	return true
}
