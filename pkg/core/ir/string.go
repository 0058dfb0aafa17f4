// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ir

import (
	"fmt"
	"slices"
	"strings"
)

// String dumps the graph in a textual form, one node per line, with nested blocks indented.
func (g *Graph) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "graph %s(%s):\n", g.name, g.typedValues(g.Inputs()))
	g.writeBlockNodes(&sb, g.top, 1)
	fmt.Fprintf(&sb, "  return (%s)\n", g.valuesString(g.Outputs()))
	return sb.String()
}

func (g *Graph) writeBlockNodes(sb *strings.Builder, b BlockId, depth int) {
	indent := strings.Repeat("  ", depth)
	for _, n := range g.block(b).nodes {
		sb.WriteString(indent)
		sb.WriteString(g.NodeString(n))
		sb.WriteString("\n")
		for ii, nested := range g.nodes[n].blocks {
			fmt.Fprintf(sb, "%s  block%d(%s):\n", indent, ii, g.typedValues(g.BlockParams(nested)))
			g.writeBlockNodes(sb, nested, depth+2)
			fmt.Fprintf(sb, "%s    -> (%s)\n", indent, g.valuesString(g.BlockReturns(nested)))
		}
	}
}

// NodeString returns a one-line description of the node, without its nested blocks.
func (g *Graph) NodeString(n NodeId) string {
	if !g.IsAlive(n) {
		return fmt.Sprintf("<dead node #%d>", n)
	}
	nd := &g.nodes[n]
	var sb strings.Builder
	if len(nd.outputs) > 0 {
		sb.WriteString(g.typedValues(nd.outputs))
		sb.WriteString(" = ")
	}
	sb.WriteString(nd.kind.String())
	sb.WriteString("(")
	sb.WriteString(g.valuesString(nd.inputs))
	sb.WriteString(")")
	if len(nd.attrs) > 0 {
		keys := g.AttrKeys(n)
		slices.Sort(keys)
		parts := make([]string, len(keys))
		for ii, k := range keys {
			value := nd.attrs[k]
			if callee, ok := value.(*Graph); ok {
				value = "@" + callee.name
			}
			parts[ii] = fmt.Sprintf("%s=%v", k, value)
		}
		fmt.Fprintf(&sb, "[%s]", strings.Join(parts, ", "))
	}
	if nd.source != "" {
		fmt.Fprintf(&sb, "  # %s", nd.source)
	}
	return sb.String()
}

func (g *Graph) valuesString(values []ValueId) string {
	parts := make([]string, len(values))
	for ii, v := range values {
		parts[ii] = g.ValueString(v)
	}
	return strings.Join(parts, ", ")
}

func (g *Graph) typedValues(values []ValueId) string {
	parts := make([]string, len(values))
	for ii, v := range values {
		parts[ii] = fmt.Sprintf("%s: %s", g.ValueString(v), g.Type(v))
	}
	return strings.Join(parts, ", ")
}
