package includes

import (
	"bytes"
	"context"
	"fmt"
	"maps"
	"path/filepath"
	"slices"

	"github.com/goccy/go-graphviz"
)

// ToDOT converts the graph to Graphviz DOT. Nodes are labeled with paths
// relative to the root's directory; missing includes are drawn dashed.
func (g *Graph) ToDOT() string {
	base := filepath.Dir(g.Root)
	label := func(p string) string {
		if rel, err := filepath.Rel(base, p); err == nil {
			return filepath.ToSlash(rel)
		}
		return p
	}

	var buf bytes.Buffer
	buf.WriteString("digraph includes {\n")
	buf.WriteString("  rankdir=LR;\n")
	buf.WriteString("  bgcolor=\"transparent\";\n")
	buf.WriteString("  node [shape=box, style=\"rounded,filled\", fillcolor=white, fontname=\"Helvetica\"];\n")
	buf.WriteString("\n")

	for _, f := range g.Files() {
		attrs := fmt.Sprintf("label=%q", label(f))
		if f == g.Root {
			attrs += ", penwidth=2"
		}
		fmt.Fprintf(&buf, "  %q [%s];\n", f, attrs)
	}
	for _, m := range g.Missing {
		fmt.Fprintf(&buf, "  %q [label=%q, style=\"rounded,dashed\", fontcolor=grey];\n", "missing:"+m, m)
	}

	buf.WriteString("\n")
	for _, from := range slices.Sorted(maps.Keys(g.Edges)) {
		for _, to := range g.Edges[from] {
			fmt.Fprintf(&buf, "  %q -> %q;\n", from, to)
		}
	}
	buf.WriteString("}\n")
	return buf.String()
}

// RenderSVG renders the graph to SVG with Graphviz.
func (g *Graph) RenderSVG(ctx context.Context) ([]byte, error) {
	gv, err := graphviz.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("init graphviz: %w", err)
	}
	defer gv.Close()

	graph, err := graphviz.ParseBytes([]byte(g.ToDOT()))
	if err != nil {
		return nil, fmt.Errorf("parse DOT: %w", err)
	}
	defer graph.Close()

	var buf bytes.Buffer
	if err := gv.Render(ctx, graph, graphviz.SVG, &buf); err != nil {
		return nil, fmt.Errorf("render: %w", err)
	}
	return buf.Bytes(), nil
}
