// Package output renders a rank's partition with graphviz.
package output

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/goccy/go-graphviz"
	"github.com/goccy/go-graphviz/cgraph"

	"github.com/danmuck/syncgraph/internal/dist"
	"github.com/danmuck/syncgraph/internal/graph"
)

var ErrUnknownFormat = errors.New("output: unknown format")

// ParseFormat accepts dot, svg, png and jpg.
func ParseFormat(s string) (graphviz.Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "dot":
		return graphviz.XDOT, nil
	case "svg":
		return graphviz.SVG, nil
	case "png":
		return graphviz.PNG, nil
	case "jpg", "jpeg":
		return graphviz.JPG, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
	}
}

// Render draws LOCAL nodes as filled boxes and DISTANT proxies as dashed
// ellipses labelled with their owner.
func Render(snap graph.Snapshot, format graphviz.Format, w io.Writer) error {
	gv := graphviz.New()
	defer gv.Close()
	g, err := gv.Graph()
	if err != nil {
		return fmt.Errorf("output: new graph: %w", err)
	}
	defer g.Close()
	g.SetLabel(fmt.Sprintf("rank %d/%d (%s)", snap.Rank, snap.Size, snap.Mode))

	nodes := make(map[dist.ID]*cgraph.Node, len(snap.Nodes))
	for _, n := range snap.Nodes {
		gn, err := g.CreateNode(n.ID.String())
		if err != nil {
			return fmt.Errorf("output: node %s: %w", n.ID, err)
		}
		if n.State == dist.Local {
			gn.SetShape(cgraph.BoxShape).SetStyle(cgraph.FilledNodeStyle).SetFillColor("lightblue")
			gn.SetLabel(fmt.Sprintf("%s\nw=%g", n.ID, n.Weight))
		} else {
			gn.SetShape(cgraph.EllipseShape).SetStyle(cgraph.DashedNodeStyle)
			gn.SetLabel(fmt.Sprintf("%s\n@%d", n.ID, n.Owner))
		}
		nodes[n.ID] = gn
	}
	for _, e := range snap.Edges {
		src, ok := nodes[e.Source]
		if !ok {
			return fmt.Errorf("output: edge %s: unknown source %s", e.ID, e.Source)
		}
		dst, ok := nodes[e.Target]
		if !ok {
			return fmt.Errorf("output: edge %s: unknown target %s", e.ID, e.Target)
		}
		ge, err := g.CreateEdge(e.ID.String(), src, dst)
		if err != nil {
			return fmt.Errorf("output: edge %s: %w", e.ID, err)
		}
		if e.Layer != dist.DefaultLayer {
			ge.SetLabel(fmt.Sprintf("L%d", e.Layer))
		}
	}
	if err := gv.Render(g, format, w); err != nil {
		return fmt.Errorf("output: render %s: %w", format, err)
	}
	return nil
}
