package output

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/goccy/go-graphviz"

	"github.com/danmuck/syncgraph/internal/dist"
	"github.com/danmuck/syncgraph/internal/graph"
	"github.com/danmuck/syncgraph/internal/testutil/testlog"
)

func TestParseFormat(t *testing.T) {
	testlog.Start(t)
	cases := map[string]graphviz.Format{
		"":     graphviz.XDOT,
		"DOT":  graphviz.XDOT,
		"svg":  graphviz.SVG,
		"png":  graphviz.PNG,
		"jpeg": graphviz.JPG,
	}
	for in, want := range cases {
		got, err := ParseFormat(in)
		if err != nil || got != want {
			t.Fatalf("ParseFormat(%q)=%q,%v want %q", in, got, err, want)
		}
	}
	if _, err := ParseFormat("gif"); !errors.Is(err, ErrUnknownFormat) {
		t.Fatalf("expected ErrUnknownFormat, got %v", err)
	}
}

func TestRenderDOT(t *testing.T) {
	testlog.Start(t)
	a := dist.ID{Rank: 0, Seq: 1}
	b := dist.ID{Rank: 1, Seq: 1}
	snap := graph.Snapshot{
		Rank: 0,
		Size: 2,
		Mode: "ghost",
		Nodes: []graph.NodeSnapshot{
			{ID: a, State: dist.Local, Owner: 0, Weight: 2},
			{ID: b, State: dist.Distant, Owner: 1},
		},
		Edges: []graph.EdgeSnapshot{
			{ID: dist.ID{Rank: 0, Seq: 1}, Layer: 3, Source: a, Target: b},
		},
	}
	var buf bytes.Buffer
	if err := Render(snap, graphviz.XDOT, &buf); err != nil {
		t.Fatalf("render: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"[0:1]", "[1:1]", "@1", "L3", "dashed"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRenderRejectsDanglingEdge(t *testing.T) {
	testlog.Start(t)
	snap := graph.Snapshot{
		Edges: []graph.EdgeSnapshot{{ID: dist.ID{Seq: 1}, Source: dist.ID{Seq: 1}, Target: dist.ID{Seq: 2}}},
	}
	if err := Render(snap, graphviz.XDOT, &bytes.Buffer{}); err == nil {
		t.Fatalf("expected dangling edge error")
	}
}
