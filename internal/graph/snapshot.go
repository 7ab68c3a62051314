package graph

import (
	"fmt"

	"github.com/danmuck/syncgraph/internal/dist"
	"github.com/danmuck/syncgraph/internal/location"
)

type NodeSnapshot struct {
	ID     dist.ID    `json:"id"`
	State  dist.State `json:"state"`
	Owner  int        `json:"owner"`
	Weight float64    `json:"weight"`
	Data   []byte     `json:"data"`
}

type EdgeSnapshot struct {
	ID     dist.ID      `json:"id"`
	Layer  dist.LayerID `json:"layer"`
	Weight float64      `json:"weight"`
	Source dist.ID      `json:"source"`
	Target dist.ID      `json:"target"`
}

// Snapshot is an immutable, serializable copy of one rank's graph.
type Snapshot struct {
	Rank      int               `json:"rank"`
	Size      int               `json:"size"`
	Mode      string            `json:"mode"`
	NextNode  uint32            `json:"next_node"`
	NextEdge  uint32            `json:"next_edge"`
	Nodes     []NodeSnapshot    `json:"nodes"`
	Edges     []EdgeSnapshot    `json:"edges"`
	Locations location.Snapshot `json:"locations"`
}

// LocalCount counts LOCAL nodes in the snapshot.
func (s Snapshot) LocalCount() int {
	n := 0
	for _, node := range s.Nodes {
		if node.State == dist.Local {
			n++
		}
	}
	return n
}

func (g *Graph[T]) Snapshot() (Snapshot, error) {
	snap := Snapshot{
		Rank:      g.Rank(),
		Size:      g.Size(),
		Mode:      g.mode.Name(),
		NextNode:  g.nodeIDs.Peek(),
		NextEdge:  g.edgeIDs.Peek(),
		Nodes:     make([]NodeSnapshot, 0, len(g.nodes)),
		Edges:     make([]EdgeSnapshot, 0, len(g.edges)),
		Locations: g.locations.Snapshot(),
	}
	for _, n := range g.Nodes() {
		data, err := g.codec.Encode(n.data)
		if err != nil {
			return Snapshot{}, fmt.Errorf("graph: snapshot node %s: %w", n.id, err)
		}
		snap.Nodes = append(snap.Nodes, NodeSnapshot{
			ID:     n.id,
			State:  n.State(),
			Owner:  n.Location(),
			Weight: n.weight,
			Data:   data,
		})
	}
	for _, e := range g.Edges() {
		snap.Edges = append(snap.Edges, EdgeSnapshot{
			ID:     e.id,
			Layer:  e.layer,
			Weight: e.weight,
			Source: e.source.id,
			Target: e.target.id,
		})
	}
	return snap, nil
}

// Restore loads a snapshot into an empty graph of the same rank and size.
func (g *Graph[T]) Restore(snap Snapshot) error {
	if len(g.nodes) > 0 || len(g.edges) > 0 {
		return fmt.Errorf("graph: restore into non-empty graph (%d nodes)", len(g.nodes))
	}
	if snap.Rank != g.Rank() || snap.Size != g.Size() {
		return fmt.Errorf("graph: snapshot of rank %d/%d restored on rank %d/%d", snap.Rank, snap.Size, g.Rank(), g.Size())
	}
	g.locations.Restore(snap.Locations)
	for _, ns := range snap.Nodes {
		data, err := g.codec.Decode(ns.Data)
		if err != nil {
			return fmt.Errorf("graph: restore node %s: %w", ns.ID, err)
		}
		n := newNode(g, ns.ID, data, ns.Weight)
		g.nodes[ns.ID] = n
		n.mutex = g.mode.BuildMutex(n)
	}
	for _, es := range snap.Edges {
		src, ok := g.nodes[es.Source]
		if !ok {
			return fmt.Errorf("%w: edge %s source %s", ErrUnknownNode, es.ID, es.Source)
		}
		dst, ok := g.nodes[es.Target]
		if !ok {
			return fmt.Errorf("%w: edge %s target %s", ErrUnknownNode, es.ID, es.Target)
		}
		g.insertEdge(&Edge[T]{id: es.ID, layer: es.Layer, weight: es.Weight, source: src, target: dst})
	}
	g.nodeIDs.Reset(snap.NextNode)
	g.edgeIDs.Reset(snap.NextEdge)
	return nil
}
