package graph

import (
	"sort"

	"github.com/danmuck/syncgraph/internal/dist"
)

type Node[T any] struct {
	id     dist.ID
	data   T
	weight float64
	graph  *Graph[T]
	mutex  Mutex[T]

	incoming map[dist.LayerID][]*Edge[T]
	outgoing map[dist.LayerID][]*Edge[T]
}

func newNode[T any](g *Graph[T], id dist.ID, data T, weight float64) *Node[T] {
	return &Node[T]{
		id:       id,
		data:     data,
		weight:   weight,
		graph:    g,
		incoming: make(map[dist.LayerID][]*Edge[T]),
		outgoing: make(map[dist.LayerID][]*Edge[T]),
	}
}

func (n *Node[T]) ID() dist.ID         { return n.id }
func (n *Node[T]) Weight() float64     { return n.weight }
func (n *Node[T]) SetWeight(w float64) { n.weight = w }
func (n *Node[T]) Mutex() Mutex[T]     { return n.mutex }

// Data exposes the local copy of the payload. Callers outside sync modes
// should go through Mutex.
func (n *Node[T]) Data() *T { return &n.data }

// SetData overwrites the local copy of the payload.
func (n *Node[T]) SetData(v T) { n.data = v }

func (n *Node[T]) State() dist.State {
	e, ok := n.graph.locations.Lookup(n.id)
	if !ok {
		return dist.Distant
	}
	return e.State
}

// Location is the owner rank as currently known.
func (n *Node[T]) Location() int {
	e, ok := n.graph.locations.Lookup(n.id)
	if !ok {
		return n.graph.locations.Resolve(n.id)
	}
	return e.Owner
}

func (n *Node[T]) IsLocal() bool {
	return n.State() == dist.Local
}

func (n *Node[T]) Incoming(layer dist.LayerID) []*Edge[T] {
	return append([]*Edge[T](nil), n.incoming[layer]...)
}

func (n *Node[T]) Outgoing(layer dist.LayerID) []*Edge[T] {
	return append([]*Edge[T](nil), n.outgoing[layer]...)
}

// Layers lists the layers with at least one incident edge.
func (n *Node[T]) Layers() []dist.LayerID {
	seen := make(map[dist.LayerID]struct{})
	for l, es := range n.incoming {
		if len(es) > 0 {
			seen[l] = struct{}{}
		}
	}
	for l, es := range n.outgoing {
		if len(es) > 0 {
			seen[l] = struct{}{}
		}
	}
	out := make([]dist.LayerID, 0, len(seen))
	for l := range seen {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Edges returns every incident edge once, sorted by id.
func (n *Node[T]) Edges() []*Edge[T] {
	seen := make(map[dist.ID]*Edge[T])
	for _, es := range n.incoming {
		for _, e := range es {
			seen[e.id] = e
		}
	}
	for _, es := range n.outgoing {
		for _, e := range es {
			seen[e.id] = e
		}
	}
	out := make([]*Edge[T], 0, len(seen))
	for _, e := range seen {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id.Less(out[j].id) })
	return out
}

// Degree counts incident edges across all layers.
func (n *Node[T]) Degree() int {
	return len(n.Edges())
}

func (n *Node[T]) attach(e *Edge[T]) {
	if e.source == n {
		n.outgoing[e.layer] = append(n.outgoing[e.layer], e)
	}
	if e.target == n {
		n.incoming[e.layer] = append(n.incoming[e.layer], e)
	}
}

func (n *Node[T]) detach(e *Edge[T]) {
	n.outgoing[e.layer] = removeEdge(n.outgoing[e.layer], e)
	n.incoming[e.layer] = removeEdge(n.incoming[e.layer], e)
	if len(n.outgoing[e.layer]) == 0 {
		delete(n.outgoing, e.layer)
	}
	if len(n.incoming[e.layer]) == 0 {
		delete(n.incoming, e.layer)
	}
}

func removeEdge[T any](es []*Edge[T], e *Edge[T]) []*Edge[T] {
	for i, cur := range es {
		if cur == e {
			return append(es[:i], es[i+1:]...)
		}
	}
	return es
}
