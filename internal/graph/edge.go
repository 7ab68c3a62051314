package graph

import "github.com/danmuck/syncgraph/internal/dist"

type Edge[T any] struct {
	id     dist.ID
	layer  dist.LayerID
	weight float64
	source *Node[T]
	target *Node[T]
}

func (e *Edge[T]) ID() dist.ID         { return e.id }
func (e *Edge[T]) Layer() dist.LayerID { return e.layer }
func (e *Edge[T]) Weight() float64     { return e.weight }
func (e *Edge[T]) SetWeight(w float64) { e.weight = w }
func (e *Edge[T]) Source() *Node[T]    { return e.source }
func (e *Edge[T]) Target() *Node[T]    { return e.target }

// State is DISTANT when either endpoint is DISTANT.
func (e *Edge[T]) State() dist.State {
	if e.source.State() == dist.Distant || e.target.State() == dist.Distant {
		return dist.Distant
	}
	return dist.Local
}

// Other returns the endpoint opposite n.
func (e *Edge[T]) Other(n *Node[T]) *Node[T] {
	if e.source == n {
		return e.target
	}
	return e.source
}

// DistantOwners lists the distinct owner ranks of DISTANT endpoints.
func (e *Edge[T]) DistantOwners() []int {
	var out []int
	for _, n := range []*Node[T]{e.source, e.target} {
		if n.State() != dist.Distant {
			continue
		}
		owner := n.Location()
		dup := false
		for _, r := range out {
			if r == owner {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, owner)
		}
	}
	return out
}
