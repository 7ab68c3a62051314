package sim

import (
	"context"
	"fmt"

	"github.com/danmuck/syncgraph/internal/comm"
	"github.com/danmuck/syncgraph/internal/dist"
	"github.com/danmuck/syncgraph/internal/graph"
	"github.com/danmuck/syncgraph/internal/protocol/wire"
)

// Model is the agent behaviour run once per step on a rank's LOCAL nodes.
type Model[T any] interface {
	Step(ctx context.Context, g *graph.Graph[T], step uint64) error
}

// Heat is the payload of the diffusion model.
type Heat struct {
	Value float64 `json:"value"`
}

// Diffusion moves every node's heat toward the mean of its neighbours.
// Neighbours are read through their mutex, so DISTANT reads go to the owner
// in hard mode and hit the ghost copy in ghost mode. Global ghost mode reads
// last step's values everywhere, which makes the update synchronous.
type Diffusion struct {
	Rate float64
}

var _ Model[Heat] = Diffusion{}

func (d Diffusion) Step(ctx context.Context, g *graph.Graph[Heat], _ uint64) error {
	next := make(map[dist.ID]float64)
	for _, n := range g.LocalNodes() {
		self, err := read(ctx, n)
		if err != nil {
			return err
		}
		var sum float64
		var count int
		for _, e := range n.Edges() {
			v, err := read(ctx, e.Other(n))
			if err != nil {
				return err
			}
			sum += v.Value
			count++
		}
		if count == 0 {
			continue
		}
		next[n.ID()] = self.Value + d.Rate*(sum/float64(count)-self.Value)
	}
	for id, v := range next {
		n, ok := g.Node(id)
		if !ok {
			continue
		}
		data, err := n.Mutex().Acquire(ctx)
		if err != nil {
			return err
		}
		data.Value = v
		if err := n.Mutex().ReleaseAcquire(); err != nil {
			return err
		}
	}
	return nil
}

func read(ctx context.Context, n *graph.Node[Heat]) (Heat, error) {
	v, err := n.Mutex().Read(ctx)
	if err != nil {
		return Heat{}, err
	}
	return v, n.Mutex().ReleaseRead()
}

// BuildRing is collective. Each rank builds perRank LOCAL nodes from init,
// links them into a local chain, and links its last node to the first node
// of the next rank. The cross-rank edges are propagated by a Synchronize.
func BuildRing[T any](ctx context.Context, g *graph.Graph[T], perRank int, init func(i int) (T, float64)) error {
	nodes := make([]*graph.Node[T], 0, perRank)
	for i := 0; i < perRank; i++ {
		data, weight := init(i)
		nodes = append(nodes, g.BuildNode(data, weight))
	}
	for i := 1; i < len(nodes); i++ {
		if _, err := g.Link(ctx, nodes[i-1], nodes[i], dist.DefaultLayer, 1); err != nil {
			return err
		}
	}

	var first []dist.ID
	if len(nodes) > 0 {
		first = []dist.ID{nodes[0].ID()}
	}
	payload, err := wire.EncodeIDs(first)
	if err != nil {
		return err
	}
	heads, err := comm.AllGather(ctx, g.Comm(), payload)
	if err != nil {
		return fmt.Errorf("sim: ring heads: %w", err)
	}
	if g.Size() > 1 && len(nodes) > 0 {
		nextRank := (g.Rank() + 1) % g.Size()
		ids, err := wire.DecodeIDs(heads[nextRank])
		if err != nil {
			return fmt.Errorf("sim: ring head of %d: %w", nextRank, err)
		}
		if len(ids) > 0 {
			var zero T
			proxy, ok := g.Node(ids[0])
			if !ok {
				if proxy, err = g.InsertDistant(ids[0], nextRank, zero, 0); err != nil {
					return err
				}
			}
			if _, err := g.Link(ctx, nodes[len(nodes)-1], proxy, dist.DefaultLayer, 1); err != nil {
				return err
			}
		}
	}
	return g.Synchronize(ctx)
}
