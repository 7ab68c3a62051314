// Package balance computes target partitions for migration. The reference
// partitioner balances node weight greedily.
package balance

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/danmuck/syncgraph/internal/comm"
	"github.com/danmuck/syncgraph/internal/dist"
	"github.com/danmuck/syncgraph/internal/graph"
	"github.com/danmuck/syncgraph/internal/logging"
	"github.com/danmuck/syncgraph/internal/protocol/wire"
)

var ErrNoRanks = errors.New("balance: no ranks")

// Partitioner is collective: every rank calls it and gets the same
// partition back.
type Partitioner[T any] interface {
	Partition(ctx context.Context, g *graph.Graph[T]) (dist.Partition, error)
}

// Weighted is one node as seen by the planner.
type Weighted struct {
	ID     dist.ID
	Weight float64
	Owner  int
}

// Greedy gathers LOCAL node weights at Root, assigns nodes heaviest first to
// the least loaded rank and broadcasts the result.
type Greedy[T any] struct {
	Root int
}

var _ Partitioner[int] = Greedy[int]{}

func (p Greedy[T]) Partition(ctx context.Context, g *graph.Graph[T]) (dist.Partition, error) {
	c := g.Comm()
	if err := comm.CheckRank(p.Root, c.Size()); err != nil {
		return nil, fmt.Errorf("balance: root: %w", err)
	}
	local := g.LocalNodes()
	recs := make([]wire.NodeRecord, 0, len(local))
	for _, n := range local {
		recs = append(recs, wire.NodeRecord{ID: n.ID(), Weight: n.Weight()})
	}
	payload, err := wire.EncodeNodeRecords(recs)
	if err != nil {
		return nil, err
	}
	parts, err := comm.Gather(ctx, c, p.Root, payload)
	if err != nil {
		return nil, fmt.Errorf("balance: gather: %w", err)
	}
	var plan dist.Partition
	if c.Rank() == p.Root {
		var nodes []Weighted
		for owner, part := range parts {
			recs, err := wire.DecodeNodeRecords(part)
			if err != nil {
				return nil, fmt.Errorf("balance: weights from %d: %w", owner, err)
			}
			for _, rec := range recs {
				nodes = append(nodes, Weighted{ID: rec.ID, Weight: rec.Weight, Owner: owner})
			}
		}
		if plan, err = Plan(nodes, c.Size()); err != nil {
			return nil, err
		}
	}
	return Broadcast(ctx, c, p.Root, plan)
}

// Plan is the longest-processing-time heuristic. Load ties go to the node's
// current owner, then to the lowest rank, so an already balanced input does
// not move.
func Plan(nodes []Weighted, size int) (dist.Partition, error) {
	if size <= 0 {
		return nil, ErrNoRanks
	}
	sorted := append([]Weighted(nil), nodes...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Weight != sorted[j].Weight {
			return sorted[i].Weight > sorted[j].Weight
		}
		return sorted[i].ID.Less(sorted[j].ID)
	})
	load := make([]float64, size)
	plan := make(dist.Partition, len(sorted))
	for _, n := range sorted {
		best := -1
		if n.Owner >= 0 && n.Owner < size {
			best = n.Owner
		}
		for r := 0; r < size; r++ {
			if best == -1 || load[r] < load[best] {
				best = r
			}
		}
		plan[n.ID] = best
		load[best] += n.Weight
	}
	logging.Debugf("balance.Plan nodes=%d ranks=%d load=%v", len(sorted), size, load)
	return plan, nil
}

// Broadcast ships root's partition to every rank.
func Broadcast(ctx context.Context, c comm.Communicator, root int, p dist.Partition) (dist.Partition, error) {
	var payload []byte
	if c.Rank() == root {
		locs := make([]wire.Location, 0, len(p))
		for _, id := range p.IDs() {
			locs = append(locs, wire.Location{ID: id, Owner: p[id]})
		}
		enc, err := wire.EncodeLocations(locs)
		if err != nil {
			return nil, err
		}
		payload = enc
	}
	got, err := comm.Broadcast(ctx, c, root, payload)
	if err != nil {
		return nil, fmt.Errorf("balance: broadcast: %w", err)
	}
	locs, err := wire.DecodeLocations(got)
	if err != nil {
		return nil, fmt.Errorf("balance: partition from %d: %w", root, err)
	}
	out := make(dist.Partition, len(locs))
	for _, loc := range locs {
		out[loc.ID] = loc.Owner
	}
	return out, nil
}

// Loads sums node weight per rank under p.
func Loads(nodes []Weighted, p dist.Partition, size int) []float64 {
	load := make([]float64, size)
	for _, n := range nodes {
		owner, ok := p[n.ID]
		if !ok {
			owner = n.Owner
		}
		if owner >= 0 && owner < size {
			load[owner] += n.Weight
		}
	}
	return load
}
