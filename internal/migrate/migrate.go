// Package migrate relocates nodes between ranks according to a partition
// while keeping every node owned by exactly one rank.
package migrate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/danmuck/syncgraph/internal/comm"
	"github.com/danmuck/syncgraph/internal/dist"
	"github.com/danmuck/syncgraph/internal/graph"
	"github.com/danmuck/syncgraph/internal/logging"
	"github.com/danmuck/syncgraph/internal/observability"
	"github.com/danmuck/syncgraph/internal/protocol/wire"
)

const (
	TagNodes comm.Tag = 0x401
	TagEdges comm.Tag = 0x402
)

var (
	// ErrQuiescence is returned when exported nodes stay locked past the
	// quiesce deadline. The partition is left untouched.
	ErrQuiescence   = errors.New("migrate: quiescence not reached")
	ErrBadPartition = errors.New("migrate: invalid partition")
)

type Config struct {
	QuiesceTimeout time.Duration `toml:"quiesce_timeout"`
}

func DefaultConfig() Config {
	return Config{QuiesceTimeout: 30 * time.Second}
}

// Report describes what one rank did during a Distribute.
type Report struct {
	Exported      int
	Imported      int
	EdgesSent     int
	EdgesImported int
	Relocated     int
	Cleared       int
	Gone          []dist.ID
	Duration      time.Duration
}

type Coordinator[T any] struct {
	graph *graph.Graph[T]
	cfg   Config
}

func New[T any](g *graph.Graph[T], cfg Config) *Coordinator[T] {
	return &Coordinator[T]{graph: g, cfg: cfg}
}

// Distribute is collective and must run between synchronization rounds.
// Every rank passes the same partition; nodes it does not name stay where
// they are.
func (c *Coordinator[T]) Distribute(ctx context.Context, partition dist.Partition) (Report, error) {
	start := time.Now()
	g := c.graph
	rank, size := g.Rank(), g.Size()
	var report Report

	for id, target := range partition {
		if target < 0 || target >= size {
			return report, fmt.Errorf("%w: node %s assigned to rank %d of %d", ErrBadPartition, id, target, size)
		}
	}

	if err := g.Mode().Linker().Synchronize(ctx); err != nil {
		return report, err
	}

	exports := make(map[int][]*graph.Node[T])
	var exportIDs []dist.ID
	for _, n := range g.LocalNodes() {
		target, ok := partition[n.ID()]
		if !ok || target == rank {
			continue
		}
		exports[target] = append(exports[target], n)
		exportIDs = append(exportIDs, n.ID())
	}

	if err := c.quiesce(ctx, exportIDs); err != nil {
		return report, err
	}

	nodeOut, edgeOut, edgesSent, err := c.pack(exports, partition)
	if err != nil {
		return report, err
	}
	report.Exported = len(exportIDs)
	report.EdgesSent = edgesSent

	nodesIn, err := comm.AllToAll(ctx, g.Comm(), TagNodes, nodeOut)
	if err != nil {
		return report, fmt.Errorf("migrate: node exchange: %w", err)
	}
	edgesIn, err := comm.AllToAll(ctx, g.Comm(), TagEdges, edgeOut)
	if err != nil {
		return report, fmt.Errorf("migrate: edge exchange: %w", err)
	}

	for src := 0; src < size; src++ {
		if src == rank || len(nodesIn[src]) == 0 {
			continue
		}
		recs, err := wire.DecodeNodeRecords(nodesIn[src])
		if err != nil {
			return report, fmt.Errorf("migrate: nodes from %d: %w", src, err)
		}
		for _, rec := range recs {
			if _, err := g.ImportNode(rec); err != nil {
				return report, err
			}
			report.Imported++
		}
	}

	for _, nodes := range exports {
		for _, n := range nodes {
			if err := g.SetDistant(n, partition[n.ID()]); err != nil {
				return report, err
			}
		}
	}

	for src := 0; src < size; src++ {
		if src == rank || len(edgesIn[src]) == 0 {
			continue
		}
		recs, err := wire.DecodeEdgeRecords(edgesIn[src])
		if err != nil {
			return report, fmt.Errorf("migrate: edges from %d: %w", src, err)
		}
		for _, rec := range recs {
			if _, err := g.ImportEdge(rec); err != nil {
				return report, err
			}
			report.EdgesImported++
		}
	}

	// Proxies of nodes that moved between two other ranks follow the
	// partition directly; the directory exchange covers the rest.
	for _, n := range g.DistantNodes() {
		target, ok := partition[n.ID()]
		if !ok || target == rank || target == n.Location() {
			continue
		}
		if err := g.SetDistant(n, target); err != nil {
			return report, err
		}
		report.Relocated++
	}

	res, err := g.Locations().Exchange(ctx, g.Comm())
	if err != nil {
		return report, err
	}
	for _, id := range res.Gone {
		if n, ok := g.Node(id); ok {
			g.Erase(n)
		}
	}
	report.Gone = res.Gone
	report.Cleared = g.ClearDistantNodes()

	if err := g.Mode().DataSync().Synchronize(ctx); err != nil {
		return report, err
	}

	report.Duration = time.Since(start)
	observability.RecordMigration(rank, report.Exported, report.Imported, report.Duration)
	logging.Infof("migrate.Coordinator.Distribute rank=%d exported=%d imported=%d edges_sent=%d edges_imported=%d cleared=%d gone=%d took=%s",
		rank, report.Exported, report.Imported, report.EdgesSent, report.EdgesImported, report.Cleared, len(report.Gone), report.Duration)
	return report, nil
}

func (c *Coordinator[T]) quiesce(ctx context.Context, ids []dist.ID) error {
	if len(ids) == 0 {
		return nil
	}
	qctx := ctx
	if c.cfg.QuiesceTimeout > 0 {
		var cancel context.CancelFunc
		qctx, cancel = context.WithTimeout(ctx, c.cfg.QuiesceTimeout)
		defer cancel()
	}
	if err := c.graph.Mode().Quiesce(qctx, ids); err != nil {
		return fmt.Errorf("%w: %d nodes: %w", ErrQuiescence, len(ids), err)
	}
	return nil
}

// pack encodes the node records per target and every edge incident to an
// exported node once per target. Endpoint locations are rewritten to where
// the partition puts them.
func (c *Coordinator[T]) pack(exports map[int][]*graph.Node[T], partition dist.Partition) (map[int][]byte, map[int][]byte, int, error) {
	g := c.graph
	nodeOut := make(map[int][]byte, len(exports))
	edgeOut := make(map[int][]byte, len(exports))
	sent := 0
	for target, nodes := range exports {
		recs := make([]wire.NodeRecord, 0, len(nodes))
		seen := make(map[dist.ID]struct{})
		var edges []wire.EdgeRecord
		for _, n := range nodes {
			rec, err := g.ExportNode(n)
			if err != nil {
				return nil, nil, 0, err
			}
			recs = append(recs, rec)
			for _, e := range n.Edges() {
				if _, dup := seen[e.ID()]; dup {
					continue
				}
				seen[e.ID()] = struct{}{}
				edge := g.ExportEdge(e)
				edge.Source.Location = destination(partition, edge.Source)
				edge.Target.Location = destination(partition, edge.Target)
				edges = append(edges, edge)
			}
		}
		payload, err := wire.EncodeNodeRecords(recs)
		if err != nil {
			return nil, nil, 0, err
		}
		nodeOut[target] = payload
		if len(edges) > 0 {
			payload, err := wire.EncodeEdgeRecords(edges)
			if err != nil {
				return nil, nil, 0, err
			}
			edgeOut[target] = payload
			sent += len(edges)
		}
	}
	return nodeOut, edgeOut, sent, nil
}

func destination(partition dist.Partition, ep wire.Endpoint) int {
	if target, ok := partition[ep.ID]; ok {
		return target
	}
	return ep.Location
}
