package ghost

import (
	"context"
	"fmt"
	"time"

	"github.com/danmuck/syncgraph/internal/comm"
	"github.com/danmuck/syncgraph/internal/dist"
	"github.com/danmuck/syncgraph/internal/graph"
	"github.com/danmuck/syncgraph/internal/logging"
	"github.com/danmuck/syncgraph/internal/observability"
	"github.com/danmuck/syncgraph/internal/protocol"
	"github.com/danmuck/syncgraph/internal/protocol/wire"
)

// DataSync pulls the current payload of every ghost from its owner. With
// snapshots set it then refreshes every GlobalMutex in the graph.
type DataSync[T any] struct {
	graph     *graph.Graph[T]
	snapshots bool
}

// Synchronize is collective.
func (s *DataSync[T]) Synchronize(ctx context.Context) error {
	start := time.Now()
	c := s.graph.Comm()
	requests := make(map[int][]dist.ID)
	for _, n := range s.graph.DistantNodes() {
		owner := n.Location()
		requests[owner] = append(requests[owner], n.ID())
	}
	out := make(map[int][]byte, len(requests))
	for owner, ids := range requests {
		payload, err := wire.EncodeIDs(ids)
		if err != nil {
			return err
		}
		out[owner] = payload
	}
	in, err := comm.AllToAll(ctx, c, TagSyncRequest, out)
	if err != nil {
		return fmt.Errorf("ghost: sync request exchange: %w", err)
	}

	replies := make(map[int][]byte)
	for src, payload := range in {
		if src == c.Rank() || len(payload) == 0 {
			continue
		}
		ids, err := wire.DecodeIDs(payload)
		if err != nil {
			return fmt.Errorf("ghost: sync request from %d: %w", src, err)
		}
		records := make([]wire.NodeRecord, 0, len(ids))
		for _, id := range ids {
			n, ok := s.graph.Node(id)
			if !ok || !n.IsLocal() {
				records = append(records, wire.NodeRecord{ID: id, Missing: true})
				continue
			}
			rec, err := s.graph.ExportNode(n)
			if err != nil {
				return err
			}
			records = append(records, rec)
		}
		encoded, err := wire.EncodeNodeRecords(records)
		if err != nil {
			return err
		}
		replies[src] = encoded
	}
	in, err = comm.AllToAll(ctx, c, TagSyncReply, replies)
	if err != nil {
		return fmt.Errorf("ghost: sync reply exchange: %w", err)
	}

	refreshed, dropped := 0, 0
	for src, payload := range in {
		if src == c.Rank() || len(payload) == 0 {
			continue
		}
		records, err := wire.DecodeNodeRecords(payload)
		if err != nil {
			return fmt.Errorf("ghost: sync reply from %d: %w", src, err)
		}
		for _, rec := range records {
			n, ok := s.graph.Node(rec.ID)
			if !ok || n.IsLocal() {
				continue
			}
			if rec.Missing {
				s.graph.Erase(n)
				dropped++
				continue
			}
			data, err := s.graph.Codec().Decode(rec.Data)
			if err != nil {
				return fmt.Errorf("%w: ghost %s from %d: %w", protocol.ErrDecode, rec.ID, src, err)
			}
			n.SetData(data)
			n.SetWeight(rec.Weight)
			refreshed++
		}
	}
	snapshots := 0
	if s.snapshots {
		snapshots = s.refreshSnapshots()
	}
	observability.RecordGhostSync(c.Rank(), refreshed, dropped, time.Since(start))
	logging.Debugf("ghost.DataSync.Synchronize rank=%d refreshed=%d dropped=%d snapshots=%d", c.Rank(), refreshed, dropped, snapshots)
	return nil
}

// refreshSnapshots runs after the ghost pull so DISTANT snapshots pick up
// the owners' data.
func (s *DataSync[T]) refreshSnapshots() int {
	count := 0
	for _, n := range s.graph.Nodes() {
		if m, ok := n.Mutex().(*GlobalMutex[T]); ok {
			m.Refresh()
			count++
		}
	}
	return count
}
