package ghost

import (
	"context"
	"fmt"

	"github.com/danmuck/syncgraph/internal/comm"
	"github.com/danmuck/syncgraph/internal/dist"
	"github.com/danmuck/syncgraph/internal/graph"
	"github.com/danmuck/syncgraph/internal/logging"
	"github.com/danmuck/syncgraph/internal/protocol/wire"
)

// Linker buffers structural notifications per owner rank until the next
// Synchronize.
type Linker[T any] struct {
	graph *graph.Graph[T]

	links    map[int][]wire.EdgeRecord
	unlinks  map[int][]dist.ID
	removals map[int][]dist.ID
	erase    map[dist.ID]struct{}
}

func newLinker[T any](g *graph.Graph[T]) *Linker[T] {
	l := &Linker[T]{graph: g}
	l.reset()
	return l
}

func (l *Linker[T]) reset() {
	l.links = make(map[int][]wire.EdgeRecord)
	l.unlinks = make(map[int][]dist.ID)
	l.removals = make(map[int][]dist.ID)
	l.erase = make(map[dist.ID]struct{})
}

func (l *Linker[T]) Link(_ context.Context, e *graph.Edge[T]) error {
	rec := l.graph.ExportEdge(e)
	for _, owner := range e.DistantOwners() {
		l.links[owner] = append(l.links[owner], rec)
	}
	return nil
}

// Unlink cancels a link still waiting in the buffer, otherwise queues an
// unlink notification.
func (l *Linker[T]) Unlink(_ context.Context, e *graph.Edge[T]) error {
	for _, owner := range e.DistantOwners() {
		if l.cancelLink(owner, e.ID()) {
			continue
		}
		l.unlinks[owner] = append(l.unlinks[owner], e.ID())
	}
	return nil
}

func (l *Linker[T]) cancelLink(owner int, id dist.ID) bool {
	recs := l.links[owner]
	for i, rec := range recs {
		if rec.ID == id {
			l.links[owner] = append(recs[:i], recs[i+1:]...)
			return true
		}
	}
	return false
}

// RemoveNode detaches and schedules a LOCAL node, or asks the owner of a
// DISTANT node to do so.
func (l *Linker[T]) RemoveNode(ctx context.Context, n *graph.Node[T]) error {
	if !n.IsLocal() {
		owner := n.Location()
		l.removals[owner] = append(l.removals[owner], n.ID())
		return nil
	}
	return l.removeLocal(ctx, n)
}

func (l *Linker[T]) removeLocal(ctx context.Context, n *graph.Node[T]) error {
	for _, e := range n.Edges() {
		if err := l.graph.Detach(ctx, e); err != nil {
			return err
		}
	}
	l.erase[n.ID()] = struct{}{}
	return nil
}

// Synchronize is collective. Removals go first so the unlinks they cause
// travel with the link exchange.
func (l *Linker[T]) Synchronize(ctx context.Context) error {
	c := l.graph.Comm()
	out := make(map[int][]byte, len(l.removals))
	for owner, ids := range l.removals {
		payload, err := wire.EncodeIDs(ids)
		if err != nil {
			return err
		}
		out[owner] = payload
	}
	l.removals = make(map[int][]dist.ID)
	in, err := comm.AllToAll(ctx, c, TagRemovals, out)
	if err != nil {
		return fmt.Errorf("ghost: removal exchange: %w", err)
	}
	for src, payload := range in {
		if src == c.Rank() || len(payload) == 0 {
			continue
		}
		ids, err := wire.DecodeIDs(payload)
		if err != nil {
			return fmt.Errorf("ghost: removals from %d: %w", src, err)
		}
		for _, id := range ids {
			n, ok := l.graph.Node(id)
			if !ok || !n.IsLocal() {
				logging.Debugf("ghost.Linker.Synchronize rank=%d ignoring removal of %s from %d", c.Rank(), id, src)
				continue
			}
			if err := l.removeLocal(ctx, n); err != nil {
				return err
			}
		}
	}

	out = make(map[int][]byte)
	for r := 0; r < c.Size(); r++ {
		if len(l.links[r]) == 0 && len(l.unlinks[r]) == 0 {
			continue
		}
		payload, err := wire.EncodeLinkBatch(wire.LinkBatch{Links: l.links[r], Unlinks: l.unlinks[r]})
		if err != nil {
			return err
		}
		out[r] = payload
	}
	in, err = comm.AllToAll(ctx, c, TagLinks, out)
	if err != nil {
		return fmt.Errorf("ghost: link exchange: %w", err)
	}
	for src, payload := range in {
		if src == c.Rank() || len(payload) == 0 {
			continue
		}
		batch, err := wire.DecodeLinkBatch(payload)
		if err != nil {
			return fmt.Errorf("ghost: links from %d: %w", src, err)
		}
		for _, id := range batch.Unlinks {
			if e, ok := l.graph.Edge(id); ok {
				l.graph.EraseEdge(e)
			}
		}
		for _, rec := range batch.Links {
			if _, err := l.graph.ImportEdge(rec); err != nil {
				return err
			}
		}
	}

	for id := range l.erase {
		if n, ok := l.graph.Node(id); ok {
			l.graph.Erase(n)
		}
	}
	l.reset()
	return nil
}
