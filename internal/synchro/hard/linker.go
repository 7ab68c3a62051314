package hard

import (
	"context"
	"errors"
	"fmt"

	"github.com/danmuck/syncgraph/internal/dist"
	"github.com/danmuck/syncgraph/internal/graph"
	"github.com/danmuck/syncgraph/internal/logging"
	"github.com/danmuck/syncgraph/internal/protocol/wire"
)

// Linker sends structural changes to the owners of DISTANT endpoints as
// they happen. Owners apply them when they service the request, so a
// Synchronize only has to wait for termination and erase removed nodes.
type Linker[T any] struct {
	mode  *Mode[T]
	erase map[dist.ID]struct{}
}

func newLinker[T any](m *Mode[T]) *Linker[T] {
	return &Linker[T]{mode: m, erase: make(map[dist.ID]struct{})}
}

func (l *Linker[T]) Link(_ context.Context, e *graph.Edge[T]) error {
	rec := l.mode.graph.ExportEdge(e)
	for _, owner := range e.DistantOwners() {
		if err := l.send(owner, wire.LinkRequest{Kind: wire.LinkEdge, Edge: rec}); err != nil {
			return err
		}
	}
	return nil
}

func (l *Linker[T]) Unlink(_ context.Context, e *graph.Edge[T]) error {
	for _, owner := range e.DistantOwners() {
		if err := l.send(owner, wire.LinkRequest{Kind: wire.UnlinkEdge, Target: e.ID()}); err != nil {
			return err
		}
	}
	return nil
}

// RemoveNode detaches and schedules a LOCAL node, or forwards the removal
// to the owner of a DISTANT one.
func (l *Linker[T]) RemoveNode(ctx context.Context, n *graph.Node[T]) error {
	if !n.IsLocal() {
		return l.send(n.Location(), wire.LinkRequest{Kind: wire.RemoveNode, Target: n.ID()})
	}
	return l.removeLocal(ctx, n)
}

func (l *Linker[T]) removeLocal(ctx context.Context, n *graph.Node[T]) error {
	for _, e := range n.Edges() {
		if err := l.mode.graph.Detach(ctx, e); err != nil {
			return err
		}
	}
	l.erase[n.ID()] = struct{}{}
	return nil
}

// Scheduled reports whether a node waits for erasure at the next
// Synchronize.
func (l *Linker[T]) Scheduled(id dist.ID) bool {
	_, ok := l.erase[id]
	return ok
}

func (l *Linker[T]) send(owner int, req wire.LinkRequest) error {
	body, err := wire.EncodeLinkRequest(req)
	if err != nil {
		return err
	}
	return l.mode.pack.send(owner, kindRequest, envelope(requestLink, body))
}

func (l *Linker[T]) handle(ctx context.Context, src int, body []byte) error {
	req, err := wire.DecodeLinkRequest(body)
	if err != nil {
		return fmt.Errorf("hard: link request from %d: %w", src, err)
	}
	g := l.mode.graph
	switch req.Kind {
	case wire.LinkEdge:
		e, err := g.ImportEdge(req.Edge)
		if err != nil {
			return fmt.Errorf("hard: link from %d: %w", src, err)
		}
		// An edge onto a node already scheduled for erasure is undone at
		// once so the requester drops it too.
		if l.Scheduled(e.Source().ID()) || l.Scheduled(e.Target().ID()) {
			return g.Detach(ctx, e)
		}
	case wire.UnlinkEdge:
		if e, ok := g.Edge(req.Target); ok {
			g.EraseEdge(e)
		}
	case wire.RemoveNode:
		if n, ok := g.Node(req.Target); ok && n.IsLocal() {
			return l.removeLocal(ctx, n)
		}
		// The sender's location entry is stale: pass the removal on to the
		// owner this rank knows about.
		status, owner := l.mode.server.route(src, req.Target)
		if status == wire.StatusMoved {
			logging.Debugf("hard.Linker.handle rank=%d forwarding removal of %s from %d to %d", g.Rank(), req.Target, src, owner)
			return l.send(owner, req)
		}
		logging.Warnf("hard.Linker.handle rank=%d dropping removal of %s from %d: no known owner", g.Rank(), req.Target, src)
	default:
		return fmt.Errorf("%w: link kind %s from %d", ErrProtocolViolation, req.Kind, src)
	}
	return nil
}

// Synchronize is collective: it waits for every in-flight link request to
// be serviced, then erases the nodes removed this round. A removed node
// that is still locked is reported and left detached; the schedule is
// cleared either way.
func (l *Linker[T]) Synchronize(ctx context.Context) error {
	if err := l.mode.pack.Terminate(ctx); err != nil {
		return err
	}
	defer func() { l.erase = make(map[dist.ID]struct{}) }()
	g := l.mode.graph
	var errs []error
	for id := range l.erase {
		n, ok := g.Node(id)
		if !ok {
			continue
		}
		if !l.mode.server.idle([]dist.ID{id}) {
			errs = append(errs, fmt.Errorf("%w: removed node %s still locked", ErrProtocolViolation, id))
			continue
		}
		g.Erase(n)
	}
	return errors.Join(errs...)
}
