package hard

import (
	"context"
	"fmt"
	"time"

	"github.com/danmuck/syncgraph/internal/dist"
	"github.com/danmuck/syncgraph/internal/graph"
	"github.com/danmuck/syncgraph/internal/logging"
	"github.com/danmuck/syncgraph/internal/observability"
	"github.com/danmuck/syncgraph/internal/protocol/wire"
)

// lockClient requests locks on DISTANT nodes from their owners and tracks
// the grants it holds so unmatched releases are caught locally.
type lockClient[T any] struct {
	graph *graph.Graph[T]
	pack  *ServerPack
	held  map[dist.ID]map[wire.LockKind]int
}

func newLockClient[T any](g *graph.Graph[T], pack *ServerPack) *lockClient[T] {
	return &lockClient[T]{graph: g, pack: pack, held: make(map[dist.ID]map[wire.LockKind]int)}
}

func (c *lockClient[T]) drop(id dist.ID) { delete(c.held, id) }

// request sends k to the node's owner and follows MOVED redirects. A chain
// longer than the number of ranks means the locations are inconsistent.
func (c *lockClient[T]) request(ctx context.Context, n *graph.Node[T], k wire.LockKind) (wire.MutexResponse, error) {
	start := time.Now()
	self := c.graph.Rank()
	body, err := wire.EncodeMutexRequest(wire.MutexRequest{Kind: k, Node: n.ID()})
	if err != nil {
		return wire.MutexResponse{}, err
	}
	payload := envelope(requestMutex, body)
	for hops := 0; ; hops++ {
		if hops > c.graph.Size() {
			return wire.MutexResponse{}, fmt.Errorf("%w: %s after %d redirects", ErrNodeGone, n.ID(), hops)
		}
		owner := n.Location()
		if owner == self {
			return wire.MutexResponse{}, fmt.Errorf("%w: remote %s on local node %s", ErrProtocolViolation, k, n.ID())
		}
		if err := c.pack.send(owner, kindRequest, payload); err != nil {
			return wire.MutexResponse{}, err
		}
		msg, err := c.pack.WaitResponse(ctx, owner)
		if err != nil {
			return wire.MutexResponse{}, err
		}
		resp, err := wire.DecodeMutexResponse(msg.Payload)
		if err != nil {
			return wire.MutexResponse{}, fmt.Errorf("hard: mutex response from %d: %w", owner, err)
		}
		if resp.Node != n.ID() || resp.Kind != k {
			return wire.MutexResponse{}, fmt.Errorf("%w: response %s %s from %d while waiting for %s %s", ErrProtocolViolation, resp.Kind, resp.Node, owner, k, n.ID())
		}
		switch resp.Status {
		case wire.StatusGranted:
			grants := c.held[n.ID()]
			if grants == nil {
				grants = make(map[wire.LockKind]int)
				c.held[n.ID()] = grants
			}
			grants[k]++
			observability.RecordLockWait(self, k.String(), true, time.Since(start))
			return resp, nil
		case wire.StatusMoved:
			if resp.Owner == self || resp.Owner == owner {
				return wire.MutexResponse{}, fmt.Errorf("%w: %s redirected by %d to %d", ErrProtocolViolation, n.ID(), owner, resp.Owner)
			}
			logging.Debugf("hard.lockClient.request rank=%d node=%s moved %d->%d", self, n.ID(), owner, resp.Owner)
			if err := c.graph.SetDistant(n, resp.Owner); err != nil {
				return wire.MutexResponse{}, fmt.Errorf("%w: %v", ErrProtocolViolation, err)
			}
		case wire.StatusGone:
			return wire.MutexResponse{}, fmt.Errorf("%w: %s reported by %d", ErrNodeGone, n.ID(), owner)
		default:
			return wire.MutexResponse{}, fmt.Errorf("%w: status %s from %d", ErrProtocolViolation, resp.Status, owner)
		}
	}
}

// release gives a held grant back. Releases are not answered.
func (c *lockClient[T]) release(n *graph.Node[T], k wire.LockKind, data []byte) error {
	grant := grantFor(k)
	grants := c.held[n.ID()]
	if grants[grant] == 0 {
		return fmt.Errorf("%w: %s on %s without holding %s", ErrProtocolViolation, k, n.ID(), grant)
	}
	grants[grant]--
	if grants[grant] == 0 {
		delete(grants, grant)
	}
	if len(grants) == 0 {
		delete(c.held, n.ID())
	}
	body, err := wire.EncodeMutexRequest(wire.MutexRequest{Kind: k, Node: n.ID(), Data: data})
	if err != nil {
		return err
	}
	return c.pack.send(n.Location(), kindRequest, envelope(requestMutex, body))
}
