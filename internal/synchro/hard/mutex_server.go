package hard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/danmuck/syncgraph/internal/dist"
	"github.com/danmuck/syncgraph/internal/graph"
	"github.com/danmuck/syncgraph/internal/logging"
	"github.com/danmuck/syncgraph/internal/observability"
	"github.com/danmuck/syncgraph/internal/protocol"
	"github.com/danmuck/syncgraph/internal/protocol/wire"
)

const noHolder = -1

type request struct {
	source  int
	kind    wire.LockKind
	local   bool
	granted bool
}

type holder struct {
	rank int
	kind wire.LockKind
}

// nodeLock is the owner-side state of one node's mutex. Grants follow the
// queue strictly: a compatible request still waits if anything is queued
// ahead of it.
type nodeLock struct {
	exclusive holder
	shared    map[holder]int
	readers   int
	queue     []*request
}

func newNodeLock() *nodeLock {
	return &nodeLock{exclusive: holder{rank: noHolder}, shared: make(map[holder]int)}
}

func (l *nodeLock) free() bool { return l.exclusive.rank == noHolder && l.readers == 0 }
func (l *nodeLock) idle() bool { return l.free() && len(l.queue) == 0 }

func (l *nodeLock) compatible(k wire.LockKind) bool {
	if k.Exclusive() {
		return l.free()
	}
	return l.exclusive.rank == noHolder
}

func (l *nodeLock) grantable(k wire.LockKind) bool {
	return len(l.queue) == 0 && l.compatible(k)
}

func (l *nodeLock) take(rank int, k wire.LockKind) {
	if k.Exclusive() {
		l.exclusive = holder{rank: rank, kind: k}
		return
	}
	l.shared[holder{rank: rank, kind: k}]++
	l.readers++
}

func (l *nodeLock) give(rank int, release wire.LockKind) error {
	k := grantFor(release)
	if k.Exclusive() {
		if l.exclusive.rank != rank || l.exclusive.kind != k {
			return fmt.Errorf("%w: %s from %d without holding %s", ErrProtocolViolation, release, rank, k)
		}
		l.exclusive = holder{rank: noHolder}
		return nil
	}
	h := holder{rank: rank, kind: k}
	if l.shared[h] == 0 {
		return fmt.Errorf("%w: %s from %d without holding %s", ErrProtocolViolation, release, rank, k)
	}
	l.shared[h]--
	if l.shared[h] == 0 {
		delete(l.shared, h)
	}
	l.readers--
	return nil
}

func (l *nodeLock) dequeue(r *request) {
	for i, q := range l.queue {
		if q == r {
			l.queue = append(l.queue[:i], l.queue[i+1:]...)
			return
		}
	}
}

// grantFor maps a release to the lock kind it gives back.
func grantFor(release wire.LockKind) wire.LockKind {
	switch release {
	case wire.KindReleaseRead:
		return wire.KindRead
	case wire.KindReleaseAcquire:
		return wire.KindAcquire
	case wire.KindUnlock:
		return wire.KindLock
	case wire.KindUnlockShared:
		return wire.KindLockShared
	}
	return 0
}

// lockServer answers mutex requests for the nodes this rank owns.
type lockServer[T any] struct {
	graph *graph.Graph[T]
	pack  *ServerPack
	locks map[dist.ID]*nodeLock
}

func newLockServer[T any](g *graph.Graph[T], pack *ServerPack) *lockServer[T] {
	return &lockServer[T]{graph: g, pack: pack, locks: make(map[dist.ID]*nodeLock)}
}

func (s *lockServer[T]) lock(id dist.ID) *nodeLock {
	l, ok := s.locks[id]
	if !ok {
		l = newNodeLock()
		s.locks[id] = l
	}
	return l
}

func (s *lockServer[T]) drop(id dist.ID) { delete(s.locks, id) }

// idle reports whether none of ids has a holder or a waiter.
func (s *lockServer[T]) idle(ids []dist.ID) bool {
	for _, id := range ids {
		if l, ok := s.locks[id]; ok && !l.idle() {
			return false
		}
	}
	return true
}

func (s *lockServer[T]) handle(_ context.Context, src int, body []byte) error {
	req, err := wire.DecodeMutexRequest(body)
	if err != nil {
		return fmt.Errorf("hard: mutex request from %d: %w", src, err)
	}
	n, ok := s.graph.Node(req.Node)
	if !ok || !n.IsLocal() {
		if req.Kind.IsRelease() {
			return fmt.Errorf("%w: %s of %s from %d on a node not owned here", ErrProtocolViolation, req.Kind, req.Node, src)
		}
		return s.redirect(src, req)
	}
	if req.Kind.IsRelease() {
		return s.release(n, src, req.Kind, req.Data)
	}
	if req.Kind < wire.KindRead || req.Kind > wire.KindLockShared {
		return fmt.Errorf("%w: unknown lock kind %d from %d", ErrProtocolViolation, req.Kind, src)
	}
	l := s.lock(n.ID())
	r := &request{source: src, kind: req.Kind}
	if l.grantable(r.kind) {
		return s.grant(n, l, r)
	}
	l.queue = append(l.queue, r)
	observability.RecordMutexRequest(s.graph.Rank(), req.Kind.String(), "queued")
	logging.Tracef("hard.lockServer.handle rank=%d node=%s kind=%s from=%d queued=%d", s.graph.Rank(), req.Node, req.Kind, src, len(l.queue))
	return nil
}

// redirect answers a request for a node this rank does not own with the
// best known owner, or GONE when nobody can own it.
func (s *lockServer[T]) redirect(src int, req wire.MutexRequest) error {
	status, owner := s.route(src, req.Node)
	resp := wire.MutexResponse{Kind: req.Kind, Node: req.Node, Status: status, Owner: owner}
	payload, err := wire.EncodeMutexResponse(resp)
	if err != nil {
		return err
	}
	outcome := "moved"
	if status == wire.StatusGone {
		outcome = "gone"
	}
	observability.RecordMutexRequest(s.graph.Rank(), req.Kind.String(), outcome)
	logging.Debugf("hard.lockServer.redirect rank=%d node=%s from=%d status=%s owner=%d", s.graph.Rank(), req.Node, src, status, owner)
	return s.pack.send(src, kindResponse, payload)
}

func (s *lockServer[T]) route(src int, id dist.ID) (wire.ResponseStatus, int) {
	self := s.graph.Rank()
	locs := s.graph.Locations()
	owner := wire.NoOwner
	if e, ok := locs.Lookup(id); ok && e.State == dist.Distant {
		owner = e.Owner
	} else if o, ok := locs.Managed(id); ok {
		owner = o
	} else if id.Origin() != self {
		owner = id.Origin()
	}
	if owner == wire.NoOwner || owner == self || owner == src {
		return wire.StatusGone, wire.NoOwner
	}
	return wire.StatusMoved, owner
}

func (s *lockServer[T]) grant(n *graph.Node[T], l *nodeLock, r *request) error {
	l.take(r.source, r.kind)
	r.granted = true
	observability.RecordMutexRequest(s.graph.Rank(), r.kind.String(), "granted")
	if r.local {
		return nil
	}
	resp := wire.MutexResponse{Kind: r.kind, Node: n.ID(), Status: wire.StatusGranted, Owner: s.graph.Rank()}
	if r.kind.CarriesData() {
		data, err := s.graph.Codec().Encode(*n.Data())
		if err != nil {
			return fmt.Errorf("hard: encode node %s: %w", n.ID(), err)
		}
		resp.Data = data
	}
	payload, err := wire.EncodeMutexResponse(resp)
	if err != nil {
		return err
	}
	return s.pack.send(r.source, kindResponse, payload)
}

func (s *lockServer[T]) release(n *graph.Node[T], src int, k wire.LockKind, data []byte) error {
	l := s.lock(n.ID())
	if err := l.give(src, k); err != nil {
		return err
	}
	if k == wire.KindReleaseAcquire && src != s.graph.Rank() {
		v, err := s.graph.Codec().Decode(data)
		if err != nil {
			return fmt.Errorf("%w: node %s released by %d: %v", protocol.ErrDecode, n.ID(), src, err)
		}
		n.SetData(v)
	}
	observability.RecordMutexRequest(s.graph.Rank(), k.String(), "released")
	return s.notify(n, l)
}

// notify grants queued requests from the head while they are compatible:
// a run of shared requests, or a single exclusive one.
func (s *lockServer[T]) notify(n *graph.Node[T], l *nodeLock) error {
	for len(l.queue) > 0 {
		head := l.queue[0]
		if !l.compatible(head.kind) {
			return nil
		}
		l.queue = l.queue[1:]
		if err := s.grant(n, l, head); err != nil {
			return err
		}
	}
	return nil
}

// acquireLocal queues the owner's own request behind remote ones and serves
// peers until it is granted.
func (s *lockServer[T]) acquireLocal(ctx context.Context, n *graph.Node[T], k wire.LockKind) error {
	start := time.Now()
	l := s.lock(n.ID())
	r := &request{source: s.graph.Rank(), kind: k, local: true}
	if l.grantable(k) {
		if err := s.grant(n, l, r); err != nil {
			return err
		}
		observability.RecordLockWait(s.graph.Rank(), k.String(), false, time.Since(start))
		return nil
	}
	l.queue = append(l.queue, r)
	if err := s.pack.WaitUntil(ctx, func() bool { return r.granted }); err != nil {
		if r.granted {
			err = errors.Join(err, l.give(r.source, releaseFor(k)))
		} else {
			l.dequeue(r)
		}
		return errors.Join(err, s.notify(n, l))
	}
	observability.RecordLockWait(s.graph.Rank(), k.String(), false, time.Since(start))
	return nil
}

func (s *lockServer[T]) releaseLocal(n *graph.Node[T], k wire.LockKind) error {
	return s.release(n, s.graph.Rank(), k, nil)
}

// releaseFor maps a lock kind to its release.
func releaseFor(k wire.LockKind) wire.LockKind {
	switch k {
	case wire.KindRead:
		return wire.KindReleaseRead
	case wire.KindAcquire:
		return wire.KindReleaseAcquire
	case wire.KindLock:
		return wire.KindUnlock
	case wire.KindLockShared:
		return wire.KindUnlockShared
	}
	return 0
}
