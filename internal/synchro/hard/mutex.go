package hard

import (
	"context"
	"fmt"

	"github.com/danmuck/syncgraph/internal/graph"
	"github.com/danmuck/syncgraph/internal/protocol"
	"github.com/danmuck/syncgraph/internal/protocol/wire"
)

// Mutex is the hard-mode lock of one node. LOCAL nodes queue on this rank's
// server; DISTANT nodes go through a request to the owner. Read and Acquire
// refresh the local copy with the owner's payload, and ReleaseAcquire ships
// it back.
type Mutex[T any] struct {
	mode *Mode[T]
	node *graph.Node[T]
}

var _ graph.Mutex[int] = (*Mutex[int])(nil)

func (m *Mutex[T]) lock(ctx context.Context, k wire.LockKind) error {
	if m.node.IsLocal() {
		return m.mode.server.acquireLocal(ctx, m.node, k)
	}
	resp, err := m.mode.client.request(ctx, m.node, k)
	if err != nil {
		return err
	}
	if !k.CarriesData() {
		return nil
	}
	v, err := m.mode.graph.Codec().Decode(resp.Data)
	if err != nil {
		return fmt.Errorf("%w: node %s from %d: %v", protocol.ErrDecode, m.node.ID(), resp.Owner, err)
	}
	m.node.SetData(v)
	return nil
}

func (m *Mutex[T]) unlock(k wire.LockKind) error {
	if m.node.IsLocal() {
		return m.mode.server.releaseLocal(m.node, k)
	}
	var data []byte
	if k == wire.KindReleaseAcquire {
		enc, err := m.mode.graph.Codec().Encode(*m.node.Data())
		if err != nil {
			return fmt.Errorf("hard: encode node %s: %w", m.node.ID(), err)
		}
		data = enc
	}
	return m.mode.client.release(m.node, k, data)
}

func (m *Mutex[T]) Read(ctx context.Context) (T, error) {
	if err := m.lock(ctx, wire.KindRead); err != nil {
		var zero T
		return zero, err
	}
	return *m.node.Data(), nil
}

func (m *Mutex[T]) ReleaseRead() error { return m.unlock(wire.KindReleaseRead) }

func (m *Mutex[T]) Acquire(ctx context.Context) (*T, error) {
	if err := m.lock(ctx, wire.KindAcquire); err != nil {
		return nil, err
	}
	return m.node.Data(), nil
}

func (m *Mutex[T]) ReleaseAcquire() error { return m.unlock(wire.KindReleaseAcquire) }

func (m *Mutex[T]) Lock(ctx context.Context) error { return m.lock(ctx, wire.KindLock) }
func (m *Mutex[T]) Unlock() error                  { return m.unlock(wire.KindUnlock) }

func (m *Mutex[T]) LockShared(ctx context.Context) error { return m.lock(ctx, wire.KindLockShared) }
func (m *Mutex[T]) UnlockShared() error                  { return m.unlock(wire.KindUnlockShared) }
