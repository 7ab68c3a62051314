package graph

import (
	"context"

	"github.com/danmuck/syncgraph/internal/dist"
)

// Mutex mediates access to one node's payload. Read and Acquire return the
// payload; the matching release must follow. Lock and LockShared guard
// structure only.
type Mutex[T any] interface {
	Read(ctx context.Context) (T, error)
	ReleaseRead() error
	Acquire(ctx context.Context) (*T, error)
	ReleaseAcquire() error
	Lock(ctx context.Context) error
	Unlock() error
	LockShared(ctx context.Context) error
	UnlockShared() error
}

// SyncLinker propagates structural changes that touch DISTANT nodes.
type SyncLinker[T any] interface {
	Link(ctx context.Context, e *Edge[T]) error
	Unlink(ctx context.Context, e *Edge[T]) error
	RemoveNode(ctx context.Context, n *Node[T]) error
	Synchronize(ctx context.Context) error
}

// DataSync brings DISTANT payloads up to date at a synchronization point.
type DataSync interface {
	Synchronize(ctx context.Context) error
}

// SyncMode is the strategy a graph is built with: ghost or hard.
type SyncMode[T any] interface {
	Name() string
	BuildMutex(n *Node[T]) Mutex[T]
	DropMutex(id dist.ID)
	Linker() SyncLinker[T]
	DataSync() DataSync
	// Quiesce returns once no lock is held or queued on the given local
	// nodes.
	Quiesce(ctx context.Context, ids []dist.ID) error
}

// ModeFactory builds the sync mode for a graph under construction.
type ModeFactory[T any] func(g *Graph[T]) SyncMode[T]
