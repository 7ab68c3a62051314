// Package ghost implements the bulk-refresh sync mode: DISTANT nodes are
// read-only ghost copies refreshed at every synchronize, and structural
// changes are batched to the owners of distant endpoints. Global ghost mode
// also serves LOCAL reads from a snapshot taken at each synchronize.
package ghost

import (
	"context"

	"github.com/danmuck/syncgraph/internal/comm"
	"github.com/danmuck/syncgraph/internal/dist"
	"github.com/danmuck/syncgraph/internal/graph"
)

const (
	TagRemovals    comm.Tag = 0x201
	TagLinks       comm.Tag = 0x202
	TagSyncRequest comm.Tag = 0x203
	TagSyncReply   comm.Tag = 0x204
)

const (
	Name       = "ghost"
	GlobalName = "global_ghost"
)

type Mode[T any] struct {
	graph    *graph.Graph[T]
	linker   *Linker[T]
	dataSync *DataSync[T]
	global   bool
}

var _ graph.SyncMode[int] = (*Mode[int])(nil)

// Factory builds ghost mode for graph.New.
func Factory[T any]() graph.ModeFactory[T] {
	return func(g *graph.Graph[T]) graph.SyncMode[T] {
		return New(g)
	}
}

func New[T any](g *graph.Graph[T]) *Mode[T] {
	return &Mode[T]{
		graph:    g,
		linker:   newLinker(g),
		dataSync: &DataSync[T]{graph: g},
	}
}

// GlobalFactory builds global ghost mode for graph.New. Reads on every node,
// LOCAL ones included, see the data as of the last synchronize.
func GlobalFactory[T any]() graph.ModeFactory[T] {
	return func(g *graph.Graph[T]) graph.SyncMode[T] {
		return NewGlobal(g)
	}
}

func NewGlobal[T any](g *graph.Graph[T]) *Mode[T] {
	m := New(g)
	m.global = true
	m.dataSync.snapshots = true
	return m
}

func (m *Mode[T]) Name() string {
	if m.global {
		return GlobalName
	}
	return Name
}

func (m *Mode[T]) BuildMutex(n *graph.Node[T]) graph.Mutex[T] {
	if m.global {
		return &GlobalMutex[T]{node: n, snapshot: *n.Data()}
	}
	return &Mutex[T]{node: n}
}

func (m *Mode[T]) DropMutex(dist.ID) {}

func (m *Mode[T]) Linker() graph.SyncLinker[T] { return m.linker }
func (m *Mode[T]) DataSync() graph.DataSync    { return m.dataSync }

// Quiesce has nothing to wait for: ghost mode holds no locks.
func (m *Mode[T]) Quiesce(context.Context, []dist.ID) error { return nil }

// Mutex gives unsynchronized access to the local copy of a node.
type Mutex[T any] struct {
	node *graph.Node[T]
}

func (m *Mutex[T]) Read(context.Context) (T, error)     { return *m.node.Data(), nil }
func (m *Mutex[T]) ReleaseRead() error                  { return nil }
func (m *Mutex[T]) Acquire(context.Context) (*T, error) { return m.node.Data(), nil }
func (m *Mutex[T]) ReleaseAcquire() error               { return nil }
func (m *Mutex[T]) Lock(context.Context) error          { return nil }
func (m *Mutex[T]) Unlock() error                       { return nil }
func (m *Mutex[T]) LockShared(context.Context) error    { return nil }
func (m *Mutex[T]) UnlockShared() error                 { return nil }

// GlobalMutex serves reads from a snapshot refreshed at each synchronize, so
// a write made during a step is seen by no reader until the next one.
// Acquire on a LOCAL node returns the live data. On a DISTANT node it returns
// the snapshot, and the change is overwritten by the next refresh.
// Snapshots are shallow copies of T.
type GlobalMutex[T any] struct {
	node     *graph.Node[T]
	snapshot T
}

func (m *GlobalMutex[T]) Read(context.Context) (T, error) { return m.snapshot, nil }
func (m *GlobalMutex[T]) ReleaseRead() error              { return nil }

func (m *GlobalMutex[T]) Acquire(context.Context) (*T, error) {
	if m.node.IsLocal() {
		return m.node.Data(), nil
	}
	return &m.snapshot, nil
}

func (m *GlobalMutex[T]) ReleaseAcquire() error            { return nil }
func (m *GlobalMutex[T]) Lock(context.Context) error       { return nil }
func (m *GlobalMutex[T]) Unlock() error                    { return nil }
func (m *GlobalMutex[T]) LockShared(context.Context) error { return nil }
func (m *GlobalMutex[T]) UnlockShared() error              { return nil }

// Refresh copies the node's current data into the snapshot.
func (m *GlobalMutex[T]) Refresh() { m.snapshot = *m.node.Data() }
