// Package hard implements the strongly consistent sync mode: every access
// to a node goes through a distributed readers-writer mutex held by the
// node's owner, structural changes are pushed to owners immediately, and
// synchronization points are found by distributed termination detection.
package hard

import (
	"context"
	"fmt"
	"time"

	"github.com/danmuck/syncgraph/internal/dist"
	"github.com/danmuck/syncgraph/internal/graph"
)

const Name = "hard"

type Config struct {
	// IdlePoll bounds how long a waiting rank sleeps before probing its
	// mailbox again when no arrival was signalled.
	IdlePoll time.Duration `toml:"idle_poll"`
}

func DefaultConfig() Config {
	return Config{IdlePoll: 2 * time.Millisecond}
}

type Mode[T any] struct {
	graph    *graph.Graph[T]
	pack     *ServerPack
	server   *lockServer[T]
	client   *lockClient[T]
	linker   *Linker[T]
	dataSync *DataSync
}

var _ graph.SyncMode[int] = (*Mode[int])(nil)

// Factory builds hard mode for graph.New.
func Factory[T any](cfg Config) graph.ModeFactory[T] {
	return func(g *graph.Graph[T]) graph.SyncMode[T] {
		return New(g, cfg)
	}
}

func New[T any](g *graph.Graph[T], cfg Config) *Mode[T] {
	m := &Mode[T]{graph: g}
	m.pack = NewServerPack(g.Comm(), cfg.IdlePoll, m.handle)
	m.server = newLockServer(g, m.pack)
	m.client = newLockClient(g, m.pack)
	m.linker = newLinker(m)
	m.dataSync = &DataSync{pack: m.pack}
	return m
}

func (m *Mode[T]) Name() string { return Name }

func (m *Mode[T]) BuildMutex(n *graph.Node[T]) graph.Mutex[T] {
	return &Mutex[T]{mode: m, node: n}
}

func (m *Mode[T]) DropMutex(id dist.ID) {
	m.server.drop(id)
	m.client.drop(id)
}

func (m *Mode[T]) Linker() graph.SyncLinker[T] { return m.linker }
func (m *Mode[T]) DataSync() graph.DataSync    { return m.dataSync }
func (m *Mode[T]) Pack() *ServerPack           { return m.pack }

// Quiesce serves peers until no lock is held or queued on ids.
func (m *Mode[T]) Quiesce(ctx context.Context, ids []dist.ID) error {
	return m.pack.WaitUntil(ctx, func() bool { return m.server.idle(ids) })
}

func (m *Mode[T]) handle(ctx context.Context, src int, payload []byte) error {
	class, body, err := openEnvelope(payload)
	if err != nil {
		return fmt.Errorf("hard: request from %d: %w", src, err)
	}
	if class == requestLink {
		return m.linker.handle(ctx, src, body)
	}
	return m.server.handle(ctx, src, body)
}

// DataSync needs no transfer in hard mode: payloads travel with grants and
// releases. Synchronize only closes the epoch.
type DataSync struct {
	pack *ServerPack
}

func (d *DataSync) Synchronize(ctx context.Context) error {
	return d.pack.Terminate(ctx)
}
