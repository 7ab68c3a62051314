package migrate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/danmuck/syncgraph/internal/comm/inproc"
	"github.com/danmuck/syncgraph/internal/dist"
	"github.com/danmuck/syncgraph/internal/graph"
	"github.com/danmuck/syncgraph/internal/synchro/ghost"
	"github.com/danmuck/syncgraph/internal/synchro/hard"
	"github.com/danmuck/syncgraph/internal/testutil/testlog"
)

type cell struct {
	Value int `json:"value"`
}

type modeCase struct {
	name    string
	factory func() graph.ModeFactory[cell]
}

var modes = []modeCase{
	{name: ghost.Name, factory: func() graph.ModeFactory[cell] { return ghost.Factory[cell]() }},
	{name: hard.Name, factory: func() graph.ModeFactory[cell] {
		return hard.Factory[cell](hard.Config{IdlePoll: time.Millisecond})
	}},
}

func newGraphs(t *testing.T, size int, factory graph.ModeFactory[cell]) []*graph.Graph[cell] {
	t.Helper()
	world, err := inproc.NewWorld(size)
	require.NoError(t, err)
	graphs := make([]*graph.Graph[cell], size)
	for r := range graphs {
		c, err := world.Comm(r)
		require.NoError(t, err)
		g, err := graph.New[cell](c, graph.JSONCodec[cell]{}, factory)
		require.NoError(t, err)
		graphs[r] = g
	}
	return graphs
}

func runRanks(t *testing.T, graphs []*graph.Graph[cell], work func(ctx context.Context, rank int) error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	var eg errgroup.Group
	for r := range graphs {
		eg.Go(func() error { return work(ctx, r) })
	}
	require.NoError(t, eg.Wait())
}

// requireSingleOwner checks that id is LOCAL on exactly one rank and that
// every proxy of it points there.
func requireSingleOwner(t *testing.T, graphs []*graph.Graph[cell], id dist.ID, owner int) {
	t.Helper()
	for r, g := range graphs {
		n, ok := g.Node(id)
		if r == owner {
			require.True(t, ok, "rank %d lost %s", r, id)
			require.True(t, n.IsLocal(), "rank %d does not own %s", r, id)
			continue
		}
		if !ok {
			continue
		}
		require.False(t, n.IsLocal(), "rank %d also owns %s", r, id)
		require.Equal(t, owner, n.Location(), "rank %d proxy of %s", r, id)
	}
}

// buildChain places a on rank 0, b on rank 1 and c on rank 2 with edges
// a->b and b->c.
func buildChain(t *testing.T, graphs []*graph.Graph[cell]) (dist.ID, dist.ID, dist.ID) {
	t.Helper()
	a := graphs[0].BuildNode(cell{Value: 1}, 1)
	b := graphs[1].BuildNode(cell{Value: 2}, 2)
	c := graphs[2].BuildNode(cell{Value: 3}, 3)
	proxyB, err := graphs[0].InsertDistant(b.ID(), 1, cell{}, 0)
	require.NoError(t, err)
	proxyC, err := graphs[1].InsertDistant(c.ID(), 2, cell{}, 0)
	require.NoError(t, err)

	runRanks(t, graphs, func(ctx context.Context, rank int) error {
		var err error
		switch rank {
		case 0:
			_, err = graphs[0].Link(ctx, a, proxyB, dist.DefaultLayer, 1)
		case 1:
			_, err = graphs[1].Link(ctx, b, proxyC, dist.DefaultLayer, 1)
		}
		if err != nil {
			return err
		}
		return graphs[rank].Synchronize(ctx)
	})
	return a.ID(), b.ID(), c.ID()
}

func TestDistributeKeepsSingleOwner(t *testing.T) {
	testlog.Start(t)
	for _, mc := range modes {
		t.Run(mc.name, func(t *testing.T) {
			graphs := newGraphs(t, 3, mc.factory())
			a, b, c := buildChain(t, graphs)

			partition := dist.Partition{a: 2, c: 0}
			reports := make([]Report, len(graphs))
			runRanks(t, graphs, func(ctx context.Context, rank int) error {
				rep, err := New(graphs[rank], DefaultConfig()).Distribute(ctx, partition)
				reports[rank] = rep
				return err
			})

			require.Equal(t, 1, reports[0].Exported)
			require.Equal(t, 1, reports[0].Imported)
			require.Equal(t, 0, reports[1].Exported)
			require.Equal(t, 1, reports[2].Exported)
			require.Equal(t, 1, reports[2].Imported)

			requireSingleOwner(t, graphs, a, 2)
			requireSingleOwner(t, graphs, b, 1)
			requireSingleOwner(t, graphs, c, 0)

			movedA, _ := graphs[2].Node(a)
			require.Equal(t, cell{Value: 1}, *movedA.Data())
			require.Equal(t, 1.0, movedA.Weight())
			require.Equal(t, 1, movedA.Degree())
			movedC, _ := graphs[0].Node(c)
			require.Equal(t, cell{Value: 3}, *movedC.Data())
			require.Equal(t, 1, movedC.Degree())

			// Proxies with nothing local left to reference are gone.
			_, ok := graphs[0].Node(a)
			require.False(t, ok)
			_, ok = graphs[2].Node(c)
			require.False(t, ok)
			require.Equal(t, 2, graphs[1].EdgeCount())
			require.Equal(t, 1, graphs[0].EdgeCount())
			require.Equal(t, 1, graphs[2].EdgeCount())
		})
	}
}

func TestDistributeThenRemoteAccessReachesNewOwner(t *testing.T) {
	testlog.Start(t)
	graphs := newGraphs(t, 3, modes[1].factory())
	a, _, _ := buildChain(t, graphs)

	runRanks(t, graphs, func(ctx context.Context, rank int) error {
		_, err := New(graphs[rank], DefaultConfig()).Distribute(ctx, dist.Partition{a: 2})
		return err
	})

	proxy, ok := graphs[1].Node(a)
	require.True(t, ok)
	require.Equal(t, 2, proxy.Location())
	runRanks(t, graphs, func(ctx context.Context, rank int) error {
		if rank == 1 {
			data, err := proxy.Mutex().Acquire(ctx)
			if err != nil {
				return err
			}
			data.Value = 11
			if err := proxy.Mutex().ReleaseAcquire(); err != nil {
				return err
			}
		}
		return graphs[rank].Synchronize(ctx)
	})
	moved, _ := graphs[2].Node(a)
	require.Equal(t, cell{Value: 11}, *moved.Data())
}

func TestDistributeRejectsOutOfRangeTarget(t *testing.T) {
	testlog.Start(t)
	graphs := newGraphs(t, 1, modes[0].factory())
	n := graphs[0].BuildNode(cell{}, 1)
	_, err := New(graphs[0], DefaultConfig()).Distribute(context.Background(), dist.Partition{n.ID(): 3})
	require.ErrorIs(t, err, ErrBadPartition)
}

func TestDistributeFailsWhileNodeLocked(t *testing.T) {
	testlog.Start(t)
	graphs := newGraphs(t, 2, modes[1].factory())
	x := graphs[0].BuildNode(cell{}, 1)
	require.NoError(t, x.Mutex().Lock(context.Background()))

	var distErr error
	runRanks(t, graphs, func(ctx context.Context, rank int) error {
		if rank == 1 {
			return graphs[1].Mode().(*hard.Mode[cell]).Pack().Terminate(ctx)
		}
		_, distErr = New(graphs[0], Config{QuiesceTimeout: 30 * time.Millisecond}).Distribute(ctx, dist.Partition{x.ID(): 1})
		return nil
	})
	require.ErrorIs(t, distErr, ErrQuiescence)
	require.True(t, x.IsLocal())
	require.NoError(t, x.Mutex().Unlock())
}
