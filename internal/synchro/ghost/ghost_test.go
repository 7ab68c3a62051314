package ghost

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/danmuck/syncgraph/internal/comm/inproc"
	"github.com/danmuck/syncgraph/internal/dist"
	"github.com/danmuck/syncgraph/internal/graph"
	"github.com/danmuck/syncgraph/internal/testutil/testlog"
)

type cell struct {
	Value int `json:"value"`
}

func newGraphs(t *testing.T, size int) []*graph.Graph[cell] {
	t.Helper()
	return newGraphsWith(t, size, Factory[cell]())
}

func newGraphsWith(t *testing.T, size int, factory graph.ModeFactory[cell]) []*graph.Graph[cell] {
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

func synchronizeAll(t *testing.T, graphs []*graph.Graph[cell]) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var eg errgroup.Group
	for _, g := range graphs {
		eg.Go(func() error { return g.Synchronize(ctx) })
	}
	require.NoError(t, eg.Wait())
}

// crossLink builds a on rank 0 and b on rank 1 and links a -> b from rank 0.
func crossLink(t *testing.T, graphs []*graph.Graph[cell]) (*graph.Node[cell], *graph.Node[cell], *graph.Edge[cell]) {
	t.Helper()
	a := graphs[0].BuildNode(cell{Value: 1}, 1)
	b := graphs[1].BuildNode(cell{Value: 2}, 2)
	proxy, err := graphs[0].InsertDistant(b.ID(), 1, cell{}, 0)
	require.NoError(t, err)
	e, err := graphs[0].Link(context.Background(), a, proxy, dist.DefaultLayer, 1)
	require.NoError(t, err)
	return a, b, e
}

func TestSynchronizePropagatesLinksAndRefreshesGhosts(t *testing.T) {
	testlog.Start(t)
	graphs := newGraphs(t, 2)
	a, b, e := crossLink(t, graphs)
	synchronizeAll(t, graphs)

	imported, ok := graphs[1].Edge(e.ID())
	require.True(t, ok)
	require.Equal(t, b.ID(), imported.Target().ID())
	ghostA := imported.Source()
	require.Equal(t, dist.Distant, ghostA.State())
	require.Equal(t, 0, ghostA.Location())
	require.Equal(t, cell{Value: 1}, *ghostA.Data())

	ghostB, _ := graphs[0].Node(b.ID())
	require.Equal(t, cell{Value: 2}, *ghostB.Data())
	require.Equal(t, 2.0, ghostB.Weight())

	data, err := b.Mutex().Acquire(context.Background())
	require.NoError(t, err)
	data.Value = 5
	require.NoError(t, b.Mutex().ReleaseAcquire())
	synchronizeAll(t, graphs)
	require.Equal(t, cell{Value: 5}, *ghostB.Data())

	synchronizeAll(t, graphs)
	require.Equal(t, cell{Value: 5}, *ghostB.Data())
	require.Equal(t, cell{Value: 1}, *ghostA.Data())
	require.Equal(t, 1, a.Degree())
}

func TestUnlinkBeforeSynchronizeCancelsLink(t *testing.T) {
	testlog.Start(t)
	graphs := newGraphs(t, 2)
	_, _, e := crossLink(t, graphs)
	require.NoError(t, graphs[0].Unlink(context.Background(), e))
	synchronizeAll(t, graphs)
	require.Zero(t, graphs[1].EdgeCount())
	require.Equal(t, 1, graphs[1].NodeCount())
	require.Zero(t, graphs[0].EdgeCount())
	require.Equal(t, 1, graphs[0].NodeCount())
}

func TestUnlinkAfterSynchronizeNotifiesOwner(t *testing.T) {
	testlog.Start(t)
	graphs := newGraphs(t, 2)
	_, _, e := crossLink(t, graphs)
	synchronizeAll(t, graphs)
	require.Equal(t, 1, graphs[1].EdgeCount())

	require.NoError(t, graphs[0].Unlink(context.Background(), e))
	synchronizeAll(t, graphs)
	require.Zero(t, graphs[1].EdgeCount())
	require.Len(t, graphs[1].DistantNodes(), 0)
}

func TestRemoveDistantNodeAsksOwner(t *testing.T) {
	testlog.Start(t)
	graphs := newGraphs(t, 2)
	a, b, _ := crossLink(t, graphs)
	synchronizeAll(t, graphs)

	proxy, _ := graphs[0].Node(b.ID())
	require.NoError(t, graphs[0].RemoveNode(context.Background(), proxy))
	synchronizeAll(t, graphs)

	_, ok := graphs[1].Node(b.ID())
	require.False(t, ok)
	_, ok = graphs[0].Node(b.ID())
	require.False(t, ok)
	require.Zero(t, a.Degree())
	require.Zero(t, graphs[1].NodeCount())
}

func TestRemoveLocalNodeErasesAtSynchronize(t *testing.T) {
	testlog.Start(t)
	graphs := newGraphs(t, 2)
	a, b, _ := crossLink(t, graphs)
	synchronizeAll(t, graphs)

	require.NoError(t, graphs[1].RemoveNode(context.Background(), b))
	_, ok := graphs[1].Node(b.ID())
	require.True(t, ok, "erasure waits for synchronize")
	synchronizeAll(t, graphs)

	_, ok = graphs[1].Node(b.ID())
	require.False(t, ok)
	require.Zero(t, a.Degree())
	require.Equal(t, 1, graphs[0].NodeCount())
}

func TestStaleGhostIsDroppedNotFatal(t *testing.T) {
	testlog.Start(t)
	graphs := newGraphs(t, 2)
	a, b, _ := crossLink(t, graphs)
	synchronizeAll(t, graphs)

	// removed upstream without any notification
	graphs[1].Erase(b)
	synchronizeAll(t, graphs)

	_, ok := graphs[0].Node(b.ID())
	require.False(t, ok)
	require.Zero(t, a.Degree())
}

func readValue(t *testing.T, n *graph.Node[cell]) int {
	t.Helper()
	v, err := n.Mutex().Read(context.Background())
	require.NoError(t, err)
	require.NoError(t, n.Mutex().ReleaseRead())
	return v.Value
}

func TestGlobalModeHidesWritesUntilSynchronize(t *testing.T) {
	testlog.Start(t)
	graphs := newGraphsWith(t, 2, GlobalFactory[cell]())
	require.Equal(t, GlobalName, graphs[0].Mode().Name())
	_, b, _ := crossLink(t, graphs)
	synchronizeAll(t, graphs)
	ghostB, ok := graphs[0].Node(b.ID())
	require.True(t, ok)
	require.Equal(t, 2, readValue(t, ghostB))

	data, err := b.Mutex().Acquire(context.Background())
	require.NoError(t, err)
	data.Value = 7
	require.NoError(t, b.Mutex().ReleaseAcquire())
	require.Equal(t, 7, b.Data().Value)
	require.Equal(t, 2, readValue(t, b), "owner reads the snapshot within the step")
	require.Equal(t, 2, readValue(t, ghostB))

	synchronizeAll(t, graphs)
	require.Equal(t, 7, readValue(t, b))
	require.Equal(t, 7, readValue(t, ghostB))
}

func TestGlobalModeDiscardsWritesToGhosts(t *testing.T) {
	testlog.Start(t)
	graphs := newGraphsWith(t, 2, GlobalFactory[cell]())
	_, b, _ := crossLink(t, graphs)
	synchronizeAll(t, graphs)
	ghostB, _ := graphs[0].Node(b.ID())

	data, err := ghostB.Mutex().Acquire(context.Background())
	require.NoError(t, err)
	data.Value = 40
	require.NoError(t, ghostB.Mutex().ReleaseAcquire())
	require.Equal(t, 40, readValue(t, ghostB))

	synchronizeAll(t, graphs)
	require.Equal(t, 2, readValue(t, ghostB))
	require.Equal(t, 2, b.Data().Value)
}
