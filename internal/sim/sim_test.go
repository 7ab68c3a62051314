package sim

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/danmuck/syncgraph/internal/comm/inproc"
	"github.com/danmuck/syncgraph/internal/graph"
	"github.com/danmuck/syncgraph/internal/synchro/ghost"
	"github.com/danmuck/syncgraph/internal/synchro/hard"
	"github.com/danmuck/syncgraph/internal/testutil/testlog"
)

const perRank = 4

type modeCase struct {
	name    string
	factory func() graph.ModeFactory[Heat]
}

var modes = []modeCase{
	{name: ghost.Name, factory: func() graph.ModeFactory[Heat] { return ghost.Factory[Heat]() }},
	{name: ghost.GlobalName, factory: func() graph.ModeFactory[Heat] { return ghost.GlobalFactory[Heat]() }},
	{name: hard.Name, factory: func() graph.ModeFactory[Heat] {
		return hard.Factory[Heat](hard.Config{IdlePoll: time.Millisecond})
	}},
}

func newGraphs(t *testing.T, size int, factory graph.ModeFactory[Heat]) []*graph.Graph[Heat] {
	t.Helper()
	world, err := inproc.NewWorld(size)
	require.NoError(t, err)
	graphs := make([]*graph.Graph[Heat], size)
	for r := range graphs {
		c, err := world.Comm(r)
		require.NoError(t, err)
		g, err := graph.New[Heat](c, graph.JSONCodec[Heat]{}, factory)
		require.NoError(t, err)
		graphs[r] = g
	}
	return graphs
}

func runRanks(t *testing.T, size int, work func(ctx context.Context, rank int) error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	var eg errgroup.Group
	for r := 0; r < size; r++ {
		eg.Go(func() error { return work(ctx, r) })
	}
	require.NoError(t, eg.Wait())
}

func buildRings(t *testing.T, graphs []*graph.Graph[Heat]) {
	t.Helper()
	runRanks(t, len(graphs), func(ctx context.Context, rank int) error {
		return BuildRing(ctx, graphs[rank], perRank, func(i int) (Heat, float64) {
			return Heat{Value: float64(rank*perRank + i)}, float64(1 + rank)
		})
	})
}

func spread(graphs []*graph.Graph[Heat]) (lo, hi float64, count int) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, g := range graphs {
		for _, n := range g.LocalNodes() {
			v := n.Data().Value
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
			count++
		}
	}
	return lo, hi, count
}

func TestBuildRingLinksAcrossRanks(t *testing.T) {
	testlog.Start(t)
	for _, mc := range modes {
		t.Run(mc.name, func(t *testing.T) {
			graphs := newGraphs(t, 3, mc.factory())
			buildRings(t, graphs)
			for r, g := range graphs {
				require.Len(t, g.LocalNodes(), perRank, "rank %d", r)
				// perRank-1 local edges, one outgoing and one incoming ring edge.
				require.Equal(t, perRank+1, g.EdgeCount(), "rank %d", r)
				require.Len(t, g.DistantNodes(), 2, "rank %d", r)
			}
		})
	}
}

func TestDiffusionContractsSpread(t *testing.T) {
	testlog.Start(t)
	for _, mc := range modes {
		t.Run(mc.name, func(t *testing.T) {
			graphs := newGraphs(t, 3, mc.factory())
			buildRings(t, graphs)
			lo0, hi0, count0 := spread(graphs)

			model := Diffusion{Rate: 0.5}
			runRanks(t, len(graphs), func(ctx context.Context, rank int) error {
				r := NewRunner[Heat](graphs[rank], model, Config{RunID: "diffusion"})
				return r.Run(ctx, 10)
			})

			lo, hi, count := spread(graphs)
			require.Equal(t, count0, count)
			require.GreaterOrEqual(t, lo, lo0)
			require.LessOrEqual(t, hi, hi0)
			require.Less(t, hi-lo, hi0-lo0)
		})
	}
}

func TestDiffusionIsolatedNodeKeepsValue(t *testing.T) {
	testlog.Start(t)
	graphs := newGraphs(t, 1, ghost.Factory[Heat]())
	n := graphs[0].BuildNode(Heat{Value: 7}, 1)
	runRanks(t, 1, func(ctx context.Context, _ int) error {
		return Diffusion{Rate: 1}.Step(ctx, graphs[0], 0)
	})
	require.Equal(t, 7.0, n.Data().Value)
}

type memoryStore struct {
	mu    sync.Mutex
	steps map[uint64]graph.Snapshot
}

func (s *memoryStore) Save(_ string, step uint64, snap graph.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.steps == nil {
		s.steps = make(map[uint64]graph.Snapshot)
	}
	s.steps[step] = snap
	return nil
}

type recordingPublisher struct {
	last []Status
}

func (p *recordingPublisher) Publish(st Status, _ graph.Snapshot) {
	p.last = append(p.last, st)
}

func TestRunnerRebalancesAndCheckpoints(t *testing.T) {
	testlog.Start(t)
	for _, mc := range modes {
		t.Run(mc.name, func(t *testing.T) {
			graphs := newGraphs(t, 3, mc.factory())
			buildRings(t, graphs)

			stores := make([]*memoryStore, len(graphs))
			pubs := make([]*recordingPublisher, len(graphs))
			cfg := Config{RunID: "run", RebalanceEvery: 2, CheckpointEvery: 3}
			runRanks(t, len(graphs), func(ctx context.Context, rank int) error {
				stores[rank] = &memoryStore{}
				pubs[rank] = &recordingPublisher{}
				r := NewRunner[Heat](graphs[rank], Diffusion{Rate: 0.25}, cfg).
					WithCheckpoints(stores[rank]).
					WithPublisher(pubs[rank])
				return r.Run(ctx, 6)
			})

			total := 0
			for r, g := range graphs {
				total += len(g.LocalNodes())
				require.Len(t, stores[r].steps, 2, "rank %d", r)
				require.Contains(t, stores[r].steps, uint64(3))
				require.Contains(t, stores[r].steps, uint64(6))
				require.Len(t, pubs[r].last, 6)
				last := pubs[r].last[5]
				require.Equal(t, uint64(6), last.Step)
				require.Equal(t, r, last.Rank)
				require.Equal(t, mc.name, last.Mode)
				require.Equal(t, len(g.LocalNodes()), last.Local)
			}
			require.Equal(t, 3*perRank, total)
		})
	}
}
