package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/danmuck/syncgraph/internal/auth"
	"github.com/danmuck/syncgraph/internal/checkpoint"
	"github.com/danmuck/syncgraph/internal/comm"
	"github.com/danmuck/syncgraph/internal/comm/broker"
	"github.com/danmuck/syncgraph/internal/comm/rpc"
	"github.com/danmuck/syncgraph/internal/comm/tcp"
	"github.com/danmuck/syncgraph/internal/config"
	"github.com/danmuck/syncgraph/internal/graph"
	"github.com/danmuck/syncgraph/internal/logging"
	"github.com/danmuck/syncgraph/internal/observability"
	"github.com/danmuck/syncgraph/internal/server"
	"github.com/danmuck/syncgraph/internal/sim"
	"github.com/danmuck/syncgraph/internal/synchro/ghost"
	"github.com/danmuck/syncgraph/internal/synchro/hard"
)

// openComm connects this rank with the configured transport.
func openComm(cfg config.ClusterConfig, rank int) (comm.Communicator, error) {
	switch cfg.Transport {
	case config.TransportTCP:
		return tcp.Open(cfg.TCPConfig(rank))
	case config.TransportRPC:
		rc, err := cfg.RPCConfig(rank)
		if err != nil {
			return nil, err
		}
		return rpc.Open(rc)
	case config.TransportBroker:
		return broker.Dial(cfg.BrokerConfig(rank))
	default:
		return nil, fmt.Errorf("transport %q needs all ranks in one process, use simulate", cfg.Transport)
	}
}

func modeFactory(cfg config.ClusterConfig) (graph.ModeFactory[sim.Heat], error) {
	switch cfg.Mode {
	case config.ModeGhost:
		return ghost.Factory[sim.Heat](), nil
	case config.ModeGlobalGhost:
		return ghost.GlobalFactory[sim.Heat](), nil
	case config.ModeHard:
		return hard.Factory[sim.Heat](cfg.HardConfig()), nil
	default:
		return nil, fmt.Errorf("unknown mode %q", cfg.Mode)
	}
}

type rankJob struct {
	cfg      config.ClusterConfig
	rank     int
	comm     comm.Communicator
	store    *checkpoint.Store
	admin    string
	logger   zerolog.Logger
	initHeat func(rank, i int) float64
}

// run builds the ring, serves the admin surface if configured and steps the
// diffusion model. It returns once every step completed on this rank.
func (j rankJob) run(ctx context.Context) error {
	factory, err := modeFactory(j.cfg)
	if err != nil {
		return err
	}
	c := comm.Instrument(j.comm, observability.TrafficObserver{})
	g, err := graph.New[sim.Heat](c, graph.JSONCodec[sim.Heat]{}, factory)
	if err != nil {
		return err
	}

	perRank := j.cfg.Sim.NodesPerRank
	initHeat := j.initHeat
	if initHeat == nil {
		initHeat = func(rank, i int) float64 { return float64(rank*perRank + i) }
	}
	if err := sim.BuildRing(ctx, g, perRank, func(i int) (sim.Heat, float64) {
		return sim.Heat{Value: initHeat(j.rank, i)}, 1
	}); err != nil {
		return fmt.Errorf("rank %d build ring: %w", j.rank, err)
	}

	runner := sim.NewRunner[sim.Heat](g, sim.Diffusion{Rate: j.cfg.Sim.Rate}, j.cfg.RunnerConfig())
	if j.store != nil {
		runner.WithCheckpoints(j.store)
	}

	if j.admin == "" {
		return runner.Run(ctx, j.cfg.Sim.Steps)
	}

	srv := server.New(j.rank, j.admin, j.cfg.CorsOrigins, j.logger)
	if token := envOr("SYNCD_ADMIN_TOKEN", j.cfg.AdminToken); token != "" {
		srv.RequireToken(auth.SharedToken(token))
	}
	runner.WithPublisher(srv)
	serveCtx, stop := context.WithCancel(ctx)
	eg, egCtx := errgroup.WithContext(serveCtx)
	eg.Go(func() error { return srv.Serve(egCtx) })
	eg.Go(func() error {
		defer stop()
		return runner.Run(egCtx, j.cfg.Sim.Steps)
	})
	err = eg.Wait()
	logging.Infof("syncd.rank.run rank=%d steps=%d err=%v", j.rank, runner.Step(), err)
	return err
}
