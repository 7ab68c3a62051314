package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/danmuck/syncgraph/internal/checkpoint"
	"github.com/danmuck/syncgraph/internal/comm/inproc"
	"github.com/danmuck/syncgraph/internal/config"
	"github.com/danmuck/syncgraph/internal/logging"
	"github.com/danmuck/syncgraph/internal/observability"
)

var (
	simSize int
	simMode string

	simulateCmd = &cobra.Command{
		Use:   "simulate",
		Short: "Run every rank of a group inside this process",
		RunE:  simulate,
	}
)

func init() {
	simulateCmd.Flags().IntVarP(&simSize, "size", "n", 0, "number of ranks (overrides the config)")
	simulateCmd.Flags().StringVar(&simMode, "mode", "", "ghost|global_ghost|hard (overrides the config)")
}

func simulate(cmd *cobra.Command, args []string) error {
	cfg := config.Default()
	if _, err := os.Stat(configPath); err == nil {
		if cfg, err = config.LoadClusterConfig(configPath); err != nil {
			return err
		}
	}
	cfg.Transport = config.TransportInproc
	if simSize > 0 {
		cfg.Size = simSize
	}
	if simMode != "" {
		cfg.Mode = simMode
	}
	if err := config.ValidateClusterConfig(cfg); err != nil {
		return err
	}
	logger := observability.InitLogger("syncd", -1)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return simulateWorld(ctx, cfg, logger)
}

func simulateWorld(ctx context.Context, cfg config.ClusterConfig, logger zerolog.Logger) error {
	world, err := inproc.NewWorld(cfg.Size)
	if err != nil {
		return err
	}
	defer func() {
		for _, c := range world.Comms() {
			_ = c.Close()
		}
	}()

	var store *checkpoint.Store
	if cfg.CheckpointDir != "" {
		if store, err = checkpoint.Open(cfg.CheckpointDir); err != nil {
			return err
		}
		defer store.Close()
	}

	logging.Infof("syncd.simulate size=%d mode=%s steps=%d run=%s", cfg.Size, cfg.Mode, cfg.Sim.Steps, cfg.RunID)
	eg, egCtx := errgroup.WithContext(ctx)
	for rank, c := range world.Comms() {
		job := rankJob{
			cfg:    cfg,
			rank:   rank,
			comm:   c,
			store:  store,
			admin:  cfg.AdminAddr(rank),
			logger: logger.With().Int("rank", rank).Logger(),
		}
		eg.Go(func() error { return job.run(egCtx) })
	}
	return eg.Wait()
}
