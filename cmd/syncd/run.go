package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/danmuck/syncgraph/internal/checkpoint"
	"github.com/danmuck/syncgraph/internal/config"
	"github.com/danmuck/syncgraph/internal/logging"
	"github.com/danmuck/syncgraph/internal/observability"
)

var (
	runRank      int
	runOverrides string

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run one rank of a multi-process group",
		RunE:  runOne,
	}
)

func init() {
	rank, _ := strconv.Atoi(envOr("SYNCD_RANK", "0"))
	runCmd.Flags().IntVarP(&runRank, "rank", "r", rank, "rank of this process")
	runCmd.Flags().StringVar(&runOverrides, "overrides", os.Getenv("SYNCD_RANK_CONFIG"), "per-rank override file")
}

func runOne(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadClusterConfig(configPath)
	if err != nil {
		return err
	}
	if runRank < 0 || runRank >= cfg.Size {
		return fmt.Errorf("rank %d outside group of %d", runRank, cfg.Size)
	}
	settings, err := loadRankOverrides(runOverrides, runRank, &cfg)
	if err != nil {
		return err
	}
	if !cmd.Flags().Changed("log-level") {
		if err := applyLogLevel(settings.LogLevel); err != nil {
			return err
		}
	}
	logger := observability.InitLogger("syncd", runRank)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := openComm(cfg, runRank)
	if err != nil {
		return err
	}
	defer c.Close()

	var store *checkpoint.Store
	if settings.CheckpointDir != "" {
		if store, err = checkpoint.Open(settings.CheckpointDir); err != nil {
			return err
		}
		defer store.Close()
	}

	logging.Infof("syncd.run rank=%d size=%d transport=%s mode=%s run=%s", runRank, cfg.Size, cfg.Transport, cfg.Mode, cfg.RunID)
	return rankJob{
		cfg:    cfg,
		rank:   runRank,
		comm:   c,
		store:  store,
		admin:  settings.AdminAddr,
		logger: logger,
	}.run(ctx)
}
