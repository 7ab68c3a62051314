package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/danmuck/syncgraph/internal/checkpoint"
	"github.com/danmuck/syncgraph/internal/config"
	"github.com/danmuck/syncgraph/internal/testutil/testlog"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestRankOverridesOnlyReplaceDefinedKeys(t *testing.T) {
	testlog.Start(t)
	cfg := config.Default()
	cfg.Size = 2
	cfg.AdminAddrs = []string{"127.0.0.1:9400", "127.0.0.1:9401"}
	cfg.CheckpointDir = "/var/lib/syncd/"

	settings, err := loadRankOverrides("", 1, &cfg)
	if err != nil {
		t.Fatalf("no overrides: %v", err)
	}
	if settings.AdminAddr != "127.0.0.1:9401" || settings.CheckpointDir != "/var/lib/syncd/rank-1" {
		t.Fatalf("unexpected cluster defaults: %+v", settings)
	}

	path := writeFile(t, "rank.toml", "admin_addr = \"\"\nlog_level = \"debug\"\n")
	settings, err = loadRankOverrides(path, 1, &cfg)
	if err != nil {
		t.Fatalf("overrides: %v", err)
	}
	if settings.AdminAddr != "" {
		t.Fatalf("expected admin disabled by override, got %q", settings.AdminAddr)
	}
	if settings.CheckpointDir != "/var/lib/syncd/rank-1" || settings.LogLevel != "debug" {
		t.Fatalf("unexpected overrides: %+v", settings)
	}
}

func TestRankOverridesRejectUnknownKeysAndModeMismatch(t *testing.T) {
	testlog.Start(t)
	cfg := config.Default()
	if _, err := loadRankOverrides(writeFile(t, "a.toml", "peers = []\n"), 0, &cfg); err == nil {
		t.Fatalf("expected unknown key error")
	}
	if _, err := loadRankOverrides(writeFile(t, "b.toml", "mode = \"hard\"\n"), 0, &cfg); err == nil {
		t.Fatalf("expected mode mismatch error")
	}
}

func TestSimulateWorldCheckpointsEveryRank(t *testing.T) {
	testlog.Start(t)
	for _, mode := range []string{config.ModeGhost, config.ModeGlobalGhost, config.ModeHard} {
		t.Run(mode, func(t *testing.T) {
			cfg := config.Default()
			cfg.RunID = "sim-" + mode
			cfg.Mode = mode
			cfg.Size = 3
			cfg.CheckpointDir = t.TempDir()
			cfg.Timeouts.IdlePoll = config.Duration{Duration: time.Millisecond}
			cfg.Sim = config.SimConfig{Steps: 4, NodesPerRank: 3, Rate: 0.5, RebalanceEvery: 2, CheckpointEvery: 2}

			ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
			defer cancel()
			if err := simulateWorld(ctx, cfg, zerolog.Nop()); err != nil {
				t.Fatalf("simulate: %v", err)
			}

			store, err := checkpoint.Open(cfg.CheckpointDir)
			if err != nil {
				t.Fatalf("open store: %v", err)
			}
			defer store.Close()
			total := 0
			for rank := 0; rank < cfg.Size; rank++ {
				steps, err := store.Steps(cfg.RunID, rank)
				if err != nil {
					t.Fatalf("steps rank %d: %v", rank, err)
				}
				if len(steps) != 2 || steps[0] != 2 || steps[1] != 4 {
					t.Fatalf("rank %d steps=%v", rank, steps)
				}
				_, snap, err := store.Latest(cfg.RunID, rank)
				if err != nil {
					t.Fatalf("latest rank %d: %v", rank, err)
				}
				total += snap.LocalCount()
			}
			if total != cfg.Size*cfg.Sim.NodesPerRank {
				t.Fatalf("expected %d nodes across ranks, got %d", cfg.Size*cfg.Sim.NodesPerRank, total)
			}
		})
	}
}
