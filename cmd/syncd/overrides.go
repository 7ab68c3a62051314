package main

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/danmuck/syncgraph/internal/config"
)

// rankFile holds per-rank overrides on top of the shared cluster file.
type rankFile struct {
	AdminAddr     string `toml:"admin_addr"`
	CheckpointDir string `toml:"checkpoint_dir"`
	LogLevel      string `toml:"log_level"`
	Mode          string `toml:"mode"`
}

type rankSettings struct {
	AdminAddr     string
	CheckpointDir string
	LogLevel      string
}

// loadRankOverrides applies the keys present in path to cfg and returns the
// per-rank settings. An empty path keeps the cluster values.
func loadRankOverrides(path string, rank int, cfg *config.ClusterConfig) (rankSettings, error) {
	settings := rankSettings{
		AdminAddr:     cfg.AdminAddr(rank),
		CheckpointDir: rankDir(cfg.CheckpointDir, rank),
	}
	if strings.TrimSpace(path) == "" {
		return settings, nil
	}

	var raw rankFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return rankSettings{}, fmt.Errorf("load rank overrides: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return rankSettings{}, fmt.Errorf("rank overrides: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("admin_addr") {
		settings.AdminAddr = strings.TrimSpace(raw.AdminAddr)
	}
	if meta.IsDefined("checkpoint_dir") {
		settings.CheckpointDir = strings.TrimSpace(raw.CheckpointDir)
	}
	if meta.IsDefined("log_level") {
		settings.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	if meta.IsDefined("mode") {
		mode := strings.ToLower(strings.TrimSpace(raw.Mode))
		if mode != cfg.Mode {
			return rankSettings{}, fmt.Errorf("rank overrides: mode %q differs from cluster mode %q", mode, cfg.Mode)
		}
	}
	return settings, nil
}

func rankDir(base string, rank int) string {
	if strings.TrimSpace(base) == "" {
		return ""
	}
	return fmt.Sprintf("%s/rank-%d", strings.TrimRight(base, "/"), rank)
}
