package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/danmuck/syncgraph/internal/checkpoint"
	"github.com/danmuck/syncgraph/internal/graph"
	"github.com/danmuck/syncgraph/internal/output"
)

var (
	renderDir    string
	renderRun    string
	renderRank   int
	renderStep   uint64
	renderFormat string
	renderOut    string

	renderCmd = &cobra.Command{
		Use:   "render",
		Short: "Render a checkpointed partition with graphviz",
		RunE:  render,
	}
)

func init() {
	renderCmd.Flags().StringVar(&renderDir, "dir", "./checkpoints", "checkpoint directory")
	renderCmd.Flags().StringVar(&renderRun, "run", "", "run id")
	renderCmd.Flags().IntVar(&renderRank, "rank", 0, "rank to render")
	renderCmd.Flags().Uint64Var(&renderStep, "step", 0, "step to render (latest when 0)")
	renderCmd.Flags().StringVarP(&renderFormat, "format", "f", "dot", "dot|svg|png|jpg")
	renderCmd.Flags().StringVarP(&renderOut, "out", "o", "", "output file (stdout when empty)")
	_ = renderCmd.MarkFlagRequired("run")
}

func render(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(renderFormat)
	if err != nil {
		return err
	}
	store, err := checkpoint.Open(renderDir)
	if err != nil {
		return err
	}
	defer store.Close()

	snap, step, err := loadCheckpoint(store, renderRun, renderRank, renderStep)
	if err != nil {
		return err
	}

	var w io.Writer = cmd.OutOrStdout()
	if renderOut != "" {
		f, err := os.Create(renderOut)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	if err := output.Render(snap, format, w); err != nil {
		return fmt.Errorf("render run=%s rank=%d step=%d: %w", renderRun, renderRank, step, err)
	}
	return nil
}

func loadCheckpoint(store *checkpoint.Store, run string, rank int, step uint64) (graph.Snapshot, uint64, error) {
	if step == 0 {
		latest, snap, err := store.Latest(run, rank)
		return snap, latest, err
	}
	snap, err := store.Load(run, rank, step)
	return snap, step, err
}
