package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/danmuck/syncgraph/internal/checkpoint"
)

var (
	checkpointDir  string
	checkpointRun  string
	checkpointRank int

	checkpointCmd = &cobra.Command{
		Use:   "checkpoint",
		Short: "Inspect stored snapshots",
	}

	checkpointListCmd = &cobra.Command{
		Use:   "list",
		Short: "List the steps stored for a rank",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := checkpoint.Open(checkpointDir)
			if err != nil {
				return err
			}
			defer store.Close()
			steps, err := store.Steps(checkpointRun, checkpointRank)
			if err != nil {
				return err
			}
			for _, step := range steps {
				snap, err := store.Load(checkpointRun, checkpointRank, step)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "step=%d mode=%s local=%d nodes=%d edges=%d\n",
					step, snap.Mode, snap.LocalCount(), len(snap.Nodes), len(snap.Edges))
			}
			return nil
		},
	}

	checkpointDeleteCmd = &cobra.Command{
		Use:   "delete",
		Short: "Delete every snapshot of a run",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := checkpoint.Open(checkpointDir)
			if err != nil {
				return err
			}
			defer store.Close()
			return store.Delete(checkpointRun)
		},
	}
)

func init() {
	checkpointCmd.PersistentFlags().StringVar(&checkpointDir, "dir", "./checkpoints", "checkpoint directory")
	checkpointCmd.PersistentFlags().StringVar(&checkpointRun, "run", "", "run id")
	checkpointListCmd.Flags().IntVar(&checkpointRank, "rank", 0, "rank")
	_ = checkpointCmd.MarkPersistentFlagRequired("run")
	checkpointCmd.AddCommand(checkpointListCmd, checkpointDeleteCmd)
}
