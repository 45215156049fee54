package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"arcadiaforge/internal/checkpoint"
	"arcadiaforge/internal/config"
	"arcadiaforge/internal/eventlog"
	"arcadiaforge/internal/store"
)

var rollbackCmd = &cobra.Command{
	Use:   "rollback [checkpoint-id]",
	Short: "Reset the working tree to a checkpoint",
	Long: `Resets the project to a checkpoint's commit and restores the feature
passing map recorded with it. Without an argument the newest checkpoint is
listed along with recent candidates; pass an id to perform the rollback.
The event history is never rewritten.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(projectDir)
		if err != nil {
			return err
		}
		st, err := store.Open(projectDir)
		if err != nil {
			return err
		}
		defer st.Close()

		if len(args) == 0 {
			cps, err := st.ListCheckpoints(10)
			if err != nil {
				return err
			}
			if len(cps) == 0 {
				fmt.Println("No checkpoints yet.")
				return nil
			}
			fmt.Println("Recent checkpoints (newest first):")
			for _, cp := range cps {
				fmt.Printf("  %4d  %-18s s%-3d %s  %s\n",
					cp.ID, cp.Trigger, cp.SessionID,
					cp.Timestamp.Format("2006-01-02 15:04"), shortHash(cp.CommitHash))
			}
			fmt.Println("\nRoll back with: forge rollback <id>")
			return nil
		}

		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("checkpoint id must be a number: %q", args[0])
		}

		events, err := eventlog.Open(projectDir)
		if err != nil {
			return err
		}
		defer events.Close()

		var sessionID int64
		if latest, err := st.LatestSession(); err == nil {
			sessionID = latest.ID
		}

		cm := checkpoint.New(projectDir, st, cfg.Checkpoint, events)
		res, err := cm.Rollback(cmd.Context(), sessionID, id)
		if err != nil {
			return err
		}
		fmt.Printf("Rolled back to checkpoint %d (commit %s), %d feature states restored.\n",
			res.CheckpointID, shortHash(res.CommitHash), res.FeaturesRestored)
		return nil
	},
}

func shortHash(h string) string {
	if len(h) > 8 {
		return h[:8]
	}
	return h
}
