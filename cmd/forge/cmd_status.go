package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"arcadiaforge/internal/store"
	"arcadiaforge/internal/supervisor"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show feature progress, recent sessions, and pending questions",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := store.Open(projectDir)
		if err != nil {
			return err
		}
		defer st.Close()

		total, passing, err := st.CountFeatures()
		if err != nil {
			return err
		}
		fmt.Printf("Features: %d/%d passing\n", passing, total)

		if paused, err := supervisor.LoadPausedSession(projectDir); err == nil && paused != nil {
			fmt.Printf("Paused: session %d on feature %d (%s)\n",
				paused.SessionID, paused.CurrentFeature, paused.PauseReason)
		}

		sessions, err := st.ListSessions(5)
		if err != nil {
			return err
		}
		if len(sessions) > 0 {
			fmt.Println("\nRecent sessions:")
			for _, s := range sessions {
				fmt.Printf("  #%-4d %-16s %s\n", s.ID, s.Status, s.StartTime.Format("2006-01-02 15:04"))
				if report, err := st.FailureReportForSession(s.ID); err == nil {
					fmt.Printf("        failure: %s (%s)\n", report.FailureType, report.LikelyCause)
				}
			}
		}

		pending, err := st.PendingInjections()
		if err != nil {
			return err
		}
		if len(pending) > 0 {
			fmt.Println("\nWaiting for you:")
			for _, inj := range pending {
				fmt.Printf("  [%d] (%s) %s\n", inj.ID, inj.Type, inj.Context)
				for _, opt := range inj.Options {
					fmt.Printf("        - %s\n", opt)
				}
			}
			fmt.Println("\nAnswer with: forge respond <id> <answer>")
		}
		return nil
	},
}

var featuresCmd = &cobra.Command{
	Use:   "features",
	Short: "List the feature catalogue with status",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := store.Open(projectDir)
		if err != nil {
			return err
		}
		defer st.Close()

		feats, err := st.ListFeatures()
		if err != nil {
			return err
		}
		for _, f := range feats {
			mark := " "
			if f.Passes {
				mark = "x"
			}
			blocked := ""
			if len(f.BlockedBy) > 0 && !f.Passes {
				blocked = fmt.Sprintf(" (blocked by %v)", f.BlockedBy)
			}
			fmt.Printf("[%s] %3d p%d %-10s %s%s\n", mark, f.Index, f.Priority, f.Category, f.Description, blocked)
		}
		return nil
	},
}
