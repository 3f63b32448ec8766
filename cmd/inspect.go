package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/inference-sim/nre-sim/nre/persist"
)

var inspectRunID string // Run to describe; empty lists runs

// inspectCmd summarizes a persisted store
var inspectCmd = &cobra.Command{
	Use:   "inspect <store.db>",
	Short: "List persisted runs, or summarize one run's store and rounds",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := inspectDB(args[0], inspectRunID, os.Stdout); err != nil {
			logrus.Fatalf("Inspect failed: %v", err)
		}
	},
}

func inspectDB(path, runID string, w io.Writer) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("store %q: %w", path, err)
	}
	db, err := persist.Open(path)
	if err != nil {
		return err
	}
	defer db.Close()

	if runID == "" {
		runs, err := db.ListRuns()
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%-36s  %-25s  %4s  %s\n", "RUN", "CREATED", "DIM", "SEED")
		for _, r := range runs {
			fmt.Fprintf(w, "%-36s  %-25s  %4d  %d\n", r.ID, r.CreatedAt.Format("2006-01-02T15:04:05Z07:00"), r.Dim, r.Seed)
		}
		return nil
	}

	run, err := db.GetRun(runID)
	if err != nil {
		return err
	}
	entries, pending, err := db.StoreCounts(run.ID)
	if err != nil {
		return err
	}
	rows, err := db.ListRounds(run.ID)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "=== Run %s ===\n", run.ID)
	fmt.Fprintf(w, "Created              : %s\n", run.CreatedAt.Format("2006-01-02T15:04:05Z07:00"))
	fmt.Fprintf(w, "Dim / Seed           : %d / %d\n", run.Dim, run.Seed)
	fmt.Fprintf(w, "Stored Simulations   : %d (%d pending)\n", entries, pending)
	fmt.Fprintf(w, "Rounds               : %d\n", len(rows))
	for _, r := range rows {
		status := "allocated"
		if r.Completed() {
			status = "trained"
		}
		fmt.Fprintf(w, "round %-3d %-9s volume=%.6g requested=%d reused=%d new=%d drawn=%d\n",
			r.Round, status, r.Volume, r.Requested, r.Reused, r.Appended, r.Drawn)
		for i, axis := range r.NextAxes {
			fmt.Fprintf(w, "  next z%-3d %v\n", i, axis)
		}
	}
	return nil
}

func init() {
	inspectCmd.Flags().StringVar(&inspectRunID, "run", "", "Run ID to summarize (default: list runs)")
}
