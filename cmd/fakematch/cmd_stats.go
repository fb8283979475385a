package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"fakematch/internal/store"
)

var (
	statsDB  string
	statsRun string
)

// statsCmd summarizes a results database
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize match runs in a results database",
	Long: `Lists persisted match runs and, for a selected run, the per-visit
recovery fraction.

Examples:
  fakematch stats --db fakematch.db
  fakematch stats --db fakematch.db --run 2f1c...`,
	RunE: runStats,
}

func init() {
	statsCmd.Flags().StringVar(&statsDB, "db", "", "database path (default from config)")
	statsCmd.Flags().StringVar(&statsRun, "run", "", "run ID to break down per visit")
}

func runStats(cmd *cobra.Command, args []string) error {
	dbPath := cfg.Output.DatabasePath
	if statsDB != "" {
		dbPath = statsDB
	}
	if dbPath == "" {
		return fmt.Errorf("no database configured: pass --db or set output.database_path")
	}

	s, err := store.New(dbPath)
	if err != nil {
		return err
	}
	defer s.Close()

	if statsRun != "" {
		stats, err := s.StatsByVisit(statsRun)
		if err != nil {
			return err
		}
		if len(stats) == 0 {
			return fmt.Errorf("no rows for run %s", statsRun)
		}
		fmt.Printf("%-10s %8s %10s %9s\n", "visit", "fakes", "recovered", "fraction")
		for _, vs := range stats {
			frac := 0.0
			if vs.Fakes > 0 {
				frac = float64(vs.Recovered) / float64(vs.Fakes)
			}
			fmt.Printf("%-10d %8d %10d %9.3f\n", vs.Visit, vs.Fakes, vs.Recovered, frac)
		}
		return nil
	}

	runs, err := s.Runs()
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No match runs recorded.")
		return nil
	}

	fmt.Printf("%-36s %-8s %10s %8s %10s  %s\n", "run", "mode", "tolerance", "rows", "recovered", "created")
	for _, r := range runs {
		fmt.Printf("%-36s %-8s %10.2f %8d %10d  %s\n", r.ID, r.Mode, r.Tolerance, r.RowCount, r.Recovered, r.CreatedAt)
	}
	return nil
}
