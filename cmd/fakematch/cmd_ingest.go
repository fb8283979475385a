package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"fakematch/internal/catalog"
	"fakematch/internal/store"
)

var ingestDB string

// ingestCmd loads a fake catalog CSV into the results database
var ingestCmd = &cobra.Command{
	Use:   "ingest [catalog.csv]",
	Short: "Ingest a fake-source catalog into the database",
	Long: `Loads the injected-source catalog into SQLite so later match and
stats invocations can read it without the original CSV.

Example:
  fakematch ingest fakes.csv --db fakematch.db`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVar(&ingestDB, "db", "", "database path (default from config)")
}

func runIngest(cmd *cobra.Command, args []string) error {
	cat, err := catalog.ReadCSV(args[0])
	if err != nil {
		return err
	}
	logger.Info("loaded fake catalog",
		zap.String("path", args[0]), zap.Int("sources", cat.Len()))

	dbPath := cfg.Output.DatabasePath
	if ingestDB != "" {
		dbPath = ingestDB
	}
	if dbPath == "" {
		return fmt.Errorf("no database configured: pass --db or set output.database_path")
	}

	s, err := store.New(dbPath)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.IngestCatalog(cat); err != nil {
		return err
	}
	fmt.Printf("Ingested %d fake sources into %s\n", cat.Len(), dbPath)
	return nil
}
