package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"fakematch/internal/catalog"
	"fakematch/internal/exposure"
	"fakematch/internal/pipeline"
	"fakematch/internal/store"
)

var (
	matchVisits         []int
	matchCCDs           []int
	matchRoot           string
	matchMode           string
	matchTolerance      float64
	matchCatalogPath    string
	matchCatalogDB      string
	matchScaleByRadius  bool
	matchIncludeMissing bool
	matchJoin           bool
	matchFluxColumns    []string
	matchWorkers        int
	matchOutCSV         string
	matchOutDB          string
	matchOverwrite      bool
)

// matchCmd runs matching over a data repository
var matchCmd = &cobra.Command{
	Use:   "match",
	Short: "Match injected fakes against detections for a set of exposures",
	Long: `Runs positional matching for every (visit, ccd) pair, stacks the
per-exposure tables, optionally joins the full fake catalog, and
writes the result to CSV and/or the results database.

Examples:
  fakematch match --root /data/rerun --visits 1228,1230 --ccds 0-103 --out matched.csv
  fakematch match --root /data/rerun --visits 1228 --ccds 49 \
      --mode radec --tolerance 1.0 --catalog fakes.csv --scale-by-radius --join`,
	RunE: runMatch,
}

func init() {
	registerMatchFlags()
}

func registerMatchFlags() {
	f := matchCmd.Flags()
	f.IntSliceVar(&matchVisits, "visits", nil, "visit numbers to process")
	f.IntSliceVar(&matchCCDs, "ccds", nil, "ccd numbers to process")
	f.StringVar(&matchRoot, "root", "", "data repository root (default from config)")
	f.StringVar(&matchMode, "mode", "", "match mode: header or radec (default from config)")
	f.Float64Var(&matchTolerance, "tolerance", 0, "match tolerance, pixels (header) or arcsec (radec)")
	f.StringVar(&matchCatalogPath, "catalog", "", "fake-source catalog CSV")
	f.StringVar(&matchCatalogDB, "catalog-db", "", "database with an ingested fake-source catalog (used when --catalog is not given)")
	f.BoolVar(&matchScaleByRadius, "scale-by-radius", false, "scale radec tolerance by each fake's radius")
	f.BoolVar(&matchIncludeMissing, "include-missing", false, "emit rows for unmatched header fakes")
	f.BoolVar(&matchJoin, "join", false, "left-join the result against the fake catalog")
	f.StringSliceVar(&matchFluxColumns, "flux-columns", nil, "measurement flux columns to carry through")
	f.IntVar(&matchWorkers, "workers", 0, "concurrent exposures (default from config)")
	f.StringVar(&matchOutCSV, "out", "", "output CSV path")
	f.StringVar(&matchOutDB, "db", "", "results database path")
	f.BoolVar(&matchOverwrite, "overwrite", false, "overwrite existing CSV output")

	_ = matchCmd.MarkFlagRequired("visits")
	_ = matchCmd.MarkFlagRequired("ccds")
}

// applyMatchFlags folds explicit flags over the loaded config.
func applyMatchFlags(cmd *cobra.Command) {
	if matchRoot != "" {
		cfg.Data.Root = matchRoot
	}
	if matchMode != "" {
		cfg.Match.Mode = matchMode
	}
	if cmd.Flags().Changed("tolerance") {
		cfg.Match.Tolerance = matchTolerance
	}
	if matchCatalogPath != "" {
		cfg.Data.CatalogPath = matchCatalogPath
	}
	if matchCatalogDB != "" {
		cfg.Data.CatalogDB = matchCatalogDB
	}
	if cmd.Flags().Changed("scale-by-radius") {
		cfg.Match.ScaleByRadius = matchScaleByRadius
	}
	if cmd.Flags().Changed("include-missing") {
		cfg.Match.IncludeMissing = matchIncludeMissing
	}
	if matchFluxColumns != nil {
		cfg.Match.FluxColumns = matchFluxColumns
	}
	if matchWorkers > 0 {
		cfg.Match.Workers = matchWorkers
	}
	if cmd.Flags().Changed("out") {
		cfg.Output.CSVPath = matchOutCSV
	}
	if cmd.Flags().Changed("db") {
		cfg.Output.DatabasePath = matchOutDB
	}
	if cmd.Flags().Changed("overwrite") {
		cfg.Output.Overwrite = matchOverwrite
	}
}

// loadCatalogDB reads a previously ingested fake-source catalog back
// out of a results database.
func loadCatalogDB(path string) (*catalog.Catalog, error) {
	s, err := store.New(path)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	cat, err := s.LoadCatalog()
	if err != nil {
		return nil, err
	}
	if cat.Len() == 0 {
		return nil, fmt.Errorf("no fake sources in %s: run fakematch ingest first", path)
	}
	return cat, nil
}

func runMatch(cmd *cobra.Command, args []string) error {
	applyMatchFlags(cmd)
	if err := cfg.Validate(); err != nil {
		return err
	}
	if len(matchVisits) == 0 || len(matchCCDs) == 0 {
		return fmt.Errorf("at least one visit and one ccd required")
	}

	repo, err := exposure.NewFileRepository(cfg.Data.Root)
	if err != nil {
		return err
	}

	var cat *catalog.Catalog
	switch {
	case cfg.Data.CatalogPath != "":
		cat, err = catalog.ReadCSV(cfg.Data.CatalogPath)
		if err != nil {
			return err
		}
		logger.Info("loaded fake catalog",
			zap.String("path", cfg.Data.CatalogPath), zap.Int("sources", cat.Len()))
	case cfg.Data.CatalogDB != "":
		cat, err = loadCatalogDB(cfg.Data.CatalogDB)
		if err != nil {
			return err
		}
		logger.Info("loaded fake catalog",
			zap.String("db", cfg.Data.CatalogDB), zap.Int("sources", cat.Len()))
	}

	p, err := pipeline.New(repo, cat, pipeline.Options{
		Mode:           pipeline.Mode(cfg.Match.Mode),
		Tolerance:      cfg.Match.Tolerance,
		ScaleByRadius:  cfg.Match.ScaleByRadius,
		IncludeMissing: cfg.Match.IncludeMissing,
		JoinCatalog:    matchJoin,
		FluxColumns:    cfg.Match.FluxColumns,
		Workers:        cfg.Match.Workers,
	}, logger)
	if err != nil {
		return err
	}

	ids := pipeline.ExpandDataIDs(matchVisits, matchCCDs)
	logger.Info("starting match run",
		zap.Int("exposures", len(ids)),
		zap.String("mode", cfg.Match.Mode),
		zap.Float64("tolerance", cfg.Match.Tolerance))

	tbl, err := p.Run(cmd.Context(), ids)
	if err != nil {
		return err
	}
	logger.Info("match run complete",
		zap.Int("rows", tbl.Len()), zap.Int("recovered", tbl.Recovered()))

	if cfg.Output.CSVPath != "" {
		if err := tbl.WriteCSVFile(cfg.Output.CSVPath, cfg.Output.Overwrite); err != nil {
			return err
		}
		fmt.Printf("Wrote %d rows to %s\n", tbl.Len(), cfg.Output.CSVPath)
	}

	if cfg.Output.DatabasePath != "" {
		s, err := store.New(cfg.Output.DatabasePath)
		if err != nil {
			return err
		}
		defer s.Close()

		runID := uuid.NewString()
		if err := s.SaveRun(runID, cfg.Match.Mode, cfg.Match.Tolerance, tbl); err != nil {
			return err
		}
		fmt.Printf("Saved run %s to %s\n", runID, cfg.Output.DatabasePath)
	}
	return nil
}
