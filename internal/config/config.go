// Package config holds the fakematch configuration: data repository
// location, matching parameters, output targets, and logging.
// Configuration is YAML on disk with environment overrides; the
// zero-value file path falls back to defaults so the tool runs without
// any config at all.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds all fakematch configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Data repository access
	Data DataConfig `yaml:"data"`

	// Matching parameters
	Match MatchConfig `yaml:"match"`

	// Output targets
	Output OutputConfig `yaml:"output"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// DataConfig locates the exported data repository.
type DataConfig struct {
	// Root of the per-exposure export tree (<root>/<visit>/<ccd>/).
	Root string `yaml:"root"`

	// Path of the full fake-source catalog CSV, if any.
	CatalogPath string `yaml:"catalog_path"`

	// Database holding a previously ingested fake-source catalog.
	// Used when CatalogPath is empty.
	CatalogDB string `yaml:"catalog_db"`
}

// MatchConfig configures the positional matcher.
type MatchConfig struct {
	// Mode selects fake positions: "header" (pixel metadata) or
	// "radec" (sky catalog).
	Mode string `yaml:"mode"`

	// Tolerance in pixels (header mode) or arcseconds (radec mode).
	Tolerance float64 `yaml:"tolerance"`

	// ScaleByRadius multiplies the radec tolerance by each fake's
	// radius column.
	ScaleByRadius bool `yaml:"scale_by_radius"`

	// IncludeMissing emits a row for every unmatched fake.
	IncludeMissing bool `yaml:"include_missing"`

	// FluxColumns are the measurement columns carried through to the
	// output, each with its _err companion and derived magnitudes.
	FluxColumns []string `yaml:"flux_columns"`

	// Workers bounds concurrent per-exposure matching.
	Workers int `yaml:"workers"`
}

// OutputConfig configures where results land.
type OutputConfig struct {
	CSVPath      string `yaml:"csv_path"`
	DatabasePath string `yaml:"database_path"`
	Overwrite    bool   `yaml:"overwrite"`
}

// LoggingConfig configures the category file logger.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Level      string          `yaml:"level"` // debug, info, warn, error
	Dir        string          `yaml:"dir"`
	Categories map[string]bool `yaml:"categories"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "fakematch",
		Version: "1.0.0",

		Data: DataConfig{
			Root: ".",
		},

		Match: MatchConfig{
			Mode:           "header",
			Tolerance:      1.0,
			ScaleByRadius:  false,
			IncludeMissing: false,
			FluxColumns:    []string{"flux_psf", "flux_cmodel"},
			Workers:        4,
		},

		Output: OutputConfig{
			CSVPath:      "fakematch.csv",
			DatabasePath: "fakematch.db",
			Overwrite:    false,
		},

		Logging: LoggingConfig{
			DebugMode: false,
			Level:     "info",
			Dir:       ".fakematch",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Return defaults if config file doesn't exist
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if root := os.Getenv("FAKEMATCH_DATA_ROOT"); root != "" {
		c.Data.Root = root
	}
	if path := os.Getenv("FAKEMATCH_CATALOG"); path != "" {
		c.Data.CatalogPath = path
	}
	if path := os.Getenv("FAKEMATCH_DB"); path != "" {
		c.Output.DatabasePath = path
	}
	if tol := os.Getenv("FAKEMATCH_TOLERANCE"); tol != "" {
		if v, err := strconv.ParseFloat(tol, 64); err == nil && v > 0 {
			c.Match.Tolerance = v
		}
	}
}

// Validate checks the configuration for contradictions before a run.
func (c *Config) Validate() error {
	switch c.Match.Mode {
	case "header", "radec":
	default:
		return fmt.Errorf("invalid match mode %q (want header or radec)", c.Match.Mode)
	}

	if c.Match.Tolerance <= 0 {
		return fmt.Errorf("match tolerance must be positive, got %g", c.Match.Tolerance)
	}
	if c.Match.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Match.Workers)
	}

	if c.Match.Mode == "radec" && c.Data.CatalogPath == "" && c.Data.CatalogDB == "" {
		return fmt.Errorf("radec mode requires a fake-source catalog")
	}
	if c.Match.ScaleByRadius && c.Match.Mode != "radec" {
		return fmt.Errorf("scale_by_radius only applies to radec mode")
	}

	if c.Output.CSVPath == "" && c.Output.DatabasePath == "" {
		return fmt.Errorf("no output configured: need csv_path or database_path")
	}

	return nil
}
