// Package catalog loads and queries the injected fake-source catalog:
// the full list of synthetic sources the injection task was given,
// with sky positions, per-filter magnitudes and an optional size
// column. Matching joins back against this catalog so unrecovered
// fakes remain visible.
package catalog

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"

	"fakematch/internal/logging"
)

// FakeSource is one entry in the injected-source catalog.
type FakeSource struct {
	ID      int64
	RA, Dec float64 // degrees; NaN when the catalog has no sky columns
	Radius  float64 // size column used for tolerance scaling; NaN when absent

	// Mags maps a filter name to the injected magnitude, from
	// mag_<filter> columns.
	Mags map[string]float64

	// Extra preserves every other catalog column verbatim.
	Extra map[string]string
}

// Mag returns the injected magnitude for a filter, NaN when absent.
func (f *FakeSource) Mag(filter string) float64 {
	if v, ok := f.Mags[filter]; ok {
		return v
	}
	return math.NaN()
}

// Catalog is an in-memory fake-source catalog with ID lookup.
type Catalog struct {
	Sources []FakeSource

	// ExtraColumns lists the passthrough column names, sorted.
	ExtraColumns []string

	byID map[int64]int
}

// FromSources builds a catalog from already-parsed entries, e.g. when
// rehydrating from the store. extraCols names the passthrough columns.
func FromSources(sources []FakeSource, extraCols map[string]bool) *Catalog {
	cat := &Catalog{Sources: sources, byID: make(map[int64]int, len(sources))}
	for i := range sources {
		cat.byID[sources[i].ID] = i
	}
	for name := range extraCols {
		cat.ExtraColumns = append(cat.ExtraColumns, name)
	}
	sort.Strings(cat.ExtraColumns)
	return cat
}

// ByID returns the source with the given fake ID.
func (c *Catalog) ByID(id int64) (*FakeSource, bool) {
	i, ok := c.byID[id]
	if !ok {
		return nil, false
	}
	return &c.Sources[i], true
}

// Len returns the number of catalog entries.
func (c *Catalog) Len() int { return len(c.Sources) }

// Radii returns the radius column aligned with Sources, for
// tolerance scaling. All-NaN when the catalog has no radius column.
func (c *Catalog) Radii() []float64 {
	radii := make([]float64, len(c.Sources))
	for i := range c.Sources {
		radii[i] = c.Sources[i].Radius
	}
	return radii
}

// ReadCSV loads a fake-source catalog. The id column is required;
// ra/dec/radius are optional; mag_<filter> columns become per-filter
// magnitudes; all remaining columns are preserved as strings.
// Duplicate IDs are an error since the catalog join keys on them.
func ReadCSV(path string) (*Catalog, error) {
	timer := logging.StartTimer(logging.CategoryCatalog, "ReadCSV")
	defer timer.Stop()

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening catalog %s: %w", path, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading catalog %s: %w", path, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("catalog %s is empty", path)
	}

	header := records[0]
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[name] = i
	}
	idCol, ok := col["id"]
	if !ok {
		return nil, fmt.Errorf("catalog %s: missing required column \"id\"", path)
	}

	cat := &Catalog{byID: make(map[int64]int, len(records)-1)}
	for name := range col {
		switch {
		case name == "id" || name == "ra" || name == "dec" || name == "radius":
		case strings.HasPrefix(name, "mag_"):
		default:
			cat.ExtraColumns = append(cat.ExtraColumns, name)
		}
	}
	sort.Strings(cat.ExtraColumns)

	for _, rec := range records[1:] {
		id, err := strconv.ParseInt(rec[idCol], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("catalog %s: bad id %q: %w", path, rec[idCol], err)
		}
		if _, dup := cat.byID[id]; dup {
			return nil, fmt.Errorf("catalog %s: duplicate fake id %d", path, id)
		}

		src := FakeSource{
			ID:     id,
			RA:     cell(rec, col, "ra"),
			Dec:    cell(rec, col, "dec"),
			Radius: cell(rec, col, "radius"),
			Mags:   make(map[string]float64),
			Extra:  make(map[string]string),
		}
		for name, i := range col {
			if strings.HasPrefix(name, "mag_") {
				src.Mags[strings.TrimPrefix(name, "mag_")] = parseCell(rec[i])
			}
		}
		for _, name := range cat.ExtraColumns {
			src.Extra[name] = rec[col[name]]
		}

		cat.byID[id] = len(cat.Sources)
		cat.Sources = append(cat.Sources, src)
	}

	logging.Catalog("loaded %d fake sources from %s", cat.Len(), path)
	return cat, nil
}

func cell(rec []string, col map[string]int, name string) float64 {
	i, ok := col[name]
	if !ok {
		return math.NaN()
	}
	return parseCell(rec[i])
}

func parseCell(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return math.NaN()
	}
	return v
}
