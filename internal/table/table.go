// Package table assembles the combined injection-recovery table: one
// row per fake/detection association (or per unrecovered fake),
// carrying positions, offsets, passthrough measurement columns,
// derived magnitudes and per-exposure metadata. Tables stack across
// exposures and join against the full fake-source catalog.
package table

import (
	"fmt"
	"math"

	"fakematch/internal/catalog"
)

// Row is one output record.
type Row struct {
	FakeID int64

	// Per-exposure metadata
	Visit     int
	CCD       int
	Filter    string
	Zeropoint float64

	// Injected position
	FakeX, FakeY    float64
	FakeRA, FakeDec float64

	// Matched detection; zero SrcID and NaN coordinates when unmatched.
	SrcID      int64
	SrcX, SrcY float64

	// Offsets (src - fake, pixels) and separation (pixels in header
	// mode, arcsec in radec mode).
	OffsetX, OffsetY float64
	Sep              float64

	NMatched int
	Nearest  bool
	Matched  bool

	// Passthrough measurement columns and derived photometry, keyed by
	// flux column name.
	Fluxes   map[string]float64
	FluxErrs map[string]float64
	Mags     map[string]float64
	MagErrs  map[string]float64

	// Catalog join products
	CatMag float64
	Extra  map[string]string
}

// Table is an ordered collection of rows with a fixed column layout.
type Table struct {
	// FluxColumns fixes which measurement columns every row carries.
	FluxColumns []string

	// ExtraColumns lists catalog passthrough columns after a join.
	ExtraColumns []string

	// Joined records whether JoinCatalog has run, which adds the
	// catalog magnitude and extra columns to the output.
	Joined bool

	Rows []Row
}

// New returns an empty table with the given flux column layout.
func New(fluxColumns []string) *Table {
	return &Table{FluxColumns: fluxColumns}
}

// Append adds a row.
func (t *Table) Append(r Row) {
	t.Rows = append(t.Rows, r)
}

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.Rows) }

// Stack concatenates per-exposure tables into one. All inputs must
// share the same flux column layout; row order follows input order.
// Nil inputs are skipped so callers can pass through skipped exposures.
func Stack(tables ...*Table) (*Table, error) {
	var out *Table
	for _, t := range tables {
		if t == nil {
			continue
		}
		if out == nil {
			out = New(t.FluxColumns)
			out.ExtraColumns = t.ExtraColumns
			out.Joined = t.Joined
		} else {
			if !equalColumns(out.FluxColumns, t.FluxColumns) {
				return nil, fmt.Errorf("cannot stack tables with differing columns: %v vs %v", out.FluxColumns, t.FluxColumns)
			}
			if out.Joined != t.Joined {
				return nil, fmt.Errorf("cannot stack joined and unjoined tables")
			}
		}
		out.Rows = append(out.Rows, t.Rows...)
	}
	if out == nil {
		out = New(nil)
	}
	return out, nil
}

// JoinCatalog left-joins the table against the full fake-source
// catalog on fake ID. Every existing row gains the injected magnitude
// for its filter and the catalog's passthrough columns; catalog
// entries with no matching row are appended as unrecovered rows using
// the given filter, so completeness is computable from the result.
// Rows whose fake ID is absent from the catalog are kept untouched.
func (t *Table) JoinCatalog(cat *catalog.Catalog, filter string) *Table {
	out := New(t.FluxColumns)
	out.Joined = true
	out.ExtraColumns = cat.ExtraColumns

	seen := make(map[int64]bool, t.Len())
	for _, row := range t.Rows {
		seen[row.FakeID] = true
		if src, ok := cat.ByID(row.FakeID); ok {
			f := row.Filter
			if f == "" {
				f = filter
			}
			row.CatMag = src.Mag(f)
			row.Extra = src.Extra
			if math.IsNaN(row.FakeRA) {
				row.FakeRA = src.RA
				row.FakeDec = src.Dec
			}
		} else {
			row.CatMag = math.NaN()
		}
		out.Append(row)
	}

	for i := range cat.Sources {
		src := &cat.Sources[i]
		if seen[src.ID] {
			continue
		}
		out.Append(Row{
			FakeID:    src.ID,
			Filter:    filter,
			FakeX:     math.NaN(),
			FakeY:     math.NaN(),
			FakeRA:    src.RA,
			FakeDec:   src.Dec,
			SrcX:      math.NaN(),
			SrcY:      math.NaN(),
			OffsetX:   math.NaN(),
			OffsetY:   math.NaN(),
			Sep:       math.NaN(),
			Zeropoint: math.NaN(),
			CatMag:    src.Mag(filter),
			Extra:     src.Extra,
		})
	}
	return out
}

// Recovered counts rows flagged as nearest matches, one per recovered
// fake.
func (t *Table) Recovered() int {
	n := 0
	for _, r := range t.Rows {
		if r.Matched && r.Nearest {
			n++
		}
	}
	return n
}

func equalColumns(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
