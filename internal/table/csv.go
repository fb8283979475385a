package table

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
)

// WriteCSV writes the table with a fixed header layout: identity and
// position columns, then per-flux-column blocks
// (<col>, <col>_err, <col>_mag, <col>_mag_err), then catalog columns
// when joined. NaN renders as an empty cell.
func (t *Table) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)

	header := []string{
		"fakeId", "visit", "ccd", "filter", "zeropoint",
		"fakeX", "fakeY", "fakeRA", "fakeDec",
		"srcId", "srcX", "srcY",
		"offsetX", "offsetY", "sep",
		"nMatched", "nearest", "matched",
	}
	for _, col := range t.FluxColumns {
		header = append(header, col, col+"_err", col+"_mag", col+"_mag_err")
	}
	if t.Joined {
		header = append(header, "catMag")
		header = append(header, t.ExtraColumns...)
	}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}

	for i := range t.Rows {
		r := &t.Rows[i]
		rec := []string{
			strconv.FormatInt(r.FakeID, 10),
			strconv.Itoa(r.Visit),
			strconv.Itoa(r.CCD),
			r.Filter,
			num(r.Zeropoint),
			num(r.FakeX), num(r.FakeY), num(r.FakeRA), num(r.FakeDec),
			srcID(r),
			num(r.SrcX), num(r.SrcY),
			num(r.OffsetX), num(r.OffsetY), num(r.Sep),
			strconv.Itoa(r.NMatched),
			strconv.FormatBool(r.Nearest),
			strconv.FormatBool(r.Matched),
		}
		for _, col := range t.FluxColumns {
			rec = append(rec,
				num(lookup(r.Fluxes, col)),
				num(lookup(r.FluxErrs, col)),
				num(lookup(r.Mags, col)),
				num(lookup(r.MagErrs, col)),
			)
		}
		if t.Joined {
			rec = append(rec, num(r.CatMag))
			for _, col := range t.ExtraColumns {
				rec = append(rec, r.Extra[col])
			}
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("writing row %d: %w", i, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// WriteCSVFile writes the table to path, refusing to clobber an
// existing file unless overwrite is set.
func (t *Table) WriteCSVFile(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("output %s exists (use overwrite to replace)", path)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close()

	if err := t.WriteCSV(f); err != nil {
		return err
	}
	return f.Close()
}

// lookup reads a flux map, NaN when the map or column is absent so
// unmatched rows render empty measurement cells.
func lookup(m map[string]float64, col string) float64 {
	if v, ok := m[col]; ok {
		return v
	}
	return math.NaN()
}

// num formats a float, rendering NaN as an empty cell.
func num(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func srcID(r *Row) string {
	if !r.Matched {
		return ""
	}
	return strconv.FormatInt(r.SrcID, 10)
}
