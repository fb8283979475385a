package table

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fakematch/internal/catalog"
)

func matchedRow(fakeID int64, visit int) Row {
	return Row{
		FakeID:    fakeID,
		Visit:     visit,
		CCD:       49,
		Filter:    "HSC-I",
		Zeropoint: 27.0,
		FakeX:     100, FakeY: 200,
		FakeRA: math.NaN(), FakeDec: math.NaN(),
		SrcID: 1000 + fakeID,
		SrcX:  100.3, SrcY: 200.1,
		OffsetX: 0.3, OffsetY: 0.1,
		Sep:      0.32,
		NMatched: 1,
		Nearest:  true,
		Matched:  true,
		Fluxes:   map[string]float64{"flux_psf": 1500},
		FluxErrs: map[string]float64{"flux_psf": 12},
		Mags:     map[string]float64{"flux_psf": 19.06},
		MagErrs:  map[string]float64{"flux_psf": 0.0087},
	}
}

func TestStack(t *testing.T) {
	t1 := New([]string{"flux_psf"})
	t1.Append(matchedRow(1, 1228))
	t2 := New([]string{"flux_psf"})
	t2.Append(matchedRow(2, 1230))
	t2.Append(matchedRow(3, 1230))

	stacked, err := Stack(t1, nil, t2)
	require.NoError(t, err)
	require.Equal(t, 3, stacked.Len())

	// Per-exposure order is preserved.
	assert.Equal(t, int64(1), stacked.Rows[0].FakeID)
	assert.Equal(t, int64(2), stacked.Rows[1].FakeID)
	assert.Equal(t, int64(3), stacked.Rows[2].FakeID)
}

func TestStack_ColumnMismatch(t *testing.T) {
	t1 := New([]string{"flux_psf"})
	t2 := New([]string{"flux_cmodel"})
	_, err := Stack(t1, t2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "differing columns")
}

func TestStack_Empty(t *testing.T) {
	stacked, err := Stack()
	require.NoError(t, err)
	assert.Equal(t, 0, stacked.Len())

	stacked, err = Stack(nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, stacked.Len())
}

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fakes.csv")
	content := `id,ra,dec,radius,mag_HSC-I,sersic_n
1,150.01,2.01,1.0,24.5,1.0
2,150.02,2.02,1.0,22.0,4.0
9,150.09,2.09,1.0,23.7,2.0
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	cat, err := catalog.ReadCSV(path)
	require.NoError(t, err)
	return cat
}

func TestJoinCatalog(t *testing.T) {
	tbl := New([]string{"flux_psf"})
	tbl.Append(matchedRow(1, 1228))
	tbl.Append(matchedRow(2, 1228))

	joined := tbl.JoinCatalog(testCatalog(t), "HSC-I")
	require.Equal(t, 3, joined.Len())
	assert.True(t, joined.Joined)

	// Matched rows gain the injected magnitude and passthrough columns.
	assert.Equal(t, 24.5, joined.Rows[0].CatMag)
	assert.Equal(t, "1.0", joined.Rows[0].Extra["sersic_n"])
	// Sky position backfilled from the catalog.
	assert.Equal(t, 150.01, joined.Rows[0].FakeRA)

	// Fake 9 was never recovered: synthesized row with empty measurements.
	unrec := joined.Rows[2]
	assert.Equal(t, int64(9), unrec.FakeID)
	assert.False(t, unrec.Matched)
	assert.Equal(t, 23.7, unrec.CatMag)
	assert.Equal(t, 150.09, unrec.FakeRA)
	assert.True(t, math.IsNaN(unrec.FakeX))

	assert.Equal(t, 2, joined.Recovered())
}

func TestJoinCatalog_RowNotInCatalog(t *testing.T) {
	tbl := New([]string{"flux_psf"})
	tbl.Append(matchedRow(55, 1228))

	joined := tbl.JoinCatalog(testCatalog(t), "HSC-I")
	// 1 kept row + 3 unrecovered catalog entries
	require.Equal(t, 4, joined.Len())
	assert.True(t, math.IsNaN(joined.Rows[0].CatMag))
}

func TestWriteCSV(t *testing.T) {
	tbl := New([]string{"flux_psf"})
	tbl.Append(matchedRow(1, 1228))

	var sb strings.Builder
	require.NoError(t, tbl.WriteCSV(&sb))

	lines := strings.Split(strings.TrimSpace(sb.String()), "\n")
	require.Len(t, lines, 2)

	header := strings.Split(lines[0], ",")
	want := []string{
		"fakeId", "visit", "ccd", "filter", "zeropoint",
		"fakeX", "fakeY", "fakeRA", "fakeDec",
		"srcId", "srcX", "srcY",
		"offsetX", "offsetY", "sep",
		"nMatched", "nearest", "matched",
		"flux_psf", "flux_psf_err", "flux_psf_mag", "flux_psf_mag_err",
	}
	if diff := cmp.Diff(want, header); diff != "" {
		t.Errorf("header mismatch (-want +got):\n%s", diff)
	}

	row := strings.Split(lines[1], ",")
	assert.Equal(t, "1", row[0])
	assert.Equal(t, "1228", row[1])
	assert.Equal(t, "HSC-I", row[3])
	// NaN sky position renders as empty cells.
	assert.Equal(t, "", row[7])
	assert.Equal(t, "", row[8])
	assert.Equal(t, "1500", row[18])
}

func TestWriteCSV_JoinedColumns(t *testing.T) {
	tbl := New([]string{"flux_psf"})
	tbl.Append(matchedRow(1, 1228))
	joined := tbl.JoinCatalog(testCatalog(t), "HSC-I")

	var sb strings.Builder
	require.NoError(t, joined.WriteCSV(&sb))

	header := strings.Split(strings.Split(sb.String(), "\n")[0], ",")
	assert.Contains(t, header, "catMag")
	assert.Contains(t, header, "sersic_n")
}

func TestWriteCSVFile_Overwrite(t *testing.T) {
	tbl := New(nil)
	path := filepath.Join(t.TempDir(), "out.csv")

	require.NoError(t, tbl.WriteCSVFile(path, false))
	// Second write without overwrite refuses.
	err := tbl.WriteCSVFile(path, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exists")

	require.NoError(t, tbl.WriteCSVFile(path, true))
}
