package pipeline

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"fakematch/internal/catalog"
	"fakematch/internal/exposure"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// memRepo is an in-memory Repository for tests.
type memRepo struct {
	infos   map[exposure.DataID]*exposure.Info
	sources map[exposure.DataID][]exposure.Source
	failOn  map[exposure.DataID]error
}

func (r *memRepo) Exposure(id exposure.DataID) (*exposure.Info, error) {
	if err, ok := r.failOn[id]; ok {
		return nil, err
	}
	info, ok := r.infos[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, exposure.ErrNotFound)
	}
	return info, nil
}

func (r *memRepo) Sources(id exposure.DataID) ([]exposure.Source, error) {
	srcs, ok := r.sources[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, exposure.ErrNotFound)
	}
	return srcs, nil
}

func headerRepo() *memRepo {
	id := exposure.DataID{Visit: 1228, CCD: 49}
	return &memRepo{
		infos: map[exposure.DataID]*exposure.Info{
			id: {
				DataID:    id,
				Filter:    "HSC-I",
				Zeropoint: 27.0,
				Metadata: exposure.Metadata{
					"FAKE1": "100.000, 200.000",
					"FAKE2": "500.000, 600.000",
					"FAKE3": "900.000, 900.000",
				},
			},
		},
		sources: map[exposure.DataID][]exposure.Source{
			id: {
				{ID: 11, X: 100.3, Y: 200.4, Columns: map[string]float64{"flux_psf": 1500, "flux_psf_err": 12}},
				{ID: 12, X: 500.1, Y: 600.0, Columns: map[string]float64{"flux_psf": 800, "flux_psf_err": 9}},
				{ID: 13, X: 700.0, Y: 700.0, Columns: map[string]float64{"flux_psf": 50, "flux_psf_err": 5}},
			},
		},
	}
}

func TestRun_HeaderMode(t *testing.T) {
	p, err := New(headerRepo(), nil, Options{
		Mode:        ModeHeader,
		Tolerance:   1.0,
		FluxColumns: []string{"flux_psf"},
		Workers:     2,
	}, zap.NewNop())
	require.NoError(t, err)

	tbl, err := p.Run(context.Background(), []exposure.DataID{{Visit: 1228, CCD: 49}})
	require.NoError(t, err)
	require.Equal(t, 2, tbl.Len())

	r0 := tbl.Rows[0]
	assert.Equal(t, int64(1), r0.FakeID)
	assert.Equal(t, int64(11), r0.SrcID)
	assert.Equal(t, 1228, r0.Visit)
	assert.Equal(t, "HSC-I", r0.Filter)
	assert.InDelta(t, 0.3, r0.OffsetX, 1e-9)
	assert.InDelta(t, 0.4, r0.OffsetY, 1e-9)
	assert.InDelta(t, 0.5, r0.Sep, 1e-9)
	assert.Equal(t, 1, r0.NMatched)
	assert.True(t, r0.Nearest)
	assert.True(t, r0.Matched)

	// Derived photometry: mag = 27 - 2.5*log10(1500)
	assert.InDelta(t, 27.0-2.5*math.Log10(1500), r0.Mags["flux_psf"], 1e-9)
	assert.InDelta(t, 2.5/math.Ln10*12.0/1500.0, r0.MagErrs["flux_psf"], 1e-12)

	// FAKE3 had no detection within tolerance and IncludeMissing is off.
	for _, r := range tbl.Rows {
		assert.NotEqual(t, int64(3), r.FakeID)
	}
}

func TestRun_IncludeMissing(t *testing.T) {
	p, err := New(headerRepo(), nil, Options{
		Mode:           ModeHeader,
		Tolerance:      1.0,
		IncludeMissing: true,
		FluxColumns:    []string{"flux_psf"},
		Workers:        1,
	}, zap.NewNop())
	require.NoError(t, err)

	tbl, err := p.Run(context.Background(), []exposure.DataID{{Visit: 1228, CCD: 49}})
	require.NoError(t, err)
	require.Equal(t, 3, tbl.Len())

	missing := tbl.Rows[2]
	assert.Equal(t, int64(3), missing.FakeID)
	assert.False(t, missing.Matched)
	assert.Equal(t, 900.0, missing.FakeX)
	assert.True(t, math.IsNaN(missing.SrcX))
	assert.Empty(t, missing.Fluxes)
}

func TestRun_SkipsMissingExposures(t *testing.T) {
	p, err := New(headerRepo(), nil, Options{
		Mode:        ModeHeader,
		Tolerance:   1.0,
		FluxColumns: []string{"flux_psf"},
		Workers:     4,
	}, zap.NewNop())
	require.NoError(t, err)

	ids := []exposure.DataID{
		{Visit: 1228, CCD: 49},
		{Visit: 1228, CCD: 50}, // absent from the repo
	}
	tbl, err := p.Run(context.Background(), ids)
	require.NoError(t, err)
	assert.Equal(t, 2, tbl.Len())
}

func TestRun_HardErrorAborts(t *testing.T) {
	repo := headerRepo()
	badID := exposure.DataID{Visit: 1228, CCD: 50}
	repo.failOn = map[exposure.DataID]error{badID: fmt.Errorf("corrupt export")}

	p, err := New(repo, nil, Options{
		Mode:      ModeHeader,
		Tolerance: 1.0,
		Workers:   2,
	}, zap.NewNop())
	require.NoError(t, err)

	_, err = p.Run(context.Background(), []exposure.DataID{{Visit: 1228, CCD: 49}, badID})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "corrupt export")
}

func writeCatalog(t *testing.T, content string) *catalog.Catalog {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fakes.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	cat, err := catalog.ReadCSV(path)
	require.NoError(t, err)
	return cat
}

func radecRepo(t *testing.T) (*memRepo, *catalog.Catalog) {
	t.Helper()
	cat := writeCatalog(t, `id,ra,dec,radius,mag_HSC-I
1,150.0000,2.0000,1.0,24.5
2,150.0100,2.0100,4.0,22.0
3,150.0200,2.0200,1.0,23.0
`)

	id := exposure.DataID{Visit: 1300, CCD: 10}
	repo := &memRepo{
		infos: map[exposure.DataID]*exposure.Info{
			id: {DataID: id, Filter: "HSC-I", Zeropoint: 27.0},
		},
		sources: map[exposure.DataID][]exposure.Source{
			id: {
				// 0.5" from fake 1 in dec
				{ID: 21, RA: 150.0000, Dec: 2.0000 + 0.5/3600, X: 10, Y: 10,
					Columns: map[string]float64{"flux_psf": 1200, "flux_psf_err": 10}},
				// 3" from fake 2: only matches with radius scaling
				{ID: 22, RA: 150.0100, Dec: 2.0100 + 3.0/3600, X: 20, Y: 20,
					Columns: map[string]float64{"flux_psf": 900, "flux_psf_err": 8}},
			},
		},
	}
	return repo, cat
}

func TestRun_RaDecMode(t *testing.T) {
	repo, cat := radecRepo(t)

	p, err := New(repo, cat, Options{
		Mode:        ModeRaDec,
		Tolerance:   1.0,
		FluxColumns: []string{"flux_psf"},
		Workers:     1,
	}, zap.NewNop())
	require.NoError(t, err)

	tbl, err := p.Run(context.Background(), []exposure.DataID{{Visit: 1300, CCD: 10}})
	require.NoError(t, err)
	require.Equal(t, 1, tbl.Len())

	r := tbl.Rows[0]
	assert.Equal(t, int64(1), r.FakeID)
	assert.Equal(t, int64(21), r.SrcID)
	assert.InDelta(t, 0.5, r.Sep, 1e-6)
	assert.Equal(t, 150.0, r.FakeRA)
	// No WCS in this export: pixel position of the fake is unknown.
	assert.True(t, math.IsNaN(r.FakeX))
}

func TestRun_RaDecRadiusScaling(t *testing.T) {
	repo, cat := radecRepo(t)

	p, err := New(repo, cat, Options{
		Mode:          ModeRaDec,
		Tolerance:     1.0,
		ScaleByRadius: true,
		FluxColumns:   []string{"flux_psf"},
		Workers:       1,
	}, zap.NewNop())
	require.NoError(t, err)

	tbl, err := p.Run(context.Background(), []exposure.DataID{{Visit: 1300, CCD: 10}})
	require.NoError(t, err)
	require.Equal(t, 2, tbl.Len())
	assert.Equal(t, int64(2), tbl.Rows[1].FakeID)
	assert.Equal(t, int64(22), tbl.Rows[1].SrcID)
}

func TestRun_CatalogJoin(t *testing.T) {
	repo, cat := radecRepo(t)

	p, err := New(repo, cat, Options{
		Mode:        ModeRaDec,
		Tolerance:   1.0,
		JoinCatalog: true,
		FluxColumns: []string{"flux_psf"},
		Workers:     1,
	}, zap.NewNop())
	require.NoError(t, err)

	tbl, err := p.Run(context.Background(), []exposure.DataID{{Visit: 1300, CCD: 10}})
	require.NoError(t, err)

	// 1 matched row + 2 unrecovered catalog fakes.
	require.Equal(t, 3, tbl.Len())
	assert.True(t, tbl.Joined)
	assert.Equal(t, 24.5, tbl.Rows[0].CatMag)
	assert.Equal(t, 1, tbl.Recovered())

	unrec := tbl.Rows[1]
	assert.False(t, unrec.Matched)
	assert.Equal(t, "HSC-I", unrec.Filter)
	assert.Equal(t, 22.0, unrec.CatMag)
}

func TestNew_Validation(t *testing.T) {
	repo := headerRepo()

	_, err := New(nil, nil, Options{Mode: ModeHeader, Tolerance: 1}, nil)
	assert.Error(t, err)

	_, err = New(repo, nil, Options{Mode: ModeHeader, Tolerance: 0}, nil)
	assert.Error(t, err)

	_, err = New(repo, nil, Options{Mode: "nearest", Tolerance: 1}, nil)
	assert.Error(t, err)

	_, err = New(repo, nil, Options{Mode: ModeRaDec, Tolerance: 1}, nil)
	assert.Error(t, err)

	_, err = New(repo, nil, Options{Mode: ModeHeader, Tolerance: 1, JoinCatalog: true}, nil)
	assert.Error(t, err)

	_, err = New(repo, nil, Options{Mode: ModeHeader, Tolerance: 1, ScaleByRadius: true}, nil)
	assert.Error(t, err)
}

func TestExpandDataIDs(t *testing.T) {
	ids := ExpandDataIDs([]int{1, 2}, []int{10, 11})
	require.Len(t, ids, 4)
	assert.Equal(t, exposure.DataID{Visit: 1, CCD: 10}, ids[0])
	assert.Equal(t, exposure.DataID{Visit: 2, CCD: 11}, ids[3])
}
