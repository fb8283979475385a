// Package pipeline orchestrates an injection-recovery match run:
// fan out per-exposure matching over a bounded worker pool, assemble
// per-match rows with derived photometry, stack the per-exposure
// tables in a deterministic order, and optionally join the result
// against the full fake-source catalog.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"fakematch/internal/catalog"
	"fakematch/internal/exposure"
	"fakematch/internal/logging"
	"fakematch/internal/match"
	"fakematch/internal/photom"
	"fakematch/internal/table"
)

// Mode selects where fake positions come from.
type Mode string

const (
	// ModeHeader reads fake pixel positions from exposure metadata.
	ModeHeader Mode = "header"
	// ModeRaDec matches catalog sky positions against detection
	// sky coordinates.
	ModeRaDec Mode = "radec"
)

// Options configures a match run.
type Options struct {
	Mode Mode

	// Tolerance in pixels (header) or arcseconds (radec).
	Tolerance float64

	// ScaleByRadius multiplies the radec tolerance per fake by its
	// catalog radius.
	ScaleByRadius bool

	// IncludeMissing emits a row for every header fake with no match.
	// In radec mode unrecovered fakes surface through the catalog
	// join instead, since the header is what ties a fake to an
	// exposure.
	IncludeMissing bool

	// JoinCatalog left-joins the stacked table against the catalog.
	JoinCatalog bool

	// FluxColumns are carried through with derived magnitudes.
	FluxColumns []string

	// Workers bounds concurrent per-exposure matching.
	Workers int
}

// Pipeline runs matching over a repository.
type Pipeline struct {
	repo exposure.Repository
	cat  *catalog.Catalog
	opts Options
	log  *zap.Logger
}

// New validates options and builds a pipeline. cat may be nil in
// header mode when no catalog join is wanted.
func New(repo exposure.Repository, cat *catalog.Catalog, opts Options, log *zap.Logger) (*Pipeline, error) {
	if repo == nil {
		return nil, fmt.Errorf("repository required")
	}
	if opts.Tolerance <= 0 {
		return nil, fmt.Errorf("tolerance must be positive, got %g", opts.Tolerance)
	}
	switch opts.Mode {
	case ModeHeader, ModeRaDec:
	default:
		return nil, fmt.Errorf("unknown match mode %q", opts.Mode)
	}
	if opts.Mode == ModeRaDec && cat == nil {
		return nil, fmt.Errorf("radec mode requires a fake-source catalog")
	}
	if opts.JoinCatalog && cat == nil {
		return nil, fmt.Errorf("catalog join requires a fake-source catalog")
	}
	if opts.ScaleByRadius && opts.Mode != ModeRaDec {
		return nil, fmt.Errorf("radius scaling only applies to radec mode")
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Pipeline{repo: repo, cat: cat, opts: opts, log: log}, nil
}

// ExpandDataIDs builds the visit x ccd cross product in input order.
func ExpandDataIDs(visits, ccds []int) []exposure.DataID {
	ids := make([]exposure.DataID, 0, len(visits)*len(ccds))
	for _, v := range visits {
		for _, c := range ccds {
			ids = append(ids, exposure.DataID{Visit: v, CCD: c})
		}
	}
	return ids
}

// Run matches every exposure in ids and returns the stacked table.
// Exposures missing from the repository are skipped with a warning,
// mirroring how the upstream butler tolerates absent ccds; any other
// error aborts the run.
func (p *Pipeline) Run(ctx context.Context, ids []exposure.DataID) (*table.Table, error) {
	timer := logging.StartTimer(logging.CategoryPipeline, "Run")
	defer timer.Stop()

	results := make([]*table.Table, len(ids))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Workers)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			tbl, err := p.matchOne(ctx, id)
			if err != nil {
				if errors.Is(err, exposure.ErrNotFound) {
					p.log.Warn("no data for exposure, skipping",
						zap.Int("visit", id.Visit), zap.Int("ccd", id.CCD))
					logging.Pipeline("skipping %s: no data", id)
					return nil
				}
				return fmt.Errorf("%s: %w", id, err)
			}
			results[i] = tbl
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	stacked, err := table.Stack(results...)
	if err != nil {
		return nil, err
	}
	p.log.Info("stacked match tables",
		zap.Int("exposures", len(ids)), zap.Int("rows", stacked.Len()))

	if p.opts.JoinCatalog {
		stacked = stacked.JoinCatalog(p.cat, p.commonFilter(stacked))
		p.log.Info("joined against fake catalog",
			zap.Int("catalog", p.cat.Len()), zap.Int("rows", stacked.Len()))
	}
	return stacked, nil
}

// commonFilter returns the filter shared by every row, or "" when the
// run spans filters; the join then has no injected magnitude for
// synthesized rows.
func (p *Pipeline) commonFilter(tbl *table.Table) string {
	filter := ""
	for i := range tbl.Rows {
		f := tbl.Rows[i].Filter
		if f == "" {
			continue
		}
		if filter == "" {
			filter = f
		} else if filter != f {
			return ""
		}
	}
	return filter
}

// matchOne produces the match table for a single exposure.
func (p *Pipeline) matchOne(ctx context.Context, id exposure.DataID) (*table.Table, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	info, err := p.repo.Exposure(id)
	if err != nil {
		return nil, err
	}
	srcs, err := p.repo.Sources(id)
	if err != nil {
		return nil, err
	}

	switch p.opts.Mode {
	case ModeHeader:
		return p.matchHeader(info, srcs)
	case ModeRaDec:
		return p.matchRaDec(info, srcs)
	}
	return nil, fmt.Errorf("unknown match mode %q", p.opts.Mode)
}

func (p *Pipeline) matchHeader(info *exposure.Info, srcs []exposure.Source) (*table.Table, error) {
	fakes, bad := exposure.ParseFakeHeader(info.Metadata)
	for _, key := range bad {
		p.log.Warn("malformed fake header entry",
			zap.Int("visit", info.DataID.Visit), zap.Int("ccd", info.DataID.CCD),
			zap.String("key", key))
	}
	logging.Match("%s: %d fakes in header, %d detections", info.DataID, len(fakes), len(srcs))

	fakePos := make([]match.Pos, len(fakes))
	for i, f := range fakes {
		fakePos[i] = match.Pos{X: f.X, Y: f.Y}
	}
	srcPos := make([]match.Pos, len(srcs))
	for i := range srcs {
		srcPos[i] = match.Pos{X: srcs[i].X, Y: srcs[i].Y}
	}

	pairs := match.Pixels(fakePos, srcPos, p.opts.Tolerance)
	counts := match.CountByFake(pairs)

	tbl := table.New(p.opts.FluxColumns)
	for _, pr := range pairs {
		fake := fakes[pr.FakeIndex]
		src := &srcs[pr.SrcIndex]

		row := p.baseRow(info, fake.ID)
		row.FakeX, row.FakeY = fake.X, fake.Y
		if info.WCS != nil {
			row.FakeRA, row.FakeDec = info.WCS.PixelToSky(fake.X, fake.Y)
		}
		row.SrcID = src.ID
		row.SrcX, row.SrcY = src.X, src.Y
		row.OffsetX = src.X - fake.X
		row.OffsetY = src.Y - fake.Y
		row.Sep = pr.Sep
		row.NMatched = counts[pr.FakeIndex]
		row.Nearest = pr.Nearest
		row.Matched = true
		p.attachPhotometry(&row, src, info.Zeropoint)
		tbl.Append(row)
	}

	if p.opts.IncludeMissing {
		for i, fake := range fakes {
			if counts[i] > 0 {
				continue
			}
			row := p.baseRow(info, fake.ID)
			row.FakeX, row.FakeY = fake.X, fake.Y
			if info.WCS != nil {
				row.FakeRA, row.FakeDec = info.WCS.PixelToSky(fake.X, fake.Y)
			}
			tbl.Append(row)
		}
	}
	return tbl, nil
}

func (p *Pipeline) matchRaDec(info *exposure.Info, srcs []exposure.Source) (*table.Table, error) {
	fakePos := make([]match.SkyPos, p.cat.Len())
	for i := range p.cat.Sources {
		fakePos[i] = match.SkyPos{RA: p.cat.Sources[i].RA, Dec: p.cat.Sources[i].Dec}
	}
	srcPos := make([]match.SkyPos, len(srcs))
	for i := range srcs {
		srcPos[i] = match.SkyPos{RA: srcs[i].RA, Dec: srcs[i].Dec}
	}

	var radii []float64
	if p.opts.ScaleByRadius {
		radii = p.cat.Radii()
	}

	pairs, err := match.Sky(fakePos, srcPos, p.opts.Tolerance, radii)
	if err != nil {
		return nil, err
	}
	counts := match.CountByFake(pairs)
	logging.Match("%s: %d catalog fakes, %d detections, %d pairs", info.DataID, p.cat.Len(), len(srcs), len(pairs))

	tbl := table.New(p.opts.FluxColumns)
	for _, pr := range pairs {
		fake := &p.cat.Sources[pr.FakeIndex]
		src := &srcs[pr.SrcIndex]

		row := p.baseRow(info, fake.ID)
		row.FakeRA, row.FakeDec = fake.RA, fake.Dec
		if info.WCS != nil {
			row.FakeX, row.FakeY = info.WCS.SkyToPixel(fake.RA, fake.Dec)
			row.OffsetX = src.X - row.FakeX
			row.OffsetY = src.Y - row.FakeY
		}
		row.SrcID = src.ID
		row.SrcX, row.SrcY = src.X, src.Y
		row.Sep = pr.Sep
		row.NMatched = counts[pr.FakeIndex]
		row.Nearest = pr.Nearest
		row.Matched = true
		p.attachPhotometry(&row, src, info.Zeropoint)
		tbl.Append(row)
	}
	return tbl, nil
}

// baseRow seeds a row with exposure identity and NaN positions.
func (p *Pipeline) baseRow(info *exposure.Info, fakeID int64) table.Row {
	nan := math.NaN()
	return table.Row{
		FakeID:    fakeID,
		Visit:     info.DataID.Visit,
		CCD:       info.DataID.CCD,
		Filter:    info.Filter,
		Zeropoint: info.Zeropoint,
		FakeX:     nan, FakeY: nan,
		FakeRA: nan, FakeDec: nan,
		SrcX: nan, SrcY: nan,
		OffsetX: nan, OffsetY: nan,
		Sep:    nan,
		CatMag: nan,
	}
}

// attachPhotometry carries the configured flux columns through and
// derives calibrated magnitudes under the exposure zeropoint.
func (p *Pipeline) attachPhotometry(row *table.Row, src *exposure.Source, zp float64) {
	row.Fluxes = make(map[string]float64, len(p.opts.FluxColumns))
	row.FluxErrs = make(map[string]float64, len(p.opts.FluxColumns))
	row.Mags = make(map[string]float64, len(p.opts.FluxColumns))
	row.MagErrs = make(map[string]float64, len(p.opts.FluxColumns))

	for _, col := range p.opts.FluxColumns {
		flux := src.Column(col)
		fluxErr := src.Column(col + "_err")
		row.Fluxes[col] = flux
		row.FluxErrs[col] = fluxErr
		row.Mags[col] = photom.Mag(flux, zp)
		row.MagErrs[col] = photom.MagErr(flux, fluxErr)
	}
}
