// Package match implements the tolerance-bounded positional join
// between injected fake sources and pipeline detections.
//
// Two matchers are provided: Pixels joins pixel centroids under a
// tolerance in pixels (header-driven workflow), Sky joins sky
// coordinates under a tolerance in arcseconds (catalog-driven
// workflow), optionally scaled per fake by that source's radius.
// Both return every pair inside tolerance; a fake matched by several
// detections yields several pairs, with the closest one flagged.
package match

import (
	"fmt"
	"math"
	"sort"
)

// Pos is a 2D pixel position.
type Pos struct {
	X, Y float64
}

// SkyPos is a sky coordinate in degrees.
type SkyPos struct {
	RA, Dec float64
}

// Pair associates one fake source with one detection inside tolerance.
// Sep is in pixels for Pixels and arcseconds for Sky.
type Pair struct {
	FakeIndex int
	SrcIndex  int
	Sep       float64
	Nearest   bool
}

// Pixels matches fake pixel positions against detection centroids
// within tol pixels. NaN positions on either side never match.
// Empty inputs yield an empty result.
func Pixels(fakes, srcs []Pos, tol float64) []Pair {
	if tol <= 0 || len(fakes) == 0 || len(srcs) == 0 {
		return nil
	}

	tol2 := tol * tol
	var pairs []Pair
	for fi, f := range fakes {
		if math.IsNaN(f.X) || math.IsNaN(f.Y) {
			continue
		}
		for si, s := range srcs {
			if math.IsNaN(s.X) || math.IsNaN(s.Y) {
				continue
			}
			dx := s.X - f.X
			dy := s.Y - f.Y
			if d2 := dx*dx + dy*dy; d2 <= tol2 {
				pairs = append(pairs, Pair{FakeIndex: fi, SrcIndex: si, Sep: math.Sqrt(d2)})
			}
		}
	}
	flagNearest(pairs)
	return pairs
}

// Sky matches fake sky positions against detection sky coordinates
// within tolArcsec arcseconds. When radii is non-nil it must be the
// same length as fakes, and the effective tolerance for fake i becomes
// tolArcsec*radii[i] (NaN or non-positive radius falls back to the
// unscaled tolerance).
func Sky(fakes, srcs []SkyPos, tolArcsec float64, radii []float64) ([]Pair, error) {
	if radii != nil && len(radii) != len(fakes) {
		return nil, fmt.Errorf("radius column length %d does not match fake count %d", len(radii), len(fakes))
	}
	if tolArcsec <= 0 || len(fakes) == 0 || len(srcs) == 0 {
		return nil, nil
	}

	var pairs []Pair
	for fi, f := range fakes {
		if math.IsNaN(f.RA) || math.IsNaN(f.Dec) {
			continue
		}
		tol := tolArcsec
		if radii != nil {
			if r := radii[fi]; r > 0 && !math.IsNaN(r) {
				tol = tolArcsec * r
			}
		}
		for si, s := range srcs {
			if math.IsNaN(s.RA) || math.IsNaN(s.Dec) {
				continue
			}
			if sep := Separation(f, s); sep <= tol {
				pairs = append(pairs, Pair{FakeIndex: fi, SrcIndex: si, Sep: sep})
			}
		}
	}
	flagNearest(pairs)
	return pairs, nil
}

// Separation returns the angular separation between two sky positions
// in arcseconds, using the small-angle flat approximation with a
// cos(dec) correction on the RA axis. Adequate for the sub-arcminute
// tolerances this tool operates at.
func Separation(a, b SkyPos) float64 {
	meanDec := (a.Dec + b.Dec) / 2 * math.Pi / 180
	dra := (b.RA - a.RA) * math.Cos(meanDec)
	ddec := b.Dec - a.Dec
	return math.Hypot(dra, ddec) * 3600
}

// flagNearest sorts pairs by fake index then separation and marks the
// closest detection for each fake.
func flagNearest(pairs []Pair) {
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].FakeIndex != pairs[j].FakeIndex {
			return pairs[i].FakeIndex < pairs[j].FakeIndex
		}
		return pairs[i].Sep < pairs[j].Sep
	})
	last := -1
	for i := range pairs {
		if pairs[i].FakeIndex != last {
			pairs[i].Nearest = true
			last = pairs[i].FakeIndex
		}
	}
}

// CountByFake returns the number of matched detections per fake index.
func CountByFake(pairs []Pair) map[int]int {
	counts := make(map[int]int, len(pairs))
	for _, p := range pairs {
		counts[p.FakeIndex]++
	}
	return counts
}
