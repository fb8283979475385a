package exposure

import (
	"math"
	"testing"
)

// hscLikeWCS returns a 0.168"/pixel mapping, the HSC plate scale.
func hscLikeWCS(t *testing.T) *LinearWCS {
	t.Helper()
	scale := 0.168 / 3600 // degrees per pixel
	wcs, err := NewLinearWCS(
		[2]float64{150.0, 2.0},
		[2]float64{1024.5, 2048.5},
		[2][2]float64{{-scale, 0}, {0, scale}},
	)
	if err != nil {
		t.Fatalf("NewLinearWCS failed: %v", err)
	}
	return wcs
}

func TestLinearWCS_RoundTrip(t *testing.T) {
	wcs := hscLikeWCS(t)

	for _, p := range [][2]float64{{1024.5, 2048.5}, {0, 0}, {2047, 4095}, {512.25, 1000.75}} {
		ra, dec := wcs.PixelToSky(p[0], p[1])
		x, y := wcs.SkyToPixel(ra, dec)
		if math.Abs(x-p[0]) > 1e-6 || math.Abs(y-p[1]) > 1e-6 {
			t.Errorf("round trip (%g,%g) -> (%g,%g) -> (%g,%g)", p[0], p[1], ra, dec, x, y)
		}
	}
}

func TestLinearWCS_ReferencePixel(t *testing.T) {
	wcs := hscLikeWCS(t)
	ra, dec := wcs.PixelToSky(1024.5, 2048.5)
	if math.Abs(ra-150.0) > 1e-12 || math.Abs(dec-2.0) > 1e-12 {
		t.Errorf("reference pixel should map to crval, got (%g, %g)", ra, dec)
	}
}

func TestLinearWCS_PixelScale(t *testing.T) {
	wcs := hscLikeWCS(t)
	if got := wcs.PixelScale(); math.Abs(got-0.168) > 1e-9 {
		t.Errorf("expected 0.168 arcsec/pixel, got %g", got)
	}
}

func TestNewLinearWCS_Singular(t *testing.T) {
	_, err := NewLinearWCS([2]float64{0, 0}, [2]float64{0, 0}, [2][2]float64{{1, 1}, {1, 1}})
	if err == nil {
		t.Error("expected error for singular CD matrix")
	}
}
