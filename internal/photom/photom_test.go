package photom

import (
	"math"
	"testing"
)

func TestZeropoint(t *testing.T) {
	fluxMag0 := math.Pow(10, 0.4*27)
	if zp := Zeropoint(fluxMag0); math.Abs(zp-27) > 1e-9 {
		t.Errorf("Zeropoint(%g) = %g, want 27", fluxMag0, zp)
	}
	if !math.IsNaN(Zeropoint(0)) {
		t.Error("Zeropoint(0) should be NaN")
	}
	if !math.IsNaN(Zeropoint(-1)) {
		t.Error("Zeropoint(-1) should be NaN")
	}
}

func TestMag(t *testing.T) {
	// flux 1000 under zeropoint 30: 30 - 2.5*3 = 22.5
	if m := Mag(1000, 30); math.Abs(m-22.5) > 1e-9 {
		t.Errorf("Mag(1000, 30) = %g, want 22.5", m)
	}
	for _, flux := range []float64{0, -5, math.NaN()} {
		if !math.IsNaN(Mag(flux, 30)) {
			t.Errorf("Mag(%g, 30) should be NaN", flux)
		}
	}
}

func TestMagErr(t *testing.T) {
	want := 2.5 / math.Ln10 * 0.01
	if e := MagErr(1000, 10); math.Abs(e-want) > 1e-12 {
		t.Errorf("MagErr(1000, 10) = %g, want %g", e, want)
	}
	if !math.IsNaN(MagErr(0, 10)) {
		t.Error("MagErr with zero flux should be NaN")
	}
	if !math.IsNaN(MagErr(1000, math.NaN())) {
		t.Error("MagErr with NaN fluxErr should be NaN")
	}
}

func TestFluxRoundTrip(t *testing.T) {
	const zp = 27.0
	for _, mag := range []float64{18, 22.5, 26} {
		flux := Flux(mag, zp)
		if back := Mag(flux, zp); math.Abs(back-mag) > 1e-9 {
			t.Errorf("Mag(Flux(%g)) = %g, want %g", mag, back, mag)
		}
	}
}
