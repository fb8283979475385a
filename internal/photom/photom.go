// Package photom converts instrumental fluxes to calibrated magnitudes.
//
// The measurement pipeline reports fluxes in counts; the exposure
// calibration supplies either a zeropoint directly or the flux of a
// zero-magnitude source (fluxmag0). Everything here is a pure function
// so callers can vectorize over whole catalogs.
package photom

import "math"

// Zeropoint derives the magnitude zeropoint from fluxmag0, the
// instrumental flux of a zero-magnitude source.
// Returns NaN for non-positive fluxmag0.
func Zeropoint(fluxMag0 float64) float64 {
	if !(fluxMag0 > 0) {
		return math.NaN()
	}
	return 2.5 * math.Log10(fluxMag0)
}

// Mag converts an instrumental flux to a calibrated magnitude using the
// exposure zeropoint. Non-positive or NaN flux yields NaN.
func Mag(flux, zeropoint float64) float64 {
	if !(flux > 0) {
		return math.NaN()
	}
	return zeropoint - 2.5*math.Log10(flux)
}

// MagErr propagates a flux error into a magnitude error:
// 2.5/ln(10) * fluxErr/flux. Non-positive flux yields NaN.
func MagErr(flux, fluxErr float64) float64 {
	if !(flux > 0) || math.IsNaN(fluxErr) {
		return math.NaN()
	}
	return 2.5 / math.Ln10 * fluxErr / flux
}

// Flux inverts Mag: the instrumental flux of a source of the given
// magnitude under the given zeropoint.
func Flux(mag, zeropoint float64) float64 {
	if math.IsNaN(mag) || math.IsNaN(zeropoint) {
		return math.NaN()
	}
	return math.Pow(10, 0.4*(zeropoint-mag))
}
