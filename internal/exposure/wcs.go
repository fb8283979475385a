package exposure

import (
	"fmt"
	"math"
)

// WCS maps between pixel and sky coordinates. Real projection math
// lives in the upstream pipeline; exports carry a local affine
// approximation that is plenty for sub-arcminute matching.
type WCS interface {
	PixelToSky(x, y float64) (ra, dec float64)
	SkyToPixel(ra, dec float64) (x, y float64)

	// PixelScale is the mean plate scale in arcsec/pixel.
	PixelScale() float64
}

// LinearWCS is a tangent-point affine approximation: a reference sky
// position (degrees), a reference pixel, and a CD matrix in
// degrees/pixel. RA offsets are stretched by 1/cos(dec0).
type LinearWCS struct {
	CRVal [2]float64    // reference RA, Dec in degrees
	CRPix [2]float64    // reference pixel
	CD    [2][2]float64 // degrees per pixel
}

// NewLinearWCS validates the CD matrix and returns the mapping.
func NewLinearWCS(crval, crpix [2]float64, cd [2][2]float64) (*LinearWCS, error) {
	if det := cd[0][0]*cd[1][1] - cd[0][1]*cd[1][0]; det == 0 {
		return nil, fmt.Errorf("singular CD matrix")
	}
	return &LinearWCS{CRVal: crval, CRPix: crpix, CD: cd}, nil
}

// PixelToSky maps a pixel position to RA/Dec in degrees.
func (w *LinearWCS) PixelToSky(x, y float64) (ra, dec float64) {
	dx := x - w.CRPix[0]
	dy := y - w.CRPix[1]
	xi := w.CD[0][0]*dx + w.CD[0][1]*dy
	eta := w.CD[1][0]*dx + w.CD[1][1]*dy

	cosDec := math.Cos(w.CRVal[1] * math.Pi / 180)
	return w.CRVal[0] + xi/cosDec, w.CRVal[1] + eta
}

// SkyToPixel maps RA/Dec in degrees back to pixel coordinates.
func (w *LinearWCS) SkyToPixel(ra, dec float64) (x, y float64) {
	cosDec := math.Cos(w.CRVal[1] * math.Pi / 180)
	xi := (ra - w.CRVal[0]) * cosDec
	eta := dec - w.CRVal[1]

	det := w.CD[0][0]*w.CD[1][1] - w.CD[0][1]*w.CD[1][0]
	dx := (w.CD[1][1]*xi - w.CD[0][1]*eta) / det
	dy := (w.CD[0][0]*eta - w.CD[1][0]*xi) / det
	return w.CRPix[0] + dx, w.CRPix[1] + dy
}

// PixelScale returns sqrt(|det CD|) converted to arcsec/pixel.
func (w *LinearWCS) PixelScale() float64 {
	det := w.CD[0][0]*w.CD[1][1] - w.CD[0][1]*w.CD[1][0]
	return math.Sqrt(math.Abs(det)) * 3600
}
