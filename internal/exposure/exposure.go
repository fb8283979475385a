// Package exposure models read-only access to the products of the
// upstream measurement pipeline: per-exposure calibration metadata,
// header key/values, an approximate WCS, and the detected-source
// records. The pipeline framework itself (image calibration, FITS
// I/O, projection math) stays on the other side of the Repository
// interface.
package exposure

import (
	"errors"
	"fmt"
	"math"
)

// ErrNotFound is returned when a repository has no data for a DataID.
var ErrNotFound = errors.New("exposure not found")

// DataID identifies one exposure (one visit/ccd pair) in a repository.
type DataID struct {
	Visit int
	CCD   int
}

func (id DataID) String() string {
	return fmt.Sprintf("visit=%d ccd=%d", id.Visit, id.CCD)
}

// Metadata is the exposure header key/value set.
type Metadata map[string]string

// Info carries per-exposure identity and calibration.
type Info struct {
	DataID    DataID
	Filter    string
	Zeropoint float64
	Metadata  Metadata

	// WCS is the approximate pixel/sky mapping for this exposure, or
	// nil when the export carries none.
	WCS WCS
}

// Source is one detected source record from the measurement catalog.
// Columns holds every measurement column beyond identity and
// coordinates; missing or unparseable values are NaN.
type Source struct {
	ID      int64
	X, Y    float64
	RA, Dec float64
	Columns map[string]float64
}

// Column returns the named measurement column, NaN when absent.
func (s *Source) Column(name string) float64 {
	if v, ok := s.Columns[name]; ok {
		return v
	}
	return math.NaN()
}

// Repository serves exposures the way the upstream data butler does.
// Implementations return ErrNotFound (possibly wrapped) for dataIds
// they have no data for.
type Repository interface {
	// Exposure returns calibration and header metadata for one exposure.
	Exposure(id DataID) (*Info, error)

	// Sources returns the detected-source catalog for one exposure.
	Sources(id DataID) ([]Source, error)
}
