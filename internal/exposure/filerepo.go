package exposure

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"

	"fakematch/internal/photom"
)

// FileRepository reads the directory export format produced by our
// pipeline dumps: one directory per exposure at
// <root>/<visit>/<ccd>/ containing exposure.yaml (identity,
// calibration, header metadata, optional WCS) and sources.csv (the
// measured source catalog).
type FileRepository struct {
	root string
}

// NewFileRepository opens an export tree rooted at root.
func NewFileRepository(root string) (*FileRepository, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("data root %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("data root %s is not a directory", root)
	}
	return &FileRepository{root: root}, nil
}

func (r *FileRepository) dir(id DataID) string {
	return filepath.Join(r.root, strconv.Itoa(id.Visit), strconv.Itoa(id.CCD))
}

// exposureFile mirrors the exposure.yaml sidecar schema.
type exposureFile struct {
	Visit     int               `yaml:"visit"`
	CCD       int               `yaml:"ccd"`
	Filter    string            `yaml:"filter"`
	Zeropoint float64           `yaml:"zeropoint"`
	FluxMag0  float64           `yaml:"fluxmag0"`
	Metadata  map[string]string `yaml:"metadata"`
	WCS       *wcsFile          `yaml:"wcs"`
}

type wcsFile struct {
	CRVal [2]float64    `yaml:"crval"`
	CRPix [2]float64    `yaml:"crpix"`
	CD    [2][2]float64 `yaml:"cd"`
}

// Exposure implements Repository.
func (r *FileRepository) Exposure(id DataID) (*Info, error) {
	path := filepath.Join(r.dir(id), "exposure.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var ef exposureFile
	if err := yaml.Unmarshal(data, &ef); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if ef.Visit != id.Visit || ef.CCD != id.CCD {
		return nil, fmt.Errorf("%s claims visit=%d ccd=%d, expected %s", path, ef.Visit, ef.CCD, id)
	}

	zp := ef.Zeropoint
	if zp == 0 && ef.FluxMag0 > 0 {
		zp = photom.Zeropoint(ef.FluxMag0)
	}

	info := &Info{
		DataID:    id,
		Filter:    ef.Filter,
		Zeropoint: zp,
		Metadata:  Metadata(ef.Metadata),
	}
	if ef.WCS != nil {
		wcs, err := NewLinearWCS(ef.WCS.CRVal, ef.WCS.CRPix, ef.WCS.CD)
		if err != nil {
			return nil, fmt.Errorf("%s: bad wcs: %w", path, err)
		}
		info.WCS = wcs
	}
	return info, nil
}

// Sources implements Repository. The CSV must carry id, x and y
// columns; ra/dec are optional; every other column is parsed as a
// measurement value, NaN when empty or unparseable.
func (r *FileRepository) Sources(id DataID) ([]Source, error) {
	path := filepath.Join(r.dir(id), "sources.csv")
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%s: empty source catalog", path)
	}

	header := records[0]
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[name] = i
	}
	for _, required := range []string{"id", "x", "y"} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("%s: missing required column %q", path, required)
		}
	}

	sources := make([]Source, 0, len(records)-1)
	for _, rec := range records[1:] {
		srcID, err := strconv.ParseInt(rec[col["id"]], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%s: bad source id %q: %w", path, rec[col["id"]], err)
		}

		src := Source{
			ID:      srcID,
			X:       parseFloat(rec, col, "x"),
			Y:       parseFloat(rec, col, "y"),
			RA:      parseFloat(rec, col, "ra"),
			Dec:     parseFloat(rec, col, "dec"),
			Columns: make(map[string]float64),
		}
		for name, i := range col {
			switch name {
			case "id", "x", "y", "ra", "dec":
				continue
			}
			src.Columns[name] = parseCell(rec[i])
		}
		sources = append(sources, src)
	}
	return sources, nil
}

func parseFloat(rec []string, col map[string]int, name string) float64 {
	i, ok := col[name]
	if !ok {
		return math.NaN()
	}
	return parseCell(rec[i])
}

func parseCell(cell string) float64 {
	v, err := strconv.ParseFloat(cell, 64)
	if err != nil {
		return math.NaN()
	}
	return v
}
