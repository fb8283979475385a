// Package store persists fake-source catalogs and match results in
// SQLite. One database holds the ingested catalog plus any number of
// match runs, so recovery fractions can be compared across reruns
// without re-reading the data repository.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"fakematch/internal/catalog"
	"fakematch/internal/logging"
	"fakematch/internal/table"
)

// Store wraps the SQLite database holding catalogs and match runs.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
}

// New initializes the SQLite database at the given path.
func New(path string) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryStore, "New")
	defer timer.Stop()

	logging.Store("opening store at %s", path)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("failed to set sqlite journal_mode=WAL: %v", err)
	}

	s := &Store{db: db, dbPath: path}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// initialize creates the required tables.
func (s *Store) initialize() error {
	catalogTable := `
	CREATE TABLE IF NOT EXISTS fake_sources (
		id INTEGER PRIMARY KEY,
		ra REAL,
		dec REAL,
		radius REAL,
		mags TEXT,
		extra TEXT,
		ingested_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`

	runsTable := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		mode TEXT NOT NULL,
		tolerance REAL NOT NULL,
		row_count INTEGER NOT NULL,
		recovered INTEGER NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`

	rowsTable := `
	CREATE TABLE IF NOT EXISTS match_rows (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		fake_id INTEGER NOT NULL,
		visit INTEGER,
		ccd INTEGER,
		filter TEXT,
		zeropoint REAL,
		fake_x REAL, fake_y REAL,
		fake_ra REAL, fake_dec REAL,
		src_id INTEGER,
		src_x REAL, src_y REAL,
		offset_x REAL, offset_y REAL,
		sep REAL,
		n_matched INTEGER,
		nearest BOOLEAN,
		matched BOOLEAN,
		fluxes TEXT,
		mags TEXT,
		cat_mag REAL
	);
	CREATE INDEX IF NOT EXISTS idx_match_rows_run ON match_rows(run_id);
	CREATE INDEX IF NOT EXISTS idx_match_rows_fake ON match_rows(fake_id);
	CREATE INDEX IF NOT EXISTS idx_match_rows_visit ON match_rows(visit);
	`

	for _, t := range []string{catalogTable, runsTable, rowsTable} {
		if _, err := s.db.Exec(t); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	logging.Store("closing store")
	return s.db.Close()
}

// IngestCatalog replaces the stored fake-source catalog.
func (s *Store) IngestCatalog(cat *catalog.Catalog) error {
	timer := logging.StartTimer(logging.CategoryStore, "IngestCatalog")
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin ingest: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM fake_sources"); err != nil {
		return fmt.Errorf("clearing catalog: %w", err)
	}

	stmt, err := tx.Prepare(`INSERT INTO fake_sources (id, ra, dec, radius, mags, extra) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare ingest: %w", err)
	}
	defer stmt.Close()

	for i := range cat.Sources {
		src := &cat.Sources[i]
		mags, err := json.Marshal(src.Mags)
		if err != nil {
			return fmt.Errorf("encoding mags for fake %d: %w", src.ID, err)
		}
		extra, err := json.Marshal(src.Extra)
		if err != nil {
			return fmt.Errorf("encoding extra for fake %d: %w", src.ID, err)
		}
		if _, err := stmt.Exec(src.ID, null(src.RA), null(src.Dec), null(src.Radius), string(mags), string(extra)); err != nil {
			return fmt.Errorf("inserting fake %d: %w", src.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit ingest: %w", err)
	}

	logging.Store("ingested %d fake sources", cat.Len())
	return nil
}

// LoadCatalog reads the stored fake-source catalog back.
func (s *Store) LoadCatalog() (*catalog.Catalog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT id, ra, dec, radius, mags, extra FROM fake_sources ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying catalog: %w", err)
	}
	defer rows.Close()

	var sources []catalog.FakeSource
	extraCols := make(map[string]bool)
	for rows.Next() {
		var src catalog.FakeSource
		var ra, dec, radius sql.NullFloat64
		var mags, extra string
		if err := rows.Scan(&src.ID, &ra, &dec, &radius, &mags, &extra); err != nil {
			return nil, fmt.Errorf("scanning catalog row: %w", err)
		}
		src.RA = denull(ra)
		src.Dec = denull(dec)
		src.Radius = denull(radius)
		if err := json.Unmarshal([]byte(mags), &src.Mags); err != nil {
			return nil, fmt.Errorf("decoding mags for fake %d: %w", src.ID, err)
		}
		if err := json.Unmarshal([]byte(extra), &src.Extra); err != nil {
			return nil, fmt.Errorf("decoding extra for fake %d: %w", src.ID, err)
		}
		for col := range src.Extra {
			extraCols[col] = true
		}
		sources = append(sources, src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading catalog: %w", err)
	}

	return catalog.FromSources(sources, extraCols), nil
}

// null converts NaN to a SQL NULL; SQLite has no NaN representation.
func null(v float64) sql.NullFloat64 {
	if math.IsNaN(v) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}

func denull(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}

// SaveRun persists one match run and its rows under the given run ID.
func (s *Store) SaveRun(runID, mode string, tolerance float64, tbl *table.Table) error {
	timer := logging.StartTimer(logging.CategoryStore, "SaveRun")
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`INSERT INTO runs (id, mode, tolerance, row_count, recovered) VALUES (?, ?, ?, ?, ?)`,
		runID, mode, tolerance, tbl.Len(), tbl.Recovered(),
	); err != nil {
		return fmt.Errorf("inserting run %s: %w", runID, err)
	}

	stmt, err := tx.Prepare(`INSERT INTO match_rows (
		run_id, fake_id, visit, ccd, filter, zeropoint,
		fake_x, fake_y, fake_ra, fake_dec,
		src_id, src_x, src_y, offset_x, offset_y, sep,
		n_matched, nearest, matched, fluxes, mags, cat_mag
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare rows: %w", err)
	}
	defer stmt.Close()

	for i := range tbl.Rows {
		r := &tbl.Rows[i]
		fluxes, err := json.Marshal(r.Fluxes)
		if err != nil {
			return fmt.Errorf("encoding fluxes: %w", err)
		}
		mags, err := json.Marshal(r.Mags)
		if err != nil {
			return fmt.Errorf("encoding mags: %w", err)
		}
		var srcID interface{}
		if r.Matched {
			srcID = r.SrcID
		}
		if _, err := stmt.Exec(
			runID, r.FakeID, r.Visit, r.CCD, r.Filter, null(r.Zeropoint),
			null(r.FakeX), null(r.FakeY), null(r.FakeRA), null(r.FakeDec),
			srcID, null(r.SrcX), null(r.SrcY), null(r.OffsetX), null(r.OffsetY), null(r.Sep),
			r.NMatched, r.Nearest, r.Matched, string(fluxes), string(mags), null(r.CatMag),
		); err != nil {
			return fmt.Errorf("inserting row for fake %d: %w", r.FakeID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save: %w", err)
	}

	logging.Store("saved run %s: %d rows, %d recovered", runID, tbl.Len(), tbl.Recovered())
	return nil
}

// RunInfo summarizes one persisted match run.
type RunInfo struct {
	ID        string
	Mode      string
	Tolerance float64
	RowCount  int
	Recovered int
	CreatedAt string
}

// Runs lists persisted runs, newest first.
func (s *Store) Runs() ([]RunInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT id, mode, tolerance, row_count, recovered, created_at FROM runs ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var runs []RunInfo
	for rows.Next() {
		var ri RunInfo
		if err := rows.Scan(&ri.ID, &ri.Mode, &ri.Tolerance, &ri.RowCount, &ri.Recovered, &ri.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		runs = append(runs, ri)
	}
	return runs, rows.Err()
}

// VisitStats is per-visit recovery for one run.
type VisitStats struct {
	Visit     int
	Fakes     int
	Recovered int
}

// StatsByVisit aggregates recovery per visit for a run. Fakes counts
// distinct fake IDs seen on the visit, Recovered those with a nearest
// match.
func (s *Store) StatsByVisit(runID string) ([]VisitStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT visit,
		       COUNT(DISTINCT fake_id),
		       COUNT(DISTINCT CASE WHEN matched AND nearest THEN fake_id END)
		FROM match_rows WHERE run_id = ?
		GROUP BY visit ORDER BY visit`, runID)
	if err != nil {
		return nil, fmt.Errorf("querying visit stats: %w", err)
	}
	defer rows.Close()

	var stats []VisitStats
	for rows.Next() {
		var vs VisitStats
		if err := rows.Scan(&vs.Visit, &vs.Fakes, &vs.Recovered); err != nil {
			return nil, fmt.Errorf("scanning visit stats: %w", err)
		}
		stats = append(stats, vs)
	}
	return stats, rows.Err()
}
