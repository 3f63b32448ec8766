// Package persist saves simulation stores and round summaries to SQLite so a
// run can be inspected or resumed. A store is reconstructed by replaying its
// entries in index order.
package persist

import (
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/inference-sim/nre-sim/nre"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id      TEXT PRIMARY KEY,
	created_at  TEXT NOT NULL,
	dim         INTEGER NOT NULL,
	seed        INTEGER NOT NULL,
	config_json TEXT
);

CREATE TABLE IF NOT EXISTS entries (
	run_id      TEXT NOT NULL,
	idx         INTEGER NOT NULL,
	draw        BLOB NOT NULL,
	observation BLOB,
	filled      INTEGER NOT NULL DEFAULT 0,
	proposal    TEXT NOT NULL,
	PRIMARY KEY (run_id, idx),
	FOREIGN KEY (run_id) REFERENCES runs(run_id)
);

CREATE TABLE IF NOT EXISTS rounds (
	run_id        TEXT NOT NULL,
	round         INTEGER NOT NULL,
	volume        REAL NOT NULL,
	region        TEXT NOT NULL,
	requested     INTEGER NOT NULL,
	reused        INTEGER NOT NULL,
	appended      INTEGER NOT NULL,
	drawn         INTEGER NOT NULL,
	next_axes     TEXT,
	snapshot_kind TEXT,
	snapshot      BLOB,
	PRIMARY KEY (run_id, round),
	FOREIGN KEY (run_id) REFERENCES runs(run_id)
);
`

// ErrUnknownRun is returned for run IDs with no runs row.
var ErrUnknownRun = errors.New("persist: unknown run")

// DB is a SQLite-backed archive of inference runs.
type DB struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies the schema.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &DB{db: db}, nil
}

// Close closes the underlying database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Run describes one persisted inference run.
type Run struct {
	ID        string
	CreatedAt time.Time
	Dim       int
	Seed      int64
	Config    string // free-form, typically the YAML run config
}

// CreateRun inserts a new run with a fresh ID and returns it.
func (d *DB) CreateRun(dim int, seed int64, config string) (Run, error) {
	r := Run{
		ID:        uuid.New().String(),
		CreatedAt: time.Now().UTC(),
		Dim:       dim,
		Seed:      seed,
		Config:    config,
	}
	_, err := d.db.Exec(
		`INSERT INTO runs (run_id, created_at, dim, seed, config_json) VALUES (?, ?, ?, ?, ?)`,
		r.ID, r.CreatedAt.Format(time.RFC3339Nano), r.Dim, r.Seed, r.Config,
	)
	if err != nil {
		return Run{}, fmt.Errorf("insert run: %w", err)
	}
	return r, nil
}

// GetRun returns the run with the given ID.
func (d *DB) GetRun(runID string) (Run, error) {
	row := d.db.QueryRow(`SELECT run_id, created_at, dim, seed, config_json FROM runs WHERE run_id = ?`, runID)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrUnknownRun, runID)
	}
	return r, err
}

// ListRuns returns every run, oldest first.
func (d *DB) ListRuns() ([]Run, error) {
	rows, err := d.db.Query(`SELECT run_id, created_at, dim, seed, config_json FROM runs ORDER BY created_at, run_id`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()
	var out []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (Run, error) {
	var r Run
	var created string
	var cfg sql.NullString
	if err := s.Scan(&r.ID, &created, &r.Dim, &r.Seed, &cfg); err != nil {
		return Run{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, created)
	if err != nil {
		return Run{}, fmt.Errorf("parse created_at: %w", err)
	}
	r.CreatedAt = t
	r.Config = cfg.String
	return r, nil
}

// SaveStore writes every store entry of runID in one transaction. Entries
// already saved are updated in place, so saving after each round only moves
// pending entries to filled.
func (d *DB) SaveStore(runID string, store *nre.SimulationStore) error {
	if _, err := d.GetRun(runID); err != nil {
		return err
	}
	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		`INSERT INTO entries (run_id, idx, draw, observation, filled, proposal) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(run_id, idx) DO UPDATE SET observation = excluded.observation, filled = excluded.filled`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range store.Records() {
		proposal, err := json.Marshal(regionPairs(e.Proposal))
		if err != nil {
			return fmt.Errorf("marshal proposal %d: %w", e.Index, err)
		}
		var obs []byte
		if e.Filled {
			obs = encodeFloats(e.Observation)
		}
		if _, err := stmt.Exec(runID, e.Index, encodeFloats(e.Draw), obs, e.Filled, string(proposal)); err != nil {
			return fmt.Errorf("insert entry %d: %w", e.Index, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// LoadStore rebuilds the store of runID by replaying its entries in index
// order.
func (d *DB) LoadStore(runID string) (*nre.SimulationStore, error) {
	if _, err := d.GetRun(runID); err != nil {
		return nil, err
	}
	rows, err := d.db.Query(
		`SELECT idx, draw, observation, filled, proposal FROM entries WHERE run_id = ? ORDER BY idx`, runID)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	var records []nre.Entry
	for rows.Next() {
		var (
			e        nre.Entry
			draw     []byte
			obs      []byte
			proposal string
		)
		if err := rows.Scan(&e.Index, &draw, &obs, &e.Filled, &proposal); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		e.Draw = decodeFloats(draw)
		if e.Filled {
			e.Observation = decodeFloats(obs)
		}
		var pairs [][][2]float64
		if err := json.Unmarshal([]byte(proposal), &pairs); err != nil {
			return nil, fmt.Errorf("decode proposal %d: %w", e.Index, err)
		}
		if e.Proposal, err = regionFromPairs(pairs); err != nil {
			return nil, fmt.Errorf("proposal %d: %w", e.Index, err)
		}
		records = append(records, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return nre.ReplayStore(records)
}

// StoreCounts returns the number of saved entries of runID and how many are
// still pending.
func (d *DB) StoreCounts(runID string) (entries, pending int, err error) {
	err = d.db.QueryRow(
		`SELECT COUNT(*), COALESCE(SUM(CASE WHEN filled = 0 THEN 1 ELSE 0 END), 0) FROM entries WHERE run_id = ?`,
		runID).Scan(&entries, &pending)
	if err != nil {
		return 0, 0, fmt.Errorf("count entries: %w", err)
	}
	return entries, pending, nil
}

func encodeFloats(v []float64) []byte {
	buf := make([]byte, 8*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(f))
	}
	return buf
}

func decodeFloats(b []byte) []float64 {
	v := make([]float64, len(b)/8)
	for i := range v {
		v[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[i*8:]))
	}
	return v
}

func regionPairs(r nre.FactorRegion) [][][2]float64 {
	out := make([][][2]float64, r.Dim())
	for i := range out {
		out[i] = r.Axis(i).Pairs()
	}
	return out
}

// regionFromPairs inverts regionPairs. No axes yields the zero region.
func regionFromPairs(pairs [][][2]float64) (nre.FactorRegion, error) {
	if len(pairs) == 0 {
		return nre.FactorRegion{}, nil
	}
	axes := make([]nre.IntervalSet, len(pairs))
	for i, p := range pairs {
		s, err := nre.NewIntervalSet(p)
		if err != nil {
			return nre.FactorRegion{}, fmt.Errorf("axis %d: %w", i, err)
		}
		axes[i] = s
	}
	return nre.NewFactorRegion(axes), nil
}
