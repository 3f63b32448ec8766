package persist

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/inference-sim/nre-sim/nre"
)

// RoundRow is the persisted summary of one round.
type RoundRow struct {
	Round        int
	Volume       float64
	Region       [][][2]float64 // per-axis intervals the round sampled from
	Requested    int
	Reused       int
	Appended     int
	Drawn        int
	NextAxes     [][][2]float64 // extracted intervals; nil until the round trained
	SnapshotKind string
	Snapshot     []byte
}

// Completed reports whether the round's training result was recorded.
func (r RoundRow) Completed() bool {
	return r.NextAxes != nil
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

// RecordRound upserts the summary of rec, plus its training result when res
// is non-nil. The row is replaced as a whole: a nil res clears a training
// result recorded earlier for the same round.
func (d *DB) RecordRound(runID string, rec nre.RoundRecord, res *nre.RoundResult) error {
	if _, err := d.GetRun(runID); err != nil {
		return err
	}
	return recordRound(d.db, runID, rec, res)
}

func recordRound(ex execer, runID string, rec nre.RoundRecord, res *nre.RoundResult) error {
	region, err := json.Marshal(regionPairs(rec.Region))
	if err != nil {
		return fmt.Errorf("marshal region: %w", err)
	}
	var (
		nextAxes any
		kind     any
		snapshot any
	)
	if res != nil {
		pairs := make([][][2]float64, len(res.Axes))
		for i, a := range res.Axes {
			pairs[i] = a.Pairs()
		}
		b, err := json.Marshal(pairs)
		if err != nil {
			return fmt.Errorf("marshal axes: %w", err)
		}
		nextAxes, kind, snapshot = string(b), res.Snapshot.Kind, res.Snapshot.Data
	}
	requested := 0
	if rec.Intensity != nil {
		requested = rec.Intensity.N()
	}
	_, err = ex.Exec(
		`INSERT INTO rounds (run_id, round, volume, region, requested, reused, appended, drawn, next_axes, snapshot_kind, snapshot)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(run_id, round) DO UPDATE SET
			volume = excluded.volume,
			region = excluded.region,
			requested = excluded.requested,
			reused = excluded.reused,
			appended = excluded.appended,
			drawn = excluded.drawn,
			next_axes = excluded.next_axes,
			snapshot_kind = excluded.snapshot_kind,
			snapshot = excluded.snapshot`,
		runID, rec.Round, rec.Region.Volume(), string(region), requested,
		rec.Reused, rec.Appended, rec.Drawn, nextAxes, kind, snapshot,
	)
	if err != nil {
		return fmt.Errorf("insert round %d: %w", rec.Round, err)
	}
	return nil
}

// ListRounds returns the round summaries of runID in round order.
func (d *DB) ListRounds(runID string) ([]RoundRow, error) {
	rows, err := d.db.Query(
		`SELECT round, volume, region, requested, reused, appended, drawn, next_axes, snapshot_kind, snapshot
		 FROM rounds WHERE run_id = ? ORDER BY round`, runID)
	if err != nil {
		return nil, fmt.Errorf("query rounds: %w", err)
	}
	defer rows.Close()
	var out []RoundRow
	for rows.Next() {
		var (
			r        RoundRow
			region   string
			nextAxes sql.NullString
			kind     sql.NullString
		)
		if err := rows.Scan(&r.Round, &r.Volume, &region, &r.Requested, &r.Reused, &r.Appended, &r.Drawn,
			&nextAxes, &kind, &r.Snapshot); err != nil {
			return nil, fmt.Errorf("scan round: %w", err)
		}
		if err := json.Unmarshal([]byte(region), &r.Region); err != nil {
			return nil, fmt.Errorf("decode region of round %d: %w", r.Round, err)
		}
		if nextAxes.Valid {
			if err := json.Unmarshal([]byte(nextAxes.String), &r.NextAxes); err != nil {
				return nil, fmt.Errorf("decode axes of round %d: %w", r.Round, err)
			}
		}
		r.SnapshotKind = kind.String
		out = append(out, r)
	}
	return out, rows.Err()
}

// SaveHistory replaces the rounds of runID with those of h, in one
// transaction. Rows beyond h, left by an earlier run of the same store, are
// deleted.
func (d *DB) SaveHistory(runID string, h *nre.History) error {
	if _, err := d.GetRun(runID); err != nil {
		return err
	}
	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM rounds WHERE run_id = ? AND round >= ?`, runID, h.Len()); err != nil {
		return fmt.Errorf("delete stale rounds: %w", err)
	}
	for i, rec := range h.Records() {
		var res *nre.RoundResult
		if i < h.Completed() {
			r, err := h.Result(i)
			if err != nil {
				return err
			}
			res = &r
		}
		if err := recordRound(tx, runID, rec, res); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
