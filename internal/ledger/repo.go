package ledger

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/starford/mira/internal/apperr"
)

// Schematic statuses.
const (
	StatusPending = "pending"
	StatusDone    = "done"
	StatusSkipped = "skipped"
)

// SchematicRow is a row in the schematics table.
type SchematicRow struct {
	Path         string        `json:"path"`
	Name         string        `json:"name"`
	Checksum     string        `json:"checksum"`
	Status       string        `json:"status"`
	Records      int           `json:"records"`
	Samples      int           `json:"samples"`
	SlotsSkipped int           `json:"slots_skipped"`
	Attempts     int           `json:"attempts"`
	Reason       string        `json:"reason,omitempty"`
	Duration     time.Duration `json:"duration"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// SampleRow is a row in the samples table.
type SampleRow struct {
	ID           string    `json:"id"`
	Schematic    string    `json:"schematic"`
	Modification string    `json:"modification"`
	CreatedAt    time.Time `json:"created_at"`
}

// Stats aggregates the ledger.
type Stats struct {
	Schematics   int `json:"schematics"`
	Done         int `json:"done"`
	Skipped      int `json:"skipped"`
	Pending      int `json:"pending"`
	Samples      int `json:"samples"`
	SlotsSkipped int `json:"slots_skipped"`
}

// MarkPending registers a schematic about to be processed. A previous
// outcome for the same path is reset and its samples are forgotten.
func (db *DB) MarkPending(path, name, checksum string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("ledger: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	if _, err := tx.Exec(`DELETE FROM samples WHERE schematic = ?`, path); err != nil {
		return fmt.Errorf("ledger: clear samples: %w", err)
	}
	_, err = tx.Exec(`
		INSERT INTO schematics (path, name, checksum, status, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			name          = excluded.name,
			checksum      = excluded.checksum,
			status        = excluded.status,
			records       = 0,
			samples       = 0,
			slots_skipped = 0,
			attempts      = 0,
			reason        = '',
			duration_ms   = 0,
			updated_at    = excluded.updated_at
	`, path, name, checksum, StatusPending, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("ledger: mark pending: %w", err)
	}
	return tx.Commit()
}

// RecordOutcome stores the final state of a schematic. The row must exist.
func (db *DB) RecordOutcome(r SchematicRow) error {
	res, err := db.conn.Exec(`
		UPDATE schematics SET
			name          = ?,
			status        = ?,
			records       = ?,
			samples       = ?,
			slots_skipped = ?,
			attempts      = ?,
			reason        = ?,
			duration_ms   = ?,
			updated_at    = ?
		WHERE path = ?
	`, r.Name, r.Status, r.Records, r.Samples, r.SlotsSkipped, r.Attempts, r.Reason,
		r.Duration.Milliseconds(), time.Now().UTC(), r.Path)
	if err != nil {
		return fmt.Errorf("ledger: record outcome: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("ledger: record outcome %s: %w", r.Path, apperr.ErrNotFound)
	}
	return nil
}

// RecordSample stores a produced sample.
func (db *DB) RecordSample(s SampleRow) error {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	_, err := db.conn.Exec(`INSERT INTO samples (id, schematic, modification, created_at) VALUES (?, ?, ?, ?)`,
		s.ID, s.Schematic, s.Modification, s.CreatedAt)
	if err != nil {
		var se sqlite3.Error
		if errors.As(err, &se) && se.Code == sqlite3.ErrConstraint {
			if se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey || se.ExtendedCode == sqlite3.ErrConstraintUnique {
				return fmt.Errorf("ledger: sample %s: %w", s.ID, apperr.ErrAlreadyExists)
			}
			return fmt.Errorf("ledger: sample %s: unknown schematic %s: %w", s.ID, s.Schematic, apperr.ErrConflict)
		}
		return fmt.Errorf("ledger: insert sample: %w", err)
	}
	return nil
}

// GetChecksum returns the stored checksum and status for a schematic, or
// empty strings if it has never been seen.
func (db *DB) GetChecksum(path string) (checksum, status string, err error) {
	err = db.conn.QueryRow(`SELECT checksum, status FROM schematics WHERE path = ?`, path).Scan(&checksum, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", nil
	}
	if err != nil {
		return "", "", fmt.Errorf("ledger: get checksum: %w", err)
	}
	return checksum, status, nil
}

// Unchanged reports whether path was already settled (done or skipped)
// with the same content checksum.
func (db *DB) Unchanged(path, checksum string) (bool, error) {
	cs, status, err := db.GetChecksum(path)
	if err != nil {
		return false, err
	}
	return cs == checksum && (status == StatusDone || status == StatusSkipped), nil
}

// GetSchematic returns one schematic row.
func (db *DB) GetSchematic(path string) (SchematicRow, error) {
	row := db.conn.QueryRow(`
		SELECT path, name, checksum, status, records, samples, slots_skipped, attempts, reason, duration_ms, updated_at
		FROM schematics WHERE path = ?`, path)
	r, err := scanSchematic(row)
	if errors.Is(err, sql.ErrNoRows) {
		return SchematicRow{}, fmt.Errorf("ledger: schematic %s: %w", path, apperr.ErrNotFound)
	}
	if err != nil {
		return SchematicRow{}, fmt.Errorf("ledger: get schematic: %w", err)
	}
	return r, nil
}

// ListSchematics returns schematics, optionally filtered by status, most
// recently updated first.
func (db *DB) ListSchematics(status string) ([]SchematicRow, error) {
	q := `SELECT path, name, checksum, status, records, samples, slots_skipped, attempts, reason, duration_ms, updated_at
		FROM schematics`
	var args []any
	if status != "" {
		q += ` WHERE status = ?`
		args = append(args, status)
	}
	q += ` ORDER BY updated_at DESC, path`

	rows, err := db.conn.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("ledger: list schematics: %w", err)
	}
	defer rows.Close()

	var out []SchematicRow
	for rows.Next() {
		r, err := scanSchematic(rows)
		if err != nil {
			return nil, fmt.Errorf("ledger: scan schematic: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Samples returns the samples produced for a schematic, oldest first.
func (db *DB) Samples(path string) ([]SampleRow, error) {
	rows, err := db.conn.Query(`SELECT id, schematic, modification, created_at FROM samples WHERE schematic = ? ORDER BY created_at, id`, path)
	if err != nil {
		return nil, fmt.Errorf("ledger: samples: %w", err)
	}
	defer rows.Close()

	var out []SampleRow
	for rows.Next() {
		var s SampleRow
		if err := rows.Scan(&s.ID, &s.Schematic, &s.Modification, &s.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Stats aggregates counts over the whole ledger.
func (db *DB) Stats() (Stats, error) {
	var s Stats
	err := db.conn.QueryRow(`
		SELECT
			COUNT(*),
			COALESCE(SUM(status = 'done'), 0),
			COALESCE(SUM(status = 'skipped'), 0),
			COALESCE(SUM(status = 'pending'), 0),
			COALESCE(SUM(slots_skipped), 0)
		FROM schematics`).Scan(&s.Schematics, &s.Done, &s.Skipped, &s.Pending, &s.SlotsSkipped)
	if err != nil {
		return Stats{}, fmt.Errorf("ledger: stats: %w", err)
	}
	if err := db.conn.QueryRow(`SELECT COUNT(*) FROM samples`).Scan(&s.Samples); err != nil {
		return Stats{}, fmt.Errorf("ledger: count samples: %w", err)
	}
	return s, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSchematic(s scanner) (SchematicRow, error) {
	var r SchematicRow
	var ms int64
	err := s.Scan(&r.Path, &r.Name, &r.Checksum, &r.Status, &r.Records, &r.Samples,
		&r.SlotsSkipped, &r.Attempts, &r.Reason, &ms, &r.UpdatedAt)
	r.Duration = time.Duration(ms) * time.Millisecond
	return r, err
}
