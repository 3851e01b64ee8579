// ABOUTME: SQLite persistence for reconciliation sweep summaries
// ABOUTME: Lets operators see when sweeps ran and what they stopped

package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// RecordSweep stores a sweep summary. Generates ID if not set.
func (s *SQLiteStore) RecordSweep(ctx context.Context, rec *SweepRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}

	query := `
		INSERT INTO sweeps (sweep_id, started_at, finished_at, listed, active, stopped, failed, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		rec.ID,
		formatTime(rec.StartedAt),
		formatTime(rec.FinishedAt),
		rec.Listed,
		rec.Active,
		rec.Stopped,
		rec.Failed,
		nullString(rec.Error),
	)
	if err != nil {
		return fmt.Errorf("inserting sweep: %w", err)
	}

	s.logger.Debug("recorded sweep", "id", rec.ID, "stopped", rec.Stopped, "failed", rec.Failed)
	return nil
}

// ListSweeps returns the most recent sweeps, newest first.
func (s *SQLiteStore) ListSweeps(ctx context.Context, limit int) ([]*SweepRecord, error) {
	query := `
		SELECT sweep_id, started_at, finished_at, listed, active, stopped, failed, error
		FROM sweeps
		ORDER BY started_at DESC, rowid DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("querying sweeps: %w", err)
	}
	defer func() { _ = rows.Close() }()

	records := []*SweepRecord{}
	for rows.Next() {
		var rec SweepRecord
		var startedAt, finishedAt string
		var errText sql.NullString
		if err := rows.Scan(
			&rec.ID,
			&startedAt,
			&finishedAt,
			&rec.Listed,
			&rec.Active,
			&rec.Stopped,
			&rec.Failed,
			&errText,
		); err != nil {
			return nil, fmt.Errorf("scanning sweep: %w", err)
		}
		if rec.StartedAt, err = parseTime(startedAt); err != nil {
			return nil, err
		}
		if rec.FinishedAt, err = parseTime(finishedAt); err != nil {
			return nil, err
		}
		rec.Error = errText.String
		records = append(records, &rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sweeps: %w", err)
	}
	return records, nil
}

// nullString converts empty strings to NULL for optional columns.
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
