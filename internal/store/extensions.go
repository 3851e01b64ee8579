// ABOUTME: SQLite persistence for subscription extension history
// ABOUTME: One row per successful extension, listed newest first per identity

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RecordExtension appends an extension to history.
// Generates ID and CreatedAt if not set.
func (s *SQLiteStore) RecordExtension(ctx context.Context, rec *ExtensionRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO extensions (
			extension_id, identity, periods, cost, currency,
			previous_expiry, new_expiry, created_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		rec.ID,
		rec.Identity,
		rec.Periods,
		rec.Cost,
		rec.Currency,
		rec.PreviousExpiry.Unix(),
		rec.NewExpiry.Unix(),
		formatTime(rec.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting extension: %w", err)
	}

	s.logger.Debug("recorded extension",
		"id", rec.ID,
		"identity", rec.Identity,
		"periods", rec.Periods,
		"new_expiry", rec.NewExpiry.Unix(),
	)
	return nil
}

// ListExtensions returns an identity's extensions, newest first.
func (s *SQLiteStore) ListExtensions(ctx context.Context, identity string, limit int) ([]*ExtensionRecord, error) {
	query := `
		SELECT extension_id, identity, periods, cost, currency,
		       previous_expiry, new_expiry, created_at
		FROM extensions
		WHERE identity = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, identity, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("querying extensions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	records := []*ExtensionRecord{}
	for rows.Next() {
		var rec ExtensionRecord
		var previous, next int64
		var createdAt string
		if err := rows.Scan(
			&rec.ID,
			&rec.Identity,
			&rec.Periods,
			&rec.Cost,
			&rec.Currency,
			&previous,
			&next,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("scanning extension: %w", err)
		}
		rec.PreviousExpiry = time.Unix(previous, 0).UTC()
		rec.NewExpiry = time.Unix(next, 0).UTC()
		if rec.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		records = append(records, &rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating extensions: %w", err)
	}
	return records, nil
}
