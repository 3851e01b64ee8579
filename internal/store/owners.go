// ABOUTME: SQLite persistence for agent ownership
// ABOUTME: Records which identity started an agent so sweeps can resolve owners

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SetAgentOwner records identity as the owner of agentID, replacing any previous owner.
func (s *SQLiteStore) SetAgentOwner(ctx context.Context, agentID, identity string) error {
	if agentID == "" || identity == "" {
		return errors.New("agent id and identity are required")
	}

	query := `
		INSERT INTO agent_owners (agent_id, identity, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(agent_id) DO UPDATE SET
			identity = excluded.identity,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query, agentID, identity, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("upserting agent owner: %w", err)
	}

	s.logger.Debug("set agent owner", "agent_id", agentID, "identity", identity)
	return nil
}

// GetAgentOwner returns the recorded owner of agentID.
// Returns ErrNotFound if no owner was recorded.
func (s *SQLiteStore) GetAgentOwner(ctx context.Context, agentID string) (*AgentOwner, error) {
	query := `SELECT agent_id, identity, updated_at FROM agent_owners WHERE agent_id = ?`

	var owner AgentOwner
	var updatedAt string
	err := s.db.QueryRowContext(ctx, query, agentID).Scan(&owner.AgentID, &owner.Identity, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying agent owner: %w", err)
	}

	if owner.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &owner, nil
}
