// ABOUTME: History store interfaces and record types for agentgate persistence
// ABOUTME: Defines extension, sweep, agent ownership, and audit records

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist
var ErrNotFound = errors.New("not found")

// ExtensionRecord is the history entry written after a durable subscription extension.
// The ledger keeps only the latest expiry; this table keeps every purchase.
type ExtensionRecord struct {
	ID             string // UUID v4
	Identity       string
	Periods        int
	Cost           int64
	Currency       string
	PreviousExpiry time.Time
	NewExpiry      time.Time
	CreatedAt      time.Time
}

// SweepRecord summarizes one reconciliation pass.
type SweepRecord struct {
	ID         string // UUID v4
	StartedAt  time.Time
	FinishedAt time.Time
	Listed     int
	Active     int
	Stopped    int
	Failed     int
	Error      string // listing failure, empty when the listing succeeded
}

// AgentOwner links a runtime agent to the identity that started it.
type AgentOwner struct {
	AgentID   string
	Identity  string
	UpdatedAt time.Time
}

// ExtensionStore persists extension history.
type ExtensionStore interface {
	RecordExtension(ctx context.Context, rec *ExtensionRecord) error
	ListExtensions(ctx context.Context, identity string, limit int) ([]*ExtensionRecord, error)
}

// SweepStore persists reconciliation summaries.
type SweepStore interface {
	RecordSweep(ctx context.Context, rec *SweepRecord) error
	ListSweeps(ctx context.Context, limit int) ([]*SweepRecord, error)
}

// OwnerStore tracks which identity owns which agent.
type OwnerStore interface {
	SetAgentOwner(ctx context.Context, agentID, identity string) error
	GetAgentOwner(ctx context.Context, agentID string) (*AgentOwner, error)
}

// Store is the full history store.
type Store interface {
	ExtensionStore
	SweepStore
	OwnerStore
	AppendAuditLog(ctx context.Context, e *AuditEntry) error
	ListAuditLog(ctx context.Context, f AuditFilter) ([]AuditEntry, error)

	// Close releases any resources held by the store
	Close() error
}

// normalizeLimit applies default (100) and cap (1000) to list limits.
func normalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return 100
	case limit > 1000:
		return 1000
	default:
		return limit
	}
}
