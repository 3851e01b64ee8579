// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu         sync.RWMutex
	extensions []*ExtensionRecord
	sweeps     []*SweepRecord
	owners     map[string]*AgentOwner // keyed by agent ID
	audit      []AuditEntry
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		owners: make(map[string]*AgentOwner),
	}
}

// RecordExtension stores a copy of rec.
func (m *MockStore) RecordExtension(ctx context.Context, rec *ExtensionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	r := *rec
	m.extensions = append(m.extensions, &r)
	return nil
}

// ListExtensions returns an identity's extensions, newest first.
func (m *MockStore) ListExtensions(ctx context.Context, identity string, limit int) ([]*ExtensionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := []*ExtensionRecord{}
	for i := len(m.extensions) - 1; i >= 0; i-- {
		if m.extensions[i].Identity != identity {
			continue
		}
		r := *m.extensions[i]
		result = append(result, &r)
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if n := normalizeLimit(limit); len(result) > n {
		result = result[:n]
	}
	return result, nil
}

// RecordSweep stores a copy of rec.
func (m *MockStore) RecordSweep(ctx context.Context, rec *SweepRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	r := *rec
	m.sweeps = append(m.sweeps, &r)
	return nil
}

// ListSweeps returns recorded sweeps, newest first.
func (m *MockStore) ListSweeps(ctx context.Context, limit int) ([]*SweepRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := []*SweepRecord{}
	for i := len(m.sweeps) - 1; i >= 0; i-- {
		r := *m.sweeps[i]
		result = append(result, &r)
	}
	if n := normalizeLimit(limit); len(result) > n {
		result = result[:n]
	}
	return result, nil
}

// SetAgentOwner records identity as the owner of agentID.
func (m *MockStore) SetAgentOwner(ctx context.Context, agentID, identity string) error {
	if agentID == "" || identity == "" {
		return errors.New("agent id and identity are required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.owners[agentID] = &AgentOwner{
		AgentID:   agentID,
		Identity:  identity,
		UpdatedAt: time.Now().UTC(),
	}
	return nil
}

// GetAgentOwner returns the recorded owner or ErrNotFound.
func (m *MockStore) GetAgentOwner(ctx context.Context, agentID string) (*AgentOwner, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	owner, ok := m.owners[agentID]
	if !ok {
		return nil, ErrNotFound
	}
	o := *owner
	return &o, nil
}

// AppendAuditLog stores a copy of e.
func (m *MockStore) AppendAuditLog(ctx context.Context, e *AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	m.audit = append(m.audit, *e)
	return nil
}

// ListAuditLog returns entries matching the filter, newest first.
func (m *MockStore) ListAuditLog(ctx context.Context, f AuditFilter) ([]AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := []AuditEntry{}
	for i := len(m.audit) - 1; i >= 0; i-- {
		e := m.audit[i]
		if f.Since != nil && e.Timestamp.Before(*f.Since) {
			continue
		}
		if f.Until != nil && e.Timestamp.After(*f.Until) {
			continue
		}
		if f.Identity != nil && e.Identity != *f.Identity {
			continue
		}
		if f.Action != nil && e.Action != *f.Action {
			continue
		}
		if f.TargetType != nil && e.TargetType != *f.TargetType {
			continue
		}
		if f.TargetID != nil && e.TargetID != *f.TargetID {
			continue
		}
		result = append(result, e)
	}
	if n := normalizeLimit(f.Limit); len(result) > n {
		result = result[:n]
	}
	return result, nil
}

// Close is a no-op.
func (m *MockStore) Close() error {
	return nil
}

// Ensure implementations satisfy the interface.
var (
	_ Store = (*MockStore)(nil)
	_ Store = (*SQLiteStore)(nil)
)
