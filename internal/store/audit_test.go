// ABOUTME: Tests for audit log store operations
// ABOUTME: Covers Append and List with filtering for the audit_log table

package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditStore_Append(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	entry := &AuditEntry{
		Identity:   "0xabc",
		Action:     AuditStartAgent,
		TargetType: "agent",
		TargetID:   "agent-1",
		Detail:     map[string]any{"character": "eliza"},
	}

	err := store.AppendAuditLog(ctx, entry)
	require.NoError(t, err)

	assert.NotEmpty(t, entry.ID)
	assert.False(t, entry.Timestamp.IsZero())

	entries, err := store.ListAuditLog(ctx, AuditFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "eliza", entries[0].Detail["character"])
}

func TestAuditStore_RejectsUnknownAction(t *testing.T) {
	store := setupTestStore(t)

	err := store.AppendAuditLog(context.Background(), &AuditEntry{
		Identity:   "0xabc",
		Action:     AuditAction("delete_everything"),
		TargetType: "agent",
		TargetID:   "agent-1",
	})
	assert.Error(t, err)
}

func TestAuditStore_List_NoFilter(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for i, action := range []AuditAction{AuditStartAgent, AuditStopAgent, AuditSweepStop} {
		entry := &AuditEntry{
			Identity:   "0xabc",
			Action:     action,
			TargetType: "agent",
			TargetID:   fmt.Sprintf("agent-%d", i),
			Timestamp:  time.Now().UTC().Add(time.Duration(i) * time.Second),
		}
		require.NoError(t, store.AppendAuditLog(ctx, entry))
	}

	entries, err := store.ListAuditLog(ctx, AuditFilter{})
	require.NoError(t, err)
	assert.Len(t, entries, 3)

	// Should be newest first
	assert.Equal(t, AuditSweepStop, entries[0].Action)
}

func TestAuditStore_List_Filters(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour).Truncate(time.Second)
	entries := []*AuditEntry{
		{Identity: "0xabc", Action: AuditStartAgent, TargetType: "agent", TargetID: "a", Timestamp: base},
		{Identity: "0xabc", Action: AuditGuardRejected, TargetType: "agent", TargetID: "b", Timestamp: base.Add(10 * time.Minute)},
		{Identity: SweepIdentity, Action: AuditSweepStop, TargetType: "agent", TargetID: "a", Timestamp: base.Add(20 * time.Minute)},
	}
	for _, e := range entries {
		require.NoError(t, store.AppendAuditLog(ctx, e))
	}

	identity := "0xabc"
	got, err := store.ListAuditLog(ctx, AuditFilter{Identity: &identity})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	action := AuditSweepStop
	got, err = store.ListAuditLog(ctx, AuditFilter{Action: &action})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, SweepIdentity, got[0].Identity)

	target := "a"
	got, err = store.ListAuditLog(ctx, AuditFilter{TargetID: &target})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	since := base.Add(5 * time.Minute)
	got, err = store.ListAuditLog(ctx, AuditFilter{Since: &since})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	until := base.Add(5 * time.Minute)
	got, err = store.ListAuditLog(ctx, AuditFilter{Until: &until})
	require.NoError(t, err)
	assert.Len(t, got, 1)

	got, err = store.ListAuditLog(ctx, AuditFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
