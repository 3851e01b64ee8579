// Package store provides the agentgate history store using SQLite.
//
// The subscription ledger itself lives in a JSON file owned by the
// subscription package. This package keeps everything around it that is
// useful for operators but not authoritative for access decisions:
//
//   - ExtensionRecord: one row per successful subscription extension
//   - SweepRecord: a summary of each reconciliation pass
//   - AgentOwner: which identity started which agent
//   - AuditEntry: start, stop, rejection, and sweep-stop actions
//
// SQLiteStore implements every interface in a single struct. MockStore is
// an in-memory implementation for tests in other packages.
//
// # SQLite Configuration
//
// File-backed databases run in WAL mode with a 5s busy timeout:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA busy_timeout=5000;
//
// ":memory:" opens a private database pinned to a single connection.
//
// # Error Handling
//
// ErrNotFound is returned when a requested record does not exist. All
// methods accept context.Context for cancellation support.
package store
