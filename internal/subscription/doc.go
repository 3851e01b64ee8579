// Package subscription owns the subscription ledger: the durable mapping
// from caller identity to expiry time, the expiry predicate, and the
// operations that extend and check subscriptions.
//
// # Ledger
//
// The ledger is one JSON document, {"<identity>": <expiry_unix_seconds>}.
// FileStore reads it fresh on every call. A missing or corrupt document is
// an empty ledger; decode failures are logged and never returned.
//
// # Mutations
//
// Extend goes through FileStore.Update, which holds a process-wide mutex
// plus an advisory flock for the whole read-compute-write span and replaces
// the document with a temp file + rename. Concurrent extensions for the same
// identity therefore never lose an increment.
//
// # Expiry
//
// IsActive is pure: expiry(identity) > now, with absent identities at the
// epoch. Status wraps it; Guard uses it to short-circuit privileged
// operations with ErrSubscriptionOver.
package subscription
