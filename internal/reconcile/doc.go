// Package reconcile implements the loop that keeps running agents in line
// with the subscription ledger.
//
// Each sweep lists the runtime's agents, reads one ledger snapshot, and stops
// every agent whose owner is not active. An owner comes from the listing's
// owner field, falling back to the ownership recorded when the agent was
// started through the gateway. Agents with no resolvable owner are stopped.
//
// A failed listing skips the sweep. A failed stop is recorded on that agent's
// Outcome and the sweep moves on. Either way the loop waits a full interval
// before the next sweep.
//
// The ledger is read without taking the store's write lock, so an extension
// committed mid-sweep may be missed until the next sweep.
package reconcile
