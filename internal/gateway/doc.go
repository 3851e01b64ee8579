// Package gateway orchestrates the agentgate server components.
//
// # Overview
//
// The gateway package is the central coordinator of the agentgate server.
// It owns the history store, the subscription ledger and service, the agent
// runtime client, the reconciliation loop, and the HTTP server.
//
// # HTTP API
//
// The gateway exposes HTTP endpoints in api.go:
//
//   - GET /health - Liveness check
//   - GET /health/ready - Readiness check (pings the agent runtime)
//   - GET /manifest - Self-describing endpoint list
//   - GET /agents - List agents known to the runtime
//   - GET /agents/example - Example character document
//   - POST /agents/stop - Stop an agent
//   - POST /agents/start - Start an agent (requires an active subscription)
//   - POST /subscribe - Extend the caller's subscription
//   - GET /subscription - Caller's subscription status
//   - GET /subscription/history - Caller's past extensions
//   - GET /reconcile/sweeps - Recent reconciliation sweeps
//   - GET /metrics - Prometheus metrics (when enabled)
//
// Errors are JSON objects of the form {"status":"error","message":"..."}.
// An expired subscription is reported by GET /subscription with status 200
// and by POST /agents/start with 402.
//
// # Identity
//
// With auth.jwt_secret set, identities come from the sub claim of a bearer
// token. Otherwise the configured identity header (X-User-Address by default)
// is trusted as-is.
//
// # Lifecycle
//
//	gw, err := gateway.New(cfg, logger)
//	err = gw.Run(ctx) // blocks until ctx is canceled
//
// Run sweeps once at startup and then every reconcile.interval. On
// cancellation the HTTP server drains before the store is closed.
//
// # Key Files
//
//   - gateway.go: Gateway struct, initialization, Run/Shutdown
//   - api.go: HTTP handlers
//   - observer.go: Subscription history and audit recording
//   - manifest.go: Endpoint manifest
package gateway
