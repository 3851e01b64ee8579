// Package config handles configuration loading for agentgate.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from AGENTGATE_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/agentgate/config.yaml
//  3. ~/.config/agentgate/config.yaml
//
// Files ending in .toml are parsed as TOML; everything else is YAML. Fields
// missing from the file keep the values from Default.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${AGENTGATE_JWT_SECRET}"
//
// PORT, when set, replaces the port of server.http_addr.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	subscription:
//	  period: "720h"
//	runtime:
//	  timeout: "10s"
//	reconcile:
//	  interval: "1h"
//
// # Configuration Sections
//
//	server:       { http_addr: "localhost:8000", cors_origin: "*" }
//	tailscale:    { enabled: false, hostname: "", auth_key: "", state_dir: "", ephemeral: false }
//	database:     { path: "~/.local/share/agentgate/history.db" }
//	ledger:       { path: "./container_mount/subscription.json" }
//	subscription: { period: "720h", unit_cost: 1, currency: "ProcessingUnits" }
//	runtime:      { base_url: "http://localhost:3000", timeout: "10s" }
//	reconcile:    { enabled: true, interval: "1h" }
//	auth:         { jwt_secret: "", identity_header: "X-User-Address" }
//	logging:      { level: "info", format: "text" }
//	metrics:      { enabled: true, path: "/metrics" }
//
// An empty jwt_secret means identities are taken from identity_header.
package config
