// Package config provides environment-driven configuration for the
// ability and form management service.
//
// Configuration is loaded from environment variables with defaults.
// CLI flags in cmd/server may override individual values.
//
// Sections:
//   - Server: HTTP API listener
//   - IPC: gRPC transport listener used by providers and hosts
//   - Logging: level and output format
//   - RateLimit: per-client HTTP rate limiting
//   - Storage: sqlite path for persisted form records
//   - Bundle: bundle catalog file (YAML or TOML)
//   - Ability: lifecycle timeouts and root launcher restart budget
//   - Form: form quotas, refresh limit and device identity
package config
