// Package api implements the HTTP API of the Control4 bridge.
//
// This package provides:
//   - Read endpoints for bridged devices, their normalized state and the
//     local state history
//   - Command and resync endpoints, protected by service tokens (see
//     package auth), with every API command written to the audit trail
//   - Bridge and runtime metrics as JSON, and a Prometheus scrape endpoint
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Graceful Degradation
//
// History, audit and Prometheus endpoints are optional. When their dependency is
// not configured they answer 503 and the rest of the API keeps working.
package api
