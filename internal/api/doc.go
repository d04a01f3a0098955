// Package api implements the HTTP REST API for dispatch-auth.
//
// This package provides:
//   - Account endpoints: register, login, refresh, logout, me, password change
//   - Per-device session listing and revocation
//   - Admin endpoints for account activation and the audit trail
//   - Authorization middleware (RequireAuth, OptionalAuth, RequireRole)
//   - Middleware stack (request ID, logging, recovery, CORS, body limit, metrics)
//   - TLS support for production deployments
//
// # Security
//
// Access tokens travel in the Authorization header as Bearer tokens. Refresh
// tokens only ever travel in JSON request and response bodies. An expired
// access token is reported with the code TOKEN_EXPIRED so clients can refresh
// silently; every other authentication failure is final.
//
// # Errors
//
// All errors use the body {"status": int, "code": "UPPER_SNAKE", "message": string}.
// Storage failures are reported as 503 TRANSIENT and are safe to retry.
package api
