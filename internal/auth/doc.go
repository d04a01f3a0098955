// Package auth implements session and token authentication for the dispatch
// dashboard backend.
//
// It provides:
//   - An Issuer that signs short-lived HS256 access tokens and mints opaque
//     256-bit refresh tokens
//   - Argon2id password hashing and the password policy
//   - SQLite-backed credential, session and preference stores
//   - A Manager that runs register, login, refresh, logout and
//     password-change flows across those stores
//   - Role allowlists evaluated against a request's AuthContext
//
// Access tokens are stateless and verified by signature and expiry only.
// Refresh tokens are tracked server side: a session row exists only while
// its token may still be used, and only the SHA-256 of the token is stored.
package auth
