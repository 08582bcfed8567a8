// Package auth issues and verifies agent API keys.
//
// A raw key is the configured prefix followed by hex-encoded random bytes,
// returned to the caller exactly once at issuance; only its SHA-256 digest
// is persisted. Verification checks the format prefix before touching
// storage, then resolves the digest against the current hash and, failing
// that, against retired hashes still inside their rotation grace period.
//
// The package also provides net/http middleware for agent and admin
// authentication and the context plumbing to carry the authenticated agent
// into handlers.
package auth
