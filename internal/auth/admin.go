// ABOUTME: Admin token verification against a configured hash
// ABOUTME: Constant-time digest comparison; reports unconfigured deployments explicitly

package auth

import (
	"crypto/subtle"
	"errors"
)

// ErrAdminNotConfigured is returned when no admin key hash is configured.
// The transport layer surfaces this as "not implemented" rather than 403 so
// operators can tell a missing setting from a bad token.
var ErrAdminNotConfigured = errors.New("admin authentication not configured")

// ErrInvalidAdminToken is returned when the presented token's digest does
// not match the configured hash.
var ErrInvalidAdminToken = errors.New("invalid admin token")

// AdminVerifier checks bearer tokens against a single configured admin key hash.
type AdminVerifier struct {
	keyHash string // SHA-256 hex digest of the admin key; empty means unconfigured
}

// NewAdminVerifier creates an admin verifier for the given key hash.
func NewAdminVerifier(keyHash string) *AdminVerifier {
	return &AdminVerifier{keyHash: keyHash}
}

// Verify checks an admin bearer token.
func (v *AdminVerifier) Verify(token string) error {
	if v.keyHash == "" {
		return ErrAdminNotConfigured
	}
	if token == "" {
		return ErrMissingCredential
	}
	digest := HashAPIKey(token)
	if subtle.ConstantTimeCompare([]byte(digest), []byte(v.keyHash)) != 1 {
		return ErrInvalidAdminToken
	}
	return nil
}
