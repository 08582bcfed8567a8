// ABOUTME: Agent API key generation and hashing
// ABOUTME: Keys are prefix + hex(randomBytes); only the SHA-256 digest is ever stored

package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// GenerateAPIKey creates a new raw agent API key: the configured prefix
// followed by the hex encoding of n random bytes. The raw key is returned
// to the caller exactly once; persist only its hash.
func GenerateAPIKey(prefix string, n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("reading random bytes: %w", err)
	}
	return prefix + hex.EncodeToString(buf), nil
}

// HashAPIKey returns the SHA-256 hex digest of a raw API key.
// This is the only form in which credentials are stored or compared.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
