// Package tokenref provides generation and hashing utilities for single-use
// access tokens. A raw token is a secret: it is shown to the caller exactly
// once at generation time and only its SHA-256 digest is ever stored or
// logged. Keeping this logic in a dedicated package applies consistent
// hashing behaviour across the link repository, handlers, and audit trail
// without duplicating crypto wiring throughout the codebase.
package tokenref

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// tokenBytes is the entropy of a generated token. 32 bytes makes guessing
// computationally infeasible.
const tokenBytes = 32

// New generates a fresh high-entropy token and returns the raw base64url
// form together with its storage hash.
func New() (raw, hash string, err error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("failed to generate token: %w", err)
	}
	raw = base64.RawURLEncoding.EncodeToString(buf)
	return raw, Hash(raw), nil
}

// Hash returns the hex-encoded SHA-256 digest of a raw token. The digest is
// what gets persisted and matched on consumption; the raw token never touches
// the database.
func Hash(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Ref returns a short reference derived from a token hash, safe for log
// lines and audit metadata. It identifies a link for correlation without
// disclosing enough material to reconstruct or probe the token.
func Ref(hash string) string {
	if len(hash) <= 12 {
		return hash
	}
	return hash[:12]
}
