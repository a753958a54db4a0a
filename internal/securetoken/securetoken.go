package securetoken

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// Generate creates a cryptographically secure random token.
// Returns a base64 URL-encoded string of 32 random bytes (256 bits of
// entropy), suitable for session identifiers, OAuth state parameters,
// PKCE verifiers and CSRF tokens.
func Generate() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return base64.URLEncoding.EncodeToString(b), nil
}
