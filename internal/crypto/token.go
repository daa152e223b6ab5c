package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"io"
)

// TokenEntropyBytes is the number of random bytes in a preview token.
const TokenEntropyBytes = 32

// GenerateToken returns prefix followed by 256 random bits, base64url
// encoded without padding.
func GenerateToken(prefix string) (string, error) {
	buf := make([]byte, TokenEntropyBytes)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return "", err
	}
	return prefix + base64.RawURLEncoding.EncodeToString(buf), nil
}

// Fingerprint returns a short, non-reversible identifier for a token, safe
// to write to logs and audit metadata.
func Fingerprint(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])[:12]
}
