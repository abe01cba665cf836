package security

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
)

// RefreshSecretBytes is the size of a refresh secret before encoding (256 bits).
const RefreshSecretBytes = 32

// HashRefreshToken returns a SHA-256 hash of the refresh token string, hex-encoded.
// Used for storing and looking up refresh tokens without storing the raw token.
func HashRefreshToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// NewRefreshSecret returns a random URL-safe refresh secret and its hash.
// The plain value must only be handed to the client.
func NewRefreshSecret() (plain string, hash string, err error) {
	b := make([]byte, RefreshSecretBytes)
	if _, err = rand.Read(b); err != nil {
		return "", "", err
	}
	plain = base64.RawURLEncoding.EncodeToString(b)
	return plain, HashRefreshToken(plain), nil
}
