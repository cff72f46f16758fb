package token

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
)

// RefreshSecretBytes is the entropy of a refresh secret; the hex form is twice as long.
const RefreshSecretBytes = 32

// HashHMACSHA256Hex returns an HMAC-SHA256 hex digest of s using key.
func HashHMACSHA256Hex(s string, key []byte) string {
	m := hmac.New(sha256.New, key)
	_, _ = m.Write([]byte(s))
	return hex.EncodeToString(m.Sum(nil))
}

// GenerateRefreshSecret returns a fixed-length (64 hex chars) cryptographically random secret.
func GenerateRefreshSecret() (string, error) {
	return randomHex(RefreshSecretBytes)
}

// GenerateSigningSecret returns a hex encoded random secret suitable for VIGIL_JWT_SECRET.
func GenerateSigningSecret(nBytes int) (string, error) {
	if nBytes < MinSecretBytes {
		nBytes = MinSecretBytes
	}
	return randomHex(nBytes)
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// Hasher hashes refresh secrets for server-side storage.
// Output is a stable 64-char hex digest.
type Hasher struct {
	key []byte
}

// NewHasher returns a Hasher keyed with key.
func NewHasher(key []byte) Hasher {
	k := make([]byte, len(key))
	copy(k, key)
	return Hasher{key: k}
}

// Hash returns the storage digest of a refresh secret.
func (h Hasher) Hash(secret string) string {
	return HashHMACSHA256Hex(secret, h.key)
}
