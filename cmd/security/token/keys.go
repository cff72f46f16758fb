package token

import (
	"crypto/sha256"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const (
	// MinSecretBytes is the minimum signing secret size.
	// Measured in bytes (not runes) because the secret is used as raw key material.
	MinSecretBytes = 32

	// minDistinctBytes rejects secrets like "aaaa...a" that pass the length check.
	minDistinctBytes = 8

	derivedKeyBytes = 32

	infoAccessSigning = "vigil/access-token/hs256/v1"
	infoRefreshHash   = "vigil/refresh-secret/hmac/v1"
)

// Keys holds the per-purpose keys derived from the master signing secret.
type Keys struct {
	Signing     []byte
	RefreshHash []byte
}

// ValidateSecret enforces the startup policy for the master signing secret.
func ValidateSecret(secret string) error {
	s := strings.TrimSpace(secret)
	if s == "" {
		return ErrSecretMissing
	}
	if len(s) < MinSecretBytes {
		return ErrSecretTooShort
	}

	seen := make(map[byte]struct{}, minDistinctBytes)
	for i := 0; i < len(s) && len(seen) < minDistinctBytes; i++ {
		seen[s[i]] = struct{}{}
	}
	if len(seen) < minDistinctBytes {
		return ErrSecretWeak
	}
	return nil
}

// DeriveKeys validates secret and expands it into independent keys with HKDF-SHA256.
func DeriveKeys(secret string) (Keys, error) {
	if err := ValidateSecret(secret); err != nil {
		return Keys{}, err
	}
	master := []byte(strings.TrimSpace(secret))

	signing, err := expand(master, infoAccessSigning)
	if err != nil {
		return Keys{}, err
	}
	refresh, err := expand(master, infoRefreshHash)
	if err != nil {
		return Keys{}, err
	}
	return Keys{Signing: signing, RefreshHash: refresh}, nil
}

func expand(master []byte, info string) ([]byte, error) {
	r := hkdf.New(sha256.New, master, nil, []byte(info))
	out := make([]byte, derivedKeyBytes)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, err
	}
	return out, nil
}
