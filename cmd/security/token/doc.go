// Package token provides the credential primitives for Vigil sessions.
//
// It is the single source of truth for:
//   - signing and verifying short-lived HS256 access tokens (golang-jwt),
//   - generating opaque refresh secrets,
//   - hashing refresh secrets for storage (HMAC-SHA256),
//   - validating and expanding the configured signing secret.
//
// One master secret (VIGIL_JWT_SECRET) is configured. Independent keys for token
// signing and refresh hashing are derived from it with HKDF-SHA256.
package token
