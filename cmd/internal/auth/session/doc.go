// Package session implements Vigil's session lifecycle.
//
// A session binds one opaque refresh secret to a user, device metadata, and a
// fixed expiry. Each user may hold at most MaxConcurrentSessions live sessions;
// creating one more silently deactivates the least recently active session.
//
// Access tokens are HS256 JWTs and are never looked up in storage.
// Refresh secrets are random hex strings; only their HMAC digest is persisted.
//
// Storage is pluggable (memory, Postgres, bbolt). Create-with-eviction runs as
// a single store transaction per user.
package session
