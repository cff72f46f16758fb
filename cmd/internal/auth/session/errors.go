package session

import "errors"

var (
	// ErrSessionNotFound is returned by stores when no row matches.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionExpiredOrRevoked is returned when a refresh secret does not map to a
	// live session (unknown, deactivated, or past expiresAt). Callers must re-authenticate.
	ErrSessionExpiredOrRevoked = errors.New("session expired or revoked")

	// ErrInvalidUserID is returned when creating a session without a user id.
	ErrInvalidUserID = errors.New("invalid user id")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)
