// Package ids provides identifier primitives shared by the session and security subsystems.
package ids

import (
	"crypto/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// EventPrefix marks security event identifiers.
const EventPrefix = "sec_"

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewULID returns a new ULID string (26 chars).
// IDs minted within the same millisecond are strictly increasing.
func NewULID(now time.Time) (string, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}

	entropyMu.Lock()
	id, err := ulid.New(ulid.Timestamp(now), entropy)
	entropyMu.Unlock()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// NewEventID returns a security event id ("sec_" + lowercase ULID).
// It never fails: on entropy failure it falls back to ulid.Make.
func NewEventID(now time.Time) string {
	id, err := NewULID(now)
	if err != nil {
		id = ulid.Make().String()
	}
	return EventPrefix + strings.ToLower(id)
}

// NewRequestID returns a random UUIDv4 used to correlate HTTP request logs.
func NewRequestID() string {
	return uuid.NewString()
}

// EventTime extracts the millisecond timestamp embedded in an event id.
func EventTime(id string) (time.Time, bool) {
	raw, ok := strings.CutPrefix(id, EventPrefix)
	if !ok {
		return time.Time{}, false
	}
	u, err := ulid.ParseStrict(strings.ToUpper(raw))
	if err != nil {
		return time.Time{}, false
	}
	return ulid.Time(u.Time()).UTC(), true
}
