package session

import (
	"context"
	"sort"
	"time"
)

// Session mirrors the vigil.sessions row used by the session subsystem.
type Session struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	RefreshHash  string    `json:"refresh_hash"`
	UserAgent    string    `json:"user_agent,omitempty"`
	IPAddress    string    `json:"ip_address,omitempty"`
	IssuedAt     time.Time `json:"issued_at"`
	LastActivity time.Time `json:"last_activity"`
	ExpiresAt    time.Time `json:"expires_at"`
	IsActive     bool      `json:"is_active"`
}

// Live reports whether the session is active and unexpired at now.
// Expiry wins over the active flag.
func (s Session) Live(now time.Time) bool {
	return s.IsActive && s.ExpiresAt.After(now)
}

// Store abstracts persistence for session state.
//
// All methods take the caller's notion of "now" where time matters so that
// implementations never consult a clock of their own.
type Store interface {
	// CreateWithCap inserts s after deactivating the least recently active live
	// sessions of s.UserID until fewer than maxActive remain. It must run as one
	// transaction per user. It returns the evicted session IDs.
	CreateWithCap(ctx context.Context, s Session, maxActive int, now time.Time) (evicted []string, err error)

	// GetByID loads a session by ID.
	GetByID(ctx context.Context, sessionID string) (Session, error)

	// GetByRefreshHash loads a session by refresh secret digest.
	GetByRefreshHash(ctx context.Context, refreshHash string) (Session, error)

	// TouchActive sets last_activity=now only if the session is still live at now.
	// It reports whether a row was updated.
	TouchActive(ctx context.Context, sessionID string, now time.Time) (bool, error)

	// Deactivate clears is_active for one session. It reports whether the row was active.
	Deactivate(ctx context.Context, sessionID string) (bool, error)

	// DeactivateAllForUser clears is_active for all of a user's sessions.
	DeactivateAllForUser(ctx context.Context, userID string) (int64, error)

	// DeactivateStale clears is_active on active rows that expired before now or
	// whose last activity is older than inactiveBefore.
	DeactivateStale(ctx context.Context, now, inactiveBefore time.Time) (int64, error)

	// ListActiveByUser returns the user's live sessions ordered by last activity, newest first.
	ListActiveByUser(ctx context.Context, userID string, now time.Time) ([]Session, error)
}

// evictionVictims returns the IDs to deactivate so that live has fewer than maxActive entries.
// Oldest last activity goes first; issued_at and ID break ties.
func evictionVictims(live []Session, maxActive int) []string {
	n := len(live) - maxActive + 1
	if maxActive < 1 || n <= 0 {
		return nil
	}
	sorted := make([]Session, len(live))
	copy(sorted, live)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if !a.LastActivity.Equal(b.LastActivity) {
			return a.LastActivity.Before(b.LastActivity)
		}
		if !a.IssuedAt.Equal(b.IssuedAt) {
			return a.IssuedAt.Before(b.IssuedAt)
		}
		return a.ID < b.ID
	})

	out := make([]string, 0, n)
	for _, s := range sorted[:n] {
		out = append(out, s.ID)
	}
	return out
}

// isStale reports whether DeactivateStale applies to s.
func isStale(s Session, now, inactiveBefore time.Time) bool {
	if !s.IsActive {
		return false
	}
	return s.ExpiresAt.Before(now) || s.LastActivity.Before(inactiveBefore)
}

// sortByActivityDesc orders sessions newest activity first; ID breaks ties.
func sortByActivityDesc(ss []Session) {
	sort.SliceStable(ss, func(i, j int) bool {
		if !ss[i].LastActivity.Equal(ss[j].LastActivity) {
			return ss[i].LastActivity.After(ss[j].LastActivity)
		}
		return ss[i].ID > ss[j].ID
	})
}
