package session

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

var suiteSeq int

// newSuiteSession builds a live session row with unique ID and refresh hash.
func newSuiteSession(userID string, at time.Time) Session {
	suiteSeq++
	return Session{
		ID:           fmt.Sprintf("%s-s%03d-%d", userID, suiteSeq, at.UnixNano()),
		UserID:       userID,
		RefreshHash:  fmt.Sprintf("hash-%s-%03d-%d", userID, suiteSeq, at.UnixNano()),
		UserAgent:    "vigil-test/1.0",
		IPAddress:    "203.0.113.7",
		IssuedAt:     at,
		LastActivity: at,
		ExpiresAt:    at.Add(7 * 24 * time.Hour),
		IsActive:     true,
	}
}

// storeTests runs the common contract against any Store implementation.
// userPrefix keeps rows from parallel runs against shared databases apart.
func storeTests(t *testing.T, store Store, userPrefix string) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("CreateAndGet", func(t *testing.T) {
		user := userPrefix + "-get"
		s := newSuiteSession(user, base)
		if _, err := store.CreateWithCap(ctx, s, 5, base); err != nil {
			t.Fatalf("CreateWithCap: %v", err)
		}

		got, err := store.GetByID(ctx, s.ID)
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		if got.UserID != user || !got.IsActive || got.UserAgent != s.UserAgent || got.IPAddress != s.IPAddress {
			t.Fatalf("unexpected row: %+v", got)
		}
		if !got.ExpiresAt.Equal(s.ExpiresAt) {
			t.Fatalf("expires_at: got %v want %v", got.ExpiresAt, s.ExpiresAt)
		}

		byHash, err := store.GetByRefreshHash(ctx, s.RefreshHash)
		if err != nil {
			t.Fatalf("GetByRefreshHash: %v", err)
		}
		if byHash.ID != s.ID {
			t.Fatalf("GetByRefreshHash: got %q want %q", byHash.ID, s.ID)
		}
	})

	t.Run("GetMissing", func(t *testing.T) {
		if _, err := store.GetByID(ctx, userPrefix+"-no-such-id"); !errors.Is(err, ErrSessionNotFound) {
			t.Fatalf("GetByID: expected ErrSessionNotFound, got %v", err)
		}
		if _, err := store.GetByRefreshHash(ctx, userPrefix+"-no-such-hash"); !errors.Is(err, ErrSessionNotFound) {
			t.Fatalf("GetByRefreshHash: expected ErrSessionNotFound, got %v", err)
		}
	})

	t.Run("CapEvictsLeastRecentlyActive", func(t *testing.T) {
		user := userPrefix + "-cap"
		s1 := newSuiteSession(user, base)
		s2 := newSuiteSession(user, base.Add(time.Minute))
		for _, s := range []Session{s1, s2} {
			if _, err := store.CreateWithCap(ctx, s, 2, s.IssuedAt); err != nil {
				t.Fatalf("CreateWithCap: %v", err)
			}
		}

		// s1 becomes the most recently active; s2 is now the LRU victim.
		if ok, err := store.TouchActive(ctx, s1.ID, base.Add(2*time.Minute)); err != nil || !ok {
			t.Fatalf("TouchActive: ok=%v err=%v", ok, err)
		}

		s3 := newSuiteSession(user, base.Add(3*time.Minute))
		evicted, err := store.CreateWithCap(ctx, s3, 2, s3.IssuedAt)
		if err != nil {
			t.Fatalf("CreateWithCap: %v", err)
		}
		if len(evicted) != 1 || evicted[0] != s2.ID {
			t.Fatalf("expected %q evicted, got %v", s2.ID, evicted)
		}

		live, err := store.ListActiveByUser(ctx, user, base.Add(4*time.Minute))
		if err != nil {
			t.Fatalf("ListActiveByUser: %v", err)
		}
		if len(live) != 2 {
			t.Fatalf("expected 2 live sessions, got %d", len(live))
		}
		if live[0].ID != s3.ID || live[1].ID != s1.ID {
			t.Fatalf("expected order [s3 s1], got [%s %s]", live[0].ID, live[1].ID)
		}
	})

	t.Run("CapOfOneReplaces", func(t *testing.T) {
		user := userPrefix + "-one"
		first := newSuiteSession(user, base)
		second := newSuiteSession(user, base.Add(time.Second))

		if _, err := store.CreateWithCap(ctx, first, 1, first.IssuedAt); err != nil {
			t.Fatalf("CreateWithCap: %v", err)
		}
		evicted, err := store.CreateWithCap(ctx, second, 1, second.IssuedAt)
		if err != nil {
			t.Fatalf("CreateWithCap: %v", err)
		}
		if len(evicted) != 1 || evicted[0] != first.ID {
			t.Fatalf("expected first evicted, got %v", evicted)
		}

		got, err := store.GetByID(ctx, first.ID)
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		if got.IsActive {
			t.Fatalf("expected evicted session inactive")
		}
	})

	t.Run("ExpiredRowsDoNotCountTowardsCap", func(t *testing.T) {
		user := userPrefix + "-expired-cap"
		old := newSuiteSession(user, base)
		old.ExpiresAt = base.Add(time.Minute)
		if _, err := store.CreateWithCap(ctx, old, 1, base); err != nil {
			t.Fatalf("CreateWithCap: %v", err)
		}

		later := base.Add(time.Hour)
		fresh := newSuiteSession(user, later)
		evicted, err := store.CreateWithCap(ctx, fresh, 1, later)
		if err != nil {
			t.Fatalf("CreateWithCap: %v", err)
		}
		if len(evicted) != 0 {
			t.Fatalf("expected no eviction of expired row, got %v", evicted)
		}
	})

	t.Run("TouchActiveRespectsLiveness", func(t *testing.T) {
		user := userPrefix + "-touch"
		s := newSuiteSession(user, base)
		if _, err := store.CreateWithCap(ctx, s, 5, base); err != nil {
			t.Fatalf("CreateWithCap: %v", err)
		}

		if ok, err := store.TouchActive(ctx, s.ID, s.ExpiresAt.Add(time.Second)); err != nil || ok {
			t.Fatalf("TouchActive after expiry: ok=%v err=%v", ok, err)
		}

		if _, err := store.Deactivate(ctx, s.ID); err != nil {
			t.Fatalf("Deactivate: %v", err)
		}
		if ok, err := store.TouchActive(ctx, s.ID, base.Add(time.Minute)); err != nil || ok {
			t.Fatalf("TouchActive after deactivate: ok=%v err=%v", ok, err)
		}
		if ok, err := store.TouchActive(ctx, userPrefix+"-missing", base); err != nil || ok {
			t.Fatalf("TouchActive missing: ok=%v err=%v", ok, err)
		}
	})

	t.Run("DeactivateIsIdempotent", func(t *testing.T) {
		user := userPrefix + "-deact"
		s := newSuiteSession(user, base)
		if _, err := store.CreateWithCap(ctx, s, 5, base); err != nil {
			t.Fatalf("CreateWithCap: %v", err)
		}
		changed, err := store.Deactivate(ctx, s.ID)
		if err != nil || !changed {
			t.Fatalf("Deactivate: changed=%v err=%v", changed, err)
		}
		changed, err = store.Deactivate(ctx, s.ID)
		if err != nil || changed {
			t.Fatalf("Deactivate again: changed=%v err=%v", changed, err)
		}
		if changed, err := store.Deactivate(ctx, userPrefix+"-never"); err != nil || changed {
			t.Fatalf("Deactivate missing: changed=%v err=%v", changed, err)
		}
	})

	t.Run("DeactivateAllForUser", func(t *testing.T) {
		user := userPrefix + "-all"
		other := userPrefix + "-all-other"
		for i := 0; i < 3; i++ {
			at := base.Add(time.Duration(i) * time.Second)
			if _, err := store.CreateWithCap(ctx, newSuiteSession(user, at), 10, at); err != nil {
				t.Fatalf("CreateWithCap: %v", err)
			}
		}
		keep := newSuiteSession(other, base)
		if _, err := store.CreateWithCap(ctx, keep, 10, base); err != nil {
			t.Fatalf("CreateWithCap: %v", err)
		}

		n, err := store.DeactivateAllForUser(ctx, user)
		if err != nil {
			t.Fatalf("DeactivateAllForUser: %v", err)
		}
		if n != 3 {
			t.Fatalf("expected 3 deactivated, got %d", n)
		}
		live, err := store.ListActiveByUser(ctx, other, base)
		if err != nil || len(live) != 1 {
			t.Fatalf("other user affected: live=%d err=%v", len(live), err)
		}
	})

	t.Run("DeactivateStale", func(t *testing.T) {
		user := userPrefix + "-stale"
		now := base.Add(48 * time.Hour)

		expired := newSuiteSession(user, base)
		expired.ExpiresAt = base.Add(time.Hour)

		idle := newSuiteSession(user, base.Add(time.Hour))

		fresh := newSuiteSession(user, now.Add(-time.Minute))

		for _, s := range []Session{expired, idle, fresh} {
			if _, err := store.CreateWithCap(ctx, s, 10, s.IssuedAt); err != nil {
				t.Fatalf("CreateWithCap: %v", err)
			}
		}

		n, err := store.DeactivateStale(ctx, now, now.Add(-24*time.Hour))
		if err != nil {
			t.Fatalf("DeactivateStale: %v", err)
		}
		if n < 2 {
			t.Fatalf("expected at least 2 stale rows, got %d", n)
		}

		for _, s := range []Session{expired, idle} {
			got, err := store.GetByID(ctx, s.ID)
			if err != nil {
				t.Fatalf("GetByID: %v", err)
			}
			if got.IsActive {
				t.Fatalf("expected %s deactivated", s.ID)
			}
		}
		got, err := store.GetByID(ctx, fresh.ID)
		if err != nil || !got.IsActive {
			t.Fatalf("expected fresh session active: %+v err=%v", got, err)
		}

		again, err := store.DeactivateStale(ctx, now, now.Add(-24*time.Hour))
		if err != nil {
			t.Fatalf("DeactivateStale again: %v", err)
		}
		if again != 0 {
			t.Fatalf("expected idempotent sweep, got %d", again)
		}
	})

	t.Run("ListActiveByUserEmpty", func(t *testing.T) {
		live, err := store.ListActiveByUser(ctx, userPrefix+"-nobody", base)
		if err != nil {
			t.Fatalf("ListActiveByUser: %v", err)
		}
		if live == nil || len(live) != 0 {
			t.Fatalf("expected empty non-nil slice, got %#v", live)
		}
	})
}
