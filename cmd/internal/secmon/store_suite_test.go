package secmon

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vigil/cmd/internal/ids"
)

func suiteEvent(ip string, typ EventType, at time.Time) StoredEvent {
	return StoredEvent{
		ID:        ids.NewEventID(at),
		Type:      typ,
		IPAddress: ip,
		Severity:  SeverityMedium,
		Timestamp: at,
	}
}

// storeTests runs the shared Store contract against s. ip must be unique per run.
func storeTests(t *testing.T, s Store, ip string) {
	ctx := context.Background()
	t0 := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.Init(ctx))
	require.NoError(t, s.Clear(ctx))

	t.Run("EmptySnapshot", func(t *testing.T) {
		snap, err := s.Snapshot(ctx)
		require.NoError(t, err)
		assert.Empty(t, snap.Events)
		assert.Zero(t, snap.ActiveAlerts)
		assert.Zero(t, snap.ActivitySources)
	})

	t.Run("AppendIsBounded", func(t *testing.T) {
		for i := 0; i < 5; i++ {
			require.NoError(t, s.Append(ctx, suiteEvent(ip, TypeAuthFailure, t0.Add(time.Duration(i)*time.Second)), 3))
		}
		require.NoError(t, s.Append(ctx, suiteEvent(ip, TypeInvalidToken, t0), 3))

		evs, err := s.EventsForSource(ctx, ip)
		require.NoError(t, err)
		require.Len(t, evs, 4)

		var failures []time.Time
		for _, ev := range evs {
			if ev.Type == TypeAuthFailure {
				failures = append(failures, ev.Timestamp)
			}
		}
		require.Len(t, failures, 3)
		for _, ts := range failures {
			assert.False(t, ts.Before(t0.Add(2*time.Second)), "oldest entries must be dropped")
		}
	})

	t.Run("EventsForSourceIsScoped", func(t *testing.T) {
		evs, err := s.EventsForSource(ctx, ip+"0")
		require.NoError(t, err)
		assert.Empty(t, evs)
	})

	t.Run("AppendActivityReturnsWindowOldestFirst", func(t *testing.T) {
		var w []Activity
		var err error
		for i := 0; i < 4; i++ {
			a := Activity{Type: TypeInvalidToken, Path: "/x", Timestamp: t0.Add(time.Duration(i) * time.Minute)}
			w, err = s.AppendActivity(ctx, ip, a, 3)
			require.NoError(t, err)
		}
		require.Len(t, w, 3)
		assert.Equal(t, t0.Add(time.Minute), w[0].Timestamp)
		assert.Equal(t, t0.Add(3*time.Minute), w[2].Timestamp)
	})

	t.Run("MarkAlertOnce", func(t *testing.T) {
		first, err := s.MarkAlert(ctx, ip, DetectorBruteForce)
		require.NoError(t, err)
		assert.True(t, first)

		again, err := s.MarkAlert(ctx, ip, DetectorBruteForce)
		require.NoError(t, err)
		assert.False(t, again)

		other, err := s.MarkAlert(ctx, ip, DetectorPathScanning)
		require.NoError(t, err)
		assert.True(t, other)

		snap, err := s.Snapshot(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, snap.ActiveAlerts)
		assert.Equal(t, 1, snap.ActivitySources)
		assert.Len(t, snap.Events, 4)

		require.NoError(t, s.ClearAlerts(ctx))
		first, err = s.MarkAlert(ctx, ip, DetectorBruteForce)
		require.NoError(t, err)
		assert.True(t, first)
	})

	t.Run("Prune", func(t *testing.T) {
		// Drops the token event at t0 and failures at t0+2s and t0+3s.
		n, err := s.Prune(ctx, t0.Add(3*time.Second))
		require.NoError(t, err)
		assert.Equal(t, 3, n)

		evs, err := s.EventsForSource(ctx, ip)
		require.NoError(t, err)
		require.Len(t, evs, 1)
		assert.Equal(t, t0.Add(4*time.Second), evs[0].Timestamp)

		snap, err := s.Snapshot(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, snap.ActivitySources)

		n, err = s.Prune(ctx, t0.Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		snap, err = s.Snapshot(ctx)
		require.NoError(t, err)
		assert.Empty(t, snap.Events)
		assert.Zero(t, snap.ActivitySources)
	})

	t.Run("Clear", func(t *testing.T) {
		require.NoError(t, s.Append(ctx, suiteEvent(ip, TypeXSSAttempt, t0), 10))
		require.NoError(t, s.Clear(ctx))

		snap, err := s.Snapshot(ctx)
		require.NoError(t, err)
		assert.Empty(t, snap.Events)
		assert.Zero(t, snap.ActiveAlerts)
	})
}

func TestMemoryStore(t *testing.T) {
	storeTests(t, NewMemoryStore(), "192.0.2.77")
}
