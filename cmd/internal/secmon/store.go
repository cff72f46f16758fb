package secmon

import (
	"context"
	"sort"
	"time"
)

// Snapshot is a consistent view of the store for reporting.
type Snapshot struct {
	Events          []StoredEvent
	ActiveAlerts    int
	ActivitySources int
}

// Store holds event ring buffers, activity windows, and the alert set.
//
// Init is called once at startup and Clear resets all state (tests, admin reset).
type Store interface {
	Init(ctx context.Context) error
	Clear(ctx context.Context) error
	Close() error

	// Append pushes ev onto its (source, type) ring, dropping the oldest beyond limit.
	Append(ctx context.Context, ev StoredEvent, limit int) error

	// AppendActivity pushes a onto the source's window, dropping the oldest beyond
	// limit, and returns the window oldest first.
	AppendActivity(ctx context.Context, source string, a Activity, limit int) ([]Activity, error)

	// MarkAlert adds (source, detector) to the alert set and reports whether it was absent.
	MarkAlert(ctx context.Context, source, detector string) (bool, error)

	// ClearAlerts empties the alert set.
	ClearAlerts(ctx context.Context) error

	// Snapshot returns all buffered events and set sizes.
	Snapshot(ctx context.Context) (Snapshot, error)

	// EventsForSource returns every buffered event of source in any order.
	EventsForSource(ctx context.Context, source string) ([]StoredEvent, error)

	// Prune drops events at or before cutoff, removes empty rings, and removes
	// activity windows with no entry after cutoff. It returns the number of events dropped.
	Prune(ctx context.Context, cutoff time.Time) (int, error)
}

// sortNewestFirst orders events by timestamp descending, id descending on ties.
func sortNewestFirst(evs []StoredEvent) {
	sort.SliceStable(evs, func(i, j int) bool {
		if !evs[i].Timestamp.Equal(evs[j].Timestamp) {
			return evs[i].Timestamp.After(evs[j].Timestamp)
		}
		return evs[i].ID > evs[j].ID
	})
}

func keepAfter(evs []StoredEvent, cutoff time.Time) []StoredEvent {
	out := evs[:0]
	for _, ev := range evs {
		if ev.Timestamp.After(cutoff) {
			out = append(out, ev)
		}
	}
	return out
}

func windowAlive(window []Activity, cutoff time.Time) bool {
	for _, a := range window {
		if a.Timestamp.After(cutoff) {
			return true
		}
	}
	return false
}
