package secmon

import (
	"context"
	"time"
)

const (
	recentEventsLimit  = 50
	recentEventsWindow = time.Hour

	ephemeralMessage = "No security events are buffered. The store was reset or this instance has not seen traffic yet."
)

// Stats summarizes the buffered events.
type Stats struct {
	TotalEvents      int               `json:"totalEvents"`
	EventsByType     map[EventType]int `json:"eventsByType"`
	EventsBySeverity map[Severity]int  `json:"eventsBySeverity"`
	UniqueIPs        int               `json:"uniqueIPs"`
	ActiveAlerts     int               `json:"activeAlerts"`
	SuspiciousIPs    int               `json:"suspiciousIPs"`
	RecentEvents     []StoredEvent     `json:"recentEvents"`

	// Ephemeral is set when the store holds no events at all, so callers do
	// not mistake a reset store for a quiet one.
	Ephemeral bool   `json:"ephemeral"`
	Message   string `json:"message,omitempty"`
}

// GetSecurityStats aggregates everything currently buffered.
func (m *Monitor) GetSecurityStats(ctx context.Context) (Stats, error) {
	snap, err := m.store.Snapshot(ctx)
	if err != nil {
		return Stats{}, err
	}

	st := Stats{
		EventsByType:     make(map[EventType]int),
		EventsBySeverity: make(map[Severity]int),
		ActiveAlerts:     snap.ActiveAlerts,
		SuspiciousIPs:    snap.ActivitySources,
		RecentEvents:     []StoredEvent{},
	}
	if len(snap.Events) == 0 {
		st.Ephemeral = true
		st.Message = ephemeralMessage
		return st, nil
	}

	since := m.now().Add(-recentEventsWindow)
	sources := make(map[string]struct{})
	for _, ev := range snap.Events {
		st.TotalEvents++
		st.EventsByType[ev.Type]++
		st.EventsBySeverity[ev.Severity]++
		sources[ev.Source()] = struct{}{}
		if ev.Timestamp.After(since) {
			st.RecentEvents = append(st.RecentEvents, ev)
		}
	}
	st.UniqueIPs = len(sources)

	sortNewestFirst(st.RecentEvents)
	if len(st.RecentEvents) > recentEventsLimit {
		st.RecentEvents = st.RecentEvents[:recentEventsLimit]
	}
	return st, nil
}

// GetEventsForIP returns every buffered event of source, newest first.
// An empty source selects events recorded without an IP.
func (m *Monitor) GetEventsForIP(ctx context.Context, source string) ([]StoredEvent, error) {
	evs, err := m.store.EventsForSource(ctx, sourceOf(source))
	if err != nil {
		return nil, err
	}
	sortNewestFirst(evs)
	return evs, nil
}
