package secmon

import (
	"context"
	"sync"
	"time"
)

type ringKey struct {
	source string
	typ    EventType
}

type alertKey struct {
	source   string
	detector string
}

// MemoryStore keeps all state in process memory behind one mutex.
type MemoryStore struct {
	mu       sync.Mutex
	events   map[ringKey][]StoredEvent
	activity map[string][]Activity
	alerts   map[alertKey]struct{}
}

// NewMemoryStore returns an empty, ready store.
func NewMemoryStore() *MemoryStore {
	m := &MemoryStore{}
	m.reset()
	return m
}

func (m *MemoryStore) reset() {
	m.events = make(map[ringKey][]StoredEvent)
	m.activity = make(map[string][]Activity)
	m.alerts = make(map[alertKey]struct{})
}

func (m *MemoryStore) Init(context.Context) error { return nil }

func (m *MemoryStore) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reset()
	return nil
}

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) Append(_ context.Context, ev StoredEvent, limit int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := ringKey{source: ev.Source(), typ: ev.Type}
	ring := append(m.events[k], ev)
	if limit > 0 && len(ring) > limit {
		ring = append([]StoredEvent(nil), ring[len(ring)-limit:]...)
	}
	m.events[k] = ring
	return nil
}

func (m *MemoryStore) AppendActivity(_ context.Context, source string, a Activity, limit int) ([]Activity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w := append(m.activity[source], a)
	if limit > 0 && len(w) > limit {
		w = append([]Activity(nil), w[len(w)-limit:]...)
	}
	m.activity[source] = w
	return append([]Activity(nil), w...), nil
}

func (m *MemoryStore) MarkAlert(_ context.Context, source, detector string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := alertKey{source: source, detector: detector}
	if _, ok := m.alerts[k]; ok {
		return false, nil
	}
	m.alerts[k] = struct{}{}
	return true, nil
}

func (m *MemoryStore) ClearAlerts(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = make(map[alertKey]struct{})
	return nil
}

func (m *MemoryStore) Snapshot(context.Context) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out Snapshot
	for _, ring := range m.events {
		out.Events = append(out.Events, ring...)
	}
	out.ActiveAlerts = len(m.alerts)
	out.ActivitySources = len(m.activity)
	return out, nil
}

func (m *MemoryStore) EventsForSource(_ context.Context, source string) ([]StoredEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []StoredEvent
	for k, ring := range m.events {
		if k.source == source {
			out = append(out, ring...)
		}
	}
	return out, nil
}

func (m *MemoryStore) Prune(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	dropped := 0
	for k, ring := range m.events {
		kept := keepAfter(ring, cutoff)
		dropped += len(ring) - len(kept)
		if len(kept) == 0 {
			delete(m.events, k)
			continue
		}
		m.events[k] = kept
	}
	for src, w := range m.activity {
		if !windowAlive(w, cutoff) {
			delete(m.activity, src)
		}
	}
	return dropped, nil
}
