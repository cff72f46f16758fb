package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore implements Store in process memory.
// It is used in tests and single-process development runs.
type MemoryStore struct {
	mu     sync.Mutex
	byID   map[string]Session
	byHash map[string]string
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:   make(map[string]Session),
		byHash: make(map[string]string),
	}
}

// CreateWithCap implements Store.
func (m *MemoryStore) CreateWithCap(ctx context.Context, s Session, maxActive int, now time.Time) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var live []Session
	for _, row := range m.byID {
		if row.UserID == s.UserID && row.Live(now) {
			live = append(live, row)
		}
	}

	evicted := evictionVictims(live, maxActive)
	for _, id := range evicted {
		row := m.byID[id]
		row.IsActive = false
		m.byID[id] = row
	}

	m.byID[s.ID] = s
	m.byHash[s.RefreshHash] = s.ID
	return evicted, nil
}

// GetByID implements Store.
func (m *MemoryStore) GetByID(_ context.Context, sessionID string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.byID[sessionID]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	return row, nil
}

// GetByRefreshHash implements Store.
func (m *MemoryStore) GetByRefreshHash(_ context.Context, refreshHash string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byHash[refreshHash]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	return m.byID[id], nil
}

// TouchActive implements Store.
func (m *MemoryStore) TouchActive(_ context.Context, sessionID string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.byID[sessionID]
	if !ok || !row.Live(now) {
		return false, nil
	}
	row.LastActivity = now
	m.byID[sessionID] = row
	return true, nil
}

// Deactivate implements Store.
func (m *MemoryStore) Deactivate(_ context.Context, sessionID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.byID[sessionID]
	if !ok || !row.IsActive {
		return false, nil
	}
	row.IsActive = false
	m.byID[sessionID] = row
	return true, nil
}

// DeactivateAllForUser implements Store.
func (m *MemoryStore) DeactivateAllForUser(_ context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for id, row := range m.byID {
		if row.UserID == userID && row.IsActive {
			row.IsActive = false
			m.byID[id] = row
			n++
		}
	}
	return n, nil
}

// DeactivateStale implements Store.
func (m *MemoryStore) DeactivateStale(_ context.Context, now, inactiveBefore time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for id, row := range m.byID {
		if isStale(row, now, inactiveBefore) {
			row.IsActive = false
			m.byID[id] = row
			n++
		}
	}
	return n, nil
}

// ListActiveByUser implements Store.
func (m *MemoryStore) ListActiveByUser(_ context.Context, userID string, now time.Time) ([]Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := []Session{}
	for _, row := range m.byID {
		if row.UserID == userID && row.Live(now) {
			out = append(out, row)
		}
	}
	sortByActivityDesc(out)
	return out, nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }
