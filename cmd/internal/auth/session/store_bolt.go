package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

var (
	bucketSessions     = []byte("sessions")
	bucketRefreshIndex = []byte("refresh_index")
	bucketUsers        = []byte("users")
)

// BoltStore implements Store on an embedded bbolt database.
//
// Layout:
//   - sessions:      id -> JSON(Session)
//   - refresh_index: refresh_hash -> id
//   - users/<uid>:   id -> nil
//
// bbolt allows one writer at a time, so every Update is serialized.
type BoltStore struct {
	db *bbolt.DB
}

var _ Store = (*BoltStore)(nil)

// NewBoltStore wraps an open database and ensures buckets exist.
func NewBoltStore(db *bbolt.DB) (*BoltStore, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketSessions, bucketRefreshIndex, bucketUsers} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("session: bolt init: %w", err)
	}
	return &BoltStore{db: db}, nil
}

// NewBoltStoreFromFile opens (or creates) a bbolt file at path.
func NewBoltStoreFromFile(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	st, err := NewBoltStore(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

// Close closes the underlying database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func getSessionTx(tx *bbolt.Tx, id string) (Session, error) {
	data := tx.Bucket(bucketSessions).Get([]byte(id))
	if data == nil {
		return Session{}, ErrSessionNotFound
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return Session{}, fmt.Errorf("session: decode %s: %w", id, err)
	}
	return sess, nil
}

func putSessionTx(tx *bbolt.Tx, sess Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	return tx.Bucket(bucketSessions).Put([]byte(sess.ID), data)
}

func userSessionsTx(tx *bbolt.Tx, userID string) ([]Session, error) {
	ub := tx.Bucket(bucketUsers).Bucket([]byte(userID))
	if ub == nil {
		return nil, nil
	}
	var out []Session
	err := ub.ForEach(func(k, _ []byte) error {
		sess, err := getSessionTx(tx, string(k))
		if errors.Is(err, ErrSessionNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		out = append(out, sess)
		return nil
	})
	return out, err
}

// CreateWithCap implements Store.
func (s *BoltStore) CreateWithCap(ctx context.Context, sess Session, maxActive int, now time.Time) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var evicted []string
	err := s.db.Update(func(tx *bbolt.Tx) error {
		all, err := userSessionsTx(tx, sess.UserID)
		if err != nil {
			return err
		}
		var live []Session
		for _, row := range all {
			if row.Live(now) {
				live = append(live, row)
			}
		}

		evicted = evictionVictims(live, maxActive)
		for _, id := range evicted {
			row, err := getSessionTx(tx, id)
			if err != nil {
				return err
			}
			row.IsActive = false
			if err := putSessionTx(tx, row); err != nil {
				return err
			}
		}

		if err := putSessionTx(tx, sess); err != nil {
			return err
		}
		if err := tx.Bucket(bucketRefreshIndex).Put([]byte(sess.RefreshHash), []byte(sess.ID)); err != nil {
			return err
		}
		ub, err := tx.Bucket(bucketUsers).CreateBucketIfNotExists([]byte(sess.UserID))
		if err != nil {
			return err
		}
		return ub.Put([]byte(sess.ID), []byte{1})
	})
	if err != nil {
		return nil, fmt.Errorf("session: create: %w", err)
	}
	return evicted, nil
}

// GetByID implements Store.
func (s *BoltStore) GetByID(_ context.Context, sessionID string) (Session, error) {
	var out Session
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		out, err = getSessionTx(tx, sessionID)
		return err
	})
	return out, err
}

// GetByRefreshHash implements Store.
func (s *BoltStore) GetByRefreshHash(_ context.Context, refreshHash string) (Session, error) {
	var out Session
	err := s.db.View(func(tx *bbolt.Tx) error {
		id := tx.Bucket(bucketRefreshIndex).Get([]byte(refreshHash))
		if id == nil {
			return ErrSessionNotFound
		}
		var err error
		out, err = getSessionTx(tx, string(id))
		return err
	})
	return out, err
}

// TouchActive implements Store.
func (s *BoltStore) TouchActive(_ context.Context, sessionID string, now time.Time) (bool, error) {
	touched := false
	err := s.db.Update(func(tx *bbolt.Tx) error {
		row, err := getSessionTx(tx, sessionID)
		if errors.Is(err, ErrSessionNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if !row.Live(now) {
			return nil
		}
		row.LastActivity = now
		touched = true
		return putSessionTx(tx, row)
	})
	return touched, err
}

// Deactivate implements Store.
func (s *BoltStore) Deactivate(_ context.Context, sessionID string) (bool, error) {
	changed := false
	err := s.db.Update(func(tx *bbolt.Tx) error {
		row, err := getSessionTx(tx, sessionID)
		if errors.Is(err, ErrSessionNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if !row.IsActive {
			return nil
		}
		row.IsActive = false
		changed = true
		return putSessionTx(tx, row)
	})
	return changed, err
}

// DeactivateAllForUser implements Store.
func (s *BoltStore) DeactivateAllForUser(_ context.Context, userID string) (int64, error) {
	var n int64
	err := s.db.Update(func(tx *bbolt.Tx) error {
		rows, err := userSessionsTx(tx, userID)
		if err != nil {
			return err
		}
		for _, row := range rows {
			if !row.IsActive {
				continue
			}
			row.IsActive = false
			if err := putSessionTx(tx, row); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	return n, err
}

// DeactivateStale implements Store.
func (s *BoltStore) DeactivateStale(_ context.Context, now, inactiveBefore time.Time) (int64, error) {
	var n int64
	err := s.db.Update(func(tx *bbolt.Tx) error {
		var stale []Session
		err := tx.Bucket(bucketSessions).ForEach(func(_, v []byte) error {
			var row Session
			if err := json.Unmarshal(v, &row); err != nil {
				return err
			}
			if isStale(row, now, inactiveBefore) {
				stale = append(stale, row)
			}
			return nil
		})
		if err != nil {
			return err
		}
		// Mutating a bucket inside its own ForEach is not allowed.
		for _, row := range stale {
			row.IsActive = false
			if err := putSessionTx(tx, row); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	return n, err
}

// ListActiveByUser implements Store.
func (s *BoltStore) ListActiveByUser(_ context.Context, userID string, now time.Time) ([]Session, error) {
	out := []Session{}
	err := s.db.View(func(tx *bbolt.Tx) error {
		rows, err := userSessionsTx(tx, userID)
		if err != nil {
			return err
		}
		for _, row := range rows {
			if row.Live(now) {
				out = append(out, row)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortByActivityDesc(out)
	return out, nil
}
