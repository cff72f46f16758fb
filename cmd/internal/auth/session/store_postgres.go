package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store using PostgreSQL (vigil.sessions).
//
// Schema is managed by the embedded migrations in cmd/internal/dbmigrate.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a Postgres-backed session store. The caller owns the pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const selectSessionColumns = `
	id, user_id, refresh_hash,
	COALESCE(user_agent, ''), COALESCE(ip_address, ''),
	issued_at, last_activity, expires_at, is_active`

func scanSession(row pgx.Row) (Session, error) {
	var s Session
	err := row.Scan(
		&s.ID,
		&s.UserID,
		&s.RefreshHash,
		&s.UserAgent,
		&s.IPAddress,
		&s.IssuedAt,
		&s.LastActivity,
		&s.ExpiresAt,
		&s.IsActive,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, ErrSessionNotFound
	}
	if err != nil {
		return Session{}, err
	}
	return s, nil
}

// CreateWithCap implements Store.
//
// Concurrency model:
//   - A transaction-scoped advisory lock keyed by user serializes concurrent logins of one user.
//   - Live rows are locked (FOR UPDATE) so refresh/logout cannot interleave with eviction.
func (s *PostgresStore) CreateWithCap(ctx context.Context, sess Session, maxActive int, now time.Time) ([]string, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("session: create: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := lockUserTx(ctx, tx, sess.UserID); err != nil {
		return nil, err
	}

	live, err := listLiveForUpdateTx(ctx, tx, sess.UserID, now)
	if err != nil {
		return nil, err
	}

	evicted := evictionVictims(live, maxActive)
	if err := deactivateManyTx(ctx, tx, evicted); err != nil {
		return nil, err
	}

	if err := insertTx(ctx, tx, sess); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("session: create: commit: %w", err)
	}
	return evicted, nil
}

// GetByID implements Store.
func (s *PostgresStore) GetByID(ctx context.Context, sessionID string) (Session, error) {
	return scanSession(s.pool.QueryRow(ctx, `
		SELECT`+selectSessionColumns+`
		FROM vigil.sessions
		WHERE id = $1
	`, sessionID))
}

// GetByRefreshHash implements Store.
func (s *PostgresStore) GetByRefreshHash(ctx context.Context, refreshHash string) (Session, error) {
	return scanSession(s.pool.QueryRow(ctx, `
		SELECT`+selectSessionColumns+`
		FROM vigil.sessions
		WHERE refresh_hash = $1
	`, refreshHash))
}

// TouchActive implements Store.
func (s *PostgresStore) TouchActive(ctx context.Context, sessionID string, now time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE vigil.sessions
		SET last_activity = $2
		WHERE id = $1
		  AND is_active
		  AND expires_at > $2
	`, sessionID, now)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Deactivate implements Store (idempotent).
func (s *PostgresStore) Deactivate(ctx context.Context, sessionID string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE vigil.sessions
		SET is_active = false
		WHERE id = $1
		  AND is_active
	`, sessionID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// DeactivateAllForUser implements Store (idempotent).
func (s *PostgresStore) DeactivateAllForUser(ctx context.Context, userID string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE vigil.sessions
		SET is_active = false
		WHERE user_id = $1
		  AND is_active
	`, userID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// DeactivateStale implements Store.
func (s *PostgresStore) DeactivateStale(ctx context.Context, now, inactiveBefore time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE vigil.sessions
		SET is_active = false
		WHERE is_active
		  AND (expires_at < $1 OR last_activity < $2)
	`, now, inactiveBefore)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ListActiveByUser implements Store.
func (s *PostgresStore) ListActiveByUser(ctx context.Context, userID string, now time.Time) ([]Session, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT`+selectSessionColumns+`
		FROM vigil.sessions
		WHERE user_id = $1
		  AND is_active
		  AND expires_at > $2
		ORDER BY last_activity DESC, id DESC
	`, userID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Session{}
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
