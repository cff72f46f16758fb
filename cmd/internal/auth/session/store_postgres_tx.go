package session

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

func lockUserTx(ctx context.Context, tx pgx.Tx, userID string) error {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, userID); err != nil {
		return fmt.Errorf("session: lock user: %w", err)
	}
	return nil
}

func listLiveForUpdateTx(ctx context.Context, tx pgx.Tx, userID string, now time.Time) ([]Session, error) {
	rows, err := tx.Query(ctx, `
		SELECT`+selectSessionColumns+`
		FROM vigil.sessions
		WHERE user_id = $1
		  AND is_active
		  AND expires_at > $2
		ORDER BY last_activity ASC, issued_at ASC, id ASC
		FOR UPDATE
	`, userID, now)
	if err != nil {
		return nil, fmt.Errorf("session: list live: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func deactivateManyTx(ctx context.Context, tx pgx.Tx, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := tx.Exec(ctx, `
		UPDATE vigil.sessions
		SET is_active = false
		WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return fmt.Errorf("session: evict: %w", err)
	}
	return nil
}

func insertTx(ctx context.Context, tx pgx.Tx, s Session) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO vigil.sessions (
			id, user_id, refresh_hash,
			user_agent, ip_address,
			issued_at, last_activity, expires_at, is_active
		) VALUES (
			$1, $2, $3,
			$4, $5,
			$6, $7, $8, $9
		)
	`, s.ID, s.UserID, s.RefreshHash,
		nullIfEmpty(s.UserAgent), nullIfEmpty(s.IPAddress),
		s.IssuedAt, s.LastActivity, s.ExpiresAt, s.IsActive)
	if err != nil {
		return fmt.Errorf("session: insert: %w", err)
	}
	return nil
}
