package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"vigil/cmd/internal/ids"
	"vigil/cmd/security/token"
)

const maxRefreshSecretLen = 4096

// Manager implements the session lifecycle: create with eviction, refresh,
// invalidation, lookup, and the expiry/inactivity sweep.
type Manager struct {
	cfg     Config
	store   Store
	issuer  *token.Issuer
	hasher  token.Hasher
	now     func() time.Time
	log     *slog.Logger
	metrics *Metrics
}

// Option configures optional Manager dependencies.
type Option func(*Manager)

// WithClock overrides the wall clock (tests).
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(m *Manager) {
		if log != nil {
			m.log = log
		}
	}
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(metrics *Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// CreateParams describes the device opening a session.
type CreateParams struct {
	UserID    string
	UserAgent string
	IPAddress string
}

// Created is the result of CreateSession.
type Created struct {
	SessionID       string
	AccessToken     string
	AccessExpiresAt time.Time
	RefreshSecret   string
	ExpiresAt       time.Time
}

// Refreshed is the result of RefreshAccessToken.
type Refreshed struct {
	AccessToken     string
	AccessExpiresAt time.Time
	UserID          string
	SessionID       string
}

// NewManager validates cfg, derives keys from its signing secret, and builds a Manager.
func NewManager(cfg Config, store Store, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if store == nil {
		return nil, errors.New("session: nil store")
	}

	keys, err := token.DeriveKeys(cfg.SigningSecret)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	issuer, err := token.NewIssuer(token.IssuerConfig{
		Issuer:          cfg.Issuer,
		AccessTTL:       cfg.AccessTokenTTL,
		RefreshClaimTTL: cfg.RefreshClaimTTL,
		SigningKey:      keys.Signing,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}

	m := &Manager{
		cfg:    cfg,
		store:  store,
		issuer: issuer,
		hasher: token.NewHasher(keys.RefreshHash),
		now:    func() time.Time { return time.Now().UTC() },
		log:    slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m, nil
}

// Config returns the effective configuration.
func (m *Manager) Config() Config { return m.cfg }

// CreateSession opens a session for p.UserID.
//
// Count, evict, and insert run as one store transaction: when the user already
// holds MaxConcurrentSessions live sessions, the least recently active ones are
// deactivated without notice.
func (m *Manager) CreateSession(ctx context.Context, p CreateParams) (Created, error) {
	userID := strings.TrimSpace(p.UserID)
	if userID == "" {
		return Created{}, ErrInvalidUserID
	}
	now := m.now()

	secret, err := token.GenerateRefreshSecret()
	if err != nil {
		return Created{}, fmt.Errorf("session: create: %w", err)
	}
	access, accessExp, err := m.issuer.CreateAccessToken(userID, now)
	if err != nil {
		return Created{}, fmt.Errorf("session: create: %w", err)
	}
	id, err := ids.NewULID(now)
	if err != nil {
		return Created{}, fmt.Errorf("session: create: %w", err)
	}

	sess := Session{
		ID:           id,
		UserID:       userID,
		RefreshHash:  m.hasher.Hash(secret),
		UserAgent:    strings.TrimSpace(p.UserAgent),
		IPAddress:    strings.TrimSpace(p.IPAddress),
		IssuedAt:     now,
		LastActivity: now,
		ExpiresAt:    now.Add(m.cfg.SessionDuration),
		IsActive:     true,
	}

	evicted, err := m.store.CreateWithCap(ctx, sess, m.cfg.MaxConcurrentSessions, now)
	if err != nil {
		return Created{}, err
	}

	m.metrics.observeCreate(len(evicted))
	if len(evicted) > 0 {
		m.log.Info("session.create.evicted", "user_id", userID, "session_id", id, "evicted", evicted)
	}

	return Created{
		SessionID:       id,
		AccessToken:     access,
		AccessExpiresAt: accessExp,
		RefreshSecret:   secret,
		ExpiresAt:       sess.ExpiresAt,
	}, nil
}

// RefreshAccessToken mints a new access token for the session bound to refreshSecret.
//
// It returns ErrSessionExpiredOrRevoked unless the session exists, is active, and
// has not expired. Store failures are returned unchanged.
func (m *Manager) RefreshAccessToken(ctx context.Context, refreshSecret string) (Refreshed, error) {
	refreshSecret = strings.TrimSpace(refreshSecret)
	if refreshSecret == "" || len(refreshSecret) > maxRefreshSecretLen {
		m.metrics.observeRefresh("rejected")
		return Refreshed{}, ErrSessionExpiredOrRevoked
	}
	now := m.now()

	row, err := m.store.GetByRefreshHash(ctx, m.hasher.Hash(refreshSecret))
	if errors.Is(err, ErrSessionNotFound) {
		m.metrics.observeRefresh("rejected")
		return Refreshed{}, ErrSessionExpiredOrRevoked
	}
	if err != nil {
		m.metrics.observeRefresh("error")
		return Refreshed{}, err
	}
	if !row.Live(now) {
		m.metrics.observeRefresh("rejected")
		return Refreshed{}, ErrSessionExpiredOrRevoked
	}

	// Conditional bump: a concurrent logout or eviction between read and write loses here.
	touched, err := m.store.TouchActive(ctx, row.ID, now)
	if err != nil {
		m.metrics.observeRefresh("error")
		return Refreshed{}, err
	}
	if !touched {
		m.metrics.observeRefresh("rejected")
		return Refreshed{}, ErrSessionExpiredOrRevoked
	}

	access, accessExp, err := m.issuer.CreateAccessToken(row.UserID, now)
	if err != nil {
		m.metrics.observeRefresh("error")
		return Refreshed{}, err
	}

	m.metrics.observeRefresh("ok")
	return Refreshed{
		AccessToken:     access,
		AccessExpiresAt: accessExp,
		UserID:          row.UserID,
		SessionID:       row.ID,
	}, nil
}

// VerifyAccessToken checks an access token without touching storage.
// Any failure (tampered, expired, wrong type) yields ok=false.
func (m *Manager) VerifyAccessToken(accessToken string) (token.Claims, bool) {
	return m.issuer.VerifyAccessToken(accessToken, m.now())
}

// InvalidateSession deactivates one session. Unknown or already inactive IDs are not an error.
func (m *Manager) InvalidateSession(ctx context.Context, sessionID string) error {
	changed, err := m.store.Deactivate(ctx, strings.TrimSpace(sessionID))
	if err != nil {
		return err
	}
	if changed {
		m.metrics.observeInvalidated(1)
	}
	return nil
}

// InvalidateAllUserSessions deactivates every session of userID and returns how many were active.
func (m *Manager) InvalidateAllUserSessions(ctx context.Context, userID string) (int64, error) {
	n, err := m.store.DeactivateAllForUser(ctx, strings.TrimSpace(userID))
	if err != nil {
		return 0, err
	}
	m.metrics.observeInvalidated(n)
	return n, nil
}

// GetActiveSession returns the session only if it is active and unexpired.
// An expired row is reported as absent even if its active flag was never cleared.
func (m *Manager) GetActiveSession(ctx context.Context, sessionID string) (Session, bool, error) {
	row, err := m.store.GetByID(ctx, strings.TrimSpace(sessionID))
	if errors.Is(err, ErrSessionNotFound) {
		return Session{}, false, nil
	}
	if err != nil {
		return Session{}, false, err
	}
	if !row.Live(m.now()) {
		return Session{}, false, nil
	}
	return row, true, nil
}

// CleanupExpiredSessions deactivates expired sessions and sessions idle longer
// than InactivityTimeout. It returns the number of rows deactivated.
func (m *Manager) CleanupExpiredSessions(ctx context.Context) (int64, error) {
	now := m.now()
	n, err := m.store.DeactivateStale(ctx, now, now.Add(-m.cfg.InactivityTimeout))
	if err != nil {
		return 0, err
	}
	m.metrics.observeCleaned(n)
	return n, nil
}

// GetUserActiveSessions lists the user's live sessions, most recently active first.
func (m *Manager) GetUserActiveSessions(ctx context.Context, userID string) ([]Session, error) {
	return m.store.ListActiveByUser(ctx, strings.TrimSpace(userID), m.now())
}
