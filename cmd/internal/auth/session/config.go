package session

import (
	"fmt"
	"time"

	"vigil/cmd/internal/envcfg"
	"vigil/cmd/security/token"
)

// Config defines all runtime configuration for the session subsystem.
//
// It controls access-token TTL, the fixed session lifetime, the per-user
// concurrency cap, idle deactivation, and the signing secret.
type Config struct {
	// Issuer is the value set in the "iss" claim of access tokens.
	Issuer string

	// AccessTokenTTL defines the lifetime of access tokens.
	AccessTokenTTL time.Duration

	// RefreshClaimTTL is the lifetime of signed refresh-claim tokens.
	// Sessions never accept those; see token.Issuer.CreateRefreshClaimToken.
	RefreshClaimTTL time.Duration

	// SessionDuration is the fixed lifetime of a session row, independent of AccessTokenTTL.
	SessionDuration time.Duration

	// MaxConcurrentSessions caps active, unexpired sessions per user. Must be >= 1.
	MaxConcurrentSessions int

	// InactivityTimeout deactivates sessions whose last activity is older than this.
	InactivityTimeout time.Duration

	// CleanupInterval is how often CleanupExpiredSessions runs.
	CleanupInterval time.Duration

	// SigningSecret is the master secret. Signing and refresh-hash keys are derived from it.
	SigningSecret string
}

// DefaultConfig returns the default configuration without a signing secret.
func DefaultConfig() Config {
	return Config{
		Issuer:                "vigil",
		AccessTokenTTL:        60 * time.Minute,
		RefreshClaimTTL:       7 * 24 * time.Hour,
		SessionDuration:       7 * 24 * time.Hour,
		MaxConcurrentSessions: 1,
		InactivityTimeout:     24 * time.Hour,
		CleanupInterval:       15 * time.Minute,
	}
}

// LoadConfigFromEnv loads session configuration from the environment and .env.
func LoadConfigFromEnv() (Config, error) {
	return LoadConfig(envcfg.FromEnv())
}

// LoadConfig loads session configuration from src.
//
// Required:
//   - VIGIL_JWT_SECRET (>= 32 bytes)
//
// Optional (durations must be valid Go duration strings):
//   - VIGIL_AUTH_ISSUER
//   - VIGIL_AUTH_ACCESS_TTL
//   - VIGIL_AUTH_REFRESH_CLAIM_TTL
//   - VIGIL_AUTH_SESSION_DURATION
//   - VIGIL_AUTH_MAX_CONCURRENT_SESSIONS
//   - VIGIL_AUTH_INACTIVITY_TIMEOUT
//   - VIGIL_AUTH_SESSION_CLEANUP_INTERVAL
//
// Returns an error wrapping ErrConfig if configuration is invalid.
func LoadConfig(src *envcfg.Source) (Config, error) {
	cfg := DefaultConfig()
	cfg.Issuer = src.String("VIGIL_AUTH_ISSUER", cfg.Issuer)

	var err error
	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"VIGIL_AUTH_ACCESS_TTL", &cfg.AccessTokenTTL},
		{"VIGIL_AUTH_REFRESH_CLAIM_TTL", &cfg.RefreshClaimTTL},
		{"VIGIL_AUTH_SESSION_DURATION", &cfg.SessionDuration},
		{"VIGIL_AUTH_INACTIVITY_TIMEOUT", &cfg.InactivityTimeout},
		{"VIGIL_AUTH_SESSION_CLEANUP_INTERVAL", &cfg.CleanupInterval},
	}
	for _, d := range durations {
		if *d.dst, err = src.Duration(d.key, *d.dst); err != nil {
			return Config{}, fmt.Errorf("%w: %w", ErrConfig, err)
		}
	}

	if cfg.MaxConcurrentSessions, err = src.Int("VIGIL_AUTH_MAX_CONCURRENT_SESSIONS", cfg.MaxConcurrentSessions); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrConfig, err)
	}

	cfg.SigningSecret = src.String("VIGIL_JWT_SECRET", "")

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks invariants. Every failure wraps ErrConfig.
func (c Config) Validate() error {
	if err := token.ValidateSecret(c.SigningSecret); err != nil {
		return fmt.Errorf("%w: %w", ErrConfig, err)
	}
	if c.MaxConcurrentSessions < 1 {
		return fmt.Errorf("%w: max concurrent sessions must be >= 1", ErrConfig)
	}
	if c.AccessTokenTTL <= 0 || c.RefreshClaimTTL <= 0 || c.SessionDuration <= 0 ||
		c.InactivityTimeout <= 0 || c.CleanupInterval <= 0 {
		return fmt.Errorf("%w: durations must be positive", ErrConfig)
	}
	return nil
}
