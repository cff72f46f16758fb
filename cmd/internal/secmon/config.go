package secmon

import (
	"fmt"
	"strings"
	"time"

	"vigil/cmd/internal/envcfg"
)

// Config sizes the event store and sets retention.
type Config struct {
	// EventBuffer is the ring size per (source, type).
	EventBuffer int
	// ActivityWindow is the ring size of the per-source activity window.
	ActivityWindow int
	// Retention is how long events survive CleanupOldEvents.
	Retention time.Duration
	// CleanupInterval is how often CleanupOldEvents runs.
	CleanupInterval time.Duration

	// RedisURL selects RedisStore when set.
	RedisURL string
	// RedisPrefix namespaces every Redis key.
	RedisPrefix string
}

// DefaultConfig returns the stock sizes: 50 events, 20 activities, 24h retention, hourly cleanup.
func DefaultConfig() Config {
	return Config{
		EventBuffer:     50,
		ActivityWindow:  20,
		Retention:       24 * time.Hour,
		CleanupInterval: time.Hour,
		RedisPrefix:     "vigil:secmon:",
	}
}

// LoadConfig reads VIGIL_SECMON_* and VIGIL_REDIS_* from src.
func LoadConfig(src *envcfg.Source) (Config, error) {
	cfg := DefaultConfig()

	var err error
	if cfg.EventBuffer, err = src.Int("VIGIL_SECMON_EVENT_BUFFER", cfg.EventBuffer); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	if cfg.ActivityWindow, err = src.Int("VIGIL_SECMON_ACTIVITY_WINDOW", cfg.ActivityWindow); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	if cfg.Retention, err = src.Duration("VIGIL_SECMON_RETENTION", cfg.Retention); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	if cfg.CleanupInterval, err = src.Duration("VIGIL_SECMON_CLEANUP_INTERVAL", cfg.CleanupInterval); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	cfg.RedisURL = strings.TrimSpace(src.String("VIGIL_REDIS_URL", ""))
	cfg.RedisPrefix = src.String("VIGIL_REDIS_PREFIX", cfg.RedisPrefix)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks sizes and durations.
func (c Config) Validate() error {
	if c.EventBuffer < 1 || c.ActivityWindow < 1 {
		return fmt.Errorf("%w: buffer sizes must be >= 1", ErrConfig)
	}
	if c.Retention <= 0 || c.CleanupInterval <= 0 {
		return fmt.Errorf("%w: durations must be positive", ErrConfig)
	}
	return nil
}
