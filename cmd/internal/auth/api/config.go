package authapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"vigil/cmd/internal/envcfg"
)

// ErrConfig is wrapped by every configuration failure of this package.
var ErrConfig = errors.New("authapi: invalid configuration")

// Config controls the HTTP surface: proxy trust, limits, admin access, and the web cookie transport.
type Config struct {
	TrustProxy   bool
	MaxBodyBytes int64

	// AdminToken enables the /admin routes when non-empty.
	AdminToken string

	RateLimitRPS   float64
	RateLimitBurst int
	// BlockThreshold limiter violations inside BlockWindow block the source for BlockDuration.
	BlockThreshold int
	BlockWindow    time.Duration
	BlockDuration  time.Duration

	WebRefreshCookieEnabled bool
	RefreshCookieName       string
	CSRFCookieName          string
	CSRFHeaderName          string
	CookiePath              string
	CookieDomain            string
	CookieSecure            bool
	CookieSameSite          http.SameSite
}

// DefaultConfig returns the stock limits: 10 rps, burst 40, block after 10 violations in 15 minutes.
func DefaultConfig() Config {
	return Config{
		MaxBodyBytes:      1 << 20,
		RateLimitRPS:      10,
		RateLimitBurst:    40,
		BlockThreshold:    10,
		BlockWindow:       15 * time.Minute,
		BlockDuration:     15 * time.Minute,
		RefreshCookieName: "vigil_refresh_token",
		CSRFCookieName:    "vigil_csrf_token",
		CSRFHeaderName:    "X-CSRF-Token",
		CookiePath:        "/auth",
		CookieSecure:      true,
		CookieSameSite:    http.SameSiteLaxMode,
	}
}

// LoadConfig reads VIGIL_HTTP_TRUST_PROXY, VIGIL_ADMIN_TOKEN, VIGIL_RATE_LIMIT_* and VIGIL_WEB_* from src.
func LoadConfig(src *envcfg.Source) (Config, error) {
	cfg := DefaultConfig()

	var err error
	if cfg.TrustProxy, err = src.Bool("VIGIL_HTTP_TRUST_PROXY", cfg.TrustProxy); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	maxBody, err := src.Int("VIGIL_HTTP_MAX_BODY_BYTES", int(cfg.MaxBodyBytes))
	if err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	cfg.MaxBodyBytes = int64(maxBody)
	cfg.AdminToken = strings.TrimSpace(src.String("VIGIL_ADMIN_TOKEN", ""))

	if cfg.RateLimitRPS, err = src.Float("VIGIL_RATE_LIMIT_RPS", cfg.RateLimitRPS); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	if cfg.RateLimitBurst, err = src.Int("VIGIL_RATE_LIMIT_BURST", cfg.RateLimitBurst); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	if cfg.BlockThreshold, err = src.Int("VIGIL_RATE_LIMIT_BLOCK_THRESHOLD", cfg.BlockThreshold); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	if cfg.BlockWindow, err = src.Duration("VIGIL_RATE_LIMIT_BLOCK_WINDOW", cfg.BlockWindow); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	if cfg.BlockDuration, err = src.Duration("VIGIL_RATE_LIMIT_BLOCK_DURATION", cfg.BlockDuration); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrConfig, err)
	}

	if cfg.WebRefreshCookieEnabled, err = src.Bool("VIGIL_WEB_REFRESH_COOKIE", cfg.WebRefreshCookieEnabled); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	if cfg.CookieSecure, err = src.Bool("VIGIL_WEB_COOKIE_SECURE", cfg.CookieSecure); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	cfg.CookieDomain = strings.TrimSpace(src.String("VIGIL_WEB_COOKIE_DOMAIN", ""))
	cfg.CookiePath = src.String("VIGIL_WEB_COOKIE_PATH", cfg.CookiePath)
	switch strings.ToLower(strings.TrimSpace(src.String("VIGIL_WEB_COOKIE_SAMESITE", "lax"))) {
	case "lax":
		cfg.CookieSameSite = http.SameSiteLaxMode
	case "strict":
		cfg.CookieSameSite = http.SameSiteStrictMode
	case "none":
		cfg.CookieSameSite = http.SameSiteNoneMode
	default:
		return Config{}, fmt.Errorf("%w: VIGIL_WEB_COOKIE_SAMESITE must be lax, strict or none", ErrConfig)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks limits and the cookie settings.
func (c Config) Validate() error {
	if c.MaxBodyBytes <= 0 {
		return fmt.Errorf("%w: max body bytes must be positive", ErrConfig)
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst < 1 {
		return fmt.Errorf("%w: rate limit must be positive", ErrConfig)
	}
	if c.BlockThreshold < 1 || c.BlockWindow <= 0 || c.BlockDuration <= 0 {
		return fmt.Errorf("%w: block threshold and durations must be positive", ErrConfig)
	}
	if c.AdminToken != "" && len(c.AdminToken) < 16 {
		return fmt.Errorf("%w: admin token must be at least 16 bytes", ErrConfig)
	}
	if c.WebRefreshCookieEnabled {
		if c.RefreshCookieName == "" || c.CSRFCookieName == "" || c.CSRFHeaderName == "" {
			return fmt.Errorf("%w: cookie names are required", ErrConfig)
		}
		if c.CookieSameSite == http.SameSiteNoneMode && !c.CookieSecure {
			return fmt.Errorf("%w: SameSite=None requires secure cookies", ErrConfig)
		}
	}
	return nil
}
