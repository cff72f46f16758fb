package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	authapi "vigil/cmd/internal/auth/api"
	"vigil/cmd/internal/auth/session"
	"vigil/cmd/internal/envcfg"
	"vigil/cmd/internal/secmon"
	"vigil/cmd/internal/secmon/stream"
)

// ErrConfig is wrapped by server configuration failures.
var ErrConfig = errors.New("app: invalid configuration")

// Config contains all runtime configuration loaded from the environment and .env.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
	MaxHeaderBytes    int

	DatabaseURL   string
	DBMaxConns    int32
	DBMinConns    int32
	DBAutoMigrate bool

	// BoltPath selects the embedded session store when no database is configured.
	BoltPath string

	// ReadinessRequireDB makes /readyz fail unless a reachable database is configured.
	ReadinessRequireDB bool

	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int

	Session  session.Config
	Security secmon.Config
	Stream   stream.Config
	Auth     authapi.Config
}

// LoadConfigFromEnv is LoadConfig(envcfg.FromEnv()).
func LoadConfigFromEnv() (Config, error) {
	return LoadConfig(envcfg.FromEnv())
}

// LoadConfig reads the server settings and every subsystem config from src.
func LoadConfig(src *envcfg.Source) (Config, error) {
	cfg := Config{
		HTTPAddr:  src.String("VIGIL_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  src.String("VIGIL_LOG_LEVEL", "info"),
		LogFormat: strings.ToLower(src.String("VIGIL_LOG_FORMAT", "json")),

		DatabaseURL: src.String("VIGIL_DATABASE_URL", ""),
		BoltPath:    src.String("VIGIL_BOLT_PATH", ""),

		CORSAllowedOrigins: splitCSV(src.String("VIGIL_CORS_ALLOWED_ORIGINS", "")),
	}

	var err error
	durations := []struct {
		key string
		dst *time.Duration
		def time.Duration
	}{
		{"VIGIL_HTTP_READ_HEADER_TIMEOUT", &cfg.ReadHeaderTimeout, 5 * time.Second},
		{"VIGIL_HTTP_READ_TIMEOUT", &cfg.ReadTimeout, 15 * time.Second},
		{"VIGIL_HTTP_WRITE_TIMEOUT", &cfg.WriteTimeout, 15 * time.Second},
		{"VIGIL_HTTP_IDLE_TIMEOUT", &cfg.IdleTimeout, 60 * time.Second},
		{"VIGIL_HTTP_SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout, 10 * time.Second},
	}
	for _, d := range durations {
		if *d.dst, err = src.Duration(d.key, d.def); err != nil {
			return Config{}, fmt.Errorf("%w: %w", ErrConfig, err)
		}
	}

	if cfg.MaxHeaderBytes, err = src.Int("VIGIL_HTTP_MAX_HEADER_BYTES", 1<<20); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	if cfg.DBMaxConns, err = src.Int32("VIGIL_DB_MAX_CONNS", 10); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	if cfg.DBMinConns, err = src.Int32("VIGIL_DB_MIN_CONNS", 0); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	if cfg.DBAutoMigrate, err = src.Bool("VIGIL_DB_AUTO_MIGRATE", false); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	if cfg.ReadinessRequireDB, err = src.Bool("VIGIL_READINESS_REQUIRE_DB", false); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	if cfg.CORSAllowCredentials, err = src.Bool("VIGIL_CORS_ALLOW_CREDENTIALS", false); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	if cfg.CORSMaxAgeSeconds, err = src.Int("VIGIL_CORS_MAX_AGE_SECONDS", 600); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrConfig, err)
	}

	switch cfg.LogFormat {
	case "json", "text", "pretty":
	default:
		return Config{}, fmt.Errorf("%w: VIGIL_LOG_FORMAT must be json, text or pretty", ErrConfig)
	}

	if cfg.Session, err = session.LoadConfig(src); err != nil {
		return Config{}, err
	}
	if cfg.Security, err = secmon.LoadConfig(src); err != nil {
		return Config{}, err
	}
	if cfg.Stream, err = stream.LoadConfig(src); err != nil {
		return Config{}, err
	}
	if cfg.Auth, err = authapi.LoadConfig(src); err != nil {
		return Config{}, err
	}

	if err := ValidateSecurityConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func splitCSV(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
