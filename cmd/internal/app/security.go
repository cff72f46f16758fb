package app

import "fmt"

// ValidateSecurityConfig enforces cross-subsystem policy at startup.
// Each subsystem validates its own settings; this covers what only the whole config can see.
func ValidateSecurityConfig(cfg Config) error {
	if cfg.Auth.AdminToken != "" && cfg.Auth.AdminToken == cfg.Session.SigningSecret {
		return fmt.Errorf("%w: VIGIL_ADMIN_TOKEN must differ from VIGIL_JWT_SECRET", ErrConfig)
	}
	if cfg.CORSAllowCredentials {
		for _, o := range cfg.CORSAllowedOrigins {
			if o == "*" {
				return fmt.Errorf("%w: credentialed CORS cannot allow every origin", ErrConfig)
			}
		}
	}
	if cfg.DBAutoMigrate && cfg.DatabaseURL == "" {
		return fmt.Errorf("%w: VIGIL_DB_AUTO_MIGRATE requires VIGIL_DATABASE_URL", ErrConfig)
	}
	return nil
}
