package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// parseEnv overlays QIDE_* environment variables. Unset variables leave the
// field untouched.
func parseEnv(cfg *Config) error {
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}
