package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// EnvPrefix prefixes every environment variable Katler reads.
const EnvPrefix = "KATLER_"

// ParseEnv overlays KATLER_* environment variables onto target. Fields
// without a matching variable keep their current value.
func ParseEnv(target any) error {
	if err := env.ParseWithOptions(target, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}
