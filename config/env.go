package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// EnvPrefix is prepended to every environment override key.
const EnvPrefix = "DIGIPOP_"

// ApplyEnv overlays DIGIPOP_* environment variables onto the config.
// Only variables that are set are applied; everything else keeps its
// YAML value. Derived values are recomputed afterwards.
func (c *Config) ApplyEnv() error {
	if err := env.ParseWithOptions(c, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	c.computeDerived()
	return nil
}
