package config

import (
	"fmt"

	"github.com/ilyakaznacheev/cleanenv"
)

// WithEnv overlays values from environment variables named by the struct
// tags. Unset variables keep the current value; env-default tags only fill
// fields that are still zero.
func WithEnv() Option {
	return func(c *ServerConfig) error {
		if err := cleanenv.ReadEnv(c); err != nil {
			return fmt.Errorf("failed to read environment: %w", err)
		}
		return nil
	}
}

// EnvUsage describes every supported environment variable.
func EnvUsage() string {
	var cfg ServerConfig
	usage, err := cleanenv.GetDescription(&cfg, nil)
	if err != nil {
		return err.Error()
	}
	return usage
}
