package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateAuth(); err != nil {
		return err
	}
	if err := c.validateLimits(); err != nil {
		return err
	}
	return c.validateLogging()
}

// validateAuth only checks shape; a missing secret is reported by RequireJWTSecret
// so offline CLI commands keep working without one.
func (c *Config) validateAuth() error {
	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 16 {
		return errors.New("auth.jwt_secret must be at least 16 characters")
	}
	return nil
}

func (c *Config) validateLimits() error {
	if c.Upload.MaxFileMiB <= 0 {
		return errors.New("upload.max_file_mib must be positive")
	}
	if c.Merge.MaxFragments <= 0 {
		return errors.New("merge.max_fragments must be positive")
	}
	if c.Merge.MaxTotalMiB <= 0 {
		return errors.New("merge.max_total_mib must be positive")
	}
	switch c.Merge.PageSize {
	case "A4", "LETTER", "LEGAL":
	default:
		return fmt.Errorf("merge.page_size: unsupported value %q", c.Merge.PageSize)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}

// RequireJWTSecret reports a configuration error when no signing secret is available.
func (c *Config) RequireJWTSecret() error {
	if c.Auth.JWTSecret != "" {
		return nil
	}
	defaultPath, err := DefaultConfigPath()
	if err != nil {
		defaultPath = "~/.config/cosflow/config.toml"
	}
	return fmt.Errorf("auth.jwt_secret is required. Set %s env var or edit %s (create with 'cosflow config init')", jwtSecretEnv, defaultPath)
}
