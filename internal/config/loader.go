package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Initialize is cmd/elspeth's single entry point into this package: load
// envPath into the process environment, read settingsPath, and return a
// validated RuntimeConfig. Mirrors tarsy's pkg/config.Initialize(ctx,
// configDir) load-then-validate-then-return shape; ctx is accepted for
// symmetry with that signature and future use (e.g. fetching settings
// from a remote store) even though today's load is purely local.
func Initialize(ctx context.Context, settingsPath, envPath string) (*RuntimeConfig, error) {
	if envPath != "" {
		if err := LoadDotEnv(envPath); err != nil {
			return nil, err
		}
	}

	if _, err := os.Stat(settingsPath); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, settingsPath)
		}
		return nil, fmt.Errorf("config: stat %s: %w", settingsPath, err)
	}

	settings, err := Load(settingsPath)
	if err != nil {
		return nil, err
	}

	runtimeCfg, err := settings.ToRuntimeConfig()
	if err != nil {
		return nil, err
	}

	if runtimeCfg.RateLimit.PersistencePath != "" {
		if dir := filepath.Dir(runtimeCfg.RateLimit.PersistencePath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("config: create rate_limit persistence dir %s: %w", dir, err)
			}
		}
	}

	return runtimeCfg, nil
}
