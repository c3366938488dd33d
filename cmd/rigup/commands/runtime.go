package commands

import (
	"fmt"

	"github.com/openrig/rigup/pkg/profile"
	"github.com/openrig/rigup/pkg/telemetry"
)

// buildLogger constructs the command's logger from the global flags.
func buildLogger() (*telemetry.Logger, error) {
	cfg := telemetry.DefaultConfig().Logging
	if verbose {
		cfg.Level = "debug"
	}
	cfg.MirrorFile = logFile

	logger, err := telemetry.NewLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to set up logging: %w", err)
	}
	return logger, nil
}

// loadProfile loads the profile named by --profile, falling back to the
// embedded workstation profile.
func loadProfile() (*profile.Profile, error) {
	if profilePath == "" {
		return profile.LoadBuiltin()
	}
	return profile.NewLoader().Load(profilePath)
}
