package remote

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	remoteBinaryPath  = "/usr/local/bin/rigup"
	remoteProfilePath = "/etc/rigup/profile.cue"
)

// Bootstrapper provisions remote hosts: upload the rigup binary and a
// profile, then run the apply there.
type Bootstrapper struct {
	binaryPath string
	logger     zerolog.Logger
	timeout    time.Duration
}

// Result summarizes one remote bootstrap.
type Result struct {
	Target   string        `json:"target"`
	ExitCode int           `json:"exit_code"`
	Output   string        `json:"output"`
	Duration time.Duration `json:"duration"`
}

// NewBootstrapper creates a bootstrapper that distributes the binary at
// binaryPath. Pass the running executable's own path to replicate it.
func NewBootstrapper(binaryPath string, logger zerolog.Logger) *Bootstrapper {
	return &Bootstrapper{
		binaryPath: binaryPath,
		logger:     logger.With().Str("component", "bootstrap").Logger(),
		timeout:    30 * time.Minute,
	}
}

// Bootstrap provisions one target. profilePath may be empty, in which
// case the target's inventory profile or the remote binary's builtin
// profile is used. dryRun is forwarded to the remote apply.
func (b *Bootstrapper) Bootstrap(ctx context.Context, target *Target, profilePath string, dryRun bool) (*Result, error) {
	started := time.Now()

	client := NewClient(target, b.logger)
	if err := client.Connect(ctx); err != nil {
		return nil, err
	}
	defer client.Close()

	b.logger.Info().Str("target", target.Name).Msg("uploading binary")
	if err := client.Upload(b.binaryPath, remoteBinaryPath, 0o755); err != nil {
		return nil, fmt.Errorf("target %s: %w", target.Name, err)
	}

	if profilePath == "" {
		profilePath = target.Profile
	}

	args := []string{remoteBinaryPath, "apply"}
	if profilePath != "" {
		b.logger.Info().Str("target", target.Name).Str("profile", profilePath).Msg("uploading profile")
		if err := client.Upload(profilePath, remoteProfilePath, 0o644); err != nil {
			return nil, fmt.Errorf("target %s: %w", target.Name, err)
		}
		args = append(args, "--profile", remoteProfilePath)
	}
	if dryRun {
		args = append(args, "--dry-run")
	}

	command := strings.Join(args, " ")
	b.logger.Info().Str("target", target.Name).Str("command", command).Msg("running remote apply")

	runCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	result, err := client.Run(runCtx, command)
	if err != nil {
		return nil, fmt.Errorf("target %s: %w", target.Name, err)
	}

	output := result.Stdout
	if result.Stderr != "" {
		output += result.Stderr
	}

	r := &Result{
		Target:   target.Name,
		ExitCode: result.ExitCode,
		Output:   output,
		Duration: time.Since(started),
	}

	if result.ExitCode != 0 {
		b.logger.Error().
			Str("target", target.Name).
			Int("exit_code", result.ExitCode).
			Msg("remote apply failed")
	} else {
		b.logger.Info().
			Str("target", target.Name).
			Dur("duration", r.Duration).
			Msg("remote apply completed")
	}
	return r, nil
}
