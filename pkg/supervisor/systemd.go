// Package supervisor registers long-running audio services with systemd.
// Registration is idempotent: re-registering an identical definition is a
// no-op beyond confirming the running state, while a changed definition
// rewrites the unit and restarts the service.
package supervisor

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/openrig/rigup/pkg/execute"
	"github.com/openrig/rigup/pkg/patch"
	"github.com/openrig/rigup/pkg/provision"
)

// RegisterResult reports what RegisterAndStart did.
type RegisterResult string

const (
	// Registered means the unit was newly written, enabled and started.
	Registered RegisterResult = "registered"

	// AlreadyRegistered means an identical unit existed and is running.
	AlreadyRegistered RegisterResult = "already_registered"

	// Updated means an existing unit differed, was rewritten and the
	// service restarted.
	Updated RegisterResult = "updated"
)

// DefaultUnitDir is where systemd unit files are written.
const DefaultUnitDir = "/etc/systemd/system"

// Bridge talks to systemd through systemctl.
type Bridge struct {
	runner  execute.Runner
	logger  zerolog.Logger
	unitDir string
	timeout time.Duration
}

// NewBridge creates a systemd bridge on top of the given runner.
func NewBridge(runner execute.Runner, logger zerolog.Logger) *Bridge {
	return &Bridge{
		runner:  runner,
		logger:  logger.With().Str("component", "supervisor").Logger(),
		unitDir: DefaultUnitDir,
		timeout: 2 * time.Minute,
	}
}

// WithUnitDir overrides the unit directory; used by tests.
func (b *Bridge) WithUnitDir(dir string) *Bridge {
	b.unitDir = dir
	return b
}

// RegisterAndStart ensures the service described by def is registered and
// running. Ownership of the process belongs to systemd afterwards; rigup
// never tracks or signals it.
func (b *Bridge) RegisterAndStart(ctx context.Context, def *Definition) (RegisterResult, error) {
	rendered, err := def.Render()
	if err != nil {
		return "", provision.NewSupervisorError("invalid unit definition", err).
			WithCode(provision.ErrCodeUnitRejected)
	}

	unitPath := def.UnitPath(b.unitDir)
	existing, readErr := os.ReadFile(unitPath)
	if readErr != nil && !os.IsNotExist(readErr) {
		return "", provision.NewIOError(fmt.Sprintf("failed to read %s", unitPath), readErr)
	}

	switch {
	case readErr == nil && bytes.Equal(existing, rendered):
		// Identical definition: confirm running state only.
		active, err := b.isActive(ctx, def.Name)
		if err != nil {
			return "", err
		}
		if active {
			return AlreadyRegistered, nil
		}
		if err := b.systemctl(ctx, "start", def.Name); err != nil {
			return "", err
		}
		return AlreadyRegistered, nil

	case readErr == nil:
		// Changed definition: rewrite, reload, restart.
		if err := patch.WriteFile(unitPath, rendered, 0o644); err != nil {
			return "", err
		}
		if err := b.systemctl(ctx, "daemon-reload"); err != nil {
			return "", err
		}
		if err := b.systemctl(ctx, "enable", def.Name); err != nil {
			return "", err
		}
		if err := b.systemctl(ctx, "restart", def.Name); err != nil {
			return "", err
		}
		b.logger.Info().Str("unit", def.Name).Msg("service definition updated and restarted")
		return Updated, nil

	default:
		// New definition: write, reload, enable, start.
		if err := patch.WriteFile(unitPath, rendered, 0o644); err != nil {
			return "", err
		}
		if err := b.systemctl(ctx, "daemon-reload"); err != nil {
			return "", err
		}
		if err := b.systemctl(ctx, "enable", def.Name); err != nil {
			return "", err
		}
		if err := b.systemctl(ctx, "start", def.Name); err != nil {
			return "", err
		}
		b.logger.Info().Str("unit", def.Name).Msg("service registered and started")
		return Registered, nil
	}
}

// IsRegistered reports whether an identical unit file is already on disk.
func (b *Bridge) IsRegistered(def *Definition) (bool, error) {
	rendered, err := def.Render()
	if err != nil {
		return false, err
	}
	existing, readErr := os.ReadFile(def.UnitPath(b.unitDir))
	if os.IsNotExist(readErr) {
		return false, nil
	}
	if readErr != nil {
		return false, provision.NewIOError("failed to read unit file", readErr)
	}
	return bytes.Equal(existing, rendered), nil
}

// isActive asks systemctl whether the unit is currently active.
func (b *Bridge) isActive(ctx context.Context, name string) (bool, error) {
	result, err := b.runner.Run(ctx, []string{"systemctl", "is-active", name + ".service"},
		execute.Options{Timeout: b.timeout, CaptureOutput: true})
	if err != nil {
		return false, provision.NewSupervisorError("systemctl is-active failed", err)
	}
	// is-active exits non-zero for inactive units; that is an answer,
	// not a failure.
	return strings.TrimSpace(result.Stdout) == "active", nil
}

// systemctl runs one control command, mapping rejection to SupervisorError.
func (b *Bridge) systemctl(ctx context.Context, args ...string) error {
	argv := append([]string{"systemctl"}, args...)
	if len(args) > 1 {
		argv[len(argv)-1] += ".service"
	}
	result, err := b.runner.Run(ctx, argv,
		execute.Options{Timeout: b.timeout, CaptureOutput: true})
	if err != nil {
		return provision.NewSupervisorError(
			fmt.Sprintf("systemctl %s failed", args[0]), err)
	}
	if result.ExitCode != 0 {
		return provision.NewSupervisorError(
			fmt.Sprintf("systemctl %s rejected", strings.Join(args, " ")),
			fmt.Errorf("exit %d: %s", result.ExitCode, strings.TrimSpace(result.Stderr))).
			WithCode(provision.ErrCodeUnitRejected)
	}
	return nil
}
