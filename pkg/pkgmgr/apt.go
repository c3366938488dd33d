// Package pkgmgr wraps the apt package manager for provisioning steps.
// It batches installs, falls back to per-package invocations so one
// unavailable package does not block the rest, and refreshes the package
// cache at most once per process.
package pkgmgr

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/openrig/rigup/pkg/execute"
	"github.com/openrig/rigup/pkg/provision"
)

// InstallReport records the per-package outcome of one Install call.
type InstallReport struct {
	// Installed lists packages newly installed by this call.
	Installed []string `json:"installed"`

	// AlreadyPresent lists packages that were installed before the call.
	AlreadyPresent []string `json:"already_present"`

	// Failed maps a package name to the reason it could not be
	// installed, verbatim from apt.
	Failed map[string]string `json:"failed,omitempty"`
}

// Ok reports whether every requested package ended up installed.
func (r *InstallReport) Ok() bool {
	return len(r.Failed) == 0
}

// Installer installs Debian packages through apt-get.
type Installer struct {
	runner  execute.Runner
	logger  zerolog.Logger
	timeout time.Duration

	// updateOnce guards the cache refresh: at most one `apt-get update`
	// per process, reset only by process restart.
	updateOnce sync.Once
	updateErr  error
}

const defaultTimeout = 15 * time.Minute

// aptEnv makes apt fully non-interactive.
var aptEnv = []string{"DEBIAN_FRONTEND=noninteractive"}

// NewInstaller creates an apt installer on top of the given runner.
func NewInstaller(runner execute.Runner, logger zerolog.Logger) *Installer {
	return &Installer{
		runner:  runner,
		logger:  logger.With().Str("component", "pkgmgr").Logger(),
		timeout: defaultTimeout,
	}
}

// Install ensures every named package is installed. The package cache is
// refreshed once per process; the whole list is installed in one apt
// invocation when possible, with a per-package fallback when the batch
// fails. Each package gets at most one retry before being recorded as
// failed. Install never returns an error for package failures, which
// land in the report; only a cache refresh that could not run at all is
// an error.
func (i *Installer) Install(ctx context.Context, packages []string) (*InstallReport, error) {
	report := &InstallReport{Failed: make(map[string]string)}
	if len(packages) == 0 {
		return report, nil
	}

	if err := i.updateCache(ctx); err != nil {
		return nil, err
	}

	// Partition out packages dpkg already knows, so the report
	// distinguishes "installed now" from "was already there".
	var missing []string
	for _, pkg := range packages {
		if i.isInstalled(ctx, pkg) {
			report.AlreadyPresent = append(report.AlreadyPresent, pkg)
		} else {
			missing = append(missing, pkg)
		}
	}
	if len(missing) == 0 {
		return report, nil
	}

	// Batch first: one invocation for the full list.
	if reason := i.aptInstall(ctx, missing); reason == "" {
		report.Installed = append(report.Installed, missing...)
		return report, nil
	}

	i.logger.Warn().
		Strs("packages", missing).
		Msg("batch install failed, falling back to per-package installs")

	// Per-package fallback with a single retry each.
	for _, pkg := range missing {
		reason := i.aptInstall(ctx, []string{pkg})
		if reason != "" {
			reason = i.aptInstall(ctx, []string{pkg})
		}
		if reason != "" {
			report.Failed[pkg] = reason
			i.logger.Error().Str("package", pkg).Str("reason", reason).Msg("package install failed")
		} else {
			report.Installed = append(report.Installed, pkg)
		}
	}

	return report, nil
}

// Missing returns the subset of packages dpkg does not report installed.
// Used as a pre-flight check so a fully satisfied package set can be
// skipped without touching apt.
func (i *Installer) Missing(ctx context.Context, packages []string) []string {
	var missing []string
	for _, pkg := range packages {
		if !i.isInstalled(ctx, pkg) {
			missing = append(missing, pkg)
		}
	}
	return missing
}

// updateCache runs `apt-get update` at most once for the process lifetime.
func (i *Installer) updateCache(ctx context.Context) error {
	i.updateOnce.Do(func() {
		i.logger.Info().Msg("refreshing package cache")
		result, err := i.runner.Run(ctx, []string{"apt-get", "update"},
			execute.Options{Timeout: i.timeout, CaptureOutput: true, Env: aptEnv})
		if err != nil {
			i.updateErr = err
			return
		}
		if result.ExitCode != 0 {
			i.updateErr = provision.NewInstallError(
				"apt-get update failed",
				fmt.Errorf("exit %d: %s", result.ExitCode, tail(result.Stderr)))
		}
	})
	return i.updateErr
}

// aptInstall invokes apt-get install for the given packages, returning an
// empty string on success or the failure reason.
func (i *Installer) aptInstall(ctx context.Context, packages []string) string {
	argv := append([]string{"apt-get", "install", "-y"}, packages...)
	result, err := i.runner.Run(ctx, argv,
		execute.Options{Timeout: i.timeout, CaptureOutput: true, Env: aptEnv})
	if err != nil {
		return err.Error()
	}
	if result.ExitCode != 0 {
		return fmt.Sprintf("exit %d: %s", result.ExitCode, tail(result.Stderr))
	}
	return ""
}

// isInstalled asks dpkg-query whether the package is already installed.
func (i *Installer) isInstalled(ctx context.Context, pkg string) bool {
	result, err := i.runner.Run(ctx,
		[]string{"dpkg-query", "-W", "-f=${Status}", pkg},
		execute.Options{Timeout: time.Minute, CaptureOutput: true})
	if err != nil || result.ExitCode != 0 {
		return false
	}
	return strings.Contains(result.Stdout, "install ok installed")
}

// tail keeps error output readable in reports: the last few lines carry
// apt's actual diagnosis.
func tail(s string) string {
	s = strings.TrimSpace(s)
	lines := strings.Split(s, "\n")
	if len(lines) <= 3 {
		return s
	}
	return strings.Join(lines[len(lines)-3:], "\n")
}
