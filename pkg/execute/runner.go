// Package execute runs external commands for provisioning steps. It wraps
// os/exec with output capture, timeouts, detached spawning, and a dry-run
// implementation that records intended invocations instead of spawning.
package execute

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/openrig/rigup/pkg/provision"
)

// Options controls a single command invocation.
type Options struct {
	// Timeout bounds the command's execution. Zero means no bound.
	Timeout time.Duration

	// CaptureOutput collects stdout and stderr into the Result.
	CaptureOutput bool

	// Detach spawns the process in its own session and returns
	// immediately. The runner never tracks or signals the process
	// afterwards; ownership transfers to the init system. Detach and
	// CaptureOutput are mutually exclusive.
	Detach bool

	// Dir is the working directory; empty means the caller's.
	Dir string

	// Env holds extra KEY=VALUE pairs appended to the environment.
	Env []string
}

// Result holds the outcome of a finished command. A non-zero exit code is
// returned here, not as an error, so callers decide severity.
type Result struct {
	// ExitCode is the process exit status; 0 for a detached spawn.
	ExitCode int

	// Stdout is the captured standard output, if requested.
	Stdout string

	// Stderr is the captured standard error, if requested.
	Stderr string

	// Duration is the wall time of the invocation.
	Duration time.Duration
}

// Runner executes external commands. Implementations: LocalRunner spawns
// real processes, DryRunner records what would have been spawned.
type Runner interface {
	Run(ctx context.Context, argv []string, opts Options) (*Result, error)
}

// LocalRunner executes commands on the local host.
type LocalRunner struct {
	logger zerolog.Logger
}

// NewLocalRunner creates a runner that spawns real processes.
func NewLocalRunner(logger zerolog.Logger) *LocalRunner {
	return &LocalRunner{
		logger: logger.With().Str("component", "runner").Logger(),
	}
}

// Run executes argv. It returns an execution error when the process
// cannot be spawned, a timeout error when Options.Timeout elapses, and a
// plain Result with the exit code otherwise.
func (r *LocalRunner) Run(ctx context.Context, argv []string, opts Options) (*Result, error) {
	if len(argv) == 0 {
		return nil, provision.NewExecutionError("empty argv", nil)
	}
	if opts.Detach && opts.CaptureOutput {
		return nil, provision.NewExecutionError("detach and capture are mutually exclusive", nil)
	}

	if opts.Detach {
		return r.spawnDetached(argv, opts)
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if opts.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Dir = opts.Dir
	if len(opts.Env) > 0 {
		cmd.Env = append(cmd.Environ(), opts.Env...)
	}

	var stdout, stderr bytes.Buffer
	if opts.CaptureOutput {
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
	}

	r.logger.Debug().Strs("argv", argv).Msg("spawning command")

	start := time.Now()
	err := cmd.Run()
	result := &Result{
		Duration: time.Since(start),
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}

	if err != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			return result, provision.NewTimeoutError(
				fmt.Sprintf("command %q exceeded %v", argv[0], opts.Timeout),
				context.DeadlineExceeded)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return nil, provision.NewExecutionError(
			fmt.Sprintf("failed to spawn %q", argv[0]), err).
			WithCode(provision.ErrCodeSpawnFailed)
	}

	result.ExitCode = 0
	return result, nil
}

// spawnDetached starts the process in a new session and releases it. The
// call returns as soon as the spawn succeeds; the process outlives rigup.
func (r *LocalRunner) spawnDetached(argv []string, opts Options) (*Result, error) {
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = opts.Dir
	if len(opts.Env) > 0 {
		cmd.Env = append(cmd.Environ(), opts.Env...)
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, provision.NewExecutionError(
			fmt.Sprintf("failed to spawn detached %q", argv[0]), err).
			WithCode(provision.ErrCodeSpawnFailed)
	}

	r.logger.Info().
		Strs("argv", argv).
		Int("pid", cmd.Process.Pid).
		Msg("detached process started")

	// Release so the child is reparented to init rather than leaving a
	// zombie behind when it exits.
	if err := cmd.Process.Release(); err != nil {
		return nil, provision.NewExecutionError("failed to release detached process", err)
	}

	return &Result{ExitCode: 0, Duration: time.Since(start)}, nil
}

// Quote renders argv as a single shell-style line for logs and reports.
func Quote(argv []string) string {
	quoted := make([]string, len(argv))
	for i, arg := range argv {
		if strings.ContainsAny(arg, " \t\"'") {
			quoted[i] = fmt.Sprintf("%q", arg)
		} else {
			quoted[i] = arg
		}
	}
	return strings.Join(quoted, " ")
}
