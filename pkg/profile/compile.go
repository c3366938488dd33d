package profile

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/openrig/rigup/pkg/alsa"
	"github.com/openrig/rigup/pkg/execute"
	"github.com/openrig/rigup/pkg/facts"
	"github.com/openrig/rigup/pkg/patch"
	"github.com/openrig/rigup/pkg/pkgmgr"
	"github.com/openrig/rigup/pkg/provision"
	"github.com/openrig/rigup/pkg/supervisor"
	"github.com/openrig/rigup/pkg/telemetry"
)

// devicePlaceholder in a service ExecStart is substituted at apply time
// with the resolved card's hw identifier.
const devicePlaceholder = "${audio_device}"

// Compiler turns a validated Profile into orchestrator stages, binding
// each step kind to the subsystem that implements it.
type Compiler struct {
	runner    execute.Runner
	patcher   *patch.Patcher
	installer *pkgmgr.Installer
	bridge    *supervisor.Bridge
	guard     *GuardEvaluator
	host      *facts.Facts
	logger    zerolog.Logger
	metrics   *telemetry.Metrics
	dryRun    bool
}

// CompilerOption configures a Compiler.
type CompilerOption func(*Compiler)

// WithDryRun compiles steps whose actions announce what they would do
// instead of doing it. Command-shaped actions route their intended argv
// through the runner, so pairing this with an execute.DryRunner records
// every command without touching the host.
func WithDryRun() CompilerOption {
	return func(c *Compiler) {
		c.dryRun = true
	}
}

// WithMetrics records package install results and device resolutions.
func WithMetrics(m *telemetry.Metrics) CompilerOption {
	return func(c *Compiler) {
		c.metrics = m
	}
}

// NewCompiler creates a profile compiler. The host facts feed guard
// expressions and ${user} expansion.
func NewCompiler(
	runner execute.Runner,
	patcher *patch.Patcher,
	installer *pkgmgr.Installer,
	bridge *supervisor.Bridge,
	guard *GuardEvaluator,
	host *facts.Facts,
	logger zerolog.Logger,
	opts ...CompilerOption,
) *Compiler {
	c := &Compiler{
		runner:    runner,
		patcher:   patcher,
		installer: installer,
		bridge:    bridge,
		guard:     guard,
		host:      host,
		logger:    logger.With().Str("component", "compiler").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compile builds the stage list. The profile must already be validated.
func (c *Compiler) Compile(p *Profile) ([]provision.Stage, error) {
	stages := make([]provision.Stage, 0, len(p.Stages))
	for _, spec := range p.Stages {
		stage := provision.Stage{
			Name:   spec.Name,
			Policy: spec.FailurePolicy(),
		}
		for i := range spec.Steps {
			step, err := c.compileStep(&spec.Steps[i])
			if err != nil {
				return nil, fmt.Errorf("stage %s: %w", spec.Name, err)
			}
			stage.Steps = append(stage.Steps, step)
		}
		stages = append(stages, stage)
	}
	return stages, nil
}

func (c *Compiler) compileStep(spec *StepSpec) (provision.Step, error) {
	step := provision.Step{
		ID:          spec.ID,
		Description: spec.Description,
	}

	var err error
	switch {
	case spec.Packages != nil:
		step.Check, step.Action = c.packagesStep(spec.Packages)
	case spec.FileLine != nil:
		step.Check, step.Action = c.fileLineStep(spec.FileLine)
	case spec.FileBlock != nil:
		step.Check, step.Action = c.fileBlockStep(spec.FileBlock)
	case spec.AudioDevice != nil:
		step.Check, step.Action = c.audioDeviceStep(spec.AudioDevice)
	case spec.Service != nil:
		step.Check, step.Action = c.serviceStep(spec.Service)
	case spec.Command != nil:
		step.Check, step.Action, err = c.commandStep(spec.Command)
	case spec.Spawn != nil:
		step.Check, step.Action = c.spawnStep(spec.Spawn)
	default:
		return step, fmt.Errorf("step %s: no action declared", spec.ID)
	}
	if err != nil {
		return step, fmt.Errorf("step %s: %w", spec.ID, err)
	}

	if c.dryRun {
		step.Action = c.dryRunAction(spec)
	}
	if spec.When != "" {
		step.Check = c.guarded(spec.When, step.Check)
	}
	return step, nil
}

// dryRunAction replaces a step's action with one that announces the
// intended change. Steps with a natural command line run it through the
// runner; file edits log what would be written.
func (c *Compiler) dryRunAction(spec *StepSpec) provision.ActionFunc {
	switch {
	case spec.Packages != nil:
		argv := append([]string{"apt-get", "install", "-y"}, c.expandAll(spec.Packages.Names)...)
		return func(ctx context.Context) error {
			_, err := c.runner.Run(ctx, argv, execute.Options{})
			return err
		}
	case spec.Command != nil:
		argv := c.expandAll(spec.Command.Argv)
		return func(ctx context.Context) error {
			_, err := c.runner.Run(ctx, argv, execute.Options{})
			return err
		}
	case spec.Spawn != nil:
		argv := c.expandAll(spec.Spawn.Argv)
		return func(ctx context.Context) error {
			_, err := c.runner.Run(ctx, argv, execute.Options{Detach: true})
			return err
		}
	case spec.Service != nil:
		argv := []string{"systemctl", "restart", spec.Service.Name + ".service"}
		name := spec.Service.Name
		return func(ctx context.Context) error {
			c.logger.Info().
				Str("step", spec.ID).
				Str("unit", name+".service").
				Msg("would write unit file")
			_, err := c.runner.Run(ctx, argv, execute.Options{})
			return err
		}
	case spec.FileLine != nil:
		path := c.expand(spec.FileLine.Path)
		return func(ctx context.Context) error {
			c.logger.Info().Str("step", spec.ID).Str("path", path).Msg("would append line")
			return nil
		}
	case spec.FileBlock != nil:
		path := c.expand(spec.FileBlock.Path)
		return func(ctx context.Context) error {
			c.logger.Info().Str("step", spec.ID).Str("path", path).Msg("would append block")
			return nil
		}
	case spec.AudioDevice != nil:
		envFile := c.expand(spec.AudioDevice.EnvFile)
		pattern := spec.AudioDevice.Pattern
		return func(ctx context.Context) error {
			c.logger.Info().
				Str("step", spec.ID).
				Str("pattern", pattern).
				Str("path", envFile).
				Msg("would resolve audio device and write env file")
			return nil
		}
	default:
		return func(ctx context.Context) error { return nil }
	}
}

// guarded wraps a step check with the profile's `when` expression. A
// false guard skips the step; the inner check only runs when the guard
// holds.
func (c *Compiler) guarded(expr string, inner provision.CheckFunc) provision.CheckFunc {
	return func(ctx context.Context) (bool, string, error) {
		ok, err := c.guard.Eval(ctx, expr, c.host.GuardInput())
		if err != nil {
			return false, "", err
		}
		if !ok {
			return true, fmt.Sprintf("guard %q not met", expr), nil
		}
		if inner == nil {
			return false, "", nil
		}
		return inner(ctx)
	}
}

func (c *Compiler) packagesStep(spec *PackagesSpec) (provision.CheckFunc, provision.ActionFunc) {
	names := c.expandAll(spec.Names)

	check := func(ctx context.Context) (bool, string, error) {
		if len(c.installer.Missing(ctx, names)) == 0 {
			return true, "all packages already installed", nil
		}
		return false, "", nil
	}

	action := func(ctx context.Context) error {
		report, err := c.installer.Install(ctx, names)
		if err != nil {
			return err
		}
		if c.metrics != nil {
			c.metrics.RecordPackages("installed", len(report.Installed))
			c.metrics.RecordPackages("already_present", len(report.AlreadyPresent))
			c.metrics.RecordPackages("failed", len(report.Failed))
		}
		if !report.Ok() {
			return provision.NewInstallError(
				fmt.Sprintf("%d of %d packages failed to install", len(report.Failed), len(names)),
				fmt.Errorf("failed: %s", reportFailures(report)),
			).WithCode(provision.ErrCodePackageFailed)
		}
		return nil
	}
	return check, action
}

func (c *Compiler) fileLineStep(spec *FileLineSpec) (provision.CheckFunc, provision.ActionFunc) {
	path := c.expand(spec.Path)
	line := c.expand(spec.Line)

	check := func(ctx context.Context) (bool, string, error) {
		present, err := c.patcher.Contains(path, line)
		if err != nil {
			return false, "", err
		}
		if present {
			return true, "line already present", nil
		}
		return false, "", nil
	}
	action := func(ctx context.Context) error {
		_, err := c.patcher.EnsureLine(path, line)
		return err
	}
	return check, action
}

func (c *Compiler) fileBlockStep(spec *FileBlockSpec) (provision.CheckFunc, provision.ActionFunc) {
	path := c.expand(spec.Path)
	marker := c.expand(spec.Marker)
	content := c.expand(spec.Content)

	check := func(ctx context.Context) (bool, string, error) {
		present, err := c.patcher.Contains(path, marker)
		if err != nil {
			return false, "", err
		}
		if present {
			return true, "block already present", nil
		}
		return false, "", nil
	}
	action := func(ctx context.Context) error {
		_, err := c.patcher.EnsureBlock(path, marker, content)
		return err
	}
	return check, action
}

func (c *Compiler) audioDeviceStep(spec *AudioDeviceSpec) (provision.CheckFunc, provision.ActionFunc) {
	envFile := c.expand(spec.EnvFile)

	action := func(ctx context.Context) error {
		device, err := c.resolveDevice(ctx, spec.Pattern)
		if err != nil {
			return err
		}
		content := fmt.Sprintf("%s=%s\n", spec.Variable, alsa.HardwareID(device))
		return patch.WriteFile(envFile, []byte(content), 0o644)
	}
	return nil, action
}

func (c *Compiler) serviceStep(spec *ServiceSpec) (provision.CheckFunc, provision.ActionFunc) {
	def := &supervisor.Definition{
		Name:        spec.Name,
		Description: spec.Description,
		ExecStart:   c.expand(spec.ExecStart),
		Restart:     supervisor.RestartPolicy(spec.Restart),
		User:        c.expand(spec.User),
		WorkingDir:  c.expand(spec.WorkingDir),
		After:       spec.After,
		Environment: spec.Environment,
	}

	action := func(ctx context.Context) error {
		if spec.DevicePattern != "" && strings.Contains(def.ExecStart, devicePlaceholder) {
			device, err := c.resolveDevice(ctx, spec.DevicePattern)
			if err != nil {
				return err
			}
			bound := *def
			bound.ExecStart = strings.ReplaceAll(def.ExecStart, devicePlaceholder, alsa.HardwareID(device))
			_, err = c.bridge.RegisterAndStart(ctx, &bound)
			return err
		}
		_, err := c.bridge.RegisterAndStart(ctx, def)
		return err
	}
	return nil, action
}

func (c *Compiler) commandStep(spec *CommandSpec) (provision.CheckFunc, provision.ActionFunc, error) {
	timeout, err := spec.ParseTimeout()
	if err != nil {
		return nil, nil, err
	}
	argv := c.expandAll(spec.Argv)
	creates := c.expand(spec.Creates)

	var check provision.CheckFunc
	if creates != "" {
		check = func(ctx context.Context) (bool, string, error) {
			if _, err := os.Stat(creates); err == nil {
				return true, fmt.Sprintf("%s already exists", creates), nil
			} else if !os.IsNotExist(err) {
				return false, "", provision.NewIOError(
					fmt.Sprintf("failed to stat %s", creates), err)
			}
			return false, "", nil
		}
	}

	action := func(ctx context.Context) error {
		result, err := c.runner.Run(ctx, argv, execute.Options{
			Timeout:       timeout,
			CaptureOutput: true,
			Dir:           spec.Dir,
			Env:           spec.Env,
		})
		if err != nil {
			return err
		}
		if result.ExitCode != 0 {
			return provision.NewExecutionError(
				fmt.Sprintf("command %q exited with %d", execute.Quote(argv), result.ExitCode),
				fmt.Errorf("%s", strings.TrimSpace(result.Stderr)))
		}
		return nil
	}
	return check, action, nil
}

func (c *Compiler) spawnStep(spec *SpawnSpec) (provision.CheckFunc, provision.ActionFunc) {
	argv := c.expandAll(spec.Argv)

	var check provision.CheckFunc
	if spec.UnlessRunning != "" {
		name := spec.UnlessRunning
		check = func(ctx context.Context) (bool, string, error) {
			result, err := c.runner.Run(ctx, []string{"pgrep", "-x", name},
				execute.Options{Timeout: 30 * time.Second, CaptureOutput: true})
			if err != nil {
				return false, "", err
			}
			if result.ExitCode == 0 {
				return true, fmt.Sprintf("%s already running", name), nil
			}
			return false, "", nil
		}
	}

	action := func(ctx context.Context) error {
		_, err := c.runner.Run(ctx, argv, execute.Options{Detach: true, Dir: spec.Dir})
		return err
	}
	return check, action
}

// resolveDevice enumerates sound cards and matches the pattern. The
// fallback card is used, with a warning, when nothing matches.
func (c *Compiler) resolveDevice(ctx context.Context, pattern string) (provision.DeviceDescriptor, error) {
	result, err := c.runner.Run(ctx, []string{"aplay", "-l"},
		execute.Options{Timeout: 30 * time.Second, CaptureOutput: true})
	if err != nil {
		return provision.DeviceDescriptor{}, err
	}

	device := alsa.ResolveCard(pattern, result.Stdout)
	if c.metrics != nil {
		c.metrics.RecordDeviceResolution(device.Matched)
	}
	if device.Matched {
		c.logger.Info().
			Str("pattern", pattern).
			Str("card", device.Identifier).
			Msg("audio device resolved")
	} else {
		c.logger.Warn().
			Str("pattern", pattern).
			Str("card", device.Identifier).
			Msg("no audio device matched pattern, using fallback card")
	}
	return device, nil
}

// expand substitutes host fact placeholders in profile strings. Only
// ${user} and ${hostname} are static enough to expand at compile time.
func (c *Compiler) expand(s string) string {
	if c.host == nil || s == "" {
		return s
	}
	s = strings.ReplaceAll(s, "${user}", c.host.User)
	s = strings.ReplaceAll(s, "${hostname}", c.host.Hostname)
	return s
}

func (c *Compiler) expandAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = c.expand(s)
	}
	return out
}

func reportFailures(report *pkgmgr.InstallReport) string {
	parts := make([]string, 0, len(report.Failed))
	for pkg, reason := range report.Failed {
		parts = append(parts, fmt.Sprintf("%s (%s)", pkg, reason))
	}
	return strings.Join(parts, ", ")
}
