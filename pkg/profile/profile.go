// Package profile defines the declarative provisioning profile format,
// its CUE loader, and the compiler that turns a profile into executable
// stages. A profile describes the desired end state of an audio
// workstation host; every step it declares is idempotent.
package profile

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/openrig/rigup/pkg/provision"
)

// Profile is the root of a provisioning profile document.
type Profile struct {
	// Name identifies the profile in logs and reports.
	Name string `json:"name" validate:"required"`

	// Description is free-form documentation.
	Description string `json:"description,omitempty"`

	// Stages run strictly in declared order.
	Stages []StageSpec `json:"stages" validate:"required,min=1,dive"`
}

// StageSpec declares one ordered stage of steps.
type StageSpec struct {
	// Name must be unique within the profile.
	Name string `json:"name" validate:"required"`

	// Policy decides what a step failure does to the run: "abort" stops
	// the run at this stage, "continue" records the failure and moves on.
	// Empty defaults to "abort".
	Policy string `json:"policy,omitempty" validate:"omitempty,oneof=abort continue"`

	// Steps run in declared order within the stage.
	Steps []StepSpec `json:"steps" validate:"required,min=1,dive"`
}

// StepSpec declares a single provisioning step. Exactly one of the action
// fields must be set.
type StepSpec struct {
	// ID must be unique within the profile.
	ID string `json:"id" validate:"required"`

	// Description is free-form documentation.
	Description string `json:"description,omitempty"`

	// When is an optional Starlark guard expression evaluated against
	// host facts. The step is skipped when it evaluates to false.
	When string `json:"when,omitempty"`

	Packages    *PackagesSpec    `json:"packages,omitempty"`
	FileLine    *FileLineSpec    `json:"file_line,omitempty"`
	FileBlock   *FileBlockSpec   `json:"file_block,omitempty"`
	AudioDevice *AudioDeviceSpec `json:"audio_device,omitempty"`
	Service     *ServiceSpec     `json:"service,omitempty"`
	Command     *CommandSpec     `json:"command,omitempty"`
	Spawn       *SpawnSpec       `json:"spawn,omitempty"`
}

// PackagesSpec installs apt packages.
type PackagesSpec struct {
	Names []string `json:"names" validate:"required,min=1"`
}

// FileLineSpec ensures a file contains an exact line.
type FileLineSpec struct {
	Path string `json:"path" validate:"required"`
	Line string `json:"line" validate:"required"`
}

// FileBlockSpec ensures a file contains a block keyed by a marker line.
type FileBlockSpec struct {
	Path    string `json:"path" validate:"required"`
	Marker  string `json:"marker" validate:"required"`
	Content string `json:"content" validate:"required"`
}

// AudioDeviceSpec resolves a sound card by name pattern and records the
// result in an environment file other steps and services can source.
type AudioDeviceSpec struct {
	// Pattern is the substring matched against `aplay -l` card lines.
	Pattern string `json:"pattern" validate:"required"`

	// EnvFile is the file the resolved device is written to.
	EnvFile string `json:"env_file" validate:"required"`

	// Variable is the environment variable name, e.g. RIGUP_AUDIO_DEVICE.
	Variable string `json:"variable" validate:"required"`
}

// ServiceSpec registers and starts a systemd service.
type ServiceSpec struct {
	Name        string   `json:"name" validate:"required"`
	Description string   `json:"description,omitempty"`
	ExecStart   string   `json:"exec_start" validate:"required"`
	Restart     string   `json:"restart,omitempty" validate:"omitempty,oneof=always no"`
	User        string   `json:"user" validate:"required"`
	WorkingDir  string   `json:"working_dir,omitempty"`
	After       []string `json:"after,omitempty"`
	Environment []string `json:"environment,omitempty"`

	// DevicePattern, when set, resolves a sound card at apply time and
	// substitutes ${audio_device} in ExecStart with its hw identifier.
	DevicePattern string `json:"device_pattern,omitempty"`
}

// CommandSpec runs a foreground command and waits for it.
type CommandSpec struct {
	Argv []string `json:"argv" validate:"required,min=1"`

	// Timeout bounds the command, parsed as a Go duration ("90s").
	// Empty means the runner's default.
	Timeout string `json:"timeout,omitempty"`

	Dir string   `json:"dir,omitempty"`
	Env []string `json:"env,omitempty"`

	// Creates skips the command when the named path already exists.
	Creates string `json:"creates,omitempty"`
}

// SpawnSpec launches a long-lived process detached from the provisioning
// run. The process survives the run's exit.
type SpawnSpec struct {
	Argv []string `json:"argv" validate:"required,min=1"`
	Dir  string   `json:"dir,omitempty"`

	// UnlessRunning skips the spawn when pgrep finds a process with this
	// exact name.
	UnlessRunning string `json:"unless_running,omitempty"`
}

// Kind names the step's action for logs and policy input.
func (s *StepSpec) Kind() string {
	switch {
	case s.Packages != nil:
		return "packages"
	case s.FileLine != nil:
		return "file_line"
	case s.FileBlock != nil:
		return "file_block"
	case s.AudioDevice != nil:
		return "audio_device"
	case s.Service != nil:
		return "service"
	case s.Command != nil:
		return "command"
	case s.Spawn != nil:
		return "spawn"
	default:
		return ""
	}
}

func (s *StepSpec) actionCount() int {
	n := 0
	for _, set := range []bool{
		s.Packages != nil, s.FileLine != nil, s.FileBlock != nil,
		s.AudioDevice != nil, s.Service != nil, s.Command != nil, s.Spawn != nil,
	} {
		if set {
			n++
		}
	}
	return n
}

// FailurePolicy converts the stage's declared policy, defaulting to abort.
func (s *StageSpec) FailurePolicy() provision.FailurePolicy {
	if s.Policy == "" {
		return provision.AbortOnFailure
	}
	return provision.FailurePolicy(s.Policy)
}

// ParseTimeout parses the command's timeout, zero when unset.
func (c *CommandSpec) ParseTimeout() (time.Duration, error) {
	if c.Timeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 0, fmt.Errorf("invalid timeout %q: %w", c.Timeout, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("timeout %q must be positive", c.Timeout)
	}
	return d, nil
}

// Validate checks structural validity: struct tags, unique stage and step
// names, and exactly one action per step.
func (p *Profile) Validate() error {
	v := validator.New()
	if err := v.Struct(p); err != nil {
		return fmt.Errorf("profile %s: %w", p.Name, err)
	}

	stageNames := make(map[string]bool, len(p.Stages))
	stepIDs := make(map[string]bool)
	for _, stage := range p.Stages {
		if stageNames[stage.Name] {
			return fmt.Errorf("profile %s: duplicate stage name %q", p.Name, stage.Name)
		}
		stageNames[stage.Name] = true

		for i := range stage.Steps {
			step := &stage.Steps[i]
			if stepIDs[step.ID] {
				return fmt.Errorf("stage %s: duplicate step id %q", stage.Name, step.ID)
			}
			stepIDs[step.ID] = true

			switch n := step.actionCount(); {
			case n == 0:
				return fmt.Errorf("step %s: no action declared", step.ID)
			case n > 1:
				return fmt.Errorf("step %s: %d actions declared, want exactly one", step.ID, n)
			}
		}
	}
	return nil
}
