package profile

import (
	"testing"
	"time"

	"github.com/openrig/rigup/pkg/provision"
)

func minimalProfile() *Profile {
	return &Profile{
		Name: "test",
		Stages: []StageSpec{
			{
				Name: "only",
				Steps: []StepSpec{
					{ID: "pkgs", Packages: &PackagesSpec{Names: []string{"alsa-utils"}}},
				},
			},
		},
	}
}

func TestProfile_Validate_Minimal(t *testing.T) {
	if err := minimalProfile().Validate(); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
}

func TestProfile_Validate_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Profile)
	}{
		{
			name:   "missing name",
			mutate: func(p *Profile) { p.Name = "" },
		},
		{
			name:   "no stages",
			mutate: func(p *Profile) { p.Stages = nil },
		},
		{
			name:   "stage without steps",
			mutate: func(p *Profile) { p.Stages[0].Steps = nil },
		},
		{
			name:   "invalid policy",
			mutate: func(p *Profile) { p.Stages[0].Policy = "retry" },
		},
		{
			name: "duplicate stage names",
			mutate: func(p *Profile) {
				p.Stages = append(p.Stages, StageSpec{
					Name: "only",
					Steps: []StepSpec{
						{ID: "other", Command: &CommandSpec{Argv: []string{"true"}}},
					},
				})
			},
		},
		{
			name: "duplicate step ids",
			mutate: func(p *Profile) {
				p.Stages[0].Steps = append(p.Stages[0].Steps,
					StepSpec{ID: "pkgs", Command: &CommandSpec{Argv: []string{"true"}}})
			},
		},
		{
			name: "step without action",
			mutate: func(p *Profile) {
				p.Stages[0].Steps[0].Packages = nil
			},
		},
		{
			name: "step with two actions",
			mutate: func(p *Profile) {
				p.Stages[0].Steps[0].Command = &CommandSpec{Argv: []string{"true"}}
			},
		},
		{
			name: "packages without names",
			mutate: func(p *Profile) {
				p.Stages[0].Steps[0].Packages = &PackagesSpec{}
			},
		},
		{
			name: "service with invalid restart",
			mutate: func(p *Profile) {
				p.Stages[0].Steps[0].Packages = nil
				p.Stages[0].Steps[0].Service = &ServiceSpec{
					Name: "s", ExecStart: "/bin/x", User: "u", Restart: "on-failure",
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := minimalProfile()
			tt.mutate(p)
			if err := p.Validate(); err == nil {
				t.Error("Expected an error")
			}
		})
	}
}

func TestStageSpec_FailurePolicy(t *testing.T) {
	tests := []struct {
		name   string
		policy string
		want   provision.FailurePolicy
	}{
		{"empty defaults to abort", "", provision.AbortOnFailure},
		{"abort", "abort", provision.AbortOnFailure},
		{"continue", "continue", provision.ContinueOnFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := StageSpec{Policy: tt.policy}
			if got := s.FailurePolicy(); got != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestStepSpec_Kind(t *testing.T) {
	tests := []struct {
		name string
		step StepSpec
		want string
	}{
		{"packages", StepSpec{Packages: &PackagesSpec{}}, "packages"},
		{"file_line", StepSpec{FileLine: &FileLineSpec{}}, "file_line"},
		{"file_block", StepSpec{FileBlock: &FileBlockSpec{}}, "file_block"},
		{"audio_device", StepSpec{AudioDevice: &AudioDeviceSpec{}}, "audio_device"},
		{"service", StepSpec{Service: &ServiceSpec{}}, "service"},
		{"command", StepSpec{Command: &CommandSpec{}}, "command"},
		{"spawn", StepSpec{Spawn: &SpawnSpec{}}, "spawn"},
		{"none", StepSpec{}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.step.Kind(); got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestCommandSpec_ParseTimeout(t *testing.T) {
	tests := []struct {
		name    string
		timeout string
		want    time.Duration
		wantErr bool
	}{
		{"empty means zero", "", 0, false},
		{"seconds", "90s", 90 * time.Second, false},
		{"minutes", "5m", 5 * time.Minute, false},
		{"garbage", "soon", 0, true},
		{"negative", "-1s", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := CommandSpec{Timeout: tt.timeout}
			got, err := c.ParseTimeout()
			if tt.wantErr {
				if err == nil {
					t.Error("Expected an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Expected no error, got: %v", err)
			}
			if got != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}
