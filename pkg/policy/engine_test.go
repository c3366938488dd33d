package policy

import (
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/openrig/rigup/pkg/profile"
)

func cleanProfile() *profile.Profile {
	return &profile.Profile{
		Name: "clean",
		Stages: []profile.StageSpec{{
			Name: "s",
			Steps: []profile.StepSpec{
				{
					ID:       "pkgs",
					Packages: &profile.PackagesSpec{Names: []string{"alsa-utils", "jackd2"}},
				},
				{
					ID: "jack",
					Service: &profile.ServiceSpec{
						Name:      "rigup-jack",
						ExecStart: "/usr/bin/jackd -d alsa",
						User:      "studio",
					},
				},
				{
					ID:    "launch",
					Spawn: &profile.SpawnSpec{Argv: []string{"guitarix"}, UnlessRunning: "guitarix"},
				},
			},
		}},
	}
}

func findViolation(violations []Violation, policyName string) *Violation {
	for i := range violations {
		if violations[i].Policy == policyName {
			return &violations[i]
		}
	}
	return nil
}

func TestEngine_EvaluateProfile_CleanProfileAllowed(t *testing.T) {
	engine, err := NewEngine(zerolog.Nop())
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	result, err := engine.EvaluateProfile(context.Background(), cleanProfile())
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !result.Allowed {
		t.Errorf("Expected a clean profile to be allowed, violations: %v", result.Violations)
	}
	if len(result.Violations) != 0 {
		t.Errorf("Expected no violations, got %v", result.Violations)
	}
}

func TestEngine_EvaluateProfile_RootServiceDenied(t *testing.T) {
	engine, err := NewEngine(zerolog.Nop())
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	p := cleanProfile()
	p.Stages[0].Steps[1].Service.User = "root"

	result, err := engine.EvaluateProfile(context.Background(), p)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if result.Allowed {
		t.Error("Expected a root service to be denied")
	}

	v := findViolation(result.Violations, "service-user")
	if v == nil {
		t.Fatalf("Expected a service-user violation, got %v", result.Violations)
	}
	if v.Severity != string(SeverityError) {
		t.Errorf("Expected error severity, got %s", v.Severity)
	}
	if v.Step != "jack" {
		t.Errorf("Expected step jack, got %q", v.Step)
	}
	if !strings.Contains(v.Message, "root") {
		t.Errorf("Expected the message to mention root, got %q", v.Message)
	}
}

func TestEngine_EvaluateProfile_RelativeExecStartDenied(t *testing.T) {
	engine, err := NewEngine(zerolog.Nop())
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	p := cleanProfile()
	p.Stages[0].Steps[1].Service.ExecStart = "jackd -d alsa"

	result, err := engine.EvaluateProfile(context.Background(), p)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if result.Allowed {
		t.Error("Expected a relative ExecStart to be denied")
	}
	if findViolation(result.Violations, "exec-start-path") == nil {
		t.Errorf("Expected an exec-start-path violation, got %v", result.Violations)
	}
}

func TestEngine_EvaluateProfile_BadPackageNameDenied(t *testing.T) {
	engine, err := NewEngine(zerolog.Nop())
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	p := cleanProfile()
	p.Stages[0].Steps[0].Packages.Names = []string{"alsa-utils", "jackd2; rm -rf /"}

	result, err := engine.EvaluateProfile(context.Background(), p)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if result.Allowed {
		t.Error("Expected a malformed package name to be denied")
	}
	if findViolation(result.Violations, "package-name") == nil {
		t.Errorf("Expected a package-name violation, got %v", result.Violations)
	}
}

func TestEngine_EvaluateProfile_UnguardedSpawnWarnsWithoutBlocking(t *testing.T) {
	engine, err := NewEngine(zerolog.Nop())
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	p := cleanProfile()
	p.Stages[0].Steps[2].Spawn.UnlessRunning = ""

	result, err := engine.EvaluateProfile(context.Background(), p)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !result.Allowed {
		t.Error("Expected a warning-severity violation not to block")
	}

	v := findViolation(result.Violations, "detached-spawn")
	if v == nil {
		t.Fatalf("Expected a detached-spawn violation, got %v", result.Violations)
	}
	if v.Severity != string(SeverityWarning) {
		t.Errorf("Expected warning severity, got %s", v.Severity)
	}
}

func TestEngine_EvaluateProfile_BrokenPolicyBecomesWarning(t *testing.T) {
	engine, err := NewEngine(zerolog.Nop())
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if err := engine.ReplacePolicies([]Policy{{
		Name:     "broken",
		Severity: SeverityError,
		Enabled:  true,
		Rego:     "package rigup.policies.broken\n\nthis is not rego",
	}}); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	result, err := engine.EvaluateProfile(context.Background(), cleanProfile())
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !result.Allowed {
		t.Error("Expected an unevaluable policy not to block")
	}
	if len(result.Warnings) == 0 {
		t.Fatal("Expected a warning for the broken policy")
	}
	if !strings.Contains(result.Warnings[0], "broken") {
		t.Errorf("Expected the warning to name the policy, got %q", result.Warnings[0])
	}
}

func TestEngine_DisabledPolicyIsSkipped(t *testing.T) {
	engine, err := NewEngine(zerolog.Nop())
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	p := cleanProfile()
	p.Stages[0].Steps[1].Service.User = "root"

	// Overlay every builtin with a disabled copy of itself; the root
	// service must now pass.
	policies := engine.ListPolicies()
	disabled := make([]Policy, 0, len(policies))
	for _, pol := range policies {
		pol.Enabled = false
		disabled = append(disabled, pol)
	}
	if err := engine.ReplacePolicies(disabled); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	result, err := engine.EvaluateProfile(context.Background(), p)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !result.Allowed {
		t.Errorf("Expected disabled policies not to fire, got %v", result.Violations)
	}
}

func TestExtractPackageName(t *testing.T) {
	tests := []struct {
		name   string
		source string
		want   string
	}{
		{
			name:   "simple package",
			source: "package rigup.policies.service_user\n\nimport rego.v1\n",
			want:   "rigup.policies.service_user",
		},
		{
			name:   "leading comment",
			source: "# note\npackage custom.rules\n",
			want:   "custom.rules",
		},
		{
			name:   "missing package falls back",
			source: "deny contains x if { true }",
			want:   "rigup.policies",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractPackageName(tt.source); got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
}
