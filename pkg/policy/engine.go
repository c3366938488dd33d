package policy

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/rego"
	"github.com/rs/zerolog"

	"github.com/openrig/rigup/pkg/profile"
)

// Engine evaluates policies against provisioning profiles.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]*Policy
	logger   zerolog.Logger
}

// NewEngine creates a policy engine with the built-in policies loaded.
func NewEngine(logger zerolog.Logger) (*Engine, error) {
	e := &Engine{
		policies: make(map[string]*Policy),
		logger:   logger.With().Str("component", "policy-engine").Logger(),
	}

	builtins := GetBuiltinPolicies()
	for i := range builtins {
		e.policies[builtins[i].Name] = &builtins[i]
	}

	e.logger.Debug().Int("count", len(builtins)).Msg("built-in policies loaded")
	return e, nil
}

// LoadPolicies loads additional policies from the given file or directory
// paths, replacing same-named policies.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	loader := NewLoader(e.logger)
	policies, err := loader.LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range policies {
		e.policies[policies[i].Name] = &policies[i]
	}

	e.logger.Info().Int("count", len(policies)).Msg("policies loaded")
	return nil
}

// ReplacePolicies swaps in a freshly loaded policy set on top of the
// builtins. Used by the hot-reload watcher.
func (e *Engine) ReplacePolicies(policies []Policy) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.policies = make(map[string]*Policy)
	builtins := GetBuiltinPolicies()
	for i := range builtins {
		e.policies[builtins[i].Name] = &builtins[i]
	}
	for i := range policies {
		e.policies[policies[i].Name] = &policies[i]
	}
	return nil
}

// EvaluateProfile evaluates all enabled policies against the profile.
// Error-severity violations make the result disallowed; a policy that
// fails to evaluate becomes a warning, never a silent pass of that rule
// set and never a block.
func (e *Engine) EvaluateProfile(ctx context.Context, p *profile.Profile) (*Result, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	input := &Input{
		Profile:   p,
		Operation: "apply",
		Timestamp: time.Now(),
	}

	var violations []Violation
	var warnings []string

	for _, pol := range e.policies {
		if !pol.Enabled {
			continue
		}
		vs, err := e.evaluatePolicy(ctx, pol, input)
		if err != nil {
			e.logger.Error().Err(err).Str("policy", pol.Name).Msg("policy evaluation failed")
			warnings = append(warnings, fmt.Sprintf("policy %s evaluation failed: %v", pol.Name, err))
			continue
		}
		violations = append(violations, vs...)
	}

	allowed := true
	for i := range violations {
		if violations[i].Severity == string(SeverityError) {
			allowed = false
			break
		}
	}

	e.logger.Debug().
		Str("profile", p.Name).
		Int("violations", len(violations)).
		Bool("allowed", allowed).
		Msg("profile policy evaluation completed")

	return &Result{
		Allowed:     allowed,
		Violations:  violations,
		Warnings:    warnings,
		EvaluatedAt: time.Now(),
	}, nil
}

// evaluatePolicy runs one policy's deny query.
func (e *Engine) evaluatePolicy(ctx context.Context, pol *Policy, input *Input) ([]Violation, error) {
	query := fmt.Sprintf("data.%s.deny", extractPackageName(pol.Rego))

	r := rego.New(
		rego.Module(pol.Name, pol.Rego),
		rego.Query(query),
		rego.Input(input),
	)

	results, err := r.Eval(ctx)
	if err != nil {
		return nil, fmt.Errorf("policy evaluation error: %w", err)
	}

	var violations []Violation
	for _, result := range results {
		for _, expr := range result.Expressions {
			denySet, ok := expr.Value.([]interface{})
			if !ok {
				continue
			}
			for _, d := range denySet {
				violations = append(violations, e.toViolation(pol, d))
			}
		}
	}
	return violations, nil
}

// extractPackageName extracts the package name from Rego source.
func extractPackageName(source string) string {
	for _, line := range strings.Split(source, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "package ") {
			parts := strings.Fields(trimmed)
			if len(parts) >= 2 {
				return parts[1]
			}
		}
	}
	return "rigup.policies"
}

// toViolation converts one deny result into a Violation.
func (e *Engine) toViolation(pol *Policy, result interface{}) Violation {
	violation := Violation{
		Policy:   pol.Name,
		Severity: string(pol.Severity),
	}

	switch v := result.(type) {
	case string:
		violation.Message = v
	case map[string]interface{}:
		if msg, ok := v["message"].(string); ok {
			violation.Message = msg
		}
		if sev, ok := v["severity"].(string); ok {
			violation.Severity = sev
		}
		if step, ok := v["step"].(string); ok {
			violation.Step = step
		}
	default:
		violation.Message = fmt.Sprintf("%v", result)
	}
	return violation
}

// ListPolicies returns all loaded policies.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	policies := make([]Policy, 0, len(e.policies))
	for _, p := range e.policies {
		policies = append(policies, *p)
	}
	return policies
}
