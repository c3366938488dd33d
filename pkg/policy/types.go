// Package policy gates profile application behind Rego rules. Profiles
// run as root and rewrite system files, so a policy check runs before
// every apply; built-in rules cover the dangerous defaults and operators
// can layer their own .rego files on top.
package policy

import (
	"time"
)

// Severity indicates the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is informational only.
	SeverityInfo Severity = "info"

	// SeverityWarning is reported but does not block the apply.
	SeverityWarning Severity = "warning"

	// SeverityError blocks the apply.
	SeverityError Severity = "error"
)

// Policy is one named Rego policy.
type Policy struct {
	// Name uniquely identifies the policy.
	Name string `json:"name"`

	// Description explains what the policy enforces.
	Description string `json:"description"`

	// Rego is the policy source. The module must expose a `deny` set.
	Rego string `json:"rego"`

	// Severity is the default severity for the policy's violations.
	Severity Severity `json:"severity"`

	// Enabled controls whether the policy is evaluated.
	Enabled bool `json:"enabled"`

	// Tags categorize the policy.
	Tags []string `json:"tags,omitempty"`

	// CreatedAt is when the policy was first loaded.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the policy was last reloaded.
	UpdatedAt time.Time `json:"updated_at"`
}

// Violation is one rule firing against the profile under evaluation.
type Violation struct {
	// Policy is the name of the policy that produced the violation.
	Policy string `json:"policy"`

	// Severity is the violation's severity.
	Severity string `json:"severity"`

	// Message describes the violation.
	Message string `json:"message"`

	// Step is the offending step id when the rule identified one.
	Step string `json:"step,omitempty"`
}

// Result is the outcome of evaluating all enabled policies.
type Result struct {
	// Allowed is false when any violation has error severity.
	Allowed bool `json:"allowed"`

	// Violations are all rule firings, including warnings.
	Violations []Violation `json:"violations"`

	// Warnings carry evaluation problems (a policy that failed to run),
	// which never block the apply by themselves.
	Warnings []string `json:"warnings,omitempty"`

	// EvaluatedAt is when the evaluation completed.
	EvaluatedAt time.Time `json:"evaluated_at"`
}

// Input is the document handed to Rego as `input`.
type Input struct {
	// Profile is the profile under evaluation, in its wire form.
	Profile interface{} `json:"profile"`

	// Operation is what the caller is about to do (apply, validate).
	Operation string `json:"operation"`

	// Timestamp is when the evaluation started.
	Timestamp time.Time `json:"timestamp"`
}
