package provision

import (
	"context"
	"time"
)

// StepStatus is the outcome tag of an executed step.
type StepStatus string

const (
	// StepSkipped indicates the step's idempotency guard reported the
	// host is already in the desired state, so the action never ran.
	StepSkipped StepStatus = "skipped"

	// StepSucceeded indicates the step's action completed without error.
	StepSucceeded StepStatus = "succeeded"

	// StepFailed indicates the step's action returned an error.
	StepFailed StepStatus = "failed"
)

// StepOutcome records the result of one step. Outcomes are immutable once
// produced; the orchestrator appends them to the RunReport and never
// mutates them afterwards.
type StepOutcome struct {
	// StepID is the id of the step this outcome belongs to.
	StepID string `json:"step_id"`

	// Stage is the name of the stage the step ran in.
	Stage string `json:"stage"`

	// Status is the outcome tag.
	Status StepStatus `json:"status"`

	// Reason explains a skip (guard satisfied) or carries the failure
	// message verbatim from the underlying error.
	Reason string `json:"reason,omitempty"`

	// Err is the classified error for a failed step, nil otherwise.
	Err *Error `json:"error,omitempty"`

	// StartedAt is when the step began (or was evaluated for skip).
	StartedAt time.Time `json:"started_at"`

	// Duration is how long the step took.
	Duration time.Duration `json:"duration"`
}

// CheckFunc reports whether the host already satisfies a step, in which
// case the action is skipped.
type CheckFunc func(ctx context.Context) (satisfied bool, reason string, err error)

// ActionFunc performs a step. A nil error means the step succeeded.
type ActionFunc func(ctx context.Context) error

// Step is the smallest unit of provisioning work. Steps are immutable once
// defined; the orchestrator owns their execution order.
type Step struct {
	// ID uniquely identifies the step within a profile.
	ID string `json:"id"`

	// Description is a one-line human-readable summary.
	Description string `json:"description"`

	// Check reports whether the host already satisfies the step. A nil
	// Check means always run.
	Check CheckFunc `json:"-"`

	// Action performs the step.
	Action ActionFunc `json:"-"`
}

// FailurePolicy controls how a stage reacts to a failed step.
type FailurePolicy string

const (
	// AbortOnFailure stops the whole run at the first failed step in
	// the stage; remaining steps and stages never execute.
	AbortOnFailure FailurePolicy = "abort"

	// ContinueOnFailure records the failure and proceeds with the next
	// step and stage.
	ContinueOnFailure FailurePolicy = "continue"
)

// Valid reports whether the policy is one of the defined variants.
func (p FailurePolicy) Valid() bool {
	return p == AbortOnFailure || p == ContinueOnFailure
}

// Stage is a named, ordered group of steps sharing one failure policy.
// Stages execute strictly in declared order, steps within a stage too.
type Stage struct {
	// Name identifies the stage; unique within a profile.
	Name string `json:"name"`

	// Policy is the stage's failure policy.
	Policy FailurePolicy `json:"policy"`

	// Steps are executed in declared order.
	Steps []Step `json:"steps"`
}

// RunReport is the append-only record of one orchestrator invocation.
// It is created at run start, finalized at run end, and never persisted
// by the orchestrator itself.
type RunReport struct {
	// RunID uniquely identifies the run.
	RunID string `json:"run_id"`

	// StartedAt is when the run began.
	StartedAt time.Time `json:"started_at"`

	// CompletedAt is when the run reached a terminal state.
	CompletedAt time.Time `json:"completed_at"`

	// State is the terminal orchestrator state.
	State RunState `json:"state"`

	// AbortedStage is the index of the stage the run aborted in;
	// meaningful only when State is RunAborted.
	AbortedStage int `json:"aborted_stage,omitempty"`

	// Outcomes are the step outcomes in execution order.
	Outcomes []StepOutcome `json:"outcomes"`
}

// Append records an outcome. Only the orchestrator calls this, from a
// single goroutine; the report needs no locking.
func (r *RunReport) Append(o StepOutcome) {
	r.Outcomes = append(r.Outcomes, o)
}

// Failed returns the outcomes of all failed steps.
func (r *RunReport) Failed() []StepOutcome {
	var failed []StepOutcome
	for _, o := range r.Outcomes {
		if o.Status == StepFailed {
			failed = append(failed, o)
		}
	}
	return failed
}

// Summary counts outcomes by status.
func (r *RunReport) Summary() RunSummary {
	s := RunSummary{Total: len(r.Outcomes)}
	for _, o := range r.Outcomes {
		switch o.Status {
		case StepSucceeded:
			s.Succeeded++
		case StepFailed:
			s.Failed++
		case StepSkipped:
			s.Skipped++
		}
	}
	return s
}

// RunSummary provides statistics about a run.
type RunSummary struct {
	// Total is the number of steps attempted or skipped.
	Total int `json:"total"`

	// Succeeded is the number of steps that succeeded.
	Succeeded int `json:"succeeded"`

	// Failed is the number of steps that failed.
	Failed int `json:"failed"`

	// Skipped is the number of steps skipped by their guard.
	Skipped int `json:"skipped"`
}

// DeviceDescriptor identifies a resolved audio card. It is produced fresh
// on every resolution call and never cached across runs, because hardware
// may change between boots.
type DeviceDescriptor struct {
	// Identifier is the ALSA card index as a string.
	Identifier string `json:"identifier"`

	// Matched is false when no card matched the requested pattern and
	// the identifier is the documented fallback "0".
	Matched bool `json:"matched"`
}

// FileEdit describes an idempotent line append to a line-oriented file.
type FileEdit struct {
	// Path is the target file; a missing file is treated as empty.
	Path string `json:"path"`

	// Marker is the exact line whose presence makes the edit a no-op.
	Marker string `json:"marker"`
}
