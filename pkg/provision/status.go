package provision

import "fmt"

// RunState represents the orchestrator's state machine position.
// Transitions: Pending -> Running -> Completed | Aborted. A finished run
// never re-enters Running; a fresh run creates a new RunReport.
type RunState string

const (
	// RunPending indicates the run has been created but not started.
	RunPending RunState = "pending"

	// RunRunning indicates stages are currently executing.
	RunRunning RunState = "running"

	// RunCompleted indicates every stage was attempted. Completed does
	// not imply every step succeeded: callers must inspect the
	// RunReport for per-step outcomes.
	RunCompleted RunState = "completed"

	// RunAborted indicates an abort-on-failure stage stopped the run;
	// remaining stages were never attempted.
	RunAborted RunState = "aborted"
)

// IsTerminal reports whether the state is final.
func (s RunState) IsTerminal() bool {
	return s == RunCompleted || s == RunAborted
}

// Validate checks the state is a defined variant.
func (s RunState) Validate() error {
	switch s {
	case RunPending, RunRunning, RunCompleted, RunAborted:
		return nil
	default:
		return fmt.Errorf("invalid run state: %s", s)
	}
}
