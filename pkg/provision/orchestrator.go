package provision

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Observer receives run lifecycle callbacks. Implementations must not
// block; the orchestrator is single-threaded and a slow observer stalls
// the run.
type Observer interface {
	RunStarted(ctx context.Context, report *RunReport)
	StageStarted(ctx context.Context, stage Stage, index int)
	StepCompleted(ctx context.Context, outcome StepOutcome)
	RunFinished(ctx context.Context, report *RunReport)
}

// NopObserver is an Observer that does nothing.
type NopObserver struct{}

func (NopObserver) RunStarted(context.Context, *RunReport)     {}
func (NopObserver) StageStarted(context.Context, Stage, int)   {}
func (NopObserver) StepCompleted(context.Context, StepOutcome) {}
func (NopObserver) RunFinished(context.Context, *RunReport)    {}

// Orchestrator executes stages strictly in declared order, single
// threaded. Steps share no mutable state except the append-only
// RunReport, so no locking is needed.
type Orchestrator struct {
	stages    []Stage
	logger    zerolog.Logger
	observer  Observer
	fromStage int
	state     RunState
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithObserver attaches a run observer.
func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) {
		if obs != nil {
			o.observer = obs
		}
	}
}

// WithStartStage skips stages before the given index. Used by the CLI's
// --from-stage selection.
func WithStartStage(index int) Option {
	return func(o *Orchestrator) {
		if index > 0 {
			o.fromStage = index
		}
	}
}

// NewOrchestrator creates an orchestrator over the given stages.
func NewOrchestrator(stages []Stage, logger zerolog.Logger, opts ...Option) (*Orchestrator, error) {
	seen := make(map[string]bool, len(stages))
	for i, stage := range stages {
		if stage.Name == "" {
			return nil, fmt.Errorf("stage %d has no name", i)
		}
		if seen[stage.Name] {
			return nil, fmt.Errorf("duplicate stage name: %s", stage.Name)
		}
		seen[stage.Name] = true
		if !stage.Policy.Valid() {
			return nil, fmt.Errorf("stage %s has invalid failure policy %q", stage.Name, stage.Policy)
		}
		for j, step := range stage.Steps {
			if step.Action == nil {
				return nil, fmt.Errorf("stage %s step %d (%s) has no action", stage.Name, j, step.ID)
			}
		}
	}

	o := &Orchestrator{
		stages:   stages,
		logger:   logger.With().Str("component", "orchestrator").Logger(),
		observer: NopObserver{},
		state:    RunPending,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.fromStage >= len(stages) {
		return nil, fmt.Errorf("start stage %d out of range (%d stages)", o.fromStage, len(stages))
	}
	return o, nil
}

// State returns the orchestrator's current run state.
func (o *Orchestrator) State() RunState {
	return o.state
}

// Stages returns the declared stages in execution order.
func (o *Orchestrator) Stages() []Stage {
	return o.stages
}

// Run executes all stages from the configured start index and returns the
// RunReport. Run may be called once per orchestrator; a finished run never
// re-enters Running.
func (o *Orchestrator) Run(ctx context.Context) (*RunReport, error) {
	if o.state != RunPending {
		return nil, fmt.Errorf("orchestrator already ran (state=%s)", o.state)
	}

	report := &RunReport{
		RunID:     uuid.New().String(),
		StartedAt: time.Now(),
		State:     RunRunning,
	}
	o.state = RunRunning
	o.observer.RunStarted(ctx, report)

	o.logger.Info().
		Str("run_id", report.RunID).
		Int("stages", len(o.stages)-o.fromStage).
		Msg("run started")

	aborted := false
	abortedAt := 0

	for i := o.fromStage; i < len(o.stages); i++ {
		stage := o.stages[i]
		o.observer.StageStarted(ctx, stage, i)
		o.logger.Info().
			Str("stage", stage.Name).
			Str("policy", string(stage.Policy)).
			Int("steps", len(stage.Steps)).
			Msg("stage started")

		if o.runStage(ctx, stage, report) {
			aborted = true
			abortedAt = i
			break
		}
	}

	report.CompletedAt = time.Now()
	if aborted {
		report.State = RunAborted
		report.AbortedStage = abortedAt
	} else {
		report.State = RunCompleted
	}
	o.state = report.State

	summary := report.Summary()
	o.logger.Info().
		Str("run_id", report.RunID).
		Str("state", string(report.State)).
		Int("succeeded", summary.Succeeded).
		Int("failed", summary.Failed).
		Int("skipped", summary.Skipped).
		Dur("duration", report.CompletedAt.Sub(report.StartedAt)).
		Msg("run finished")

	o.observer.RunFinished(ctx, report)
	return report, nil
}

// runStage executes one stage and reports whether the run must abort.
func (o *Orchestrator) runStage(ctx context.Context, stage Stage, report *RunReport) (abort bool) {
	for _, step := range stage.Steps {
		outcome := o.runStep(ctx, stage, step)
		report.Append(outcome)
		o.observer.StepCompleted(ctx, outcome)

		switch outcome.Status {
		case StepSkipped:
			o.logger.Info().
				Str("step", step.ID).
				Str("reason", outcome.Reason).
				Msg("step skipped")
		case StepSucceeded:
			o.logger.Info().
				Str("step", step.ID).
				Dur("duration", outcome.Duration).
				Msg("step succeeded")
		case StepFailed:
			o.logger.Error().
				Str("step", step.ID).
				Str("reason", outcome.Reason).
				Msg("step failed")
			if stage.Policy == AbortOnFailure {
				return true
			}
		}
	}
	return false
}

// runStep evaluates the step's guard, then runs its action. Failures are
// always local to the step; the stage policy decides what happens next.
func (o *Orchestrator) runStep(ctx context.Context, stage Stage, step Step) StepOutcome {
	outcome := StepOutcome{
		StepID:    step.ID,
		Stage:     stage.Name,
		StartedAt: time.Now(),
	}

	if step.Check != nil {
		satisfied, reason, err := step.Check(ctx)
		if err != nil {
			outcome.Status = StepFailed
			outcome.Err = o.classify(err, stage.Name, step.ID).WithCode(ErrCodeGuardFailed)
			outcome.Reason = outcome.Err.Error()
			outcome.Duration = time.Since(outcome.StartedAt)
			return outcome
		}
		if satisfied {
			outcome.Status = StepSkipped
			outcome.Reason = reason
			outcome.Duration = time.Since(outcome.StartedAt)
			return outcome
		}
	}

	if err := step.Action(ctx); err != nil {
		outcome.Status = StepFailed
		outcome.Err = o.classify(err, stage.Name, step.ID)
		outcome.Reason = outcome.Err.Error()
	} else {
		outcome.Status = StepSucceeded
	}
	outcome.Duration = time.Since(outcome.StartedAt)
	return outcome
}

// classify annotates an error with stage and step context, wrapping
// unclassified errors without rewriting their text.
func (o *Orchestrator) classify(err error, stage, stepID string) *Error {
	var perr *Error
	if errors.As(err, &perr) {
		if perr.Step == "" {
			perr.Step = stepID
		}
		if perr.Stage == "" {
			perr.Stage = stage
		}
		return perr
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return NewTimeoutError("step exceeded its bound", err).WithStep(stepID).WithStage(stage)
	case os.IsPermission(err):
		return NewIOError("step failed", err).WithStep(stepID).WithStage(stage).WithCode(ErrCodePermission)
	default:
		return NewExecutionError("step failed", err).WithStep(stepID).WithStage(stage).WithCode(ErrCodeInternal)
	}
}
