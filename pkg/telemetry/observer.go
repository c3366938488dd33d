package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/openrig/rigup/pkg/provision"
)

// RunObserver feeds orchestrator lifecycle events into metrics and
// tracing. It implements provision.Observer.
type RunObserver struct {
	metrics *Metrics
	tracer  *Tracer
	profile string

	runCtx    context.Context
	runSpan   trace.Span
	stageCtx  context.Context
	stageSpan trace.Span
}

// NewRunObserver creates an observer for one run. Either collaborator may
// be nil; the corresponding signal is simply not emitted.
func NewRunObserver(metrics *Metrics, tracer *Tracer, profile string) *RunObserver {
	return &RunObserver{
		metrics: metrics,
		tracer:  tracer,
		profile: profile,
	}
}

func (o *RunObserver) RunStarted(ctx context.Context, report *provision.RunReport) {
	if o.metrics != nil {
		o.metrics.RecordRunStarted(o.profile)
	}
	if o.tracer != nil {
		o.runCtx, o.runSpan = o.tracer.StartRunSpan(ctx, report.RunID, o.profile)
	}
}

func (o *RunObserver) StageStarted(ctx context.Context, stage provision.Stage, index int) {
	if o.metrics != nil {
		o.metrics.RecordStageExecuted(stage.Name, string(stage.Policy))
	}
	if o.tracer != nil && o.runSpan != nil {
		o.endStageSpan()
		o.stageCtx, o.stageSpan = o.tracer.StartStageSpan(o.runCtx, stage.Name, string(stage.Policy))
	}
}

func (o *RunObserver) StepCompleted(ctx context.Context, outcome provision.StepOutcome) {
	if o.metrics != nil {
		o.metrics.RecordStepExecuted(outcome.Stage, string(outcome.Status), outcome.Duration)
		if outcome.Err != nil {
			o.metrics.RecordError(string(outcome.Err.Class), outcome.Err.Code)
		}
	}
	if o.tracer != nil && o.stageSpan != nil {
		_, span := o.tracer.StartStepSpan(o.stageCtx, outcome.Stage, outcome.StepID)
		span.SetAttributes(
			attribute.String("step.status", string(outcome.Status)),
			attribute.Int64("step.duration_ms", outcome.Duration.Milliseconds()),
		)
		if outcome.Err != nil {
			RecordError(span, outcome.Err)
		} else {
			RecordSuccess(span)
		}
		span.End()
	}
}

func (o *RunObserver) RunFinished(ctx context.Context, report *provision.RunReport) {
	if o.metrics != nil {
		o.metrics.RecordRunCompleted(string(report.State),
			report.CompletedAt.Sub(report.StartedAt))
	}
	o.endStageSpan()
	if o.runSpan != nil {
		if failed := report.Failed(); len(failed) > 0 && failed[0].Err != nil {
			RecordError(o.runSpan, failed[0].Err)
		} else {
			RecordSuccess(o.runSpan)
		}
		o.runSpan.End()
	}
}

// endStageSpan closes the open stage span, if any. Stage spans are bounded
// by the next StageStarted or by RunFinished since the orchestrator has no
// stage-finished callback.
func (o *RunObserver) endStageSpan() {
	if o.stageSpan != nil {
		o.stageSpan.End()
		o.stageSpan = nil
	}
}
