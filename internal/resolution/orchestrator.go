// Package resolution applies a chosen remediation against the live schedule.
// It is the only component permitted to mutate persisted state; everything
// upstream of it is pure.
package resolution

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/medsafe/go-dse/internal/domain/safety"
	"github.com/medsafe/go-dse/internal/domain/schedule"
	"github.com/medsafe/go-dse/internal/engine"
)

// State tracks a resolution attempt through its lifecycle.
type State string

const (
	StateProposed   State = "proposed"
	StateValidating State = "validating"
	StateApplying   State = "applying"
	StateConfirmed  State = "confirmed"
	StateFailed     State = "failed"
)

// Request describes one resolution attempt. ExpectedVersion must be the
// schedule version the caller read when the suggestion was generated; any
// drift since then is rejected as stale rather than applied against outdated
// assumptions.
type Request struct {
	PatientID       string
	ExpectedVersion int64
	Mutation        schedule.Mutation
}

// Outcome reports where the attempt ended and the assessments on both sides
// of the mutation.
type Outcome struct {
	State    State
	Schedule schedule.Schedule
	Before   safety.SafetyAssessment
	After    safety.SafetyAssessment
}

// Orchestrator drives the Proposed → Validating → Applying → Confirmed|Failed
// state machine for a single mutation.
type Orchestrator struct {
	store    schedule.Store
	pipeline engine.Pipeline
	logger   *zap.Logger
	tracer   trace.Tracer
}

// New creates an orchestrator.
func New(store schedule.Store, pipeline engine.Pipeline, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		store:    store,
		pipeline: pipeline,
		logger:   logger,
		tracer:   otel.Tracer("resolution"),
	}
}

// Resolve validates, applies, and confirms one mutation. The apply is a
// single atomic transaction in the store; if the re-evaluation after the
// write does not strictly improve the safety score, the original schedule is
// restored and the attempt reports Failed.
func (o *Orchestrator) Resolve(ctx context.Context, req Request) (Outcome, error) {
	ctx, span := o.tracer.Start(ctx, "resolve_mutation",
		trace.WithAttributes(
			attribute.String("patient_id", req.PatientID),
			attribute.Int64("expected_version", req.ExpectedVersion),
		))
	defer span.End()

	if req.PatientID == "" || req.Mutation == nil {
		return Outcome{State: StateProposed}, fmt.Errorf("patient id and mutation are required: %w", safety.ErrValidation)
	}

	// Validating: re-check against the live schedule, which may have moved
	// since the suggestion was generated.
	live, err := o.store.Load(ctx, req.PatientID)
	if err != nil {
		span.RecordError(err)
		return Outcome{State: StateValidating}, fmt.Errorf("load schedule: %w", err)
	}
	if live.Version != req.ExpectedVersion {
		o.logger.Warn("rejecting stale resolution",
			zap.String("patient_id", req.PatientID),
			zap.Int64("expected", req.ExpectedVersion),
			zap.Int64("current", live.Version))
		return Outcome{State: StateValidating}, fmt.Errorf("expected version %d, schedule at %d: %w",
			req.ExpectedVersion, live.Version, safety.ErrStaleSchedule)
	}

	snapshot := live.Clone()
	before := o.pipeline.Evaluate(ctx, live).Assessment

	// Applying: the store guarantees mutation and version bump land together
	// or not at all.
	applied, err := o.store.ApplyMutation(ctx, req.PatientID, req.ExpectedVersion, req.Mutation)
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, safety.ErrStaleSchedule) {
			return Outcome{State: StateApplying, Before: before}, err
		}
		return Outcome{State: StateApplying, Before: before},
			fmt.Errorf("%s: %v: %w", req.Mutation.Describe(), err, safety.ErrApplyTransactionFailed)
	}

	// Confirmed requires a strict improvement; anything else rolls back.
	after := o.pipeline.Evaluate(ctx, applied).Assessment
	if after.Score <= before.Score {
		o.logger.Warn("resolution did not improve safety, rolling back",
			zap.String("patient_id", req.PatientID),
			zap.String("mutation", req.Mutation.Describe()),
			zap.Float64("before", before.Score),
			zap.Float64("after", after.Score))

		restored, rerr := o.store.Restore(ctx, req.PatientID, applied.Version, snapshot)
		if rerr != nil {
			span.RecordError(rerr)
			return Outcome{State: StateFailed, Before: before, After: after},
				fmt.Errorf("rollback failed: %v: %w", rerr, safety.ErrApplyTransactionFailed)
		}
		return Outcome{State: StateFailed, Schedule: restored, Before: before, After: after},
			fmt.Errorf("score %.2f did not improve on %.2f: %w", after.Score, before.Score, safety.ErrNoSafeSuggestion)
	}

	o.logger.Info("resolution confirmed",
		zap.String("patient_id", req.PatientID),
		zap.String("mutation", req.Mutation.Describe()),
		zap.Int64("version", applied.Version),
		zap.Float64("before", before.Score),
		zap.Float64("after", after.Score))

	return Outcome{State: StateConfirmed, Schedule: applied, Before: before, After: after}, nil
}
