package resolution

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/medsafe/go-dse/internal/domain/safety"
	"github.com/medsafe/go-dse/internal/domain/schedule"
	"github.com/medsafe/go-dse/internal/engine"
	"github.com/medsafe/go-dse/internal/knowledge"
)

func testMed(id, name string, times ...schedule.MinuteOfDay) schedule.Medication {
	return schedule.Medication{
		ID:        id,
		Name:      name,
		Dosage:    schedule.Dosage{Amount: 10, Unit: "mg"},
		Times:     times,
		StartDate: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Status:    schedule.StatusActive,
	}
}

func newOrchestrator(store schedule.Store, src knowledge.Source) *Orchestrator {
	return New(store, engine.NewPipeline(src, 2*time.Hour), nil)
}

func TestResolveConfirmsImprovingMutation(t *testing.T) {
	store := schedule.NewMemoryStore()
	store.Seed(schedule.Schedule{
		PatientID: "p1",
		Medications: []schedule.Medication{
			testMed("m1", "aspirin", 480),
			testMed("m2", "ibuprofen", 510),
		},
	})
	o := newOrchestrator(store, knowledge.NewStaticSource())

	outcome, err := o.Resolve(context.Background(), Request{
		PatientID:       "p1",
		ExpectedVersion: 1,
		Mutation:        schedule.TimeShift{MedicationID: "m2", From: 510, To: 1200},
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if outcome.State != StateConfirmed {
		t.Errorf("state = %s, want confirmed", outcome.State)
	}
	if outcome.Schedule.Version != 2 {
		t.Errorf("version = %d, want 2", outcome.Schedule.Version)
	}
	if outcome.After.Score <= outcome.Before.Score {
		t.Errorf("score did not improve: %v -> %v", outcome.Before.Score, outcome.After.Score)
	}
}

func TestResolveRejectsStaleVersion(t *testing.T) {
	store := schedule.NewMemoryStore()
	store.Seed(schedule.Schedule{
		PatientID:   "p1",
		Medications: []schedule.Medication{testMed("m1", "aspirin", 480)},
	})
	o := newOrchestrator(store, knowledge.NewStaticSource())

	outcome, err := o.Resolve(context.Background(), Request{
		PatientID:       "p1",
		ExpectedVersion: 5,
		Mutation:        schedule.TimeShift{MedicationID: "m1", From: 480, To: 600},
	})
	if !errors.Is(err, safety.ErrStaleSchedule) {
		t.Fatalf("got %v, want ErrStaleSchedule", err)
	}
	if outcome.State != StateValidating {
		t.Errorf("state = %s, want validating", outcome.State)
	}

	// The rejected attempt must not have touched the schedule.
	cur, _ := store.Load(context.Background(), "p1")
	if cur.Version != 1 {
		t.Errorf("schedule moved to version %d on a stale request", cur.Version)
	}
}

func TestResolveRollsBackNonImprovingMutation(t *testing.T) {
	store := schedule.NewMemoryStore()
	store.Seed(schedule.Schedule{
		PatientID:   "p1",
		Medications: []schedule.Medication{testMed("m1", "aspirin", 480, 1200)},
	})
	o := newOrchestrator(store, knowledge.NewStaticSource())
	ctx := context.Background()

	original, _ := store.Load(ctx, "p1")

	// A clean schedule scores 1.0 before and after; no strict improvement.
	outcome, err := o.Resolve(ctx, Request{
		PatientID:       "p1",
		ExpectedVersion: 1,
		Mutation:        schedule.TimeShift{MedicationID: "m1", From: 480, To: 600},
	})
	if !errors.Is(err, safety.ErrNoSafeSuggestion) {
		t.Fatalf("got %v, want ErrNoSafeSuggestion", err)
	}
	if outcome.State != StateFailed {
		t.Errorf("state = %s, want failed", outcome.State)
	}

	// Rollback restores the content bit for bit; only the version moves.
	cur, _ := store.Load(ctx, "p1")
	if !reflect.DeepEqual(cur.Medications, original.Medications) {
		t.Errorf("rollback left different content:\n got %+v\nwant %+v",
			cur.Medications, original.Medications)
	}
	if cur.Version <= original.Version {
		t.Errorf("rollback must advance the version, got %d", cur.Version)
	}
}

func TestResolveRollsBackRegression(t *testing.T) {
	src := knowledge.NewStaticSource().
		AddInteraction("aspirin", "warfarin", knowledge.Fact{
			Severity:    safety.SeveritySevere,
			Description: "increased bleeding risk",
		})
	store := schedule.NewMemoryStore()
	store.Seed(schedule.Schedule{
		PatientID: "p1",
		Medications: []schedule.Medication{
			testMed("m1", "aspirin", 480),
			testMed("m2", "ibuprofen", 1200),
		},
	})
	o := newOrchestrator(store, src)
	ctx := context.Background()

	original, _ := store.Load(ctx, "p1")

	// Swapping ibuprofen for warfarin introduces a severe interaction.
	outcome, err := o.Resolve(ctx, Request{
		PatientID:       "p1",
		ExpectedVersion: 1,
		Mutation:        schedule.Swap{MedicationID: "m2", ReplacementID: "m9", ReplacementName: "warfarin"},
	})
	if !errors.Is(err, safety.ErrNoSafeSuggestion) {
		t.Fatalf("got %v, want ErrNoSafeSuggestion", err)
	}
	if outcome.After.Score >= outcome.Before.Score {
		t.Errorf("expected a regression, got %v -> %v", outcome.Before.Score, outcome.After.Score)
	}

	cur, _ := store.Load(ctx, "p1")
	if !reflect.DeepEqual(cur.Medications, original.Medications) {
		t.Error("regression was not rolled back")
	}
}

func TestResolveValidatesInput(t *testing.T) {
	o := newOrchestrator(schedule.NewMemoryStore(), knowledge.NewStaticSource())
	ctx := context.Background()

	_, err := o.Resolve(ctx, Request{ExpectedVersion: 1, Mutation: schedule.DropDose{MedicationID: "m1", All: true}})
	if !errors.Is(err, safety.ErrValidation) {
		t.Errorf("missing patient ID: got %v, want ErrValidation", err)
	}

	_, err = o.Resolve(ctx, Request{PatientID: "p1", ExpectedVersion: 1})
	if !errors.Is(err, safety.ErrValidation) {
		t.Errorf("missing mutation: got %v, want ErrValidation", err)
	}
}

func TestResolveFailedApplyStaysAtomic(t *testing.T) {
	store := schedule.NewMemoryStore()
	store.Seed(schedule.Schedule{
		PatientID:   "p1",
		Medications: []schedule.Medication{testMed("m1", "aspirin", 480)},
	})
	o := newOrchestrator(store, knowledge.NewStaticSource())
	ctx := context.Background()

	_, err := o.Resolve(ctx, Request{
		PatientID:       "p1",
		ExpectedVersion: 1,
		Mutation:        schedule.TimeShift{MedicationID: "missing", From: 480, To: 600},
	})
	if !errors.Is(err, safety.ErrApplyTransactionFailed) {
		t.Fatalf("got %v, want ErrApplyTransactionFailed", err)
	}

	cur, _ := store.Load(ctx, "p1")
	if cur.Version != 1 {
		t.Errorf("failed apply moved the schedule to version %d", cur.Version)
	}
}
