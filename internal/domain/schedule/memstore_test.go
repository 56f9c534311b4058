package schedule

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/medsafe/go-dse/internal/domain/safety"
)

func seeded(t *testing.T) *MemoryStore {
	t.Helper()
	store := NewMemoryStore()
	store.Seed(Schedule{
		PatientID:   "p1",
		Medications: []Medication{med("m1", "aspirin", 480, 1200)},
	})
	return store
}

func TestMemoryStoreLoadReturnsCopy(t *testing.T) {
	store := seeded(t)
	ctx := context.Background()

	first, err := store.Load(ctx, "p1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if first.Version != 1 {
		t.Errorf("seeded version = %d, want 1", first.Version)
	}
	first.Medications[0].Times[0] = 0

	second, err := store.Load(ctx, "p1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if second.Medications[0].Times[0] != 480 {
		t.Error("mutating a loaded schedule leaked into the store")
	}
}

func TestMemoryStoreUnknownPatient(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.Load(context.Background(), "ghost")
	if !errors.Is(err, safety.ErrValidation) {
		t.Errorf("Load unknown patient: got %v, want ErrValidation", err)
	}
}

func TestMemoryStoreApplyMutation(t *testing.T) {
	store := seeded(t)
	ctx := context.Background()

	next, err := store.ApplyMutation(ctx, "p1", 1, TimeShift{MedicationID: "m1", From: 480, To: 600})
	if err != nil {
		t.Fatalf("ApplyMutation: %v", err)
	}
	if next.Version != 2 {
		t.Errorf("version = %d, want 2", next.Version)
	}
	if next.Medications[0].Times[0] != 600 {
		t.Errorf("dose not moved: %v", next.Medications[0].Times)
	}
}

func TestMemoryStoreStaleVersion(t *testing.T) {
	store := seeded(t)
	ctx := context.Background()

	_, err := store.ApplyMutation(ctx, "p1", 7, TimeShift{MedicationID: "m1", From: 480, To: 600})
	if !errors.Is(err, safety.ErrStaleSchedule) {
		t.Fatalf("got %v, want ErrStaleSchedule", err)
	}

	// The failed attempt must leave the schedule untouched.
	cur, err := store.Load(ctx, "p1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cur.Version != 1 || cur.Medications[0].Times[0] != 480 {
		t.Error("stale mutation modified the schedule")
	}
}

func TestMemoryStoreFailedApply(t *testing.T) {
	store := seeded(t)
	_, err := store.ApplyMutation(context.Background(), "p1", 1,
		TimeShift{MedicationID: "m1", From: 60, To: 120})
	if !errors.Is(err, safety.ErrApplyTransactionFailed) {
		t.Errorf("got %v, want ErrApplyTransactionFailed", err)
	}
}

func TestMemoryStoreRestore(t *testing.T) {
	store := seeded(t)
	ctx := context.Background()

	snapshot, err := store.Load(ctx, "p1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	applied, err := store.ApplyMutation(ctx, "p1", 1, DropDose{MedicationID: "m1", All: true})
	if err != nil {
		t.Fatalf("ApplyMutation: %v", err)
	}

	restored, err := store.Restore(ctx, "p1", applied.Version, snapshot)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if restored.Version != 3 {
		t.Errorf("restore must advance the version, got %d", restored.Version)
	}
	if !reflect.DeepEqual(restored.Medications, snapshot.Medications) {
		t.Errorf("restored content differs from the snapshot:\n got %+v\nwant %+v",
			restored.Medications, snapshot.Medications)
	}
}
