package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/medsafe/go-dse/internal/domain/schedule"
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

func testSchedule(meds ...schedule.Medication) schedule.Schedule {
	return schedule.Schedule{PatientID: "p1", Version: 1, Medications: meds}
}

func at(t *testing.T, v string) schedule.MinuteOfDay {
	t.Helper()
	m, err := schedule.ParseMinuteOfDay(v)
	if err != nil {
		t.Fatalf("parse %q: %v", v, err)
	}
	return m
}

// erroringSource fails every lookup, standing in for an unreachable
// knowledge service.
type erroringSource struct{}

func (erroringSource) Interaction(context.Context, string, string) (*knowledge.Fact, error) {
	return nil, errors.New("connection refused")
}

func (erroringSource) MinimumGap(context.Context, string, string) (time.Duration, bool, error) {
	return 0, false, errors.New("connection refused")
}

func (erroringSource) Substitutes(context.Context, string) ([]knowledge.Substitute, error) {
	return nil, errors.New("connection refused")
}

func TestDetectTimingConflicts(t *testing.T) {
	sched := testSchedule(
		testMed("m1", "aspirin", at(t, "08:00")),
		testMed("m2", "ibuprofen", at(t, "08:30")),
	)
	gaps := NewGapTable(2 * time.Hour)

	conflicts := DetectTimingConflicts(sched.Entries(), gaps)
	if len(conflicts) != 1 {
		t.Fatalf("got %d conflicts, want 1", len(conflicts))
	}
	c := conflicts[0]
	if c.First.MedicationID != "m1" || c.Second.MedicationID != "m2" {
		t.Errorf("pair = %s/%s, want m1/m2", c.First.MedicationID, c.Second.MedicationID)
	}
	if c.Gap != 30*time.Minute {
		t.Errorf("gap = %v, want 30m", c.Gap)
	}
	if c.MinimumGap != 2*time.Hour {
		t.Errorf("minimum gap = %v, want 2h", c.MinimumGap)
	}
}

func TestDetectTimingConflictsWrapsMidnight(t *testing.T) {
	sched := testSchedule(
		testMed("m1", "aspirin", at(t, "23:30")),
		testMed("m2", "ibuprofen", at(t, "00:15")),
	)
	conflicts := DetectTimingConflicts(sched.Entries(), NewGapTable(2*time.Hour))
	if len(conflicts) != 1 {
		t.Fatalf("got %d conflicts, want 1 across midnight", len(conflicts))
	}
	if conflicts[0].Gap != 45*time.Minute {
		t.Errorf("gap = %v, want 45m", conflicts[0].Gap)
	}
}

func TestDetectTimingConflictsNoDuplicatePair(t *testing.T) {
	// With exactly two entries the pair must be reported once, not once per
	// scan direction.
	sched := testSchedule(
		testMed("m1", "aspirin", at(t, "08:00")),
		testMed("m2", "ibuprofen", at(t, "08:05")),
	)
	conflicts := DetectTimingConflicts(sched.Entries(), NewGapTable(2*time.Hour))
	if len(conflicts) != 1 {
		t.Fatalf("got %d conflicts, want exactly 1", len(conflicts))
	}
}

func TestDetectTimingConflictsOrderedByGap(t *testing.T) {
	sched := testSchedule(
		testMed("m1", "aspirin", at(t, "08:00")),
		testMed("m2", "ibuprofen", at(t, "09:30")),
		testMed("m3", "warfarin", at(t, "09:45")),
	)
	conflicts := DetectTimingConflicts(sched.Entries(), NewGapTable(2*time.Hour))
	if len(conflicts) != 2 {
		t.Fatalf("got %d conflicts, want 2", len(conflicts))
	}
	if conflicts[0].Gap > conflicts[1].Gap {
		t.Errorf("conflicts not ordered tightest first: %v then %v", conflicts[0].Gap, conflicts[1].Gap)
	}
	if conflicts[0].First.MedicationID != "m2" {
		t.Errorf("tightest conflict pair starts at %s, want m2", conflicts[0].First.MedicationID)
	}
}

func TestDetectTimingConflictsDedupesExactEntries(t *testing.T) {
	entries := testSchedule(testMed("m1", "aspirin", at(t, "08:00"))).Entries()
	entries = append(entries, entries[0]) // duplicate (medication, instant)
	entries = append(entries, testSchedule(testMed("m2", "ibuprofen", at(t, "08:00"))).Entries()...)

	conflicts := DetectTimingConflicts(entries, NewGapTable(2*time.Hour))
	if len(conflicts) != 1 {
		t.Fatalf("got %d conflicts, want 1 after dedupe", len(conflicts))
	}
	if conflicts[0].Gap != 0 {
		t.Errorf("gap = %v, want 0 for simultaneous doses", conflicts[0].Gap)
	}
}

func TestDetectTimingConflictsRespectsPairGap(t *testing.T) {
	gaps := NewGapTable(2 * time.Hour)
	gaps.Set("aspirin", "ibuprofen", 30*time.Minute)

	sched := testSchedule(
		testMed("m1", "aspirin", at(t, "08:00")),
		testMed("m2", "ibuprofen", at(t, "09:00")),
	)
	if conflicts := DetectTimingConflicts(sched.Entries(), gaps); len(conflicts) != 0 {
		t.Errorf("pair-specific 30m gap satisfied, got %d conflicts", len(conflicts))
	}
}

func TestBuildGapTableSurvivesSourceFailure(t *testing.T) {
	meds := []schedule.Medication{
		testMed("m1", "aspirin", at(t, "08:00")),
		testMed("m2", "ibuprofen", at(t, "12:00")),
	}
	table := BuildGapTable(context.Background(), erroringSource{}, meds, 2*time.Hour)
	if got := table.MinimumGap("aspirin", "ibuprofen"); got != 2*time.Hour {
		t.Errorf("MinimumGap = %v, want the 2h default when the source fails", got)
	}
}
