package schedule

import (
	"context"
	"fmt"
	"sort"
)

// Schedule is a patient's complete medication schedule at one version.
// Version increases monotonically on every applied mutation and is the
// staleness marker for concurrent-modification detection.
type Schedule struct {
	PatientID   string       `json:"patient_id"`
	Version     int64        `json:"version"`
	Medications []Medication `json:"medications"`
}

// Entries flattens all active medications into schedule entries sorted by
// instant, then medication ID for a stable order at equal instants.
func (s Schedule) Entries() []ScheduleEntry {
	var out []ScheduleEntry
	for _, m := range s.Medications {
		if !m.Active() {
			continue
		}
		out = append(out, m.Entries()...)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].At != out[j].At {
			return out[i].At < out[j].At
		}
		return out[i].MedicationID < out[j].MedicationID
	})
	return out
}

// ActiveMedications returns the medications participating in evaluation.
func (s Schedule) ActiveMedications() []Medication {
	var out []Medication
	for _, m := range s.Medications {
		if m.Active() {
			out = append(out, m)
		}
	}
	return out
}

// Medication looks up a medication by ID.
func (s Schedule) Medication(id string) (Medication, bool) {
	for _, m := range s.Medications {
		if m.ID == id {
			return m, true
		}
	}
	return Medication{}, false
}

// Clone deep-copies the schedule so hypothetical mutations never alias the
// live state.
func (s Schedule) Clone() Schedule {
	out := s
	out.Medications = make([]Medication, len(s.Medications))
	for i, m := range s.Medications {
		cm := m
		cm.Times = append([]MinuteOfDay(nil), m.Times...)
		if m.EndDate != nil {
			end := *m.EndDate
			cm.EndDate = &end
		}
		out.Medications[i] = cm
	}
	return out
}

// Validate checks schedule-level invariants.
func (s Schedule) Validate() error {
	if s.PatientID == "" {
		return fmt.Errorf("patient id is required")
	}
	seen := make(map[string]bool, len(s.Medications))
	for _, m := range s.Medications {
		if err := m.Validate(); err != nil {
			return err
		}
		if seen[m.ID] {
			return fmt.Errorf("duplicate medication %s", m.ID)
		}
		seen[m.ID] = true
	}
	return nil
}

// Store is the engine's view of schedule persistence. ApplyMutation is the
// single write path: the mutation and the version bump persist atomically or
// not at all. A mismatched expectedVersion yields safety.ErrStaleSchedule.
type Store interface {
	Load(ctx context.Context, patientID string) (Schedule, error)
	ApplyMutation(ctx context.Context, patientID string, expectedVersion int64, m Mutation) (Schedule, error)

	// Restore rewrites the patient's schedule content from a snapshot taken
	// before a failed resolution. The version still advances; restoration is
	// bit-for-bit for medications and dose times, not for the version marker.
	Restore(ctx context.Context, patientID string, expectedVersion int64, snapshot Schedule) (Schedule, error)
}
