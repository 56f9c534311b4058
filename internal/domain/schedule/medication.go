package schedule

import (
	"fmt"
	"sort"
	"time"
)

// Status represents medication lifecycle status. Medications with logged
// doses are never deleted, only soft-deactivated.
type Status string

const (
	StatusActive       Status = "active"
	StatusInactive     Status = "inactive"
	StatusCompleted    Status = "completed"
	StatusDiscontinued Status = "discontinued"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusInactive, StatusCompleted, StatusDiscontinued:
		return true
	}
	return false
}

// Dosage is the prescribed amount per dose.
type Dosage struct {
	Amount float64 `json:"amount"`
	Unit   string  `json:"unit"`
}

// Recurrence describes how a dose instant repeats. The engine's conflict
// checking operates on the daily projection; callers expand coarser rules to
// daily instants before evaluation.
type Recurrence string

const RecurrenceDaily Recurrence = "daily"

// Medication is one prescribed drug on a patient's schedule.
type Medication struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	Dosage    Dosage       `json:"dosage"`
	Times     []MinuteOfDay `json:"times"`
	StartDate time.Time    `json:"start_date"`
	EndDate   *time.Time   `json:"end_date,omitempty"`
	Status    Status       `json:"status"`
}

// Active reports whether the medication participates in safety evaluation.
func (m Medication) Active() bool { return m.Status == StatusActive }

// ActiveOn reports whether t falls inside the medication's active date range.
func (m Medication) ActiveOn(t time.Time) bool {
	if !m.Active() {
		return false
	}
	if t.Before(m.StartDate) {
		return false
	}
	if m.EndDate != nil && t.After(*m.EndDate) {
		return false
	}
	return true
}

// Validate checks the medication's own invariants.
func (m Medication) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("medication id is required")
	}
	if m.Name == "" {
		return fmt.Errorf("medication %s: name is required", m.ID)
	}
	if !m.Status.Valid() {
		return fmt.Errorf("medication %s: invalid status %q", m.ID, m.Status)
	}
	if m.EndDate != nil && m.EndDate.Before(m.StartDate) {
		return fmt.Errorf("medication %s: end date precedes start date", m.ID)
	}
	for _, at := range m.Times {
		if !at.Valid() {
			return fmt.Errorf("medication %s: dose time %d out of range", m.ID, at)
		}
	}
	return nil
}

// ScheduleEntry is a single (medication, instant-of-day, recurrence) tuple,
// the atomic unit conflict checking operates on.
type ScheduleEntry struct {
	MedicationID   string     `json:"medication_id"`
	MedicationName string     `json:"medication_name"`
	At             MinuteOfDay `json:"at"`
	Recurrence     Recurrence `json:"recurrence"`
}

// Entries projects the medication's dose times to schedule entries, sorted by
// instant for deterministic downstream processing.
func (m Medication) Entries() []ScheduleEntry {
	out := make([]ScheduleEntry, 0, len(m.Times))
	for _, at := range m.Times {
		out = append(out, ScheduleEntry{
			MedicationID:   m.ID,
			MedicationName: m.Name,
			At:             at,
			Recurrence:     RecurrenceDaily,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].At < out[j].At })
	return out
}
