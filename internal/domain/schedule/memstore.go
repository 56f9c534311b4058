package schedule

import (
	"context"
	"fmt"
	"sync"

	"github.com/medsafe/go-dse/internal/domain/safety"
)

// MemoryStore is an in-memory Store for development and tests. It enforces
// the same optimistic-version contract as the Postgres store.
type MemoryStore struct {
	mu        sync.RWMutex
	schedules map[string]Schedule
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{schedules: make(map[string]Schedule)}
}

// Seed installs a patient's schedule at version 1, replacing any prior state.
func (s *MemoryStore) Seed(sched Schedule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sched.Version = 1
	s.schedules[sched.PatientID] = sched.Clone()
}

// Load returns a deep copy of the patient's schedule.
func (s *MemoryStore) Load(ctx context.Context, patientID string) (Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sched, ok := s.schedules[patientID]
	if !ok {
		return Schedule{}, fmt.Errorf("schedule not found for patient %s: %w", patientID, safety.ErrValidation)
	}
	return sched.Clone(), nil
}

// ApplyMutation applies m atomically under the store lock, bumping the
// version. A stale expectedVersion leaves the schedule untouched.
func (s *MemoryStore) ApplyMutation(ctx context.Context, patientID string, expectedVersion int64, m Mutation) (Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.schedules[patientID]
	if !ok {
		return Schedule{}, fmt.Errorf("schedule not found for patient %s: %w", patientID, safety.ErrValidation)
	}
	if cur.Version != expectedVersion {
		return Schedule{}, fmt.Errorf("patient %s at version %d, expected %d: %w",
			patientID, cur.Version, expectedVersion, safety.ErrStaleSchedule)
	}

	next, err := m.Apply(cur)
	if err != nil {
		return Schedule{}, fmt.Errorf("%s: %v: %w", m.Describe(), err, safety.ErrApplyTransactionFailed)
	}
	next.Version = cur.Version + 1
	s.schedules[patientID] = next.Clone()
	return next, nil
}

// Restore rewrites schedule content from a snapshot, advancing the version.
func (s *MemoryStore) Restore(ctx context.Context, patientID string, expectedVersion int64, snapshot Schedule) (Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.schedules[patientID]
	if !ok {
		return Schedule{}, fmt.Errorf("schedule not found for patient %s: %w", patientID, safety.ErrValidation)
	}
	if cur.Version != expectedVersion {
		return Schedule{}, fmt.Errorf("patient %s at version %d, expected %d: %w",
			patientID, cur.Version, expectedVersion, safety.ErrStaleSchedule)
	}

	next := snapshot.Clone()
	next.PatientID = patientID
	next.Version = cur.Version + 1
	s.schedules[patientID] = next.Clone()
	return next, nil
}
