package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/medsafe/go-dse/internal/domain/safety"
	"github.com/medsafe/go-dse/internal/domain/schedule"
)

// ScheduleStore is the Postgres-backed schedule.Store. Every mutation commits
// the new schedule content, the version bump, and the outbox event in one
// transaction.
type ScheduleStore struct {
	pool       *pgxpool.Pool
	auditTopic string
	logger     *zap.Logger
	tracer     trace.Tracer
}

// NewScheduleStore creates a store publishing audit events to auditTopic.
func NewScheduleStore(pool *pgxpool.Pool, auditTopic string, logger *zap.Logger) *ScheduleStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ScheduleStore{
		pool:       pool,
		auditTopic: auditTopic,
		logger:     logger,
		tracer:     otel.Tracer("schedule-store"),
	}
}

var _ schedule.Store = (*ScheduleStore)(nil)

// Load reads the patient's schedule at its current version.
func (s *ScheduleStore) Load(ctx context.Context, patientID string) (schedule.Schedule, error) {
	ctx, span := s.tracer.Start(ctx, "schedule_load",
		trace.WithAttributes(attribute.String("patient_id", patientID)))
	defer span.End()

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		span.RecordError(err)
		return schedule.Schedule{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	sched, err := loadSchedule(ctx, tx, patientID, false)
	if err != nil {
		span.RecordError(err)
		return schedule.Schedule{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		span.RecordError(err)
		return schedule.Schedule{}, fmt.Errorf("commit tx: %w", err)
	}
	return sched, nil
}

// ApplyMutation applies m against the schedule at expectedVersion. The row is
// locked for the duration of the transaction, so the version check and the
// rewrite are race-free.
func (s *ScheduleStore) ApplyMutation(ctx context.Context, patientID string, expectedVersion int64, m schedule.Mutation) (schedule.Schedule, error) {
	ctx, span := s.tracer.Start(ctx, "schedule_apply_mutation",
		trace.WithAttributes(
			attribute.String("patient_id", patientID),
			attribute.Int64("expected_version", expectedVersion),
			attribute.String("mutation_kind", string(m.Kind())),
		))
	defer span.End()

	next, err := s.rewrite(ctx, patientID, expectedVersion, "schedule.mutation.applied",
		func(cur schedule.Schedule) (schedule.Schedule, error) {
			return m.Apply(cur)
		}, m)
	if err != nil {
		span.RecordError(err)
		return schedule.Schedule{}, err
	}

	s.logger.Info("schedule mutation applied",
		zap.String("patient_id", patientID),
		zap.String("mutation", m.Describe()),
		zap.Int64("version", next.Version))
	return next, nil
}

// Restore rewrites the schedule content from a pre-mutation snapshot. The
// version marker still advances; only medications and dose times revert.
func (s *ScheduleStore) Restore(ctx context.Context, patientID string, expectedVersion int64, snapshot schedule.Schedule) (schedule.Schedule, error) {
	ctx, span := s.tracer.Start(ctx, "schedule_restore",
		trace.WithAttributes(
			attribute.String("patient_id", patientID),
			attribute.Int64("expected_version", expectedVersion),
		))
	defer span.End()

	next, err := s.rewrite(ctx, patientID, expectedVersion, "schedule.restored",
		func(cur schedule.Schedule) (schedule.Schedule, error) {
			out := snapshot.Clone()
			out.PatientID = patientID
			return out, nil
		}, nil)
	if err != nil {
		span.RecordError(err)
		return schedule.Schedule{}, err
	}

	s.logger.Info("schedule restored from snapshot",
		zap.String("patient_id", patientID),
		zap.Int64("version", next.Version))
	return next, nil
}

// rewrite is the single write path: lock the version row, apply the change in
// memory, replace content rows, bump the version, and write the audit event
// to the outbox, all in one transaction.
func (s *ScheduleStore) rewrite(ctx context.Context, patientID string, expectedVersion int64, eventType string, change func(schedule.Schedule) (schedule.Schedule, error), m schedule.Mutation) (schedule.Schedule, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return schedule.Schedule{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	cur, err := loadSchedule(ctx, tx, patientID, true)
	if err != nil {
		return schedule.Schedule{}, err
	}
	if cur.Version != expectedVersion {
		return schedule.Schedule{}, fmt.Errorf("expected version %d, schedule at %d: %w",
			expectedVersion, cur.Version, safety.ErrStaleSchedule)
	}

	next, err := change(cur)
	if err != nil {
		return schedule.Schedule{}, fmt.Errorf("%v: %w", err, safety.ErrApplyTransactionFailed)
	}
	next.PatientID = patientID
	next.Version = cur.Version + 1

	if err := replaceContent(ctx, tx, next); err != nil {
		return schedule.Schedule{}, fmt.Errorf("%v: %w", err, safety.ErrApplyTransactionFailed)
	}

	tag, err := tx.Exec(ctx,
		`UPDATE patient_schedules SET version = $1, updated_at = NOW() WHERE patient_id = $2`,
		next.Version, patientID)
	if err != nil {
		return schedule.Schedule{}, fmt.Errorf("bump version: %v: %w", err, safety.ErrApplyTransactionFailed)
	}
	if tag.RowsAffected() != 1 {
		return schedule.Schedule{}, fmt.Errorf("schedule row vanished: %w", safety.ErrApplyTransactionFailed)
	}

	payload, err := auditPayload(next, eventType, m)
	if err != nil {
		return schedule.Schedule{}, err
	}
	if err := WriteEntry(ctx, tx, &OutboxEntry{
		PatientID: patientID,
		EventType: eventType,
		Payload:   payload,
		Topic:     s.auditTopic,
		Key:       patientID,
	}); err != nil {
		return schedule.Schedule{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return schedule.Schedule{}, fmt.Errorf("commit tx: %v: %w", err, safety.ErrApplyTransactionFailed)
	}
	return next, nil
}

// Seed inserts or fully replaces a schedule, used for onboarding and tests.
func (s *ScheduleStore) Seed(ctx context.Context, sched schedule.Schedule) error {
	if err := sched.Validate(); err != nil {
		return fmt.Errorf("%v: %w", err, safety.ErrValidation)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO patient_schedules (patient_id, version)
		VALUES ($1, $2)
		ON CONFLICT (patient_id) DO UPDATE SET version = $2, updated_at = NOW()
	`, sched.PatientID, sched.Version)
	if err != nil {
		return fmt.Errorf("seed schedule: %w", err)
	}
	if err := replaceContent(ctx, tx, sched); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// loadSchedule reads the version row plus medications and dose times. With
// forUpdate set, the version row is locked until the transaction ends.
func loadSchedule(ctx context.Context, tx pgx.Tx, patientID string, forUpdate bool) (schedule.Schedule, error) {
	versionQuery := `SELECT version FROM patient_schedules WHERE patient_id = $1`
	if forUpdate {
		versionQuery += ` FOR UPDATE`
	}

	sched := schedule.Schedule{PatientID: patientID}
	if err := tx.QueryRow(ctx, versionQuery, patientID).Scan(&sched.Version); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return schedule.Schedule{}, fmt.Errorf("patient %s has no schedule: %w", patientID, safety.ErrValidation)
		}
		return schedule.Schedule{}, fmt.Errorf("load schedule version: %w", err)
	}

	rows, err := tx.Query(ctx, `
		SELECT id, name, dosage_amount, dosage_unit, start_date, end_date, status
		FROM medications
		WHERE patient_id = $1
		ORDER BY id
	`, patientID)
	if err != nil {
		return schedule.Schedule{}, fmt.Errorf("load medications: %w", err)
	}
	defer rows.Close()

	index := make(map[string]int)
	for rows.Next() {
		var m schedule.Medication
		var endDate *time.Time
		var status string
		if err := rows.Scan(&m.ID, &m.Name, &m.Dosage.Amount, &m.Dosage.Unit,
			&m.StartDate, &endDate, &status); err != nil {
			return schedule.Schedule{}, fmt.Errorf("scan medication: %w", err)
		}
		m.EndDate = endDate
		m.Status = schedule.Status(status)
		index[m.ID] = len(sched.Medications)
		sched.Medications = append(sched.Medications, m)
	}
	if err := rows.Err(); err != nil {
		return schedule.Schedule{}, fmt.Errorf("load medications: %w", err)
	}
	rows.Close()

	timeRows, err := tx.Query(ctx, `
		SELECT medication_id, at_minute
		FROM dose_times
		WHERE patient_id = $1
		ORDER BY medication_id, at_minute
	`, patientID)
	if err != nil {
		return schedule.Schedule{}, fmt.Errorf("load dose times: %w", err)
	}
	defer timeRows.Close()

	for timeRows.Next() {
		var medID string
		var at int
		if err := timeRows.Scan(&medID, &at); err != nil {
			return schedule.Schedule{}, fmt.Errorf("scan dose time: %w", err)
		}
		if i, ok := index[medID]; ok {
			sched.Medications[i].Times = append(sched.Medications[i].Times, schedule.MinuteOfDay(at))
		}
	}
	return sched, timeRows.Err()
}

// replaceContent rewrites medication and dose-time rows from the in-memory
// schedule. Whole-content replacement keeps the row set an exact projection
// of the domain object, which is what makes snapshot restores bit-for-bit.
func replaceContent(ctx context.Context, tx pgx.Tx, sched schedule.Schedule) error {
	if _, err := tx.Exec(ctx, `DELETE FROM dose_times WHERE patient_id = $1`, sched.PatientID); err != nil {
		return fmt.Errorf("clear dose times: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM medications WHERE patient_id = $1`, sched.PatientID); err != nil {
		return fmt.Errorf("clear medications: %w", err)
	}

	for _, m := range sched.Medications {
		_, err := tx.Exec(ctx, `
			INSERT INTO medications (patient_id, id, name, dosage_amount, dosage_unit, start_date, end_date, status)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, sched.PatientID, m.ID, m.Name, m.Dosage.Amount, m.Dosage.Unit, m.StartDate, m.EndDate, string(m.Status))
		if err != nil {
			return fmt.Errorf("insert medication %s: %w", m.ID, err)
		}
		for _, at := range m.Times {
			_, err := tx.Exec(ctx, `
				INSERT INTO dose_times (patient_id, medication_id, at_minute)
				VALUES ($1, $2, $3)
			`, sched.PatientID, m.ID, int(at))
			if err != nil {
				return fmt.Errorf("insert dose time %s/%s: %w", m.ID, at, err)
			}
		}
	}
	return nil
}

func auditPayload(next schedule.Schedule, eventType string, m schedule.Mutation) (json.RawMessage, error) {
	event := map[string]interface{}{
		"event_type": eventType,
		"patient_id": next.PatientID,
		"version":    next.Version,
		"occurred":   time.Now().UTC(),
	}
	if m != nil {
		env, err := schedule.EncodeMutation(m)
		if err != nil {
			return nil, err
		}
		event["mutation"] = env
		event["description"] = m.Describe()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("encode audit event: %w", err)
	}
	return payload, nil
}
