package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/medsafe/go-dse/internal/domain/safety"
	"github.com/medsafe/go-dse/internal/domain/schedule"
	"github.com/medsafe/go-dse/internal/engine"
	"github.com/medsafe/go-dse/internal/knowledge"
	"github.com/medsafe/go-dse/internal/resolution"
)

type unavailableSource struct{}

func (unavailableSource) Interaction(context.Context, string, string) (*knowledge.Fact, error) {
	return nil, knowledge.ErrUnavailable
}

func (unavailableSource) MinimumGap(context.Context, string, string) (time.Duration, bool, error) {
	return 0, false, knowledge.ErrUnavailable
}

func (unavailableSource) Substitutes(context.Context, string) ([]knowledge.Substitute, error) {
	return nil, knowledge.ErrUnavailable
}

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

func newTestHandler(src knowledge.Source, meds ...schedule.Medication) (*SafetyHandler, *schedule.MemoryStore) {
	store := schedule.NewMemoryStore()
	if len(meds) > 0 {
		store.Seed(schedule.Schedule{PatientID: "p1", Medications: meds})
	}
	pipeline := engine.NewPipeline(src, 2*time.Hour)
	orch := resolution.New(store, pipeline, nil)
	h := NewSafetyHandler(store, pipeline, orch, nil, nil, nil, nil)
	return h, store
}

func do(t *testing.T, h *SafetyHandler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)
	return rec
}

func TestCheckReturnsAssessment(t *testing.T) {
	h, _ := newTestHandler(knowledge.NewStaticSource(),
		testMed("m1", "aspirin", 480),
		testMed("m2", "ibuprofen", 510),
	)

	rec := do(t, h, http.MethodPost, "/check", CheckRequest{PatientID: "p1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp CheckResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.ScheduleVersion != 1 {
		t.Errorf("schedule_version = %d, want 1", resp.ScheduleVersion)
	}
	if len(resp.Results) != 1 {
		t.Fatalf("got %d results, want the timing conflict", len(resp.Results))
	}
	if resp.Assessment.Score >= 1.0 {
		t.Errorf("score = %v, want a penalty for the timing conflict", resp.Assessment.Score)
	}
	if len(resp.Suggestions) == 0 {
		t.Error("a resolvable conflict should come with suggestions")
	}
}

func TestCheckIsIdempotent(t *testing.T) {
	h, store := newTestHandler(knowledge.NewStaticSource(),
		testMed("m1", "aspirin", 480),
		testMed("m2", "ibuprofen", 510),
	)

	first := do(t, h, http.MethodPost, "/check", CheckRequest{PatientID: "p1"})
	second := do(t, h, http.MethodPost, "/check", CheckRequest{PatientID: "p1"})
	if first.Code != http.StatusOK || second.Code != http.StatusOK {
		t.Fatalf("statuses = %d, %d", first.Code, second.Code)
	}

	var a, b CheckResponse
	json.Unmarshal(first.Body.Bytes(), &a)
	json.Unmarshal(second.Body.Bytes(), &b)
	if a.Assessment.Score != b.Assessment.Score || len(a.Results) != len(b.Results) {
		t.Error("repeated checks differ")
	}

	cur, err := store.Load(context.Background(), "p1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cur.Version != 1 {
		t.Errorf("check mutated the schedule to version %d", cur.Version)
	}
}

func TestCheckFailsSafeOnDegradedSource(t *testing.T) {
	h, _ := newTestHandler(unavailableSource{},
		testMed("m1", "aspirin", 480),
		testMed("m2", "warfarin", 1200),
	)

	rec := do(t, h, http.MethodPost, "/check", CheckRequest{PatientID: "p1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("a degraded knowledge source must not fail the check, got %d", rec.Code)
	}

	var resp CheckResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if len(resp.Results) != 1 || !resp.Results[0].HasWarning(safety.WarnUnknownInteractionData) {
		t.Errorf("results = %+v, want one unknown-data advisory", resp.Results)
	}
	if resp.Assessment.Score >= 1.0 {
		t.Error("degraded data must not score as fully safe")
	}
}

func TestCheckProposedOverlay(t *testing.T) {
	h, store := newTestHandler(knowledge.NewStaticSource(), testMed("m1", "aspirin", 480))

	proposed := testMed("", "ibuprofen", 510) // no ID; the handler assigns one
	rec := do(t, h, http.MethodPost, "/check", CheckRequest{PatientID: "p1", Proposed: &proposed})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp CheckResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if len(resp.Results) != 1 {
		t.Errorf("got %d results, want the conflict with the proposed medication", len(resp.Results))
	}

	// The overlay is hypothetical; the stored schedule keeps one medication.
	cur, _ := store.Load(context.Background(), "p1")
	if len(cur.Medications) != 1 {
		t.Errorf("check persisted the proposed medication: %+v", cur.Medications)
	}
}

func TestCheckProposedTimeForScheduledMedication(t *testing.T) {
	h, store := newTestHandler(knowledge.NewStaticSource(), testMed("m1", "aspirin", 480))

	rec := do(t, h, http.MethodPost, "/check", map[string]interface{}{
		"patient_id":    "p1",
		"medication_id": "m1",
		"proposed_time": "08:30",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp CheckResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if len(resp.Results) != 1 || resp.Results[0].Type != safety.ResultTiming {
		t.Fatalf("results = %+v, want one timing conflict with the existing 08:00 dose", resp.Results)
	}
	if resp.Results[0].Gap != 30*time.Minute {
		t.Errorf("gap = %v, want 30m", resp.Results[0].Gap)
	}
	if resp.Assessment.Score >= 1.0 {
		t.Errorf("score = %v, a conflicting proposal must not look safe", resp.Assessment.Score)
	}

	// The proposed time is hypothetical only.
	cur, _ := store.Load(context.Background(), "p1")
	if len(cur.Medications[0].Times) != 1 {
		t.Errorf("check persisted the proposed time: %v", cur.Medications[0].Times)
	}
}

func TestCheckRejectsUnknownFields(t *testing.T) {
	h, _ := newTestHandler(knowledge.NewStaticSource(), testMed("m1", "aspirin", 480))

	rec := do(t, h, http.MethodPost, "/check", map[string]interface{}{
		"patient_id":  "p1",
		"medicaton_d": "m1", // misspelled field must not be silently dropped
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for an unrecognized field", rec.Code)
	}
}

func TestCheckRejectsPartialProposal(t *testing.T) {
	h, _ := newTestHandler(knowledge.NewStaticSource(), testMed("m1", "aspirin", 480))

	cases := []map[string]interface{}{
		{"patient_id": "p1", "medication_id": "m1"},
		{"patient_id": "p1", "proposed_time": "08:30"},
		{"patient_id": "p1", "medication_id": "m1", "proposed_time": "25:99"},
		{"patient_id": "p1", "medication_id": "ghost", "proposed_time": "08:30"},
	}
	for _, body := range cases {
		if rec := do(t, h, http.MethodPost, "/check", body); rec.Code != http.StatusBadRequest {
			t.Errorf("body %v: status = %d, want 400", body, rec.Code)
		}
	}
}

func TestCheckUnknownPatient(t *testing.T) {
	h, _ := newTestHandler(knowledge.NewStaticSource())
	rec := do(t, h, http.MethodPost, "/check", CheckRequest{PatientID: "ghost"})
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestCheckRejectsMissingPatientID(t *testing.T) {
	h, _ := newTestHandler(knowledge.NewStaticSource())
	rec := do(t, h, http.MethodPost, "/check", CheckRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestAdjustConfirmsImprovingMutation(t *testing.T) {
	h, store := newTestHandler(knowledge.NewStaticSource(),
		testMed("m1", "aspirin", 480),
		testMed("m2", "ibuprofen", 510),
	)

	rec := do(t, h, http.MethodPost, "/adjust", AdjustRequest{
		PatientID:       "p1",
		ExpectedVersion: 1,
		Mutation: MutationPayload{
			Kind:         safety.SuggestionTimeShift,
			MedicationID: "m2",
			From:         "08:30",
			To:           "20:00",
		},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp AdjustResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.State != resolution.StateConfirmed {
		t.Errorf("state = %s, want confirmed", resp.State)
	}
	if resp.ScheduleVersion != 2 {
		t.Errorf("schedule_version = %d, want 2", resp.ScheduleVersion)
	}
	if resp.After == nil || resp.After.Score <= resp.Before.Score {
		t.Errorf("score did not improve: %+v", resp)
	}

	cur, _ := store.Load(context.Background(), "p1")
	if cur.Medications[1].Times[0] != 1200 {
		t.Errorf("mutation not persisted: %v", cur.Medications[1].Times)
	}
}

func TestAdjustRejectsStaleVersion(t *testing.T) {
	h, _ := newTestHandler(knowledge.NewStaticSource(),
		testMed("m1", "aspirin", 480),
		testMed("m2", "ibuprofen", 510),
	)

	rec := do(t, h, http.MethodPost, "/adjust", AdjustRequest{
		PatientID:       "p1",
		ExpectedVersion: 9,
		Mutation: MutationPayload{
			Kind:         safety.SuggestionTimeShift,
			MedicationID: "m2",
			From:         "08:30",
			To:           "20:00",
		},
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}

	var body map[string]string
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["kind"] != string(safety.KindStaleSchedule) {
		t.Errorf("kind = %q, want STALE_SCHEDULE", body["kind"])
	}
}

func TestAdjustRejectsNonImprovingMutation(t *testing.T) {
	h, _ := newTestHandler(knowledge.NewStaticSource(), testMed("m1", "aspirin", 480))

	rec := do(t, h, http.MethodPost, "/adjust", AdjustRequest{
		PatientID:       "p1",
		ExpectedVersion: 1,
		Mutation: MutationPayload{
			Kind:         safety.SuggestionTimeShift,
			MedicationID: "m1",
			From:         "08:00",
			To:           "10:00",
		},
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}

	var body map[string]string
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["kind"] != string(safety.KindNoSafeSuggestion) {
		t.Errorf("kind = %q, want NO_SAFE_SUGGESTION", body["kind"])
	}
}

func TestAdjustRejectsUnknownMutationKind(t *testing.T) {
	h, _ := newTestHandler(knowledge.NewStaticSource(), testMed("m1", "aspirin", 480))

	rec := do(t, h, http.MethodPost, "/adjust", AdjustRequest{
		PatientID:       "p1",
		ExpectedVersion: 1,
		Mutation:        MutationPayload{Kind: "teleport", MedicationID: "m1"},
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestAdjustRejectsBadTime(t *testing.T) {
	h, _ := newTestHandler(knowledge.NewStaticSource(), testMed("m1", "aspirin", 480))

	rec := do(t, h, http.MethodPost, "/adjust", AdjustRequest{
		PatientID:       "p1",
		ExpectedVersion: 1,
		Mutation: MutationPayload{
			Kind:         safety.SuggestionTimeShift,
			MedicationID: "m1",
			From:         "08:00",
			To:           "25:99",
		},
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestGetSchedule(t *testing.T) {
	h, _ := newTestHandler(knowledge.NewStaticSource(), testMed("m1", "aspirin", 480))

	rec := do(t, h, http.MethodGet, "/schedule/p1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var sched schedule.Schedule
	if err := json.Unmarshal(rec.Body.Bytes(), &sched); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if sched.PatientID != "p1" || len(sched.Medications) != 1 {
		t.Errorf("schedule = %+v", sched)
	}

	rec = do(t, h, http.MethodGet, "/schedule/ghost", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestMutationPayloadRoundTrip(t *testing.T) {
	m, err := MutationPayload{
		Kind:         safety.SuggestionDropDose,
		MedicationID: "m1",
		All:          true,
	}.Mutation()
	if err != nil {
		t.Fatalf("Mutation: %v", err)
	}
	drop, ok := m.(schedule.DropDose)
	if !ok || !drop.All {
		t.Errorf("mutation = %+v", m)
	}

	if _, err := (MutationPayload{Kind: safety.SuggestionDropDose, MedicationID: "m1", At: "noon"}).Mutation(); err == nil {
		t.Error("unparseable time should fail")
	}
}

func TestIsTerminalAdjustError(t *testing.T) {
	if !isTerminalAdjustError(safety.ErrStaleSchedule) {
		t.Error("stale schedule is terminal under the same key")
	}
	if !isTerminalAdjustError(safety.ErrNoSafeSuggestion) {
		t.Error("no safe suggestion is terminal under the same key")
	}
	if isTerminalAdjustError(errors.New("connection reset")) {
		t.Error("transient failures must stay retryable")
	}
}
