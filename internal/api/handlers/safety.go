// Package handlers provides HTTP handlers for the safety API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/medsafe/go-dse/internal/api/middleware"
	"github.com/medsafe/go-dse/internal/domain/safety"
	"github.com/medsafe/go-dse/internal/domain/schedule"
	"github.com/medsafe/go-dse/internal/engine"
	"github.com/medsafe/go-dse/internal/infrastructure/redpanda"
	"github.com/medsafe/go-dse/internal/observability/metrics"
	"github.com/medsafe/go-dse/internal/resolution"
	"github.com/medsafe/go-dse/pkg/idempotency"
)

// EventPublisher publishes advisory safety events. Nil disables publication.
type EventPublisher interface {
	Publish(ctx context.Context, topic, key string, value []byte) error
}

// AdjustProcessor wraps adjustment execution with exactly-once semantics.
// Satisfied by *idempotency.Inbox; nil disables replay protection.
type AdjustProcessor interface {
	Process(ctx context.Context, key, handlerName string, payload json.RawMessage, fn idempotency.ProcessFunc, terminal idempotency.TerminalFunc) (*idempotency.ProcessResult, error)
}

// SafetyHandler handles conflict-check and schedule-adjustment endpoints.
type SafetyHandler struct {
	store        schedule.Store
	pipeline     engine.Pipeline
	orchestrator *resolution.Orchestrator
	inbox        AdjustProcessor
	publisher    EventPublisher
	metrics      *metrics.Metrics
	logger       *zap.Logger
}

// NewSafetyHandler creates a new handler.
func NewSafetyHandler(store schedule.Store, pipeline engine.Pipeline, orch *resolution.Orchestrator, inbox AdjustProcessor, publisher EventPublisher, m *metrics.Metrics, logger *zap.Logger) *SafetyHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SafetyHandler{
		store:        store,
		pipeline:     pipeline,
		orchestrator: orch,
		inbox:        inbox,
		publisher:    publisher,
		metrics:      m,
		logger:       logger,
	}
}

// Routes returns the handler routes.
func (h *SafetyHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/check", h.Check)
	r.Post("/adjust", h.Adjust)
	r.Get("/schedule/{patientID}", h.GetSchedule)
	return r
}

// CheckRequest is the request body for a conflict check. MedicationID plus
// ProposedTime checks an additional dose instant for a medication already on
// the schedule; Proposed overlays a full medication so it can be checked
// before it is added. Both overlays are hypothetical and never persisted.
type CheckRequest struct {
	PatientID    string               `json:"patient_id"`
	MedicationID string               `json:"medication_id,omitempty"`
	ProposedTime string               `json:"proposed_time,omitempty"`
	Proposed     *schedule.Medication `json:"proposed,omitempty"`
}

// CheckResponse is the full evaluation output. The check never mutates state
// and never fails open: a degraded knowledge source yields conservative
// results with warnings, not an error.
type CheckResponse struct {
	PatientID       string                      `json:"patient_id"`
	ScheduleVersion int64                       `json:"schedule_version"`
	Assessment      safety.SafetyAssessment     `json:"assessment"`
	Results         []safety.InteractionResult  `json:"results"`
	Suggestions     []safety.ConflictSuggestion `json:"suggestions"`
	CheckedAt       time.Time                   `json:"checked_at"`
}

// Check handles POST /safety/check
func (h *SafetyHandler) Check(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tracer := otel.Tracer("safety-handler")
	ctx, span := tracer.Start(ctx, "check_conflicts")
	defer span.End()

	// Unknown fields are rejected so a caller holding a different contract
	// cannot have its payload silently ignored and the check fail open.
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req CheckRequest
	if err := dec.Decode(&req); err != nil {
		h.jsonError(w, "invalid request body: "+err.Error(), safety.KindValidation, http.StatusBadRequest)
		return
	}
	if req.PatientID == "" {
		h.jsonError(w, "patient_id is required", safety.KindValidation, http.StatusBadRequest)
		return
	}
	if (req.MedicationID == "") != (req.ProposedTime == "") {
		h.jsonError(w, "medication_id and proposed_time are required together", safety.KindValidation, http.StatusBadRequest)
		return
	}
	span.SetAttributes(attribute.String("patient_id", req.PatientID))

	sched, err := h.store.Load(ctx, req.PatientID)
	if err != nil {
		if errors.Is(err, safety.ErrValidation) {
			h.jsonError(w, "schedule not found", safety.KindValidation, http.StatusNotFound)
			return
		}
		h.logger.Error("schedule load failed", zap.Error(err),
			zap.String("request_id", middleware.GetRequestID(ctx)))
		h.jsonError(w, "failed to load schedule", safety.KindApplyTransactionFailed, http.StatusInternalServerError)
		return
	}

	switch {
	case req.MedicationID != "":
		at, err := schedule.ParseMinuteOfDay(req.ProposedTime)
		if err != nil {
			h.jsonError(w, err.Error(), safety.KindValidation, http.StatusBadRequest)
			return
		}
		overlay, err := overlayProposedTime(sched, req.MedicationID, at)
		if err != nil {
			h.jsonError(w, err.Error(), safety.KindValidation, http.StatusBadRequest)
			return
		}
		sched = overlay
	case req.Proposed != nil:
		overlay, err := overlayProposed(sched, *req.Proposed)
		if err != nil {
			h.jsonError(w, err.Error(), safety.KindValidation, http.StatusBadRequest)
			return
		}
		sched = overlay
	}

	start := time.Now()
	eval := h.pipeline.Evaluate(ctx, sched)
	suggestions := h.pipeline.Suggest(ctx, sched, eval)
	h.observeEvaluation(eval, suggestions, time.Since(start))

	resp := CheckResponse{
		PatientID:       req.PatientID,
		ScheduleVersion: sched.Version,
		Assessment:      eval.Assessment,
		Results:         eval.Results,
		Suggestions:     suggestions,
		CheckedAt:       time.Now().UTC(),
	}

	h.publishAssessment(req.PatientID, resp)

	h.logger.Info("conflict check completed",
		zap.String("patient_id", req.PatientID),
		zap.Float64("score", eval.Assessment.Score),
		zap.Int("results", len(eval.Results)),
		zap.Int("suggestions", len(suggestions)),
		zap.String("request_id", middleware.GetRequestID(ctx)),
	)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// MutationPayload is the wire form of a schedule mutation. Kind selects which
// fields apply; times use the "HH:MM" form.
type MutationPayload struct {
	Kind            safety.SuggestionKind `json:"kind"`
	MedicationID    string                `json:"medication_id"`
	From            string                `json:"from,omitempty"`
	To              string                `json:"to,omitempty"`
	ReplacementID   string                `json:"replacement_id,omitempty"`
	ReplacementName string                `json:"replacement_name,omitempty"`
	At              string                `json:"at,omitempty"`
	All             bool                  `json:"all,omitempty"`
}

// Mutation converts the payload to a domain mutation.
func (p MutationPayload) Mutation() (schedule.Mutation, error) {
	switch p.Kind {
	case safety.SuggestionTimeShift:
		from, err := schedule.ParseMinuteOfDay(p.From)
		if err != nil {
			return nil, err
		}
		to, err := schedule.ParseMinuteOfDay(p.To)
		if err != nil {
			return nil, err
		}
		return schedule.TimeShift{MedicationID: p.MedicationID, From: from, To: to}, nil

	case safety.SuggestionSwapMedication:
		return schedule.Swap{
			MedicationID:    p.MedicationID,
			ReplacementID:   p.ReplacementID,
			ReplacementName: p.ReplacementName,
		}, nil

	case safety.SuggestionDropDose:
		if p.All {
			return schedule.DropDose{MedicationID: p.MedicationID, All: true}, nil
		}
		at, err := schedule.ParseMinuteOfDay(p.At)
		if err != nil {
			return nil, err
		}
		return schedule.DropDose{MedicationID: p.MedicationID, At: at}, nil
	}
	return nil, errors.New("unknown mutation kind")
}

// AdjustRequest is the request body for a schedule adjustment.
type AdjustRequest struct {
	PatientID       string          `json:"patient_id"`
	ExpectedVersion int64           `json:"expected_version"`
	Mutation        MutationPayload `json:"mutation"`
}

// AdjustResponse reports the resolution outcome and both assessments.
type AdjustResponse struct {
	PatientID       string                   `json:"patient_id"`
	State           resolution.State         `json:"state"`
	ScheduleVersion int64                    `json:"schedule_version"`
	Before          safety.SafetyAssessment  `json:"before"`
	After           *safety.SafetyAssessment `json:"after,omitempty"`
	Replayed        bool                     `json:"replayed,omitempty"`
}

// Adjust handles POST /safety/adjust
func (h *SafetyHandler) Adjust(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tracer := otel.Tracer("safety-handler")
	ctx, span := tracer.Start(ctx, "adjust_schedule")
	defer span.End()

	var req AdjustRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, "invalid request body", safety.KindValidation, http.StatusBadRequest)
		return
	}
	if req.PatientID == "" {
		h.jsonError(w, "patient_id is required", safety.KindValidation, http.StatusBadRequest)
		return
	}
	mutation, err := req.Mutation.Mutation()
	if err != nil {
		h.jsonError(w, err.Error(), safety.KindValidation, http.StatusBadRequest)
		return
	}
	span.SetAttributes(
		attribute.String("patient_id", req.PatientID),
		attribute.Int64("expected_version", req.ExpectedVersion),
		attribute.String("mutation_kind", string(req.Mutation.Kind)),
	)

	rawMutation, _ := json.Marshal(req.Mutation)
	resolve := func(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
		outcome, err := h.orchestrator.Resolve(ctx, resolution.Request{
			PatientID:       req.PatientID,
			ExpectedVersion: req.ExpectedVersion,
			Mutation:        mutation,
		})
		if h.metrics != nil {
			h.metrics.Resolutions.WithLabelValues(string(outcome.State)).Inc()
		}
		if err != nil {
			return nil, err
		}
		after := outcome.After
		resp := AdjustResponse{
			PatientID:       req.PatientID,
			State:           outcome.State,
			ScheduleVersion: outcome.Schedule.Version,
			Before:          outcome.Before,
			After:           &after,
		}
		return json.Marshal(resp)
	}

	var result json.RawMessage
	replayed := false
	if h.inbox != nil {
		key := idempotency.GenerateKey(req.PatientID, req.ExpectedVersion, rawMutation)
		pr, perr := h.inbox.Process(ctx, key, "adjust_schedule", rawMutation, resolve, isTerminalAdjustError)
		if perr != nil {
			h.writeAdjustError(w, ctx, req.PatientID, perr)
			return
		}
		result = pr.Result
		replayed = !pr.IsNew
	} else {
		result, err = resolve(ctx, rawMutation)
		if err != nil {
			h.writeAdjustError(w, ctx, req.PatientID, err)
			return
		}
	}

	var resp AdjustResponse
	if err := json.Unmarshal(result, &resp); err != nil {
		h.jsonError(w, "corrupt stored result", safety.KindApplyTransactionFailed, http.StatusInternalServerError)
		return
	}
	resp.Replayed = replayed

	h.publishResolution(req.PatientID, resp)

	h.logger.Info("schedule adjustment completed",
		zap.String("patient_id", req.PatientID),
		zap.String("state", string(resp.State)),
		zap.Bool("replayed", replayed),
		zap.String("request_id", middleware.GetRequestID(ctx)),
	)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// GetSchedule handles GET /safety/schedule/{patientID}
func (h *SafetyHandler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	patientID := chi.URLParam(r, "patientID")

	sched, err := h.store.Load(ctx, patientID)
	if err != nil {
		h.jsonError(w, "schedule not found", safety.KindValidation, http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sched)
}

// overlayProposedTime adds a hypothetical dose instant to a medication
// already on a copy of the schedule. The medication must exist: checking a
// time against an unknown medication would evaluate the stored schedule
// unmodified and report a conflicting proposal as safe.
func overlayProposedTime(sched schedule.Schedule, medicationID string, at schedule.MinuteOfDay) (schedule.Schedule, error) {
	out := sched.Clone()
	for i, m := range out.Medications {
		if m.ID != medicationID {
			continue
		}
		for _, existing := range m.Times {
			if existing == at {
				return out, nil
			}
		}
		out.Medications[i].Times = append(out.Medications[i].Times, at)
		return out, nil
	}
	return schedule.Schedule{}, fmt.Errorf("medication %s not on schedule", medicationID)
}

// overlayProposed adds or replaces the proposed medication on a copy of the
// schedule so the stored schedule is never touched by a check.
func overlayProposed(sched schedule.Schedule, proposed schedule.Medication) (schedule.Schedule, error) {
	if proposed.Status == "" {
		proposed.Status = schedule.StatusActive
	}
	if proposed.ID == "" {
		proposed.ID = uuid.NewString()
	}
	if proposed.StartDate.IsZero() {
		proposed.StartDate = time.Now().UTC()
	}
	if err := proposed.Validate(); err != nil {
		return schedule.Schedule{}, err
	}

	out := sched.Clone()
	for i, m := range out.Medications {
		if m.ID == proposed.ID {
			out.Medications[i] = proposed
			return out, nil
		}
	}
	out.Medications = append(out.Medications, proposed)
	return out, nil
}

func (h *SafetyHandler) observeEvaluation(eval engine.Evaluation, suggestions []safety.ConflictSuggestion, elapsed time.Duration) {
	if h.metrics == nil {
		return
	}
	h.metrics.EvaluationsTotal.Inc()
	h.metrics.SafetyScore.Observe(eval.Assessment.Score)
	h.metrics.EvaluationDuration.Observe(elapsed.Seconds())
	h.metrics.SuggestionsGenerated.Add(float64(len(suggestions)))
	for _, res := range eval.Results {
		switch res.Type {
		case safety.ResultTiming:
			h.metrics.TimingConflictsDetected.Inc()
		case safety.ResultDrug:
			h.metrics.DrugInteractionsDetected.Inc()
		}
		if res.HasWarning(safety.WarnUnknownInteractionData) {
			h.metrics.KnowledgeFallbacks.Inc()
		}
	}
}

// publishAssessment emits the check result as an advisory event. Publication
// is best effort off the request path.
func (h *SafetyHandler) publishAssessment(patientID string, resp CheckResponse) {
	if h.publisher == nil {
		return
	}
	payload, err := json.Marshal(resp)
	if err != nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.publisher.Publish(ctx, redpanda.TopicSafetyAssessments, patientID, payload); err != nil {
			h.logger.Warn("assessment publish failed", zap.Error(err))
		}
	}()
}

func (h *SafetyHandler) publishResolution(patientID string, resp AdjustResponse) {
	if h.publisher == nil {
		return
	}
	payload, err := json.Marshal(resp)
	if err != nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.publisher.Publish(ctx, redpanda.TopicSafetyResolutions, patientID, payload); err != nil {
			h.logger.Warn("resolution publish failed", zap.Error(err))
		}
	}()
}

func (h *SafetyHandler) writeAdjustError(w http.ResponseWriter, ctx context.Context, patientID string, err error) {
	kind := safety.KindOf(err)

	status := http.StatusInternalServerError
	switch kind {
	case safety.KindValidation:
		status = http.StatusBadRequest
	case safety.KindStaleSchedule:
		status = http.StatusConflict
	case safety.KindNoSafeSuggestion:
		status = http.StatusUnprocessableEntity
	case safety.KindApplyTransactionFailed, safety.KindUnknownInteractionData:
		status = http.StatusInternalServerError
	}

	h.logger.Warn("schedule adjustment rejected",
		zap.String("patient_id", patientID),
		zap.String("kind", string(kind)),
		zap.Error(err),
		zap.String("request_id", middleware.GetRequestID(ctx)),
	)
	h.jsonError(w, err.Error(), kind, status)
}

// isTerminalAdjustError reports whether a failed adjustment must not be
// retried under the same idempotency key.
func isTerminalAdjustError(err error) bool {
	return errors.Is(err, safety.ErrValidation) ||
		errors.Is(err, safety.ErrStaleSchedule) ||
		errors.Is(err, safety.ErrNoSafeSuggestion)
}

func (h *SafetyHandler) jsonError(w http.ResponseWriter, message string, kind safety.ErrorKind, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
		"kind":  string(kind),
	})
}
