package safety

// SuggestionKind is the closed set of remediation shapes the engine can
// propose. Ordering by invasiveness matters for ranking ties.
type SuggestionKind string

const (
	SuggestionTimeShift      SuggestionKind = "time_shift"
	SuggestionSwapMedication SuggestionKind = "swap_medication"
	SuggestionDropDose       SuggestionKind = "drop_dose"
)

// Invasiveness returns how disruptive a suggestion kind is to the patient's
// regimen. Lower is less invasive; used as the tie-breaker after score delta.
func (k SuggestionKind) Invasiveness() int {
	switch k {
	case SuggestionTimeShift:
		return 0
	case SuggestionSwapMedication:
		return 1
	case SuggestionDropDose:
		return 2
	}
	return 3
}

// Valid reports whether k is a known suggestion kind.
func (k SuggestionKind) Valid() bool { return k.Invasiveness() < 3 }

// ConflictSuggestion is a concrete, rankable remediation option. Suggestions
// are ephemeral: only the one the caller chooses is ever materialized into a
// schedule mutation. The generator guarantees ProjectedScoreDelta > 0 for
// every suggestion it returns.
type ConflictSuggestion struct {
	ID                 string         `json:"id"`
	Kind               SuggestionKind `json:"kind"`
	TargetMedicationID string         `json:"target_medication_id"`
	Rationale          string         `json:"rationale"`
	Before             string         `json:"before"`
	After              string         `json:"after"`

	// ProjectedScoreDelta is the safety score improvement obtained by
	// re-running the full evaluation with the suggestion applied.
	ProjectedScoreDelta float64 `json:"projected_score_delta"`

	// RequiresClinicianApproval marks last-resort options (dropping a dose
	// to break a severe interaction) that must never be auto-applied.
	RequiresClinicianApproval bool `json:"requires_clinician_approval"`
}
