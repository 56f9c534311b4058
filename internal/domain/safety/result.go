package safety

import "time"

// ResultType distinguishes pharmacological interactions from timing conflicts.
// The two are never merged: a drug interaction cannot be time-shifted away, so
// remediation differs per type.
type ResultType string

const (
	ResultDrug   ResultType = "drug"
	ResultTiming ResultType = "timing"
)

// Warning codes attached to interaction results.
const (
	WarnUnknownInteractionData    = "UNKNOWN_INTERACTION_DATA"
	WarnClinicianApprovalRequired = "CLINICIAN_APPROVAL_REQUIRED"
)

// Warning is an advisory flag carried alongside a result.
type Warning struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// MedicationRef identifies a medication involved in a result.
type MedicationRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// InteractionResult is one detected issue between two medications. Results
// are produced fresh on every evaluation and never persisted by the engine.
type InteractionResult struct {
	Type        ResultType      `json:"type"`
	Severity    Severity        `json:"severity"`
	Medications []MedicationRef `json:"medications"`
	Description string          `json:"description"`
	Warnings    []Warning       `json:"warnings,omitempty"`

	// HasSubstitute is set on drug-type results when the knowledge source
	// lists a substitute for at least one of the medications involved.
	HasSubstitute bool `json:"has_substitute,omitempty"`

	// Gap and MinimumGap are set on timing-type results only.
	Gap        time.Duration `json:"gap,omitempty"`
	MinimumGap time.Duration `json:"minimum_gap,omitempty"`
}

// HasWarning reports whether the result carries the given warning code.
func (r InteractionResult) HasWarning(code string) bool {
	for _, w := range r.Warnings {
		if w.Code == code {
			return true
		}
	}
	return false
}

// SafetyAssessment is the single summary produced by the scorer. It is a pure
// function of the result list: no clock, no randomness, no hidden state, so it
// is regenerated on every evaluation rather than cached across mutations.
type SafetyAssessment struct {
	Score                 float64  `json:"score"`
	Issues                []string `json:"issues"`
	Recommendations       []string `json:"recommendations"`
	AlternativesAvailable bool     `json:"alternatives_available"`
	RequiresAttention     bool     `json:"requires_attention"`
}
