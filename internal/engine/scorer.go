package engine

import (
	"fmt"

	"github.com/medsafe/go-dse/internal/domain/safety"
)

// Score reduces a result list to a single SafetyAssessment. It is a pure
// function of its input: identical result lists, including order, produce
// bit-identical assessments. No clock, no randomness.
//
// Scoring starts at 1.0 and subtracts a severity-weighted penalty per result,
// clamped at zero after summation so several moderate issues compound beyond
// what any one of them would cost. Any severe result additionally caps the
// final score at the unsafe threshold and forces RequiresAttention.
func Score(results []safety.InteractionResult) safety.SafetyAssessment {
	score := 1.0
	hasSevere := false
	alternatives := false
	issues := make([]string, 0, len(results))

	for _, r := range results {
		score -= severityPenalty[r.Severity]
		if r.Severity == safety.SeveritySevere {
			hasSevere = true
		}
		if r.Type == safety.ResultDrug && r.HasSubstitute {
			alternatives = true
		}
		issues = append(issues, fmt.Sprintf("[%s] %s", r.Severity, r.Description))
	}

	if score < 0 {
		score = 0
	}
	if hasSevere && score > severeScoreCap {
		score = severeScoreCap
	}

	return safety.SafetyAssessment{
		Score:                 score,
		Issues:                issues,
		Recommendations:       recommendations(results),
		AlternativesAvailable: alternatives,
		RequiresAttention:     hasSevere || score <= severeScoreCap,
	}
}

// recommendations emits one templated line per distinct condition present,
// in a fixed order for determinism.
func recommendations(results []safety.InteractionResult) []string {
	var (
		severe        bool
		timingIssue   bool
		drugIssue     bool
		unknownData   bool
		clinicianFlag bool
	)

	for _, r := range results {
		if r.Severity == safety.SeveritySevere {
			severe = true
		}
		switch r.Type {
		case safety.ResultTiming:
			if r.Severity.Rank() >= safety.SeverityModerate.Rank() {
				timingIssue = true
			}
		case safety.ResultDrug:
			if r.Severity.Rank() >= safety.SeverityModerate.Rank() {
				drugIssue = true
			}
		}
		if r.HasWarning(safety.WarnUnknownInteractionData) {
			unknownData = true
		}
		if r.HasWarning(safety.WarnClinicianApprovalRequired) {
			clinicianFlag = true
		}
	}

	var recs []string
	if severe {
		recs = append(recs, "contact your healthcare provider before proceeding")
	}
	if drugIssue {
		recs = append(recs, "review this medication combination with your pharmacist")
	}
	if timingIssue {
		recs = append(recs, "consider spacing doses further apart")
	}
	if unknownData {
		recs = append(recs, "interaction data was unavailable for some medications; verify manually")
	}
	if clinicianFlag {
		recs = append(recs, "a proposed change requires clinician approval")
	}
	return recs
}
