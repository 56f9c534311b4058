package engine

import (
	"reflect"
	"testing"
	"time"

	"github.com/medsafe/go-dse/internal/domain/safety"
)

func drugResult(sev safety.Severity, desc string) safety.InteractionResult {
	return safety.InteractionResult{
		Type:     safety.ResultDrug,
		Severity: sev,
		Medications: []safety.MedicationRef{
			{ID: "m1", Name: "aspirin"},
			{ID: "m2", Name: "warfarin"},
		},
		Description: desc,
	}
}

func TestScoreEmptyScheduleIsSafe(t *testing.T) {
	a := Score(nil)
	if a.Score != 1.0 {
		t.Errorf("score = %v, want 1.0", a.Score)
	}
	if a.RequiresAttention {
		t.Error("an empty result list must not require attention")
	}
	if len(a.Recommendations) != 0 {
		t.Errorf("unexpected recommendations: %v", a.Recommendations)
	}
}

func TestScoreIsDeterministic(t *testing.T) {
	results := []safety.InteractionResult{
		drugResult(safety.SeverityModerate, "competing COX inhibition"),
		{
			Type:        safety.ResultTiming,
			Severity:    safety.SeverityHigh,
			Description: "doses 30 minutes apart",
			Gap:         30 * time.Minute,
			MinimumGap:  2 * time.Hour,
		},
	}
	first := Score(results)
	for i := 0; i < 10; i++ {
		if next := Score(results); !reflect.DeepEqual(first, next) {
			t.Fatalf("run %d differs:\n got %+v\nwant %+v", i, next, first)
		}
	}
}

func TestScoreSevereCap(t *testing.T) {
	a := Score([]safety.InteractionResult{drugResult(safety.SeveritySevere, "increased bleeding risk")})
	if a.Score != 0.4 {
		t.Errorf("score = %v, want the 0.4 severe cap", a.Score)
	}
	if !a.RequiresAttention {
		t.Error("a severe result must require attention")
	}
	if len(a.Recommendations) == 0 || a.Recommendations[0] != "contact your healthcare provider before proceeding" {
		t.Errorf("severe recommendation missing: %v", a.Recommendations)
	}
}

func TestScorePenaltiesCompound(t *testing.T) {
	results := []safety.InteractionResult{
		drugResult(safety.SeverityModerate, "a"),
		drugResult(safety.SeverityModerate, "b"),
		drugResult(safety.SeverityModerate, "c"),
	}
	a := Score(results)
	if a.Score < 0.549 || a.Score > 0.551 {
		t.Errorf("score = %v, want 0.55 from three moderate penalties", a.Score)
	}
	if a.RequiresAttention {
		t.Error("0.55 without a severe result should not require attention")
	}
}

func TestScoreClampsAtZero(t *testing.T) {
	results := []safety.InteractionResult{
		drugResult(safety.SeverityHigh, "a"),
		drugResult(safety.SeverityHigh, "b"),
		drugResult(safety.SeverityHigh, "c"),
		drugResult(safety.SeverityModerate, "d"),
	}
	a := Score(results)
	if a.Score != 0 {
		t.Errorf("score = %v, want clamp at 0", a.Score)
	}
	if !a.RequiresAttention {
		t.Error("a zero score must require attention")
	}
}

func TestScoreIssueFormat(t *testing.T) {
	a := Score([]safety.InteractionResult{drugResult(safety.SeverityHigh, "increased bleeding risk")})
	if len(a.Issues) != 1 {
		t.Fatalf("got %d issues, want 1", len(a.Issues))
	}
	if a.Issues[0] != "[high] increased bleeding risk" {
		t.Errorf("issue = %q", a.Issues[0])
	}
}

func TestScoreRecommendationsPerCondition(t *testing.T) {
	unknown := drugResult(safety.SeverityModerate, "unknown interaction")
	unknown.Warnings = []safety.Warning{{Code: safety.WarnUnknownInteractionData, Message: "verify"}}

	results := []safety.InteractionResult{
		unknown,
		{
			Type:        safety.ResultTiming,
			Severity:    safety.SeverityHigh,
			Description: "doses too close",
		},
	}
	a := Score(results)

	want := []string{
		"review this medication combination with your pharmacist",
		"consider spacing doses further apart",
		"interaction data was unavailable for some medications; verify manually",
	}
	if !reflect.DeepEqual(a.Recommendations, want) {
		t.Errorf("recommendations:\n got %v\nwant %v", a.Recommendations, want)
	}
}

func TestScoreFlagsAlternatives(t *testing.T) {
	r := drugResult(safety.SeverityModerate, "competing COX inhibition")
	r.HasSubstitute = true
	a := Score([]safety.InteractionResult{r})
	if !a.AlternativesAvailable {
		t.Error("a drug result with a substitute should set AlternativesAvailable")
	}
}
