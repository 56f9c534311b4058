package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/medsafe/go-dse/internal/domain/safety"
	"github.com/medsafe/go-dse/internal/domain/schedule"
	"github.com/medsafe/go-dse/internal/knowledge"
)

// Evaluate merges timing conflicts with knowledge-source lookups into a
// normalized result list: one drug-type result per known interacting pair of
// active medications, one timing-type result per conflict. A pair covered by
// both keeps both results; remediation differs per type, so they are never
// merged.
//
// Missing-data policy: when the source cannot answer for a pair, the pair is
// flagged with a synthetic moderate "unknown interaction" result instead of
// being silently treated as safe.
func Evaluate(ctx context.Context, meds []schedule.Medication, conflicts []TimingConflict, src knowledge.Source) []safety.InteractionResult {
	active := activeSortedByName(meds)

	var results []safety.InteractionResult
	for i := 0; i < len(active); i++ {
		for j := i + 1; j < len(active); j++ {
			if r, ok := evaluatePair(ctx, active[i], active[j], src); ok {
				results = append(results, r)
			}
		}
	}

	for _, c := range conflicts {
		results = append(results, timingResult(c))
	}
	return results
}

func evaluatePair(ctx context.Context, a, b schedule.Medication, src knowledge.Source) (safety.InteractionResult, bool) {
	refs := []safety.MedicationRef{
		{ID: a.ID, Name: a.Name},
		{ID: b.ID, Name: b.Name},
	}

	fact, err := src.Interaction(ctx, a.Name, b.Name)
	if err != nil {
		// Fail safe, never open: an unreachable source yields a conservative
		// advisory rather than a silent pass.
		return safety.InteractionResult{
			Type:        safety.ResultDrug,
			Severity:    safety.SeverityModerate,
			Medications: refs,
			Description: fmt.Sprintf("unknown interaction between %s and %s — verify manually", a.Name, b.Name),
			Warnings: []safety.Warning{{
				Code:    safety.WarnUnknownInteractionData,
				Message: "interaction data unavailable; pair flagged for manual review",
			}},
		}, true
	}
	if fact == nil {
		return safety.InteractionResult{}, false
	}

	r := safety.InteractionResult{
		Type:          safety.ResultDrug,
		Severity:      fact.Severity,
		Medications:   refs,
		Description:   fact.Description,
		HasSubstitute: pairHasSubstitute(ctx, src, a.Name, b.Name),
	}
	if fact.Management != "" {
		r.Warnings = append(r.Warnings, safety.Warning{
			Code:    "MANAGEMENT",
			Message: fact.Management,
		})
	}
	return r, true
}

// pairHasSubstitute reports whether the source lists an alternative for
// either drug. A lookup failure counts as no substitute: proposing a swap on
// unverified data would not be fail-safe.
func pairHasSubstitute(ctx context.Context, src knowledge.Source, names ...string) bool {
	for _, name := range names {
		subs, err := src.Substitutes(ctx, name)
		if err == nil && len(subs) > 0 {
			return true
		}
	}
	return false
}

func timingResult(c TimingConflict) safety.InteractionResult {
	return safety.InteractionResult{
		Type:     safety.ResultTiming,
		Severity: timingSeverity(c.Gap, c.MinimumGap),
		Medications: []safety.MedicationRef{
			{ID: c.First.MedicationID, Name: c.First.MedicationName},
			{ID: c.Second.MedicationID, Name: c.Second.MedicationName},
		},
		Description: fmt.Sprintf("%s and %s are scheduled %d minutes apart; minimum separation is %d minutes",
			c.First.MedicationName, c.Second.MedicationName,
			int(c.Gap.Minutes()), int(c.MinimumGap.Minutes())),
		Gap:        c.Gap,
		MinimumGap: c.MinimumGap,
	}
}

func activeSortedByName(meds []schedule.Medication) []schedule.Medication {
	var active []schedule.Medication
	for _, m := range meds {
		if m.Active() {
			active = append(active, m)
		}
	}
	sort.Slice(active, func(i, j int) bool {
		if active[i].Name != active[j].Name {
			return active[i].Name < active[j].Name
		}
		return active[i].ID < active[j].ID
	})
	return active
}
