package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/medsafe/go-dse/internal/domain/safety"
	"github.com/medsafe/go-dse/internal/domain/schedule"
)

// Suggest produces ranked remediation options for a prior evaluation. Every
// candidate is scored by applying its mutation to a copy of the schedule and
// re-running the pipeline; only suggestions that strictly improve the safety
// score survive. Ranking is by projected improvement, then by invasiveness
// (time shift before swap before drop), then by target name for determinism.
func (p Pipeline) Suggest(ctx context.Context, sched schedule.Schedule, eval Evaluation) []safety.ConflictSuggestion {
	baseline := eval.Assessment.Score

	var out []safety.ConflictSuggestion
	for _, c := range eval.Conflicts {
		if s, ok := p.suggestShift(ctx, sched, eval, c, baseline); ok {
			out = append(out, s)
		} else if timingSeverity(c.Gap, c.MinimumGap) == safety.SeveritySevere {
			// No safe slot exists for a severe overlap; dropping the later
			// dose is the last resort and always needs a clinician.
			if s, ok := p.suggestDropOccurrence(ctx, sched, c, baseline); ok {
				out = append(out, s)
			}
		}
	}

	for _, r := range eval.Results {
		if r.Type != safety.ResultDrug || r.HasWarning(safety.WarnUnknownInteractionData) {
			continue
		}
		if r.HasSubstitute {
			if s, ok := p.suggestSwap(ctx, sched, r, baseline); ok {
				out = append(out, s)
			}
		} else if r.Severity == safety.SeveritySevere {
			if s, ok := p.suggestSuspend(ctx, sched, r, baseline); ok {
				out = append(out, s)
			}
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].ProjectedScoreDelta != out[j].ProjectedScoreDelta {
			return out[i].ProjectedScoreDelta > out[j].ProjectedScoreDelta
		}
		if out[i].Kind.Invasiveness() != out[j].Kind.Invasiveness() {
			return out[i].Kind.Invasiveness() < out[j].Kind.Invasiveness()
		}
		return out[i].TargetMedicationID < out[j].TargetMedicationID
	})
	return out
}

// projectedDelta re-runs the full pipeline with m applied and returns the
// score improvement over baseline.
func (p Pipeline) projectedDelta(ctx context.Context, sched schedule.Schedule, m schedule.Mutation, baseline float64) (float64, bool) {
	hyp, err := m.Apply(sched)
	if err != nil {
		return 0, false
	}
	delta := p.Evaluate(ctx, hyp).Assessment.Score - baseline
	if delta <= scoreEpsilon {
		return 0, false
	}
	return delta, true
}

// suggestShift proposes moving the later-scheduled dose of a timing conflict
// to the midpoint of the nearest gap wide enough to hold it, trying forward
// of the current instant first and falling back to slots behind it.
func (p Pipeline) suggestShift(ctx context.Context, sched schedule.Schedule, eval Evaluation, c TimingConflict, baseline float64) (safety.ConflictSuggestion, bool) {
	moving := c.Second
	target, ok := findSafeSlot(sched.Entries(), moving, eval.Gaps)
	if !ok {
		return safety.ConflictSuggestion{}, false
	}

	m := schedule.TimeShift{MedicationID: moving.MedicationID, From: moving.At, To: target}
	delta, ok := p.projectedDelta(ctx, sched, m, baseline)
	if !ok {
		return safety.ConflictSuggestion{}, false
	}

	return safety.ConflictSuggestion{
		ID:                 uuid.New().String(),
		Kind:               safety.SuggestionTimeShift,
		TargetMedicationID: moving.MedicationID,
		Rationale: fmt.Sprintf("moving %s from %s to %s restores the %d-minute separation from %s",
			moving.MedicationName, moving.At, target,
			int(c.MinimumGap.Minutes()), c.First.MedicationName),
		Before:              moving.At.String(),
		After:               target.String(),
		ProjectedScoreDelta: delta,
	}, true
}

func (p Pipeline) suggestDropOccurrence(ctx context.Context, sched schedule.Schedule, c TimingConflict, baseline float64) (safety.ConflictSuggestion, bool) {
	moving := c.Second
	m := schedule.DropDose{MedicationID: moving.MedicationID, At: moving.At}
	delta, ok := p.projectedDelta(ctx, sched, m, baseline)
	if !ok {
		return safety.ConflictSuggestion{}, false
	}
	return safety.ConflictSuggestion{
		ID:                 uuid.New().String(),
		Kind:               safety.SuggestionDropDose,
		TargetMedicationID: moving.MedicationID,
		Rationale: fmt.Sprintf("no safe slot exists for the %s dose of %s; dropping it requires clinician approval",
			moving.At, moving.MedicationName),
		Before:                    moving.At.String(),
		After:                     "",
		ProjectedScoreDelta:       delta,
		RequiresClinicianApproval: true,
	}, true
}

// suggestSwap proposes replacing one medication of an interacting pair with
// its best-rated substitute. Both sides of the pair are tried; the variant
// with the larger projected improvement wins.
func (p Pipeline) suggestSwap(ctx context.Context, sched schedule.Schedule, r safety.InteractionResult, baseline float64) (safety.ConflictSuggestion, bool) {
	var best safety.ConflictSuggestion
	found := false

	for _, ref := range r.Medications {
		subs, err := p.Source.Substitutes(ctx, ref.Name)
		if err != nil || len(subs) == 0 {
			continue
		}
		sort.Slice(subs, func(i, j int) bool {
			if subs[i].SafetyRating != subs[j].SafetyRating {
				return subs[i].SafetyRating > subs[j].SafetyRating
			}
			return subs[i].Name < subs[j].Name
		})

		for _, sub := range subs {
			m := schedule.Swap{MedicationID: ref.ID, ReplacementID: sub.ID, ReplacementName: sub.Name}
			delta, ok := p.projectedDelta(ctx, sched, m, baseline)
			if !ok {
				continue
			}
			cand := safety.ConflictSuggestion{
				ID:                 uuid.New().String(),
				Kind:               safety.SuggestionSwapMedication,
				TargetMedicationID: ref.ID,
				Rationale: fmt.Sprintf("%s can be replaced with %s, which has no known interaction in this schedule",
					ref.Name, sub.Name),
				Before:              ref.Name,
				After:               sub.Name,
				ProjectedScoreDelta: delta,
			}
			if !found || cand.ProjectedScoreDelta > best.ProjectedScoreDelta ||
				(cand.ProjectedScoreDelta == best.ProjectedScoreDelta && cand.After < best.After) {
				best, found = cand, true
			}
			// Substitutes are sorted best-first; the first improving one per
			// side is enough.
			break
		}
	}
	return best, found
}

// suggestSuspend is the last resort for a severe drug interaction with no
// substitute: suspend whichever side of the pair yields the better score,
// explicitly flagged for clinician approval.
func (p Pipeline) suggestSuspend(ctx context.Context, sched schedule.Schedule, r safety.InteractionResult, baseline float64) (safety.ConflictSuggestion, bool) {
	var best safety.ConflictSuggestion
	found := false

	for _, ref := range r.Medications {
		m := schedule.DropDose{MedicationID: ref.ID, All: true}
		delta, ok := p.projectedDelta(ctx, sched, m, baseline)
		if !ok {
			continue
		}
		cand := safety.ConflictSuggestion{
			ID:                 uuid.New().String(),
			Kind:               safety.SuggestionDropDose,
			TargetMedicationID: ref.ID,
			Rationale: fmt.Sprintf("no substitute is available for the severe interaction with %s; suspending %s requires clinician approval",
				otherName(r.Medications, ref.ID), ref.Name),
			Before:                    ref.Name,
			After:                     "",
			ProjectedScoreDelta:       delta,
			RequiresClinicianApproval: true,
		}
		if !found || cand.ProjectedScoreDelta > best.ProjectedScoreDelta ||
			(cand.ProjectedScoreDelta == best.ProjectedScoreDelta && cand.Before < best.Before) {
			best, found = cand, true
		}
	}
	return best, found
}

func otherName(refs []safety.MedicationRef, id string) string {
	for _, ref := range refs {
		if ref.ID != id {
			return ref.Name
		}
	}
	return "the paired medication"
}

// findSafeSlot locates an instant for the moving entry that keeps the
// required separation from every other dose. Candidates are the midpoints of
// the gaps between the remaining doses, nearest forward gap first, then
// backward.
func findSafeSlot(entries []schedule.ScheduleEntry, moving schedule.ScheduleEntry, gaps GapTable) (schedule.MinuteOfDay, bool) {
	var rest []schedule.ScheduleEntry
	for _, e := range entries {
		if e.MedicationID == moving.MedicationID && e.At == moving.At {
			continue
		}
		rest = append(rest, e)
	}
	if len(rest) == 0 {
		return moving.At, false
	}

	sort.Slice(rest, func(i, j int) bool {
		if rest[i].At != rest[j].At {
			return rest[i].At < rest[j].At
		}
		return rest[i].MedicationID < rest[j].MedicationID
	})

	type candidate struct {
		at      schedule.MinuteOfDay
		forward int // minutes ahead of the current instant, wrapping
	}
	var cands []candidate
	for i := range rest {
		a := rest[i]
		b := rest[(i+1)%len(rest)]
		span := a.At.Forward(b.At)
		if len(rest) == 1 {
			span = 24 * 60 // a single neighbor leaves the rest of the day open
		}
		mid := a.At.Add(span / 2)
		if mid == moving.At {
			continue
		}
		if !slotSafe(mid, moving, rest, gaps) {
			continue
		}
		cands = append(cands, candidate{
			at:      mid,
			forward: int(moving.At.Forward(mid).Minutes()),
		})
	}
	if len(cands) == 0 {
		return moving.At, false
	}

	// Forward half of the day first, then the backward half by proximity.
	sort.Slice(cands, func(i, j int) bool {
		fi, fj := cands[i].forward, cands[j].forward
		iFwd, jFwd := fi <= 12*60, fj <= 12*60
		if iFwd != jFwd {
			return iFwd
		}
		if iFwd {
			return fi < fj
		}
		return fi > fj // larger forward distance = nearer backward
	})
	return cands[0].at, true
}

func slotSafe(at schedule.MinuteOfDay, moving schedule.ScheduleEntry, rest []schedule.ScheduleEntry, gaps GapTable) bool {
	for _, e := range rest {
		if at.Gap(e.At) < gaps.MinimumGap(moving.MedicationName, e.MedicationName) {
			return false
		}
	}
	return true
}
