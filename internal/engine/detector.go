package engine

import (
	"sort"
	"time"

	"github.com/medsafe/go-dse/internal/domain/schedule"
)

// TimingConflict is a pair of scheduled doses closer together than the
// applicable minimum separation.
type TimingConflict struct {
	First      schedule.ScheduleEntry
	Second     schedule.ScheduleEntry
	Gap        time.Duration
	MinimumGap time.Duration
}

// DetectTimingConflicts finds dose pairs whose time-of-day gap violates the
// minimum separation. Schedules recur daily, so the scan wraps at midnight:
// 23:30 and 00:15 are 45 minutes apart.
//
// A medication scheduled several times a day is checked once per occurrence;
// only exact duplicate (medication, instant) entries are collapsed. The
// result is ordered by ascending gap, tightest conflicts first, to aid
// downstream ranking. Pure function: no side effects, no clock.
func DetectTimingConflicts(entries []schedule.ScheduleEntry, gaps GapTable) []TimingConflict {
	uniq := dedupeEntries(entries)
	if len(uniq) < 2 {
		return nil
	}

	sort.Slice(uniq, func(i, j int) bool {
		if uniq[i].At != uniq[j].At {
			return uniq[i].At < uniq[j].At
		}
		return uniq[i].MedicationID < uniq[j].MedicationID
	})

	var conflicts []TimingConflict
	n := len(uniq)
	for i := 0; i < n; i++ {
		// With exactly two entries the forward and wrap scans cover the same
		// two doses; check once using the true circular distance.
		if n == 2 && i == 1 {
			break
		}
		a, b := uniq[i], uniq[(i+1)%n]
		gap := a.At.Forward(b.At)
		if n == 2 {
			gap = a.At.Gap(b.At)
		}
		minimum := gaps.MinimumGap(a.MedicationName, b.MedicationName)
		if gap < minimum {
			conflicts = append(conflicts, TimingConflict{
				First:      a,
				Second:     b,
				Gap:        gap,
				MinimumGap: minimum,
			})
		}
	}

	sort.Slice(conflicts, func(i, j int) bool {
		if conflicts[i].Gap != conflicts[j].Gap {
			return conflicts[i].Gap < conflicts[j].Gap
		}
		if conflicts[i].First.MedicationID != conflicts[j].First.MedicationID {
			return conflicts[i].First.MedicationID < conflicts[j].First.MedicationID
		}
		return conflicts[i].Second.MedicationID < conflicts[j].Second.MedicationID
	})
	return conflicts
}

func dedupeEntries(entries []schedule.ScheduleEntry) []schedule.ScheduleEntry {
	type key struct {
		id string
		at schedule.MinuteOfDay
	}
	seen := make(map[key]bool, len(entries))
	out := make([]schedule.ScheduleEntry, 0, len(entries))
	for _, e := range entries {
		k := key{e.MedicationID, e.At}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, e)
	}
	return out
}
