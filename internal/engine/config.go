// Package engine implements the pure evaluation pipeline: timing conflict
// detection, interaction evaluation, safety scoring, and suggestion
// generation. Every function here is deterministic and takes explicit inputs
// plus an injected knowledge source; nothing is cached between calls so
// concurrent evaluations for different patients share no mutable state.
package engine

import (
	"time"

	"github.com/medsafe/go-dse/internal/domain/safety"
)

// DefaultMinimumGap is the dose separation applied when the knowledge source
// has no pair-specific timing hint.
const DefaultMinimumGap = 2 * time.Hour

// severeScoreCap is the hard ceiling applied whenever any severe result is
// present: a single severe issue can never be offset by an otherwise clean
// schedule.
const severeScoreCap = 0.4

// scoreEpsilon guards float comparisons when filtering suggestions: a
// projected delta must clear it to count as a strict improvement.
const scoreEpsilon = 1e-9

// severityPenalty holds the per-result score deductions. The values are
// placeholder weights pending review against an authoritative clinical
// reference; they are centralized here so that review changes one table.
var severityPenalty = map[safety.Severity]float64{
	safety.SeverityLow:      0.05,
	safety.SeverityModerate: 0.15,
	safety.SeverityHigh:     0.30,
	safety.SeveritySevere:   0.50,
}

// timingSeverity classifies a timing conflict by how close the actual gap is
// to the required minimum. Overlapping or near-overlapping doses are severe.
func timingSeverity(gap, minimum time.Duration) safety.Severity {
	if minimum <= 0 {
		return safety.SeverityLow
	}
	ratio := float64(gap) / float64(minimum)
	switch {
	case ratio >= 0.9:
		return safety.SeverityLow
	case ratio >= 0.5:
		return safety.SeverityModerate
	case ratio >= 0.1:
		return safety.SeverityHigh
	default:
		return safety.SeveritySevere
	}
}
