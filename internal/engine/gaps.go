package engine

import (
	"context"
	"time"

	"github.com/medsafe/go-dse/internal/domain/schedule"
	"github.com/medsafe/go-dse/internal/knowledge"
)

// GapTable resolves the minimum dose separation per medication pair. It is
// built once per evaluation so the detector itself stays pure.
type GapTable struct {
	pairs   map[string]time.Duration
	Default time.Duration
}

// NewGapTable creates a table with only the default gap.
func NewGapTable(def time.Duration) GapTable {
	if def <= 0 {
		def = DefaultMinimumGap
	}
	return GapTable{pairs: make(map[string]time.Duration), Default: def}
}

// Set records a pair-specific minimum.
func (t GapTable) Set(a, b string, gap time.Duration) {
	t.pairs[knowledge.PairKey(a, b)] = gap
}

// MinimumGap returns the separation required between doses of a and b.
func (t GapTable) MinimumGap(a, b string) time.Duration {
	if gap, ok := t.pairs[knowledge.PairKey(a, b)]; ok {
		return gap
	}
	return t.Default
}

// BuildGapTable queries the knowledge source for timing hints covering every
// unordered pair of active medications. A source failure for a pair is not
// fatal: the default minimum applies, which is the conservative choice.
func BuildGapTable(ctx context.Context, src knowledge.Source, meds []schedule.Medication, def time.Duration) GapTable {
	table := NewGapTable(def)
	for i := 0; i < len(meds); i++ {
		for j := i + 1; j < len(meds); j++ {
			gap, ok, err := src.MinimumGap(ctx, meds[i].Name, meds[j].Name)
			if err != nil || !ok {
				continue
			}
			table.Set(meds[i].Name, meds[j].Name, gap)
		}
	}
	return table
}
