package engine

import (
	"context"
	"time"

	"github.com/medsafe/go-dse/internal/domain/safety"
	"github.com/medsafe/go-dse/internal/domain/schedule"
	"github.com/medsafe/go-dse/internal/knowledge"
)

// Pipeline bundles the knowledge source with the evaluation configuration.
// It holds no per-call state and is safe for concurrent use across patients.
type Pipeline struct {
	Source            knowledge.Source
	DefaultMinimumGap time.Duration
}

// NewPipeline creates a pipeline with the given source.
func NewPipeline(src knowledge.Source, defaultGap time.Duration) Pipeline {
	if defaultGap <= 0 {
		defaultGap = DefaultMinimumGap
	}
	return Pipeline{Source: src, DefaultMinimumGap: defaultGap}
}

// Evaluation is the full output of one pipeline run over a schedule.
type Evaluation struct {
	Gaps       GapTable
	Conflicts  []TimingConflict
	Results    []safety.InteractionResult
	Assessment safety.SafetyAssessment
}

// Evaluate runs detect → evaluate → score over a schedule. It never returns
// an error: knowledge-source failures degrade to conservative advisory
// results inside the evaluator.
func (p Pipeline) Evaluate(ctx context.Context, sched schedule.Schedule) Evaluation {
	meds := sched.ActiveMedications()
	gaps := BuildGapTable(ctx, p.Source, meds, p.DefaultMinimumGap)
	conflicts := DetectTimingConflicts(sched.Entries(), gaps)
	results := Evaluate(ctx, meds, conflicts, p.Source)
	return Evaluation{
		Gaps:       gaps,
		Conflicts:  conflicts,
		Results:    results,
		Assessment: Score(results),
	}
}
