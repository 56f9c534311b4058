package knowledge

import (
	"context"
	"sort"
	"time"
)

// StaticSource is an in-memory Source for development and tests. It never
// fails; pair lookups miss rather than error.
type StaticSource struct {
	facts       map[string]Fact
	gaps        map[string]time.Duration
	substitutes map[string][]Substitute
}

// NewStaticSource creates an empty static source.
func NewStaticSource() *StaticSource {
	return &StaticSource{
		facts:       make(map[string]Fact),
		gaps:        make(map[string]time.Duration),
		substitutes: make(map[string][]Substitute),
	}
}

// AddInteraction registers a pairwise fact.
func (s *StaticSource) AddInteraction(a, b string, f Fact) *StaticSource {
	s.facts[PairKey(a, b)] = f
	return s
}

// AddMinimumGap registers a pair-specific timing hint.
func (s *StaticSource) AddMinimumGap(a, b string, gap time.Duration) *StaticSource {
	s.gaps[PairKey(a, b)] = gap
	return s
}

// AddSubstitute registers an alternative for a drug.
func (s *StaticSource) AddSubstitute(drug string, sub Substitute) *StaticSource {
	key := Normalize(drug)
	s.substitutes[key] = append(s.substitutes[key], sub)
	sort.Slice(s.substitutes[key], func(i, j int) bool {
		a, b := s.substitutes[key][i], s.substitutes[key][j]
		if a.SafetyRating != b.SafetyRating {
			return a.SafetyRating > b.SafetyRating
		}
		return a.Name < b.Name
	})
	return s
}

// Interaction implements Source.
func (s *StaticSource) Interaction(ctx context.Context, a, b string) (*Fact, error) {
	if f, ok := s.facts[PairKey(a, b)]; ok {
		out := f
		return &out, nil
	}
	return nil, nil
}

// MinimumGap implements Source.
func (s *StaticSource) MinimumGap(ctx context.Context, a, b string) (time.Duration, bool, error) {
	gap, ok := s.gaps[PairKey(a, b)]
	return gap, ok, nil
}

// Substitutes implements Source.
func (s *StaticSource) Substitutes(ctx context.Context, drug string) ([]Substitute, error) {
	subs := s.substitutes[Normalize(drug)]
	out := make([]Substitute, len(subs))
	copy(out, subs)
	return out, nil
}
