// Package knowledge wraps the external drug-interaction knowledge source.
// The engine treats it as a read-only lookup keyed by drug name; every piece
// of evaluation logic receives it as an injected capability so there is no
// engine-level cache that could leak one patient's facts into another's
// session.
package knowledge

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/medsafe/go-dse/internal/domain/safety"
)

// ErrUnavailable means the knowledge source could not answer in time. Callers
// must treat the pair as unknown and flag it for manual verification, never
// as safe.
var ErrUnavailable = errors.New("knowledge source unavailable")

// Fact is a known pairwise drug-drug interaction.
type Fact struct {
	Severity       safety.Severity `json:"severity"`
	Description    string          `json:"description"`
	ClinicalEffect string          `json:"clinical_effect,omitempty"`
	Management     string          `json:"management,omitempty"`
}

// Substitute is an alternative medication with its relative safety rating.
type Substitute struct {
	ID           string  `json:"id,omitempty"`
	Name         string  `json:"name"`
	SafetyRating float64 `json:"safety_rating"`
}

// Source is the engine's view of the interaction knowledge base.
type Source interface {
	// Interaction returns the known fact for an unordered drug pair, or nil
	// when no interaction is on record.
	Interaction(ctx context.Context, a, b string) (*Fact, error)

	// MinimumGap returns the pair-specific minimum dose separation, with
	// ok=false when the source has no timing hint for the pair.
	MinimumGap(ctx context.Context, a, b string) (time.Duration, bool, error)

	// Substitutes lists alternative medications for a drug, best first.
	Substitutes(ctx context.Context, drug string) ([]Substitute, error)
}

// PairKey canonicalizes an unordered drug pair for lookups.
func PairKey(a, b string) string {
	a, b = Normalize(a), Normalize(b)
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}

// Normalize lowercases and trims a drug name.
func Normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
