package safety

import "errors"

// Sentinel errors for the engine's failure modes. The engine fails safe,
// never open: anything it cannot classify degrades to the conservative
// unknown-interaction advisory path instead of passing the check.
var (
	// ErrStaleSchedule means the schedule version supplied by the caller no
	// longer matches the live schedule; the caller must re-check before
	// retrying. No mutation is applied.
	ErrStaleSchedule = errors.New("schedule version is stale")

	// ErrNoSafeSuggestion means every generated suggestion had a
	// non-positive projected score delta; manual review is required.
	ErrNoSafeSuggestion = errors.New("no suggestion strictly improves safety")

	// ErrApplyTransactionFailed means the store write failed; the schedule
	// was rolled back and is never left half-mutated.
	ErrApplyTransactionFailed = errors.New("schedule mutation transaction failed")

	// ErrValidation covers malformed input, rejected before any evaluation.
	ErrValidation = errors.New("invalid request")
)

// ErrorKind is the wire representation of an engine failure.
type ErrorKind string

const (
	KindUnknownInteractionData ErrorKind = "UNKNOWN_INTERACTION_DATA"
	KindStaleSchedule          ErrorKind = "STALE_SCHEDULE"
	KindNoSafeSuggestion       ErrorKind = "NO_SAFE_SUGGESTION"
	KindApplyTransactionFailed ErrorKind = "APPLY_TRANSACTION_FAILED"
	KindValidation             ErrorKind = "VALIDATION"
)

// KindOf maps an error to its wire kind. Unrecognized errors map to the
// unknown-interaction-data class per the fail-safe policy.
func KindOf(err error) ErrorKind {
	switch {
	case errors.Is(err, ErrStaleSchedule):
		return KindStaleSchedule
	case errors.Is(err, ErrNoSafeSuggestion):
		return KindNoSafeSuggestion
	case errors.Is(err, ErrApplyTransactionFailed):
		return KindApplyTransactionFailed
	case errors.Is(err, ErrValidation):
		return KindValidation
	}
	return KindUnknownInteractionData
}
