package safety

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOfMapsWrappedSentinels(t *testing.T) {
	cases := []struct {
		err  error
		want ErrorKind
	}{
		{fmt.Errorf("expected 3, at 5: %w", ErrStaleSchedule), KindStaleSchedule},
		{fmt.Errorf("0.30 vs 0.30: %w", ErrNoSafeSuggestion), KindNoSafeSuggestion},
		{fmt.Errorf("tx: %w", ErrApplyTransactionFailed), KindApplyTransactionFailed},
		{fmt.Errorf("bad input: %w", ErrValidation), KindValidation},
		{errors.New("something unrecognized"), KindUnknownInteractionData},
	}
	for _, c := range cases {
		if got := KindOf(c.err); got != c.want {
			t.Errorf("KindOf(%v) = %s, want %s", c.err, got, c.want)
		}
	}
}
