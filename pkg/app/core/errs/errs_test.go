package errs

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindSurvivesWrapping(t *testing.T) {
	cases := []struct {
		err       error
		kind      Kind
		retryable bool
	}{
		{ErrInvalidPrice, KindValidation, false},
		{ErrMarketClosed, KindState, false},
		{ErrNotOwner, KindAuthorization, false},
		{ErrInsufficientPayment, KindInsufficientFunds, false},
		{ErrOrderNotFound, KindNotFound, false},
		{ErrOracleNotReady, KindExternalDependency, true},
		{ErrMarketBusy, KindState, true},
	}
	for _, tc := range cases {
		wrapped := fmt.Errorf("outer: %w", fmt.Errorf("%w: detail", tc.err))
		if !errors.Is(wrapped, tc.err) {
			t.Errorf("%v lost through wrapping", tc.err)
		}
		if KindOf(wrapped) != tc.kind {
			t.Errorf("KindOf(%v) = %s, want %s", tc.err, KindOf(wrapped), tc.kind)
		}
		if IsRetryable(wrapped) != tc.retryable {
			t.Errorf("IsRetryable(%v) = %v", tc.err, !tc.retryable)
		}
	}

	if KindOf(errors.New("plain")) != KindUnknown || IsRetryable(nil) {
		t.Error("unclassified errors must be unknown and not retryable")
	}
}
