// Package errs defines the error taxonomy shared by the market, ledger and engine packages.
// Every failure surfaced to a caller wraps exactly one sentinel below, so callers can
// branch with errors.Is and transports can map the Kind to a status code.
package errs

import "errors"

// Kind classifies an error by who has to act on it
type Kind uint8

const (
	KindUnknown Kind = iota
	KindValidation
	KindState
	KindAuthorization
	KindInsufficientFunds
	KindNotFound
	KindExternalDependency
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindState:
		return "state"
	case KindAuthorization:
		return "authorization"
	case KindInsufficientFunds:
		return "insufficient_funds"
	case KindNotFound:
		return "not_found"
	case KindExternalDependency:
		return "external_dependency"
	default:
		return "unknown"
	}
}

// Error is a classified sentinel. Compare with errors.Is, never by message.
type Error struct {
	Kind      Kind
	Code      string
	Retryable bool
}

func (e *Error) Error() string { return e.Code }

func newErr(kind Kind, code string) *Error { return &Error{Kind: kind, Code: code} }

func retryable(kind Kind, code string) *Error {
	return &Error{Kind: kind, Code: code, Retryable: true}
}

var (
	// Validation
	ErrInvalidPrice     = newErr(KindValidation, "invalid price")
	ErrBelowMinimumSize = newErr(KindValidation, "below minimum size")
	ErrInvalidDeadline  = newErr(KindValidation, "invalid deadline")
	ErrInvalidQuestion  = newErr(KindValidation, "invalid question")
	ErrInvalidSide      = newErr(KindValidation, "invalid side")
	ErrInvalidOutcome   = newErr(KindValidation, "invalid outcome")
	ErrInvalidAmount    = newErr(KindValidation, "invalid amount")

	// Lifecycle / state
	ErrMarketClosed            = newErr(KindState, "market closed")
	ErrDeadlinePassed          = newErr(KindState, "deadline passed")
	ErrDeadlineNotReached      = newErr(KindState, "deadline not reached")
	ErrMarketNotResolved       = newErr(KindState, "market not resolved")
	ErrMarketNotRefundable     = newErr(KindState, "market not refundable")
	ErrAlreadyResolved         = newErr(KindState, "market already resolved")
	ErrNothingToClaim          = newErr(KindState, "nothing to claim")
	ErrOrderAlreadyFullyFilled = newErr(KindState, "order already fully filled")
	ErrOrderAlreadyCancelled   = newErr(KindState, "order already cancelled")
	ErrReentrantCall           = newErr(KindState, "reentrant call")
	ErrMarketBusy              = retryable(KindState, "market busy")
	ErrInvariantViolated       = newErr(KindState, "conservation invariant violated")

	// Authorization
	ErrNotOwner         = newErr(KindAuthorization, "not owner")
	ErrInvalidSignature = newErr(KindAuthorization, "invalid signature")
	ErrNonceReused      = newErr(KindAuthorization, "nonce already used")
	ErrSignatureExpired = newErr(KindAuthorization, "signature expired")

	// Funds
	ErrInsufficientPayment = newErr(KindInsufficientFunds, "insufficient payment")
	ErrInsufficientBalance = newErr(KindInsufficientFunds, "insufficient balance")

	// Lookup
	ErrMarketNotFound = newErr(KindNotFound, "market not found")
	ErrOrderNotFound  = newErr(KindNotFound, "order not found")

	// Collaborators
	ErrOracleNotReady = retryable(KindExternalDependency, "oracle answer not ready")
	ErrOracleFailure  = retryable(KindExternalDependency, "oracle unavailable")
	ErrStorage        = retryable(KindExternalDependency, "storage unavailable")
	ErrTransfer       = retryable(KindExternalDependency, "transfer failed")
)

// KindOf returns the Kind of the sentinel wrapped by err, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsRetryable reports whether the same call may succeed later without any change by the caller.
func IsRetryable(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Retryable
}
