package service

import (
	"fmt"
	"net/http"
)

// Error is the structured failure every service operation reports. Code is
// machine-readable; Details carries enough for a caller to self-correct (the
// minimum acceptable total, current availability, and so on).
type Error struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Status  int            `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

const (
	CodeNotFound          = "NOT_FOUND"
	CodeBadState          = "BAD_STATE"
	CodeRoundNotLive      = "ROUND_NOT_LIVE"
	CodeValidation        = "VALIDATION_ERROR"
	CodeBidTooLow         = "BID_TOO_LOW"
	CodeInsufficientFunds = "INSUFFICIENT_FUNDS"
	CodeBidConflict       = "BID_CONFLICT"
	CodeIdempotencyRetry  = "IDEMPOTENCY_RETRY"
	CodeTxRetryExhausted  = "TX_RETRY_EXHAUSTED"
	CodeInvariantBroken   = "INVARIANT_BROKEN"
)

// BID_TOO_LOW reasons.
const (
	ReasonMinBid        = "MIN_BID"
	ReasonNonIncreasing = "NON_INCREASING"
	ReasonMinIncrement  = "MIN_INCREMENT"
)

func NotFound(message string) *Error {
	return &Error{Code: CodeNotFound, Message: message, Status: http.StatusNotFound}
}

func BadState(message string, details map[string]any) *Error {
	return &Error{Code: CodeBadState, Message: message, Status: http.StatusConflict, Details: details}
}

func RoundNotLive(message string, details map[string]any) *Error {
	return &Error{Code: CodeRoundNotLive, Message: message, Status: http.StatusConflict, Details: details}
}

func Validation(message string) *Error {
	return &Error{Code: CodeValidation, Message: message, Status: http.StatusBadRequest}
}

func BidTooLow(reason, minimumTotal string) *Error {
	return &Error{
		Code:    CodeBidTooLow,
		Message: "bid amount too low",
		Status:  http.StatusUnprocessableEntity,
		Details: map[string]any{"reason": reason, "minimumTotal": minimumTotal},
	}
}

func InsufficientFunds(available, required string) *Error {
	return &Error{
		Code:    CodeInsufficientFunds,
		Message: "insufficient available funds",
		Status:  http.StatusUnprocessableEntity,
		Details: map[string]any{"available": available, "requiredDelta": required},
	}
}

func BidConflict() *Error {
	return &Error{
		Code:    CodeBidConflict,
		Message: "concurrent bid update, resubmit with the latest total",
		Status:  http.StatusConflict,
	}
}

func IdempotencyRetry() *Error {
	return &Error{
		Code:    CodeIdempotencyRetry,
		Message: "request already in flight, retry shortly",
		Status:  http.StatusConflict,
	}
}

func TxRetryExhausted() *Error {
	return &Error{
		Code:    CodeTxRetryExhausted,
		Message: "transient storage conflicts exhausted the retry budget, retry the request",
		Status:  http.StatusServiceUnavailable,
	}
}

// InvariantBroken marks a state no business rule can legitimately reach, such
// as a negative balance about to be persisted. Always a bug.
func InvariantBroken(message string) *Error {
	return &Error{Code: CodeInvariantBroken, Message: message, Status: http.StatusInternalServerError}
}

// AsError unwraps a service error, or wraps anything else as an opaque 500.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	if se, ok := err.(*Error); ok {
		return se
	}
	return &Error{Code: "INTERNAL", Message: err.Error(), Status: http.StatusInternalServerError}
}
