package domain

import (
	"context"
	"errors"
)

// Error taxonomy surfaced at the request boundary.
var (
	ErrInvalidAddress      = errors.New("invalid address")
	ErrAddressInUse        = errors.New("address already bound to another customer")
	ErrNotFound            = errors.New("not found")
	ErrDuplicateReceipt    = errors.New("receipt already minted for sale")
	ErrBelowThreshold      = errors.New("purchase amount below reward threshold")
	ErrSubmission          = errors.New("transaction submission failed")
	ErrNodeUnavailable     = errors.New("ledger node unavailable")
	ErrUnsupportedCurrency = errors.New("unsupported currency")
	ErrInvalidRequest      = errors.New("invalid request")
)

// Submission failure causes, always wrapped together with ErrSubmission.
var (
	ErrInclusionTimeout = errors.New("timed out waiting for inclusion")
	ErrReverted         = errors.New("transaction reverted")
)

// ErrPaymentFinalized is returned when a write would move a completed or
// failed payment to another status.
var ErrPaymentFinalized = errors.New("payment already finalized")

// ErrorKind is the stable name of an error class returned to callers.
type ErrorKind string

const (
	KindNone                ErrorKind = ""
	KindInvalidAddress      ErrorKind = "InvalidAddress"
	KindAddressInUse        ErrorKind = "AddressInUse"
	KindNotFound            ErrorKind = "NotFound"
	KindDuplicateReceipt    ErrorKind = "DuplicateReceipt"
	KindBelowThreshold      ErrorKind = "BelowThreshold"
	KindSubmissionError     ErrorKind = "SubmissionError"
	KindNodeUnavailable     ErrorKind = "NodeUnavailable"
	KindUnsupportedCurrency ErrorKind = "UnsupportedCurrency"
	KindInvalidRequest      ErrorKind = "InvalidRequest"
	KindInternal            ErrorKind = "Internal"
)

// KindOf classifies err. Order matters: a timeout is reported as a
// submission error even though it wraps a context error.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrInvalidAddress):
		return KindInvalidAddress
	case errors.Is(err, ErrAddressInUse):
		return KindAddressInUse
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrDuplicateReceipt):
		return KindDuplicateReceipt
	case errors.Is(err, ErrBelowThreshold):
		return KindBelowThreshold
	case errors.Is(err, ErrUnsupportedCurrency):
		return KindUnsupportedCurrency
	case errors.Is(err, ErrInvalidRequest):
		return KindInvalidRequest
	case errors.Is(err, ErrSubmission):
		return KindSubmissionError
	case errors.Is(err, ErrNodeUnavailable), errors.Is(err, context.DeadlineExceeded):
		return KindNodeUnavailable
	}
	return KindInternal
}

// IsSoft reports whether err is a no-op outcome rather than a failure.
func IsSoft(err error) bool {
	return errors.Is(err, ErrDuplicateReceipt) || errors.Is(err, ErrBelowThreshold)
}
