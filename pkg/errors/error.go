// Package errors carries the coded errors returned by the backtest engines.
//
// A code's hundreds digit names its category (see Category). Validation errors are returned before
// the ledger is touched, trading errors are recorded as rejections and the run continues, and an
// engine invariant violation aborts the run:
//
//	trade, err := simulator.Buy(order)
//	if errors.IsRecoverableTradeError(err) {
//		// recorded as a RejectedOrder
//	}
package errors

import (
	"errors"
	"fmt"
)

// Error is a coded error with an optional cause.
type Error struct {
	Code    ErrorCode
	Message string
	Cause   error
}

// New creates a new Error with the given code and message.
func New(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   nil,
	}
}

// Newf creates a new Error with the given code and formatted message.
func Newf(code ErrorCode, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   nil,
	}
}

// Wrap attaches a code and message to cause.
func Wrap(code ErrorCode, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// Wrapf is Wrap with a formatted message. The cause comes before the format.
func Wrapf(code ErrorCode, cause error, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%d] %s: %v", e.Code, e.Message, e.Cause)
	}

	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error carrying the same code, so a bare New(code, "") works as a sentinel.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}

	return t.Code == e.Code
}

// Is is errors.Is.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As is errors.As.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// GetCode returns the code of the outermost *Error in err's chain, or ErrCodeUnknown.
func GetCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}

	return ErrCodeUnknown
}

// HasCode checks if an error has a specific ErrorCode.
func HasCode(err error, code ErrorCode) bool {
	return GetCode(err) == code
}

// IsValidationError reports whether err was rejected before any ledger mutation
// because of bad input.
func IsValidationError(err error) bool {
	return GetCode(err).Category() == CategoryValidation
}

// IsRecoverableTradeError reports whether err is an affordability or position
// violation. The run continues after these errors.
func IsRecoverableTradeError(err error) bool {
	switch GetCode(err) {
	case ErrCodeInsufficientCash, ErrCodeNoPosition, ErrCodeInsufficientShares, ErrCodeMarketDataMissing:
		return true
	default:
		return false
	}
}

// IsEngineInvariantViolation reports whether err signals a broken ledger invariant.
// Such errors abort the run immediately.
func IsEngineInvariantViolation(err error) bool {
	return HasCode(err, ErrCodeEngineInvariantViolation)
}
