package errors

import (
	"context"
	"errors"
	"fmt"
)

// Error is the coded error returned across the measurement and render
// boundaries. Callers branch on Code, never on Message.
type Error struct {
	Code    string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

const (
	CodeInvalidArgument          = "INVALID_ARGUMENT"
	CodeSurfaceUnavailable       = "SURFACE_UNAVAILABLE"
	CodeBufferAcquisitionFailure = "BUFFER_ACQUISITION_FAILED"
	CodeNativeComputationFailure = "NATIVE_COMPUTATION_FAILED"
	CodeInvalidConfig            = "INVALID_CONFIG"
	CodeConnectionFailed         = "CONNECTION_FAILED"
)

func InvalidArgument(msg string) *Error {
	return &Error{
		Code:    CodeInvalidArgument,
		Message: msg,
	}
}

func SurfaceUnavailable(msg string) *Error {
	return &Error{
		Code:    CodeSurfaceUnavailable,
		Message: msg,
	}
}

func BufferAcquisitionFailure(msg string, cause error) *Error {
	return &Error{
		Code:    CodeBufferAcquisitionFailure,
		Message: msg,
		Cause:   cause,
	}
}

func NativeComputationFailure(msg string, cause error) *Error {
	return &Error{
		Code:    CodeNativeComputationFailure,
		Message: msg,
		Cause:   cause,
	}
}

func InvalidConfig(msg string, cause error) *Error {
	return &Error{
		Code:    CodeInvalidConfig,
		Message: msg,
		Cause:   cause,
	}
}

func ConnectionFailed(msg string, cause error) *Error {
	return &Error{
		Code:    CodeConnectionFailed,
		Message: msg,
		Cause:   cause,
	}
}

// HasCode reports whether any error in err's chain is an *Error with code.
func HasCode(err error, code string) bool {
	var coded *Error
	if !errors.As(err, &coded) {
		return false
	}
	if coded.Code == code {
		return true
	}
	return HasCode(coded.Cause, code)
}

func IsContextError(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
