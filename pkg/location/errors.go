package location

import (
	"context"
	"errors"
	"fmt"
)

// ErrorCode classifies a location failure.
type ErrorCode int

const (
	CodeNotSupported        ErrorCode = 0
	CodePermissionDenied    ErrorCode = 1
	CodePositionUnavailable ErrorCode = 2
	CodeTimeout             ErrorCode = 3
)

func (c ErrorCode) String() string {
	switch c {
	case CodeNotSupported:
		return "not_supported"
	case CodePermissionDenied:
		return "permission_denied"
	case CodePositionUnavailable:
		return "position_unavailable"
	case CodeTimeout:
		return "timeout"
	default:
		return fmt.Sprintf("unknown(%d)", int(c))
	}
}

// LocationError is returned by every acquisition path that fails to yield a fix.
type LocationError struct {
	Code    ErrorCode
	Message string
	Err     error // underlying provider error, if any
}

func (e *LocationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *LocationError) Unwrap() error {
	return e.Err
}

// Is matches any LocationError carrying the same code, so the sentinels below
// work with errors.Is regardless of message or cause.
func (e *LocationError) Is(target error) bool {
	var t *LocationError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

var (
	ErrNotSupported        = NewLocationError(CodeNotSupported, nil)
	ErrPermissionDenied    = NewLocationError(CodePermissionDenied, nil)
	ErrPositionUnavailable = NewLocationError(CodePositionUnavailable, nil)
	ErrTimeout             = NewLocationError(CodeTimeout, nil)
)

// NewLocationError builds a LocationError with the user-facing message for code.
func NewLocationError(code ErrorCode, cause error) *LocationError {
	return &LocationError{Code: code, Message: ErrorMessage(code), Err: cause}
}

// ErrorMessage returns the short human-readable text shown for code.
func ErrorMessage(code ErrorCode) string {
	switch code {
	case CodeNotSupported:
		return "Geolocation not supported"
	case CodePermissionDenied:
		return "Location permission denied. Please enable GPS."
	case CodePositionUnavailable:
		return "Location unavailable. Try moving to an open area."
	case CodeTimeout:
		return "Location request timed out. Please try again."
	default:
		return "Unknown location error"
	}
}

// errNoFix is the acquisition-window timeout when not a single fix arrived.
func errNoFix() *LocationError {
	return &LocationError{Code: CodeTimeout, Message: "GPS timeout - could not get accurate position"}
}

// AsLocationError maps any provider error onto the LocationError taxonomy.
func AsLocationError(err error) *LocationError {
	if err == nil {
		return nil
	}
	var le *LocationError
	if errors.As(err, &le) {
		return le
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewLocationError(CodeTimeout, err)
	}
	return NewLocationError(CodePositionUnavailable, err)
}
