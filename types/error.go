package types

import "fmt"

// ErrorCode represents a unified error code across the daemon.
type ErrorCode string

// Engine error codes
const (
	ErrEngineUnavailable ErrorCode = "ENGINE_UNAVAILABLE"  // terminal: device/config can never host the engine
	ErrEngineNotReady    ErrorCode = "ENGINE_NOT_READY"    // transient: still downloading/installing
	ErrEngineNeedsAction ErrorCode = "ENGINE_NEEDS_ACTION" // user must flip a flag or grant permission
	ErrSessionExpired    ErrorCode = "SESSION_EXPIRED"     // handle invalidated mid-use, recreate on next use
	ErrEngineBusy        ErrorCode = "ENGINE_BUSY"
	ErrTimeout           ErrorCode = "TIMEOUT"
)

// Orchestration error codes
const (
	ErrSurfaceUnavailable ErrorCode = "SURFACE_UNAVAILABLE" // no webmail page open
	ErrInvalidRequest     ErrorCode = "INVALID_REQUEST"
	ErrInternalError      ErrorCode = "INTERNAL_ERROR"
	ErrServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
)

// Error is a structured error with code, retryability and an optional
// user-facing remediation hint.
type Error struct {
	Code        ErrorCode `json:"code"`
	Message     string    `json:"message"`
	HTTPStatus  int       `json:"http_status,omitempty"`
	Retryable   bool      `json:"retryable"`
	Remediation string    `json:"remediation,omitempty"`
	Cause       error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Cause }

// NewError creates a structured error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause attaches an underlying cause.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus sets the HTTP status used by the API layer.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRemediation attaches a user-facing remediation hint.
func (e *Error) WithRemediation(hint string) *Error {
	e.Remediation = hint
	return e
}

// WithRetryable marks whether a retry can succeed.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// IsCode reports whether err is a *Error carrying the given code.
func IsCode(err error, code ErrorCode) bool {
	for err != nil {
		if te, ok := err.(*Error); ok {
			return te.Code == code
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// CodeOf returns the code carried by err, or INTERNAL_ERROR when err is not
// a *Error anywhere in its chain.
func CodeOf(err error) ErrorCode {
	for err != nil {
		if te, ok := err.(*Error); ok {
			return te.Code
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return ErrInternalError
}

// UserMessage returns a human-readable explanation for an error code,
// with a generic fallback for unclassified errors.
func UserMessage(err error) string {
	te, ok := err.(*Error)
	if !ok {
		return "Something went wrong. Please try again."
	}
	switch te.Code {
	case ErrEngineUnavailable:
		return "The on-device model cannot run on this machine."
	case ErrEngineNotReady:
		return "The model is still downloading. Try again in a moment."
	case ErrEngineNeedsAction:
		return "The model needs to be enabled before it can be used."
	case ErrSessionExpired:
		return "Reconnecting to the model..."
	case ErrEngineBusy:
		return "A request is already in progress."
	case ErrTimeout:
		return "The request timed out. The model may still be working."
	case ErrSurfaceUnavailable:
		return "No mailbox tab is open."
	default:
		return "Something went wrong. Please try again."
	}
}
