package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorType represents the kinds of failure a caller can tell apart
type ErrorType string

const (
	ErrorTypeNetwork         ErrorType = "network"
	ErrorTypeSessionExpired  ErrorType = "session_expired"
	ErrorTypeAuthFailed      ErrorType = "auth_failed"
	ErrorTypeNotFound        ErrorType = "not_found"
	ErrorTypeInvalidResponse ErrorType = "invalid_response"
	ErrorTypeServerError     ErrorType = "server_error"
	ErrorTypeInvalidArgument ErrorType = "invalid_argument"
	ErrorTypeClosed          ErrorType = "closed"
	ErrorTypeUnknown         ErrorType = "unknown"
)

// Error represents an exchange API error with type information
type Error struct {
	Type    ErrorType
	Message string
	Code    int // HTTP status, 0 when no response was received
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s error (code %d): %s: %v", e.Type, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s error (code %d): %s", e.Type, e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates an Error without an underlying cause
func New(errorType ErrorType, code int, message string) *Error {
	return &Error{Type: errorType, Message: message, Code: code}
}

// Newf creates an Error with a formatted message
func Newf(errorType ErrorType, code int, format string, args ...any) *Error {
	return &Error{Type: errorType, Message: fmt.Sprintf(format, args...), Code: code}
}

// Wrap creates an Error that keeps cause reachable through errors.Is/As
func Wrap(errorType ErrorType, code int, message string, cause error) *Error {
	return &Error{Type: errorType, Message: message, Code: code, Cause: cause}
}

// TypeOf returns the type of the first *Error in err's chain, or
// ErrorTypeUnknown when there is none.
func TypeOf(err error) ErrorType {
	var apiErr *Error
	if stderrors.As(err, &apiErr) {
		return apiErr.Type
	}
	return ErrorTypeUnknown
}

// Is reports whether err carries the given type
func Is(err error, errorType ErrorType) bool {
	var apiErr *Error
	return stderrors.As(err, &apiErr) && apiErr.Type == errorType
}

func IsNetwork(err error) bool         { return Is(err, ErrorTypeNetwork) }
func IsSessionExpired(err error) bool  { return Is(err, ErrorTypeSessionExpired) }
func IsAuthFailed(err error) bool      { return Is(err, ErrorTypeAuthFailed) }
func IsNotFound(err error) bool        { return Is(err, ErrorTypeNotFound) }
func IsInvalidResponse(err error) bool { return Is(err, ErrorTypeInvalidResponse) }

// IsRetryable checks if a caller may reasonably retry an error type.
// The session manager never retries these itself.
func IsRetryable(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeNetwork, ErrorTypeServerError:
		return true
	default:
		return false
	}
}

// IsRetryableStatusCode checks if an HTTP status code indicates a retryable error
func IsRetryableStatusCode(statusCode int) bool {
	switch statusCode {
	case 0: // Network error
		return true
	case 429:
		return true
	case 401, 403, 404, 410:
		return false
	default:
		return statusCode >= 500
	}
}
