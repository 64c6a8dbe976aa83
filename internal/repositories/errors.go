package repositories

import (
	"errors"
	"fmt"
)

// ErrorCode enumerates repository failure causes shared across backends.
type ErrorCode string

const (
	// ErrorCodeUnknown represents an unspecified failure.
	ErrorCodeUnknown ErrorCode = "unknown"
	// ErrorCodeNotFound indicates the requested document does not exist.
	ErrorCodeNotFound ErrorCode = "not_found"
	// ErrorCodeConflict indicates a concurrent writer or duplicate insert won the race.
	ErrorCodeConflict ErrorCode = "conflict"
	// ErrorCodeInsufficientStock indicates a stock reservation exceeded availability.
	ErrorCodeInsufficientStock ErrorCode = "insufficient_stock"
	// ErrorCodeInvalidState indicates the stored entity forbids the requested mutation.
	ErrorCodeInvalidState ErrorCode = "invalid_state"
	// ErrorCodeUnavailable indicates the backend rejected the call transiently.
	ErrorCodeUnavailable ErrorCode = "unavailable"
)

// Error wraps repository failures with machine readable codes.
type Error struct {
	Op      string
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsNotFound reports whether the error represents a missing document.
func (e *Error) IsNotFound() bool {
	return e != nil && e.Code == ErrorCodeNotFound
}

// IsConflict reports whether the error represents a lost write race,
// duplicate insert, or invalid-state rejection.
func (e *Error) IsConflict() bool {
	if e == nil {
		return false
	}
	switch e.Code {
	case ErrorCodeConflict, ErrorCodeInsufficientStock, ErrorCodeInvalidState:
		return true
	}
	return false
}

// IsUnavailable reports whether the failure is transient.
func (e *Error) IsUnavailable() bool {
	return e != nil && e.Code == ErrorCodeUnavailable
}

// NewError constructs a typed repository error.
func NewError(code ErrorCode, message string, err error) *Error {
	if message == "" {
		message = string(code)
	}
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// IsNotFound reports whether err categorises as a missing document.
func IsNotFound(err error) bool {
	var repoErr RepositoryError
	if errors.As(err, &repoErr) {
		return repoErr.IsNotFound()
	}
	return false
}

// IsConflict reports whether err categorises as a write conflict.
func IsConflict(err error) bool {
	var repoErr RepositoryError
	if errors.As(err, &repoErr) {
		return repoErr.IsConflict()
	}
	return false
}

// IsUnavailable reports whether err categorises as a transient backend failure.
func IsUnavailable(err error) bool {
	var repoErr RepositoryError
	if errors.As(err, &repoErr) {
		return repoErr.IsUnavailable()
	}
	return false
}

var _ RepositoryError = (*Error)(nil)
