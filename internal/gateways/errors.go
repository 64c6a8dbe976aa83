// Package gateways defines shared error semantics for outbound provider calls.
package gateways

import (
	"context"
	"errors"
	"fmt"
)

// Error annotates a provider failure with retry semantics so callers can decide
// between rescheduling and giving up.
type Error struct {
	Op        string
	Code      string
	Retryable bool
	Err       error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewError constructs a provider error.
func NewError(op, code string, retryable bool, err error) *Error {
	return &Error{Op: op, Code: code, Retryable: retryable, Err: err}
}

// Retryable reports whether the failure is transient. Context cancellations and
// deadline expiries count as retryable since a later attempt may succeed.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var gatewayErr *Error
	if errors.As(err, &gatewayErr) {
		return gatewayErr.Retryable
	}
	return false
}
