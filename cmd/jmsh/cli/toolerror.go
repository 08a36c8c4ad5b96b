// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies command errors. It selects the exit code and
// tells scripts whether retrying can help.
type ErrorCategory string

const (
	// CategoryValidation: bad arguments or flags. Fix the input.
	CategoryValidation ErrorCategory = "validation"

	// CategoryNotFound: a named asset or session does not exist.
	CategoryNotFound ErrorCategory = "not_found"

	// CategoryForbidden: the bastion rejected the session. Log in again.
	CategoryForbidden ErrorCategory = "forbidden"

	// CategoryTransient: the agent or the relay is unreachable or
	// dropped. Retrying may help.
	CategoryTransient ErrorCategory = "transient"

	// CategoryInternal: anything unexpected.
	CategoryInternal ErrorCategory = "internal"
)

// ToolError is a categorized error returned by commands. It wraps the
// underlying error, so errors.Is and errors.As see through it.
type ToolError struct {
	Category ErrorCategory
	Err      error
	hint     string
}

// Error returns the underlying message. The hint is printed separately.
func (e *ToolError) Error() string { return e.Err.Error() }

func (e *ToolError) Unwrap() error { return e.Err }

// WithHint attaches a next step for the user and returns e.
func (e *ToolError) WithHint(hint string) *ToolError {
	e.hint = hint
	return e
}

// Hint returns the attached hint, or "".
func (e *ToolError) Hint() string { return e.hint }

// ExitCode maps the category to the process exit status.
func (e *ToolError) ExitCode() int {
	switch e.Category {
	case CategoryValidation:
		return 2
	case CategoryNotFound:
		return 3
	case CategoryForbidden:
		return 4
	case CategoryTransient:
		return 5
	default:
		return 1
	}
}

// Validation creates a validation error: the caller provided bad input.
func Validation(format string, args ...any) *ToolError {
	return &ToolError{Category: CategoryValidation, Err: fmt.Errorf(format, args...)}
}

// NotFound creates a not-found error: a referenced resource does not exist.
func NotFound(format string, args ...any) *ToolError {
	return &ToolError{Category: CategoryNotFound, Err: fmt.Errorf(format, args...)}
}

// Forbidden creates a forbidden error: the caller lacks permission.
func Forbidden(format string, args ...any) *ToolError {
	return &ToolError{Category: CategoryForbidden, Err: fmt.Errorf(format, args...)}
}

// Transient creates a transient error: a temporary failure that may succeed on retry.
func Transient(format string, args ...any) *ToolError {
	return &ToolError{Category: CategoryTransient, Err: fmt.Errorf(format, args...)}
}

// Internal creates an internal error: an unexpected failure, bug, or I/O error.
func Internal(format string, args ...any) *ToolError {
	return &ToolError{Category: CategoryInternal, Err: fmt.Errorf(format, args...)}
}

// AsToolError returns the ToolError in err's chain, if any.
func AsToolError(err error) (*ToolError, bool) {
	var toolError *ToolError
	ok := errors.As(err, &toolError)
	return toolError, ok
}
