package model

import (
	"errors"
	"fmt"
)

// Standard error codes.
const (
	ErrBadRequest         = "BAD_REQUEST"
	ErrUnauthorized       = "UNAUTHORIZED"
	ErrForbidden          = "FORBIDDEN"
	ErrNotFound           = "NOT_FOUND"
	ErrConflict           = "CONFLICT"
	ErrValidationError    = "VALIDATION_ERROR"
	ErrInvalidTransition  = "INVALID_TRANSITION"
	ErrRateLimited        = "RATE_LIMITED"
	ErrInternalError      = "INTERNAL_ERROR"
	ErrBackendUnavailable = "BACKEND_UNAVAILABLE"
	ErrBackendTimeout     = "BACKEND_TIMEOUT"
)

// Case and wizard error codes. NO_PROCEDURE_BOUND and CASE_INVALID are the
// two codes the remote API distinguishes; the rest are raised locally.
const (
	ErrNoProcedureBound      = "NO_PROCEDURE_BOUND"
	ErrCaseInvalid           = "CASE_INVALID"
	ErrCaseReadonly          = "CASE_READONLY"
	ErrProcedureAlreadyBound = "PROCEDURE_ALREADY_BOUND"
	ErrSessionNotFound       = "SESSION_NOT_FOUND"
	ErrSessionClosed         = "SESSION_CLOSED"
)

// ErrorEnvelope is the standard error shape shared with the remote API and
// returned to clients. It implements the error interface.
type ErrorEnvelope struct {
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Details []FieldError `json:"details,omitempty"`
	TraceID string       `json:"trace_id,omitempty"`
}

// Error implements the error interface.
func (e *ErrorEnvelope) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// FieldError describes a field-level request error.
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// AsEnvelope unwraps err into an *ErrorEnvelope. Errors of any other type are
// reported as an INTERNAL_ERROR carrying the original message so that they are
// never silently swallowed.
func AsEnvelope(err error) *ErrorEnvelope {
	if err == nil {
		return nil
	}
	var ee *ErrorEnvelope
	if errors.As(err, &ee) {
		return ee
	}
	return &ErrorEnvelope{Code: ErrInternalError, Message: err.Error()}
}

// CodeOf returns the envelope code of err, or "" when err is nil.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	return AsEnvelope(err).Code
}

// NewBadRequestError returns a BAD_REQUEST error.
func NewBadRequestError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrBadRequest, Message: msg}
}

// NewUnauthorizedError returns an UNAUTHORIZED error.
func NewUnauthorizedError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrUnauthorized, Message: msg}
}

// NewForbiddenError returns a FORBIDDEN error.
func NewForbiddenError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrForbidden, Message: msg}
}

// NewNotFoundError returns a NOT_FOUND error.
func NewNotFoundError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrNotFound, Message: msg}
}

// NewConflictError returns a CONFLICT error.
func NewConflictError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrConflict, Message: msg}
}

// NewValidationError returns a VALIDATION_ERROR with field-level details.
func NewValidationError(details []FieldError) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrValidationError,
		Message: "One or more fields are invalid",
		Details: details,
	}
}

// NewInvalidTransitionError returns an INVALID_TRANSITION error.
func NewInvalidTransitionError(from, to CaseStatus) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrInvalidTransition,
		Message: fmt.Sprintf("case cannot move from %s to %s", from, to),
	}
}

// NewInternalError returns an INTERNAL_ERROR.
func NewInternalError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrInternalError,
		Message: "An unexpected error occurred",
	}
}

// NewBackendUnavailableError returns a BACKEND_UNAVAILABLE error.
func NewBackendUnavailableError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrBackendUnavailable,
		Message: "The case service is temporarily unavailable",
	}
}

// NewBackendTimeoutError returns a BACKEND_TIMEOUT error.
func NewBackendTimeoutError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrBackendTimeout,
		Message: "The case service did not respond in time",
	}
}

// NewRateLimitedError returns a RATE_LIMITED error.
func NewRateLimitedError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrRateLimited,
		Message: "Rate limit exceeded. Please try again later.",
	}
}

// NewNoProcedureBoundError returns a NO_PROCEDURE_BOUND error.
func NewNoProcedureBoundError(caseID string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrNoProcedureBound,
		Message: fmt.Sprintf("case %q has no procedure bound", caseID),
	}
}

// NewCaseInvalidError returns a CASE_INVALID error.
func NewCaseInvalidError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrCaseInvalid, Message: msg}
}

// NewCaseReadonlyError returns a CASE_READONLY error for a mutation attempted
// on a case whose status does not allow editing.
func NewCaseReadonlyError(status CaseStatus) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrCaseReadonly,
		Message: fmt.Sprintf("case is read-only in status %s", status),
	}
}

// NewSessionNotFoundError returns a SESSION_NOT_FOUND error.
func NewSessionNotFoundError(id string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrSessionNotFound,
		Message: fmt.Sprintf("wizard session %q not found", id),
	}
}

// NewSessionClosedError returns a SESSION_CLOSED error.
func NewSessionClosedError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrSessionClosed,
		Message: "wizard session has been closed",
	}
}
