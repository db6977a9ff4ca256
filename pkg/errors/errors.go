package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Status  int                    `json:"status"`
	Details map[string]interface{} `json:"details,omitempty"`
	Err     error                  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches errors by code so that clones compare equal to their template.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Predefined errors for common scenarios.
var (
	ErrNotFound           = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrForbidden          = New("FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrUnauthorized       = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrConflict           = New("CONFLICT", http.StatusConflict, "conflict")
	ErrPreconditionFailed = New("PRECONDITION_FAILED", http.StatusPreconditionFailed, "precondition failed")
	ErrValidation         = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal           = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
	ErrCacheMiss          = New("CACHE_MISS", http.StatusNotFound, "cache miss")
)

// Enrollment rejections. These are business outcomes surfaced verbatim to the caller.
var (
	ErrAlreadyEnrolled      = New("ALREADY_ENROLLED", http.StatusConflict, "already enrolled")
	ErrRegistrationNotOpen  = New("REGISTRATION_NOT_OPEN", http.StatusUnprocessableEntity, "registration not yet open")
	ErrRegistrationClosed   = New("REGISTRATION_CLOSED", http.StatusUnprocessableEntity, "registration closed")
	ErrLevelMismatch        = New("LEVEL_MISMATCH", http.StatusUnprocessableEntity, "student level does not match course level")
	ErrMissingPrerequisites = New("MISSING_PREREQUISITES", http.StatusUnprocessableEntity, "missing prerequisites")
	ErrNoActiveEnrollment   = New("NO_ACTIVE_ENROLLMENT", http.StatusNotFound, "no active enrollment")
	ErrAuthorizationDenied  = New("AUTHORIZATION_DENIED", http.StatusForbidden, "override not permitted for this section")
)

var rejectionCodes = map[string]struct{}{
	ErrAlreadyEnrolled.Code:      {},
	ErrRegistrationNotOpen.Code:  {},
	ErrRegistrationClosed.Code:   {},
	ErrLevelMismatch.Code:        {},
	ErrMissingPrerequisites.Code: {},
	ErrNoActiveEnrollment.Code:   {},
}

// IsRejection reports whether err is an enrollment business rejection.
func IsRejection(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	_, ok := rejectionCodes[e.Code]
	return ok
}

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}

// WithDetails returns a copy of err carrying the provided details.
func WithDetails(err *Error, message string, details map[string]interface{}) *Error {
	clone := Clone(err, message)
	if clone == nil {
		return nil
	}
	clone.Details = details
	return clone
}
