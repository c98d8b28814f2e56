package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Common error types
var (
	ErrValidation  = errors.New("validation error")
	ErrNotFound    = errors.New("resource not found")
	ErrConflict    = errors.New("conflict")
	ErrPersistence = errors.New("persistence error")
	ErrSideEffect  = errors.New("side effect error")
	ErrInternal    = errors.New("internal error")
)

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// AppError represents an application error with context
type AppError struct {
	Err        error             `json:"-"`
	Message    string            `json:"message"`
	Code       string            `json:"code"`
	HTTPStatus int               `json:"-"`
	Details    map[string]string `json:"details,omitempty"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Validation creates a validation error with field details
func Validation(message string, details map[string]string) *AppError {
	return &AppError{
		Err:        ErrValidation,
		Message:    message,
		Code:       "VALIDATION_ERROR",
		HTTPStatus: http.StatusBadRequest,
		Details:    details,
	}
}

// InvalidField creates a validation error for a single field that failed
// type coercion or format checks.
func InvalidField(field string, reason string) *AppError {
	return &AppError{
		Err:        ErrValidation,
		Message:    fmt.Sprintf("invalid value for field %q", field),
		Code:       "VALIDATION_ERROR",
		HTTPStatus: http.StatusBadRequest,
		Details:    map[string]string{"field": field, "reason": reason},
	}
}

// MissingRequiredFields creates a validation error listing absent fields.
func MissingRequiredFields(fields []string) *AppError {
	return &AppError{
		Err:        ErrValidation,
		Message:    "missing required fields",
		Code:       "MISSING_REQUIRED_FIELDS",
		HTTPStatus: http.StatusBadRequest,
		Details:    map[string]string{"fields": strings.Join(fields, ",")},
	}
}

// NotFound creates a not found error
func NotFound(resource string, id string) *AppError {
	return &AppError{
		Err:        ErrNotFound,
		Message:    fmt.Sprintf("%s not found", resource),
		Code:       "NOT_FOUND",
		HTTPStatus: http.StatusNotFound,
		Details:    map[string]string{"resource": resource, "id": id},
	}
}

// Conflict creates a conflict error
func Conflict(message string) *AppError {
	return &AppError{
		Err:        ErrConflict,
		Message:    message,
		Code:       "CONFLICT",
		HTTPStatus: http.StatusConflict,
	}
}

// Persistence wraps an underlying storage failure.
func Persistence(err error, message string) *AppError {
	return &AppError{
		Err:        fmt.Errorf("%w: %w", ErrPersistence, err),
		Message:    message,
		Code:       "PERSISTENCE_ERROR",
		HTTPStatus: http.StatusInternalServerError,
	}
}

// SideEffect marks a failure in a decoupled history/notification task.
// Callers log these at the boundary where the task is launched; they are
// never surfaced to the caller of the primary mutation.
func SideEffect(err error, message string) *AppError {
	return &AppError{
		Err:        fmt.Errorf("%w: %w", ErrSideEffect, err),
		Message:    message,
		Code:       "SIDE_EFFECT_ERROR",
		HTTPStatus: http.StatusInternalServerError,
	}
}

// Internal creates an internal error
func Internal(err error) *AppError {
	return &AppError{
		Err:        err,
		Message:    "internal server error",
		Code:       "INTERNAL_ERROR",
		HTTPStatus: http.StatusInternalServerError,
	}
}

// Wrap wraps an error with additional context
func Wrap(err error, message string) *AppError {
	if appErr, ok := err.(*AppError); ok {
		appErr.Message = fmt.Sprintf("%s: %s", message, appErr.Message)
		return appErr
	}
	return &AppError{
		Err:        err,
		Message:    message,
		Code:       "INTERNAL_ERROR",
		HTTPStatus: http.StatusInternalServerError,
	}
}
