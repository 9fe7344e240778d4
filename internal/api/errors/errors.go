// Package errors provides structured error types and the mapping from
// domain errors to API responses.
package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/narvanalabs/buildgraph/internal/coordinator"
	"github.com/narvanalabs/buildgraph/internal/models"
	"github.com/narvanalabs/buildgraph/internal/process"
	"github.com/narvanalabs/buildgraph/internal/release"
	"github.com/narvanalabs/buildgraph/internal/validation"
)

// Error codes for structured API responses.
const (
	CodeValidationError = "VALIDATION_ERROR"
	CodeNotFound        = "NOT_FOUND"
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeInternalError   = "INTERNAL_ERROR"
	CodeConflict        = "CONFLICT"
	CodeGone            = "GONE"
	CodeUnprocessable   = "UNPROCESSABLE"
)

// APIError represents a structured API error response.
type APIError struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// WithDetails returns a copy of the error with additional details.
func (e *APIError) WithDetails(details map[string]any) *APIError {
	c := *e
	c.Details = details
	return &c
}

// WithRequestID returns a copy of the error with the request ID set.
func (e *APIError) WithRequestID(requestID string) *APIError {
	c := *e
	c.RequestID = requestID
	return &c
}

// New creates a new APIError with the given code and message.
func New(code, message string) *APIError {
	return &APIError{
		Code:    code,
		Message: message,
	}
}

// NewValidationError creates a validation error.
func NewValidationError(message string) *APIError {
	return New(CodeValidationError, message)
}

// NewNotFoundError creates a not found error.
func NewNotFoundError(message string) *APIError {
	return New(CodeNotFound, message)
}

// NewUnauthorizedError creates an unauthorized error.
func NewUnauthorizedError(message string) *APIError {
	return New(CodeUnauthorized, message)
}

// NewInternalError creates an internal server error.
func NewInternalError(message string) *APIError {
	return New(CodeInternalError, message)
}

// HTTPStatusCode returns the appropriate HTTP status code for the error.
func (e *APIError) HTTPStatusCode() int {
	switch e.Code {
	case CodeValidationError:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeConflict:
		return http.StatusConflict
	case CodeGone:
		return http.StatusGone
	case CodeUnprocessable:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// FromError maps a domain error to an APIError. Unrecognised errors become
// internal errors without leaking their message.
func FromError(err error) *APIError {
	var conflict *coordinator.BuildConflictError
	var cycle *validation.CycleError

	switch {
	case errors.As(err, &conflict):
		return New(CodeConflict, conflict.Error()).WithDetails(map[string]any{
			"configuration_id": conflict.ConfigurationID,
			"task_id":          conflict.TaskID,
		})
	case errors.As(err, &cycle):
		return New(CodeUnprocessable, cycle.Error()).WithDetails(map[string]any{
			"cycle": cycle.Path,
		})
	case errors.Is(err, validation.ErrCircularDependency):
		return New(CodeUnprocessable, err.Error())
	case errors.Is(err, coordinator.ErrTaskNotFound),
		errors.Is(err, coordinator.ErrSetNotFound),
		errors.Is(err, coordinator.ErrConfigurationNotFound),
		errors.Is(err, release.ErrMilestoneNotFound),
		errors.Is(err, release.ErrNoEntity):
		return NewNotFoundError(err.Error())
	case errors.Is(err, release.ErrReleaseInProgress):
		return New(CodeConflict, err.Error())
	case errors.Is(err, coordinator.ErrAlreadyCompleted),
		errors.Is(err, release.ErrReleaseCompleted):
		return New(CodeGone, err.Error())
	case errors.Is(err, coordinator.ErrInvalidRequest),
		errors.Is(err, coordinator.ErrNotStartable),
		errors.Is(err, models.ErrUnknownStatus),
		errors.Is(err, release.ErrUnknownEngine):
		return NewValidationError(err.Error())
	case errors.Is(err, process.ErrCredentialExpired):
		return NewUnauthorizedError(err.Error())
	default:
		return NewInternalError("An unexpected error occurred")
	}
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// WriteError writes an APIError as a JSON response.
func WriteError(w http.ResponseWriter, err *APIError) {
	WriteJSON(w, err.HTTPStatusCode(), err)
}
