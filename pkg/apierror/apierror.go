// Package apierror renders errors as the JSON body every secmon endpoint returns:
//
//	{"code": "NOT_FOUND", "message": "Scan not found"}
package apierror

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/openctemio/secmon/pkg/domain/shared"
)

// Code is the machine-readable error kind.
type Code string

const (
	CodeBadRequest         Code = "BAD_REQUEST"
	CodeNotFound           Code = "NOT_FOUND"
	CodeConflict           Code = "CONFLICT"
	CodeValidationFailed   Code = "VALIDATION_FAILED"
	CodeRateLimitExceeded  Code = "RATE_LIMIT_EXCEEDED"
	CodeInternalError      Code = "INTERNAL_ERROR"
	CodeServiceUnavailable Code = "SERVICE_UNAVAILABLE"
)

var statusOf = map[Code]int{
	CodeBadRequest:         http.StatusBadRequest,
	CodeNotFound:           http.StatusNotFound,
	CodeConflict:           http.StatusConflict,
	CodeValidationFailed:   http.StatusUnprocessableEntity,
	CodeRateLimitExceeded:  http.StatusTooManyRequests,
	CodeInternalError:      http.StatusInternalServerError,
	CodeServiceUnavailable: http.StatusServiceUnavailable,
}

// Error is an error that knows how to render itself. Err is kept for logs
// and never serialized.
type Error struct {
	Status  int
	Code    Code
	Message string
	Details any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Response is the wire form of an Error.
type Response struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// WriteJSON writes the status line and the JSON body.
func (e *Error) WriteJSON(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Status)
	_ = json.NewEncoder(w).Encode(Response{Code: e.Code, Message: e.Message, Details: e.Details})
}

func newError(code Code, message string, err error) *Error {
	return &Error{Status: statusOf[code], Code: code, Message: message, Err: err}
}

func BadRequest(message string) *Error {
	return newError(CodeBadRequest, message, nil)
}

// NotFound names the missing resource, e.g. NotFound("Scan").
func NotFound(resource string) *Error {
	if resource == "" {
		resource = "Resource"
	}
	return newError(CodeNotFound, resource+" not found", nil)
}

func ServiceUnavailable(message string) *Error {
	if message == "" {
		message = "Service temporarily unavailable"
	}
	return newError(CodeServiceUnavailable, message, nil)
}

func RateLimitExceeded() *Error {
	return newError(CodeRateLimitExceeded, "Rate limit exceeded", nil)
}

// InternalError hides err from the client.
func InternalError(err error) *Error {
	return newError(CodeInternalError, "An internal error occurred", err)
}

// FromError maps the shared domain sentinels to client errors. Anything it
// does not recognise becomes an internal error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}

	switch {
	case errors.Is(err, shared.ErrNotFound):
		return newError(CodeNotFound, "Resource not found", err)
	case errors.Is(err, shared.ErrValidation), errors.Is(err, shared.ErrInvalidInput):
		return newError(CodeValidationFailed, err.Error(), err)
	case errors.Is(err, shared.ErrConflict), errors.Is(err, shared.ErrAlreadyExists):
		return newError(CodeConflict, "Resource conflict", err)
	default:
		return InternalError(err)
	}
}

// FieldError is one failed request field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors collects field errors for a single 422 response.
type ValidationErrors []FieldError

func (v *ValidationErrors) Add(field, message string) {
	*v = append(*v, FieldError{Field: field, Message: message})
}

func (v ValidationErrors) HasErrors() bool { return len(v) > 0 }

func (v ValidationErrors) ToAPIError() *Error {
	e := newError(CodeValidationFailed, "Validation failed", nil)
	e.Details = v
	return e
}
