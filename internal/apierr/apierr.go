// Package apierr defines the application error taxonomy and renders every
// failure into the single JSON error envelope returned by the API.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Code is a machine-readable error code.
type Code string

// Error codes returned in the envelope.
const (
	CodeValidation           Code = "VALIDATION_ERROR"
	CodeInvalidQueryParam    Code = "INVALID_QUERY_PARAM"
	CodeInvalidBody          Code = "INVALID_BODY"
	CodeBadRequest           Code = "BAD_REQUEST"
	CodeUnauthorized         Code = "UNAUTHORIZED"
	CodeForbidden            Code = "FORBIDDEN"
	CodeNotFound             Code = "NOT_FOUND"
	CodeConflict             Code = "CONFLICT"
	CodeUnprocessable        Code = "UNPROCESSABLE"
	CodeRateLimitExceeded    Code = "RATE_LIMIT_EXCEEDED"
	CodePayloadTooLarge      Code = "PAYLOAD_TOO_LARGE"
	CodeUnsupportedMediaType Code = "UNSUPPORTED_MEDIA_TYPE"
	CodeInternal             Code = "INTERNAL_ERROR"
)

// FieldError is one structured validation failure.
type FieldError struct {
	Path     string `json:"path"`
	Message  string `json:"message"`
	Code     string `json:"code"`
	Expected string `json:"expected,omitempty"`
	Received string `json:"received,omitempty"`
}

// Error is an application error with a status and envelope code.
type Error struct {
	Code    Code
	Status  int
	Message string
	Field   string
	Errors  []FieldError
	Meta    map[string]any

	cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.cause
}

// WithMeta returns a copy of e with an extra metadata entry.
func (e *Error) WithMeta(key string, value any) *Error {
	cp := *e
	cp.Meta = make(map[string]any, len(e.Meta)+1)
	for k, v := range e.Meta {
		cp.Meta[k] = v
	}
	cp.Meta[key] = value
	return &cp
}

// Wrap attaches a cause that is logged server-side but never rendered.
func (e *Error) Wrap(cause error) *Error {
	cp := *e
	cp.cause = cause
	return &cp
}

// New builds an error with an explicit code and status.
func New(code Code, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Validation returns a 400 carrying the full aggregated error list.
// The message is taken from the first error.
func Validation(errs []FieldError) *Error {
	msg := "validation failed"
	field := ""
	if len(errs) > 0 {
		field = errs[0].Path
		if field != "" {
			msg = field + ": " + errs[0].Message
		} else {
			msg = errs[0].Message
		}
	}
	return &Error{
		Code:    CodeValidation,
		Status:  http.StatusBadRequest,
		Message: msg,
		Field:   field,
		Errors:  errs,
	}
}

// InvalidQueryParam returns a 400 naming the offending query keys.
func InvalidQueryParam(message string, params ...string) *Error {
	e := New(CodeInvalidQueryParam, http.StatusBadRequest, message)
	if len(params) > 0 {
		e.Meta = map[string]any{"params": params}
	}
	return e
}

// InvalidBody returns a 400 for malformed request bodies.
func InvalidBody(message string) *Error {
	return New(CodeInvalidBody, http.StatusBadRequest, message)
}

// BadRequest returns a generic 400.
func BadRequest(message string) *Error {
	return New(CodeBadRequest, http.StatusBadRequest, message)
}

// Unauthorized returns a 401.
func Unauthorized(message string) *Error {
	return New(CodeUnauthorized, http.StatusUnauthorized, message)
}

// Forbidden returns a 403 naming the permission the caller lacks.
func Forbidden(permission string) *Error {
	e := New(CodeForbidden, http.StatusForbidden, "insufficient permissions")
	if permission != "" {
		e.Message = "missing permission " + permission
		e.Meta = map[string]any{"permission": permission}
	}
	return e
}

// NotFound returns a 404 for a resource.
func NotFound(resource, id string) *Error {
	msg := resource + " not found"
	if id != "" {
		msg = fmt.Sprintf("%s %q not found", resource, id)
	}
	return New(CodeNotFound, http.StatusNotFound, msg)
}

// Conflict returns a 409.
func Conflict(message string) *Error {
	return New(CodeConflict, http.StatusConflict, message)
}

// Unprocessable returns a 422, used for invalid workflow transitions.
func Unprocessable(message string) *Error {
	return New(CodeUnprocessable, http.StatusUnprocessableEntity, message)
}

// RateLimited returns a 429 with retry guidance in seconds.
func RateLimited(retryAfter int) *Error {
	e := New(CodeRateLimitExceeded, http.StatusTooManyRequests, "rate limit exceeded")
	e.Meta = map[string]any{"retryAfter": retryAfter}
	return e
}

// PayloadTooLarge returns a 413.
func PayloadTooLarge(limit int64) *Error {
	e := New(CodePayloadTooLarge, http.StatusRequestEntityTooLarge,
		fmt.Sprintf("request body exceeds %d bytes", limit))
	e.Meta = map[string]any{"maxBytes": limit}
	return e
}

// UnsupportedMediaType returns a 415.
func UnsupportedMediaType(contentType string, allowed []string) *Error {
	e := New(CodeUnsupportedMediaType, http.StatusUnsupportedMediaType,
		fmt.Sprintf("unsupported content type %q", contentType))
	e.Meta = map[string]any{"allowed": strings.Join(allowed, ", ")}
	return e
}

// Internal returns the generic 500. The cause is never rendered.
func Internal(cause error) *Error {
	return &Error{
		Code:    CodeInternal,
		Status:  http.StatusInternalServerError,
		Message: "internal server error",
		cause:   cause,
	}
}

// From normalizes any error into an *Error. Unrecognized errors become
// INTERNAL_ERROR with the original kept only as the unexported cause.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return Internal(err)
}
