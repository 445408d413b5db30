// Package apperror defines the typed errors services return to the HTTP boundary.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/siteinspect/apiserver/internal/store"
)

// Machine-readable error codes.
const (
	CodeValidation     = "VALIDATION_ERROR"
	CodeAuthentication = "UNAUTHORIZED"
	CodeAuthorization  = "FORBIDDEN"
	CodeNotFound       = "NOT_FOUND"
	CodeConflict       = "CONFLICT"
	CodeUpload         = "UPLOAD_FAILED"
	CodeRateLimited    = "TOO_MANY_REQUESTS"
	CodeInternal       = "INTERNAL_ERROR"
)

// FieldError describes a single invalid input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error is an error carrying an HTTP status and a machine-readable code.
type Error struct {
	Status  int
	Code    string
	Message string
	Fields  []FieldError
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Validation returns a 422 error listing the offending fields.
func Validation(fields ...FieldError) *Error {
	msg := "validation failed"
	if len(fields) == 1 {
		msg = fields[0].Field + ": " + fields[0].Message
	}
	return &Error{Status: http.StatusUnprocessableEntity, Code: CodeValidation, Message: msg, Fields: fields}
}

// Field is shorthand for a single-field validation error.
func Field(field, message string) *Error {
	return Validation(FieldError{Field: field, Message: message})
}

func Authentication(message string) *Error {
	return &Error{Status: http.StatusUnauthorized, Code: CodeAuthentication, Message: message}
}

func Authorization(message string) *Error {
	return &Error{Status: http.StatusForbidden, Code: CodeAuthorization, Message: message}
}

// NotFound returns a 404 error for the named entity.
func NotFound(entity string) *Error {
	return &Error{Status: http.StatusNotFound, Code: CodeNotFound, Message: strings.TrimSpace(entity + " not found")}
}

func Conflict(message string) *Error {
	return &Error{Status: http.StatusConflict, Code: CodeConflict, Message: message}
}

// Upload wraps a storage failure.
func Upload(err error) *Error {
	return &Error{Status: http.StatusBadGateway, Code: CodeUpload, Message: "failed to upload images", Err: err}
}

func RateLimited() *Error {
	return &Error{Status: http.StatusTooManyRequests, Code: CodeRateLimited, Message: "too many requests"}
}

// Internal wraps an unexpected error. Its message is never the wrapped error.
func Internal(err error) *Error {
	return &Error{Status: http.StatusInternalServerError, Code: CodeInternal, Message: "internal server error", Err: err}
}

// From converts any error into an *Error. Repository sentinels are mapped to
// their HTTP equivalents; everything else becomes Internal.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	switch {
	case errors.Is(err, store.ErrNotFound):
		return &Error{Status: http.StatusNotFound, Code: CodeNotFound, Message: "resource not found", Err: err}
	case errors.Is(err, store.ErrConflict):
		return &Error{Status: http.StatusConflict, Code: CodeConflict, Message: "resource already exists", Err: err}
	default:
		return Internal(err)
	}
}

// Is reports whether err is an *Error with the given code.
func Is(err error, code string) bool {
	var appErr *Error
	return errors.As(err, &appErr) && appErr.Code == code
}
