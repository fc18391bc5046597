package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a unique error code
type ErrorCode int

// AppError represents an application error
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
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

// HTTPStatus maps the error code to the status returned by the API.
func (e *AppError) HTTPStatus() int {
	switch e.Code {
	case ErrNotFound:
		return http.StatusNotFound
	case ErrBadRequest:
		return http.StatusBadRequest
	case ErrUnauthorized:
		return http.StatusUnauthorized
	case ErrForbidden:
		return http.StatusForbidden
	case ErrInvalidState, ErrConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// StatusCode lets the gin error middleware pick the status without importing this package.
func (e *AppError) StatusCode() int {
	return e.HTTPStatus()
}

// Common error codes
const (
	ErrNotFound ErrorCode = iota + 1000
	ErrBadRequest
	ErrUnauthorized
	ErrForbidden
	ErrInternal
	ErrInvalidState
	ErrConflict
)

// Sentinels returned by repositories. Services wrap them into AppErrors.
var (
	ErrRecordNotFound = stderrors.New("record not found")
	ErrStaleVersion   = stderrors.New("record was modified concurrently")
)

// Error constructors
func NewNotFound(resource string, err error) *AppError {
	return &AppError{
		Code:    ErrNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Err:     err,
	}
}

func NewBadRequest(message string, err error) *AppError {
	return &AppError{
		Code:    ErrBadRequest,
		Message: message,
		Err:     err,
	}
}

func NewInternal(err error) *AppError {
	return &AppError{
		Code:    ErrInternal,
		Message: "internal server error",
		Err:     err,
	}
}

// Common errors
func NotFound(resource string, err error) *AppError {
	return NewNotFound(resource, err)
}

func BadRequest(message string, err error) *AppError {
	return NewBadRequest(message, err)
}

// Validation is the ValidationFailure kind: a required reason or comment is
// missing, or input is malformed. Always raised before any mutation.
func Validation(format string, args ...interface{}) *AppError {
	return &AppError{
		Code:    ErrBadRequest,
		Message: fmt.Sprintf(format, args...),
	}
}

func Internal(err error) *AppError {
	return NewInternal(err)
}

func Unauthorized(err error) *AppError {
	return &AppError{
		Code:    ErrUnauthorized,
		Message: "unauthorized",
		Err:     err,
	}
}

func Forbidden(format string, args ...interface{}) *AppError {
	return &AppError{
		Code:    ErrForbidden,
		Message: fmt.Sprintf(format, args...),
	}
}

// InvalidState reports a transition attempted from a state that does not permit it.
func InvalidState(format string, args ...interface{}) *AppError {
	return &AppError{
		Code:    ErrInvalidState,
		Message: fmt.Sprintf(format, args...),
	}
}

// Conflict reports a stale read detected by the optimistic version check.
func Conflict(resource string, err error) *AppError {
	return &AppError{
		Code:    ErrConflict,
		Message: fmt.Sprintf("%s was modified concurrently, reload and retry", resource),
		Err:     err,
	}
}

// FromRepo translates repository sentinels into AppErrors.
func FromRepo(resource string, err error) error {
	switch {
	case err == nil:
		return nil
	case stderrors.Is(err, ErrRecordNotFound):
		return NotFound(resource, err)
	case stderrors.Is(err, ErrStaleVersion):
		return Conflict(resource, err)
	}
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return err
	}
	return Internal(err)
}

func hasCode(err error, code ErrorCode) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr) && appErr.Code == code
}

func IsNotFound(err error) bool     { return hasCode(err, ErrNotFound) }
func IsBadRequest(err error) bool   { return hasCode(err, ErrBadRequest) }
func IsForbidden(err error) bool    { return hasCode(err, ErrForbidden) }
func IsInvalidState(err error) bool { return hasCode(err, ErrInvalidState) }
func IsConflict(err error) bool     { return hasCode(err, ErrConflict) }

// IsRecordNotFound matches both the repository sentinel and a NotFound AppError.
func IsRecordNotFound(err error) bool {
	return stderrors.Is(err, ErrRecordNotFound) || IsNotFound(err)
}

// IsStale matches the optimistic-lock sentinel and a Conflict AppError.
func IsStale(err error) bool {
	return stderrors.Is(err, ErrStaleVersion) || IsConflict(err)
}
