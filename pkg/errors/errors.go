package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// Error codes surfaced by the recording pipeline and the REST API
const (
	CodeNotFound     = "NOT_FOUND"
	CodeNotOpen      = "NOT_OPEN"
	CodeDecode       = "DECODE_ERROR"
	CodeUpstream     = "UPSTREAM_ERROR"
	CodeValidation   = "VALIDATION_ERROR"
	CodeInvalidState = "INVALID_STATE"
	CodeInternal     = "INTERNAL_ERROR"
)

// AppError represents an application error with HTTP status code and error code
type AppError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	Details    any    `json:"details,omitempty"`
	Err        error  `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matches any AppError carrying the same code, so errors.Is works against
// the sentinel values below.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}

// Wrap records the cause of the error
func (e *AppError) Wrap(err error) *AppError {
	e.Err = err
	return e
}

// Sentinels for errors.Is comparisons
var (
	ErrNotFound     = &AppError{Code: CodeNotFound}
	ErrNotOpen      = &AppError{Code: CodeNotOpen}
	ErrDecode       = &AppError{Code: CodeDecode}
	ErrUpstream     = &AppError{Code: CodeUpstream}
	ErrValidation   = &AppError{Code: CodeValidation}
	ErrInvalidState = &AppError{Code: CodeInvalidState}
)

// NewError creates a new application error
func NewError(statusCode int, code string, message string) *AppError {
	return &AppError{
		StatusCode: statusCode,
		Code:       code,
		Message:    message,
	}
}

// NewNotFoundError reports a missing visit, user or template
func NewNotFoundError(entity, id string) *AppError {
	return NewError(http.StatusNotFound, CodeNotFound, fmt.Sprintf("%s %s not found", entity, id))
}

// NewNotOpenError reports audio sent without an open transcription session
func NewNotOpenError(visitID string) *AppError {
	return NewError(http.StatusConflict, CodeNotOpen, fmt.Sprintf("no open transcription session for visit %s", visitID))
}

// NewDecodeError reports a malformed audio payload
func NewDecodeError(message string, err error) *AppError {
	return NewError(http.StatusBadRequest, CodeDecode, message).Wrap(err)
}

// NewUpstreamError reports a transcription or language-model failure
func NewUpstreamError(service string, err error) *AppError {
	return NewError(http.StatusBadGateway, CodeUpstream, service+" request failed").Wrap(err)
}

// NewValidationError reports a missing or malformed control-event field
func NewValidationError(message string) *AppError {
	return NewError(http.StatusBadRequest, CodeValidation, message)
}

// NewInvalidStateError reports a transition the visit state machine rejects
func NewInvalidStateError(message string) *AppError {
	return NewError(http.StatusConflict, CodeInvalidState, message)
}

// NewInternalServerError creates a 500 Internal Server Error
func NewInternalServerError(message string, err error) *AppError {
	return NewError(http.StatusInternalServerError, CodeInternal, message).Wrap(err)
}

// As is a shortcut for errors.As with an *AppError target
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}
