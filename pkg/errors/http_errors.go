package errors

import (
	"net/http"
)

// FromError converts a standard error to an AppError
// If the error is already an AppError (anywhere in its chain), it is returned as-is
// Otherwise, it is wrapped as an internal server error
func FromError(err error) *AppError {
	if err == nil {
		return nil
	}
	if appErr, ok := As(err); ok {
		return appErr
	}
	return NewInternalServerError("an unexpected error occurred", err)
}

// GetStatusCode extracts the HTTP status code from an AppError, returns 500 if not an AppError
func GetStatusCode(err error) int {
	if appErr, ok := As(err); ok && appErr.StatusCode != 0 {
		return appErr.StatusCode
	}
	return http.StatusInternalServerError
}

// GetErrorCode extracts the error code from an AppError, returns "UNKNOWN_ERROR" if not an AppError
func GetErrorCode(err error) string {
	if appErr, ok := As(err); ok {
		return appErr.Code
	}
	return "UNKNOWN_ERROR"
}

// GetErrorMessage returns the human-readable message shown to clients.
// Upstream causes are appended so the clinician sees why generation failed.
func GetErrorMessage(err error) string {
	appErr, ok := As(err)
	if !ok {
		return err.Error()
	}
	if appErr.Err != nil && appErr.Code != CodeInternal {
		return appErr.Message + ": " + appErr.Err.Error()
	}
	return appErr.Message
}
