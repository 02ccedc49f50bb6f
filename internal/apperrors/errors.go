// Package apperrors provides common static errors used throughout the application.
package apperrors

import (
	"errors"
	"fmt"
)

// HTTPError represents an HTTP error with a status code.
type HTTPError struct {
	StatusCode int
	Body       string
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("HTTP %d", e.StatusCode)
}

// NewHTTPError creates a new HTTPError.
func NewHTTPError(statusCode int, body string) *HTTPError {
	return &HTTPError{StatusCode: statusCode, Body: body}
}

// Common static errors used throughout the application.
var (
	// ErrRemoteUnavailable covers every way a shared-store request can
	// fail: transport error, non-2xx status, malformed response body.
	// Callers degrade to local mode on it rather than failing.
	ErrRemoteUnavailable = errors.New("shared store unavailable")

	// ErrPageKeyRequired is returned when a page key is missing or trims to empty.
	ErrPageKeyRequired = errors.New("page key required (--page or PIN_PAGE env var)")

	// ErrNoteIDRequired is returned when an update or delete carries no note ID.
	ErrNoteIDRequired = errors.New("note id required")

	// ErrTextRequired is returned when a note's text trims to empty.
	ErrTextRequired = errors.New("note text required")

	// ErrInvalidPin is returned when pin coordinates are not finite numbers.
	ErrInvalidPin = errors.New("pin coordinates must be finite numbers")

	// ErrEndpointRequired is returned when no shared-store endpoint is configured.
	ErrEndpointRequired = errors.New("shared store endpoint required (--endpoint or PIN_ENDPOINT env var)")

	// ErrStorageNotConfigured is returned by the server when no KV backend is wired.
	ErrStorageNotConfigured = errors.New("storage backend not configured")

	// ErrUnknownAction is returned for mutation actions outside add/update/delete/clear.
	ErrUnknownAction = errors.New("unknown action")

	// ErrMaxRetriesExceeded is returned when the maximum number of retries is exceeded.
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")
)
