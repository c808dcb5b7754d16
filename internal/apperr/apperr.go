// Package apperr defines the wire-level error types used throughout the
// Rekon storage service.
package apperr

import "fmt"

// Error represents a storage API error with a machine-readable code,
// human-readable message, and HTTP status code. The code travels on the wire
// in the JSON error envelope, so other Rekon services match on it.
type Error struct {
	// Code is the wire error code (e.g., "session-not-found").
	Code string
	// Message is a human-readable description of the error.
	Message string
	// HTTPStatus is the HTTP status code to return (e.g., 404, 403).
	HTTPStatus int
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Code, e.HTTPStatus, e.Message)
}

// WithMessage returns a copy of the Error with the message replaced. The
// original sentinel value is left untouched so errors.Is comparisons on the
// predefined values below keep working via Is.
func (e *Error) WithMessage(msg string) *Error {
	cp := *e
	cp.Message = msg
	return &cp
}

// Is reports whether target is an *Error with the same code, so copies made
// by WithMessage still match their sentinel under errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Pre-defined errors for the conditions the upload engine distinguishes.
var (
	// ErrAuthInvalid is returned when the caller's identity token is bad or
	// expired. Terminal for the call; the client must re-authenticate.
	ErrAuthInvalid = &Error{
		Code:       "token-invalid",
		Message:    "User token does not exist. Try relogging.",
		HTTPStatus: 401,
	}

	// ErrAuthUnavailable is returned when the auth service cannot be reached
	// within the configured timeout. Retryable with backoff.
	ErrAuthUnavailable = &Error{
		Code:       "auth-unavailable",
		Message:    "Authentication service is unreachable. Please retry.",
		HTTPStatus: 503,
	}

	// ErrSessionNotFound is returned when the upload token is unknown.
	ErrSessionNotFound = &Error{
		Code:       "session-not-found",
		Message:    "Upload session does not exist.",
		HTTPStatus: 404,
	}

	// ErrTokenMismatch is returned when the caller does not own the session.
	ErrTokenMismatch = &Error{
		Code:       "token-mismatch",
		Message:    "Upload session is not owned by this account.",
		HTTPStatus: 403,
	}

	// ErrChunkCountMismatch is returned when finalize finds a staged chunk
	// count different from the expected count. The session stays pending and
	// all staged chunks are purged; the caller re-uploads and retries.
	ErrChunkCountMismatch = &Error{
		Code:       "chunk-count-mismatch",
		Message:    "Staged chunk count does not match the expected count. Re-upload and retry.",
		HTTPStatus: 409,
	}

	// ErrNotFound is returned when a completed artifact does not exist.
	ErrNotFound = &Error{
		Code:       "file-not-found",
		Message:    "The requested file does not exist.",
		HTTPStatus: 404,
	}

	// ErrStorageIO is returned for underlying read/write failures. Reported
	// as transient; safe for the caller to retry.
	ErrStorageIO = &Error{
		Code:       "storage-io",
		Message:    "A storage operation failed. Please retry.",
		HTTPStatus: 500,
	}

	// ErrInvalidLocation is returned for an unknown upload destination
	// category.
	ErrInvalidLocation = &Error{
		Code:       "store-location-invalid",
		Message:    "Upload location invalid",
		HTTPStatus: 400,
	}

	// ErrInvalidArgument is returned for generally invalid request values.
	ErrInvalidArgument = &Error{
		Code:       "invalid-argument",
		Message:    "Invalid argument",
		HTTPStatus: 400,
	}
)
