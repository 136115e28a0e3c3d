package verdict

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for use with errors.Is().
var (
	// ErrInvalidRequest is returned when the server rejects the request
	// body or query parameters.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrNotFound is returned when the addressed resource does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when the request collides with existing
	// state, such as a duplicate policy id or an already resolved
	// escalation.
	ErrConflict = errors.New("conflict")

	// ErrForbidden is returned when the operation is not permitted, such
	// as deleting a base policy.
	ErrForbidden = errors.New("forbidden")

	// ErrServerUnreachable is returned when the verdict server cannot be
	// contacted and the client's fail mode is closed.
	ErrServerUnreachable = errors.New("server unreachable")
)

// APIError is a non-2xx response from the server. Message carries the
// server's error body verbatim.
type APIError struct {
	// Status is the HTTP status code.
	Status int
	// Message is the server-provided error message.
	Message string
}

// Error returns a human-readable description of the API error.
func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("verdict: %s (status %d)", e.Message, e.Status)
	}
	return fmt.Sprintf("verdict: status %d", e.Status)
}

// Is maps the status code onto the package sentinels, so callers can
// write errors.Is(err, verdict.ErrNotFound) without inspecting codes.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrInvalidRequest:
		return e.Status == http.StatusBadRequest
	case ErrNotFound:
		return e.Status == http.StatusNotFound
	case ErrConflict:
		return e.Status == http.StatusConflict
	case ErrForbidden:
		return e.Status == http.StatusForbidden
	}
	return false
}

// ServerUnreachableError is returned when the verdict server cannot be
// contacted.
type ServerUnreachableError struct {
	// Cause is the underlying transport error.
	Cause error
}

// Error returns a human-readable description of the connection failure.
func (e *ServerUnreachableError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("server unreachable: %v", e.Cause)
	}
	return "server unreachable"
}

// Unwrap returns the underlying error cause.
func (e *ServerUnreachableError) Unwrap() error {
	return e.Cause
}

// Is reports whether this error matches the target error.
// It supports errors.Is(err, ErrServerUnreachable).
func (e *ServerUnreachableError) Is(target error) bool {
	return target == ErrServerUnreachable
}
