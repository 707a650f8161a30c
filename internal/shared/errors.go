package shared

import (
	"errors"
	"fmt"
)

// Error kinds classify failures the way repositories, connectors, and the
// workflow engine report them. Callers match with [errors.Is].
var (
	ErrNotImplemented = fmt.Errorf("not implemented")

	// ErrNotFound signals an entity lookup miss; the caller decides whether
	// that is fatal.
	ErrNotFound = fmt.Errorf("not found")
	// ErrConflict signals a unique constraint violation on upsert.
	ErrConflict = fmt.Errorf("conflict")
	// ErrValidation signals invalid domain input (empty artists, bad
	// confidence, a string-keyed metrics map).
	ErrValidation = fmt.Errorf("validation failed")
	// ErrDependency signals a missing context input at a node boundary
	// (absent tracklist, unknown reference task id).
	ErrDependency = fmt.Errorf("dependency missing")
	// ErrTransientExternal signals a network/rate-limit/5xx failure from an
	// external service; safe to retry with backoff.
	ErrTransientExternal = fmt.Errorf("transient external error")
	// ErrPermanentExternal signals a non-rate-limit 4xx from an external
	// service; surfaced, never retried.
	ErrPermanentExternal = fmt.Errorf("permanent external error")
	// ErrTransaction signals a database error outside the above kinds;
	// fatal to the current unit of work.
	ErrTransaction = fmt.Errorf("transaction error")

	// Configuration errors
	ErrMissingConfig      = fmt.Errorf("configuration not found")
	ErrInvalidConfig      = fmt.Errorf("invalid configuration")
	ErrMissingCredentials = fmt.Errorf("missing credentials")
	ErrInvalidCredentials = fmt.Errorf("invalid credentials")

	// Authentication errors
	ErrAuthFailed       = fmt.Errorf("authentication failed")
	ErrNotAuthenticated = fmt.Errorf("not authenticated")
	ErrTokenExpired     = fmt.Errorf("access token expired")

	// API and service errors
	ErrAPIRequest         = fmt.Errorf("API request failed")
	ErrServiceUnavailable = fmt.Errorf("service unavailable")
	ErrPlaylistNotFound   = fmt.Errorf("playlist not found")
	ErrTrackNotFound      = fmt.Errorf("track not found")

	// Input validation errors
	ErrInvalidInput    = fmt.Errorf("invalid input")
	ErrMissingArgument = fmt.Errorf("missing required argument")
	ErrInvalidArgument = fmt.Errorf("invalid argument")
)

// Wrap annotates err with msg while preserving the original for
// [errors.Is]/[errors.As] matching against the sentinel kinds above.
func Wrap(kind error, msg string, cause error) error {
	if cause == nil {
		return fmt.Errorf("%w: %s", kind, msg)
	}
	return fmt.Errorf("%w: %s: %v", kind, msg, cause)
}

// Is reports whether err is (or wraps) one of the sentinel error kinds.
func Is(err, kind error) bool {
	return errors.Is(err, kind)
}
