package domain

import (
	"context"
	"errors"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrLockHeld      = errors.New("lock already held")
	ErrInvalidInput  = errors.New("invalid input")

	ErrUpstreamUnavailable   = errors.New("upstream unavailable")
	ErrMalformedUpstreamData = errors.New("malformed upstream data")
	ErrNoDataAvailable       = errors.New("no data available")
	ErrConfiguration         = errors.New("configuration error")
	ErrConflict              = errors.New("conflict or stale state")
)

// ErrorKind is the machine-readable category carried by every error that
// crosses a component boundary.
type ErrorKind string

const (
	KindUpstreamUnavailable   ErrorKind = "upstream_unavailable"
	KindMalformedUpstreamData ErrorKind = "malformed_upstream_data"
	KindNoDataAvailable       ErrorKind = "no_data_available"
	KindConfiguration         ErrorKind = "configuration_error"
	KindConflictOrStale       ErrorKind = "conflict_or_stale_state"
	KindNotFound              ErrorKind = "not_found"
	KindInvalidInput          ErrorKind = "invalid_input"
	KindUnauthorized          ErrorKind = "unauthorized"
	KindRateLimited           ErrorKind = "rate_limited"
	KindInternal              ErrorKind = "internal"
)

// KindOf classifies err. Unknown errors are internal.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUpstreamUnavailable),
		errors.Is(err, context.DeadlineExceeded):
		return KindUpstreamUnavailable
	case errors.Is(err, ErrMalformedUpstreamData):
		return KindMalformedUpstreamData
	case errors.Is(err, ErrNoDataAvailable):
		return KindNoDataAvailable
	case errors.Is(err, ErrConfiguration):
		return KindConfiguration
	case errors.Is(err, ErrConflict), errors.Is(err, ErrLockHeld):
		return KindConflictOrStale
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	case errors.Is(err, ErrUnauthorized):
		return KindUnauthorized
	case errors.Is(err, ErrRateLimited):
		return KindRateLimited
	default:
		return KindInternal
	}
}

// Transient reports whether retrying the failed call may succeed.
func Transient(err error) bool {
	return errors.Is(err, ErrUpstreamUnavailable) ||
		errors.Is(err, ErrRateLimited) ||
		errors.Is(err, context.DeadlineExceeded)
}
