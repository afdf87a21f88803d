package renderd

import (
	"context"
	"errors"
)

// Sentinel errors for rendering operations.
var (
	// Browser lifecycle errors. ErrLaunch never leaves the pool: a failed
	// launch is retried and only shows up as pool exhaustion.
	ErrLaunch = errors.New("failed to launch browser")

	// Pool errors.
	ErrPoolExhausted = errors.New("no browser available")
	ErrPoolClosed    = errors.New("browser pool closed")

	// Job errors surfaced to callers.
	ErrNavigationTimeout = errors.New("navigation timed out")
	ErrNavigation        = errors.New("navigation failed")
	ErrCaptureTimeout    = errors.New("capture timed out")
	ErrCapture           = errors.New("capture failed")

	// Request validation errors.
	ErrMalformedRequest = errors.New("malformed render request")
	ErrHTMLConversion   = errors.New("markdown conversion failed")
)

// ErrorKind is the stable, caller-facing name of an error class.
type ErrorKind string

// Error kinds reported by KindOf.
const (
	KindMalformedRequest  ErrorKind = "malformed_request"
	KindPoolExhausted     ErrorKind = "pool_exhausted"
	KindPoolClosed        ErrorKind = "pool_closed"
	KindNavigationTimeout ErrorKind = "navigation_timeout"
	KindNavigationError   ErrorKind = "navigation_error"
	KindCaptureTimeout    ErrorKind = "capture_timeout"
	KindCaptureError      ErrorKind = "capture_error"
	KindCanceled          ErrorKind = "canceled"
	KindInternal          ErrorKind = "internal"
)

// KindOf classifies err into an ErrorKind.
// It uses errors.Is, so callers must wrap with %w.
// Order matters: timeouts are checked before their generic counterparts.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrMalformedRequest), errors.Is(err, ErrHTMLConversion):
		return KindMalformedRequest
	case errors.Is(err, ErrPoolClosed):
		return KindPoolClosed
	case errors.Is(err, ErrPoolExhausted), errors.Is(err, ErrLaunch):
		return KindPoolExhausted
	case errors.Is(err, ErrNavigationTimeout):
		return KindNavigationTimeout
	case errors.Is(err, ErrNavigation):
		return KindNavigationError
	case errors.Is(err, ErrCaptureTimeout):
		return KindCaptureTimeout
	case errors.Is(err, ErrCapture):
		return KindCaptureError
	case errors.Is(err, context.Canceled):
		return KindCanceled
	default:
		return KindInternal
	}
}

// IsTimeout reports whether err is a job deadline error.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrNavigationTimeout) || errors.Is(err, ErrCaptureTimeout)
}
