package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/alnah/go-renderd"
)

// statusClientClosedRequest is nginx's non-standard code for a caller that
// went away before the response was ready.
const statusClientClosedRequest = 499

// kindRateLimited is reported by the rate limiter, before any job exists.
const kindRateLimited renderd.ErrorKind = "rate_limited"

// retryAfterSeconds is advertised on 429 and pool exhaustion.
const retryAfterSeconds = "1"

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Kind    renderd.ErrorKind `json:"kind"`
	Message string            `json:"message"`
}

// statusFor maps an error kind to its HTTP status.
func statusFor(kind renderd.ErrorKind) int {
	switch kind {
	case renderd.KindMalformedRequest:
		return http.StatusBadRequest
	case kindRateLimited:
		return http.StatusTooManyRequests
	case renderd.KindPoolExhausted, renderd.KindPoolClosed:
		return http.StatusServiceUnavailable
	case renderd.KindNavigationTimeout, renderd.KindCaptureTimeout:
		return http.StatusGatewayTimeout
	case renderd.KindNavigationError, renderd.KindCaptureError:
		return http.StatusBadGateway
	case renderd.KindCanceled:
		return statusClientClosedRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes err as a JSON ErrorResponse with the mapped status.
// Internal errors hide their message.
func writeError(w http.ResponseWriter, err error) {
	kind := renderd.KindOf(err)
	msg := err.Error()
	if kind == renderd.KindInternal {
		msg = "internal error"
	}
	writeKind(w, kind, msg)
}

func writeKind(w http.ResponseWriter, kind renderd.ErrorKind, msg string) {
	status := statusFor(kind)
	if status == http.StatusTooManyRequests || kind == renderd.KindPoolExhausted {
		w.Header().Set("Retry-After", retryAfterSeconds)
	}
	writeJSON(w, status, ErrorResponse{Kind: kind, Message: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeError turns a body decoding failure into a malformed request.
func decodeError(err error) error {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return fmt.Errorf("%w: request body exceeds %d bytes", renderd.ErrMalformedRequest, maxErr.Limit)
	}
	return fmt.Errorf("%w: invalid JSON body: %v", renderd.ErrMalformedRequest, err)
}

// trailingDataError reports what followed the JSON object in a body.
func trailingDataError(err error) error {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return decodeError(err)
	}
	return fmt.Errorf("%w: unexpected data after the JSON object", renderd.ErrMalformedRequest)
}
