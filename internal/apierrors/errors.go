package apierrors

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/render"
)

// Kind identifies a stable, machine-readable error category. Kinds are part
// of the wire contract: clients match on them, so they never change meaning.
type Kind string

const (
	KindRateLimitExceeded Kind = "RATE_LIMIT_EXCEEDED"
	KindExtensionNotFound Kind = "EXTENSION_NOT_FOUND"
	KindLicenseNotFound   Kind = "LICENSE_NOT_FOUND"
	KindLicenseExpired    Kind = "LICENSE_EXPIRED"
	KindSeatLimitExceeded Kind = "SEAT_LIMIT_EXCEEDED"
	KindLicenseRequired   Kind = "LICENSE_REQUIRED"
	KindDownloadFailed    Kind = "DOWNLOAD_FAILED"
	KindStoreUnavailable  Kind = "STORE_UNAVAILABLE"
	KindInvalidRequest    Kind = "INVALID_REQUEST"
)

// Error is the service-wide error type. Every failure that crosses a
// component boundary is one of these; the transport layer maps Kind to an
// HTTP status and renders the rest verbatim.
type Error struct {
	Kind    Kind
	Message string

	// RetryAfter is set only for KindRateLimitExceeded and carries the
	// remaining window time.
	RetryAfter time.Duration

	// Err is the underlying cause, if any. Not serialized.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the underlying cause to errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an Error with the given kind and message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an Error that records err as its cause.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// RateLimited creates a rate-limit error carrying the remaining window time.
func RateLimited(retryAfter time.Duration) *Error {
	return &Error{
		Kind:       KindRateLimitExceeded,
		Message:    "rate limit exceeded, retry later",
		RetryAfter: retryAfter,
	}
}

// IsKind reports whether err is (or wraps) an Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf returns the kind of err, or "" if err is not a service error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// HTTPStatus maps an error kind to its HTTP status code.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindRateLimitExceeded:
		return http.StatusTooManyRequests
	case KindExtensionNotFound, KindLicenseNotFound:
		return http.StatusNotFound
	case KindLicenseRequired, KindLicenseExpired, KindSeatLimitExceeded:
		return http.StatusForbidden
	case KindDownloadFailed:
		return http.StatusBadGateway
	case KindStoreUnavailable:
		return http.StatusServiceUnavailable
	case KindInvalidRequest:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// ErrResponse is the JSON error envelope, rendered via chi/render.
type ErrResponse struct {
	Err            error  `json:"-"`
	HTTPStatusCode int    `json:"-"`
	Success        bool   `json:"success"`
	Code           string `json:"code"`
	Message        string `json:"message"`
	RetryAfter     int    `json:"retry_after,omitempty"`
}

// Render implements the render.Renderer interface.
func (e *ErrResponse) Render(w http.ResponseWriter, r *http.Request) error {
	if e.RetryAfter > 0 {
		w.Header().Set("Retry-After", fmt.Sprintf("%d", e.RetryAfter))
	}
	render.Status(r, e.HTTPStatusCode)
	return nil
}

// Renderer converts any error into a renderable response. Unknown errors are
// reported as internal errors without leaking their message.
func Renderer(err error) *ErrResponse {
	var e *Error
	if !errors.As(err, &e) {
		return &ErrResponse{
			Err:            err,
			HTTPStatusCode: http.StatusInternalServerError,
			Code:           "INTERNAL_ERROR",
			Message:        "internal server error",
		}
	}
	resp := &ErrResponse{
		Err:            e,
		HTTPStatusCode: e.HTTPStatus(),
		Code:           string(e.Kind),
		Message:        e.Message,
	}
	if e.RetryAfter > 0 {
		resp.RetryAfter = int(e.RetryAfter.Seconds() + 0.5)
	}
	return resp
}
