// Package classify maps low-level transport and protocol failures raised
// by provider adapters onto a closed taxonomy the router can act on.
package classify

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"strings"
)

// Kind is a member of the closed error taxonomy. Adapters and the router
// must never produce a Kind outside this set.
type Kind string

const (
	NetworkError        Kind = "network_error"
	Timeout             Kind = "timeout"
	ServiceError        Kind = "service_error"
	RateLimitExceeded   Kind = "rate_limit_exceeded"
	DataError           Kind = "data_error"
	AuthenticationError Kind = "authentication_error"
	NotFound            Kind = "not_found"
	Unknown             Kind = "unknown"
)

// ErrNotFound is the sentinel adapters wrap to signal that the upstream
// responded but the target entity does not exist.
var ErrNotFound = errors.New("not found")

// Error pairs a classified Kind with the underlying cause. Adapters may
// return one directly to pre-classify a failure the generic Classify
// heuristics could not otherwise place correctly.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// HTTPError lets adapters report a raw upstream status code and let
// Classify apply the table in spec.md §4.1 instead of duplicating it.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return "upstream http error"
}

// Classify maps err onto the taxonomy. The second return value reports
// whether err represents caller-initiated cancellation, which is never a
// provider failure and must be propagated unchanged by the caller.
func Classify(err error) (Kind, bool) {
	if err == nil {
		return Unknown, false
	}

	if errors.Is(err, context.Canceled) {
		return Unknown, true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Timeout, false
	}

	var classified *Error
	if errors.As(err, &classified) {
		return classified.Kind, false
	}

	if errors.Is(err, ErrNotFound) {
		return NotFound, false
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return classifyHTTPStatus(httpErr.StatusCode, httpErr.Body), false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return Timeout, false
		}
		return NetworkError, false
	}

	if isSyntaxOrTypeError(err) {
		return DataError, false
	}

	if looksLikeNotFound(err.Error()) {
		return NotFound, false
	}

	return Unknown, false
}

func classifyHTTPStatus(status int, body string) Kind {
	switch {
	case status == 429:
		return RateLimitExceeded
	case status == 401 || status == 403:
		return AuthenticationError
	case status == 404:
		return NotFound
	case status >= 400 && status < 600:
		if looksLikeNotFound(body) {
			return NotFound
		}
		return ServiceError
	default:
		return Unknown
	}
}

func isSyntaxOrTypeError(err error) bool {
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		return true
	}
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &typeErr)
}

func looksLikeNotFound(s string) bool {
	s = strings.ToLower(s)
	return strings.Contains(s, "not found") || strings.Contains(s, "no data") || strings.Contains(s, "404")
}
