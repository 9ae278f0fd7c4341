package apiclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// Kind classifies a failed call.
type Kind string

const (
	KindRateLimited Kind = "rate_limited"
	KindAuth        Kind = "auth"
	KindRejected    Kind = "rejected"
	KindServer      Kind = "server"
	KindNetwork     Kind = "network"
	KindTimeout     Kind = "timeout"
)

// Error is the typed failure returned by a Client.
type Error struct {
	StatusCode int
	Kind       Kind
	Message    string
	RetryAfter time.Duration
	Err        error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("api %s (status %d): %s", e.Kind, e.StatusCode, msg)
	}
	return fmt.Sprintf("api %s: %s", e.Kind, msg)
}

// Unwrap returns the transport error, if any.
func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the Kind of err, or "" when err is not an *Error.
func KindOf(err error) Kind {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return ""
}

// IsThrottled reports whether err is a "too many requests" response.
func IsThrottled(err error) bool {
	return KindOf(err) == KindRateLimited
}

// KindForStatus maps an HTTP status code to a Kind. Success codes map to "".
func KindForStatus(code int) Kind {
	switch {
	case code < 400:
		return ""
	case code == http.StatusTooManyRequests:
		return KindRateLimited
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return KindAuth
	case code == http.StatusRequestTimeout, code == http.StatusGatewayTimeout:
		return KindTimeout
	case code >= 500:
		return KindServer
	default:
		return KindRejected
	}
}

// transportError classifies an error returned by the HTTP transport.
func transportError(err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Kind: KindTimeout, Err: err}
	}
	return &Error{Kind: KindNetwork, Err: err}
}
