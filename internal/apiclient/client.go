// Package apiclient defines the contract for calling an external integration API
// and an HTTP implementation of it.
package apiclient

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// Method is the closed set of request kinds the core issues.
type Method int

const (
	MethodGet Method = iota + 1
	MethodPost
	MethodPut
	MethodDelete
)

// String returns the HTTP verb for m.
func (m Method) String() string {
	switch m {
	case MethodGet:
		return http.MethodGet
	case MethodPost:
		return http.MethodPost
	case MethodPut:
		return http.MethodPut
	case MethodDelete:
		return http.MethodDelete
	default:
		return fmt.Sprintf("Method(%d)", int(m))
	}
}

// ParseMethod maps an HTTP verb to a Method.
func ParseMethod(s string) (Method, error) {
	switch strings.ToUpper(s) {
	case http.MethodGet:
		return MethodGet, nil
	case http.MethodPost:
		return MethodPost, nil
	case http.MethodPut:
		return MethodPut, nil
	case http.MethodDelete:
		return MethodDelete, nil
	}
	return 0, fmt.Errorf("unsupported method %q", s)
}

// Request is one outbound call.
type Request struct {
	Method   Method
	Endpoint string
	Payload  []byte
	Headers  map[string]string
}

// Operation names the request for logs and errors, e.g. "GET /pages/r1".
func (r Request) Operation() string {
	return r.Method.String() + " " + r.Endpoint
}

// Response is the raw result of a successful call.
type Response struct {
	StatusCode int
	Body       []byte
	Headers    http.Header
}

// Client performs calls against one external service.
// Failures are reported as *Error so callers can tell throttling from auth
// failures and generic errors.
type Client interface {
	Call(ctx context.Context, req Request) (*Response, error)
}

// ClientFunc adapts a function to Client.
type ClientFunc func(ctx context.Context, req Request) (*Response, error)

// Call calls f.
func (f ClientFunc) Call(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}
