package apiclient

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// HTTPConfig configures an HTTPClient.
type HTTPConfig struct {
	BaseURL string
	// Headers are sent on every request (e.g. Authorization, API version).
	Headers map[string]string
	Timeout time.Duration
}

type handlerFunc func(ctx context.Context, req Request) (*Response, error)

// HTTPClient implements Client over net/http.
type HTTPClient struct {
	baseURL  string
	headers  map[string]string
	client   *http.Client
	handlers map[Method]handlerFunc
}

// NewHTTPClient creates a new HTTPClient.
func NewHTTPClient(cfg HTTPConfig) *HTTPClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	c := &HTTPClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		headers: cfg.Headers,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				IdleConnTimeout:     90 * time.Second,
				MaxIdleConnsPerHost: 10,
			},
		},
	}
	c.handlers = map[Method]handlerFunc{
		MethodGet:    c.get,
		MethodPost:   c.post,
		MethodPut:    c.put,
		MethodDelete: c.delete,
	}
	return c
}

// Call dispatches req to the handler registered for its method.
func (c *HTTPClient) Call(ctx context.Context, req Request) (*Response, error) {
	handler, ok := c.handlers[req.Method]
	if !ok {
		return nil, &Error{Kind: KindRejected, Message: "unsupported method " + req.Method.String()}
	}
	return handler(ctx, req)
}

func (c *HTTPClient) get(ctx context.Context, req Request) (*Response, error) {
	return c.send(ctx, http.MethodGet, req, nil)
}

func (c *HTTPClient) post(ctx context.Context, req Request) (*Response, error) {
	return c.send(ctx, http.MethodPost, req, req.Payload)
}

func (c *HTTPClient) put(ctx context.Context, req Request) (*Response, error) {
	return c.send(ctx, http.MethodPut, req, req.Payload)
}

func (c *HTTPClient) delete(ctx context.Context, req Request) (*Response, error) {
	return c.send(ctx, http.MethodDelete, req, nil)
}

func (c *HTTPClient) send(ctx context.Context, verb string, req Request, body []byte) (*Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, verb, c.baseURL+"/"+strings.TrimLeft(req.Endpoint, "/"), reader)
	if err != nil {
		return nil, &Error{Kind: KindRejected, Message: "build request", Err: err}
	}
	for k, v := range c.headers {
		httpReq.Header.Set(k, v)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if body != nil && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, transportError(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportError(err)
	}

	if kind := KindForStatus(resp.StatusCode); kind != "" {
		return nil, &Error{
			StatusCode: resp.StatusCode,
			Kind:       kind,
			Message:    strings.TrimSpace(string(data)),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Body:       data,
		Headers:    resp.Header,
	}, nil
}

// parseRetryAfter understands the delay-seconds form of Retry-After.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
