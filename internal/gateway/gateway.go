// Package gateway issues typed calls to an integration through its
// rate-limited scheduler and normalises failures into the sync error taxonomy.
package gateway

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/url"
	"time"

	"github.com/kimhsiao/pagesync/backend/internal/apiclient"
	"github.com/kimhsiao/pagesync/backend/internal/errors"
	"github.com/kimhsiao/pagesync/backend/internal/sync/scheduler"
)

// Priorities used by the sync core.
const (
	PriorityInteractive  = 1
	PriorityNotification = 2
	PriorityBackground   = 5
)

// Call is one request to the integration.
type Call struct {
	Method   apiclient.Method
	Endpoint string
	Payload  []byte
	Headers  map[string]string
	Priority int
}

// Resource is a remote page or collection.
type Resource struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	Content        string    `json:"content"`
	LastEditedTime time.Time `json:"last_edited_time"`
}

type pushBody struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// Enqueuer is the part of a scheduler the gateway needs.
type Enqueuer interface {
	Enqueue(req apiclient.Request, priority int) *scheduler.Handle
}

// Gateway is the API Gateway Client for one service.
type Gateway struct {
	service      string
	sched        Enqueuer
	resourcePath string
}

// New creates a Gateway that dispatches through sched.
func New(service string, sched Enqueuer) *Gateway {
	return &Gateway{
		service:      service,
		sched:        sched,
		resourcePath: "/resources/",
	}
}

// FromRegistry creates a Gateway for the named service in reg.
func FromRegistry(reg *scheduler.Registry, service string) (*Gateway, error) {
	sched, err := reg.Get(service)
	if err != nil {
		return nil, err
	}
	return New(service, sched), nil
}

// Service returns the service key.
func (g *Gateway) Service() string {
	return g.service
}

// Do enqueues call and waits for its result. A request still queued when
// ctx ends is cancelled.
func (g *Gateway) Do(ctx context.Context, call Call) (*apiclient.Response, error) {
	req := apiclient.Request{
		Method:   call.Method,
		Endpoint: call.Endpoint,
		Payload:  call.Payload,
		Headers:  call.Headers,
	}

	h := g.sched.Enqueue(req, call.Priority)
	resp, err := h.Wait(ctx)
	if err != nil {
		if ctx.Err() != nil {
			h.Cancel()
		}
		return nil, Normalize(req.Operation(), err)
	}
	return resp, nil
}

// FetchResource reads a resource and its remote last-modified time.
func (g *Gateway) FetchResource(ctx context.Context, resourceID string, priority int) (*Resource, error) {
	resp, err := g.Do(ctx, Call{
		Method:   apiclient.MethodGet,
		Endpoint: g.resourcePath + url.PathEscape(resourceID),
		Priority: priority,
	})
	if err != nil {
		return nil, err
	}
	return decodeResource(resourceID, resp.Body)
}

// PushResource writes title and content to the remote resource and returns
// the stored version, whose LastEditedTime reflects this write.
func (g *Gateway) PushResource(ctx context.Context, resourceID, title, content string, priority int) (*Resource, error) {
	payload, err := json.Marshal(pushBody{Title: title, Content: content})
	if err != nil {
		return nil, errors.Fatal("encode resource", err)
	}

	resp, err := g.Do(ctx, Call{
		Method:   apiclient.MethodPut,
		Endpoint: g.resourcePath + url.PathEscape(resourceID),
		Payload:  payload,
		Priority: priority,
	})
	if err != nil {
		return nil, err
	}
	return decodeResource(resourceID, resp.Body)
}

func decodeResource(resourceID string, body []byte) (*Resource, error) {
	var res Resource
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, errors.Fatal(fmt.Sprintf("malformed resource %s", resourceID), err)
	}
	if res.LastEditedTime.IsZero() {
		return nil, errors.Fatal(fmt.Sprintf("malformed resource %s", resourceID),
			stderrors.New("missing last_edited_time"))
	}
	if res.ID == "" {
		res.ID = resourceID
	}
	return &res, nil
}

// Normalize classifies a scheduler or client failure as recoverable or fatal.
// Errors that already carry a sync classification are returned unchanged.
func Normalize(operation string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, errors.ErrSyncFatal) || errors.Is(err, errors.ErrSyncRecoverable) {
		return err
	}

	msg := operation + " failed"
	switch {
	case errors.Is(err, errors.ErrMaxRetriesExceeded),
		errors.Is(err, errors.ErrRateLimitExceeded),
		errors.Is(err, errors.ErrSchedulerStopped):
		return errors.Recoverable(msg, err)
	case stderrors.Is(err, context.Canceled), stderrors.Is(err, context.DeadlineExceeded):
		return errors.Recoverable(msg, err)
	}

	switch apiclient.KindOf(err) {
	case apiclient.KindRateLimited, apiclient.KindNetwork, apiclient.KindTimeout, apiclient.KindServer:
		return errors.Recoverable(msg, err)
	case apiclient.KindAuth:
		return errors.Fatal(msg+": unauthorized", err)
	case apiclient.KindRejected:
		return errors.Fatal(msg+": rejected", err)
	}

	return errors.Fatal(msg, err)
}
