package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/kimhsiao/pagesync/backend/internal/apiclient"
)

// Handle is the result future of one enqueued request.
type Handle struct {
	seq        uint64
	priority   int
	req        apiclient.Request
	enqueuedAt time.Time

	// index is the position in the scheduler heap, -1 once popped or removed.
	// Guarded by the owning scheduler's mutex.
	index int
	sched *Scheduler

	once sync.Once
	done chan struct{}
	resp *apiclient.Response
	err  error
}

func newHandle(s *Scheduler, req apiclient.Request, priority int, seq uint64, now time.Time) *Handle {
	return &Handle{
		seq:        seq,
		priority:   priority,
		req:        req,
		enqueuedAt: now,
		index:      -1,
		sched:      s,
		done:       make(chan struct{}),
	}
}

// Request returns the request the handle was created for.
func (h *Handle) Request() apiclient.Request {
	return h.req
}

// Priority returns the priority the request was enqueued with.
func (h *Handle) Priority() int {
	return h.priority
}

// EnqueuedAt returns the scheduler clock time at enqueue.
func (h *Handle) EnqueuedAt() time.Time {
	return h.enqueuedAt
}

// Done is closed once the handle is resolved. It is never closed for a
// handle cancelled while queued.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the handle is resolved or ctx is done.
// Returning on ctx does not cancel the request; call Cancel for that.
func (h *Handle) Wait(ctx context.Context) (*apiclient.Response, error) {
	select {
	case <-h.done:
		return h.resp, h.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cancel drops the request if it is still queued. It reports whether the
// request was removed; once dispatch has begun cancellation has no effect.
func (h *Handle) Cancel() bool {
	return h.sched.cancel(h)
}

func (h *Handle) resolve(resp *apiclient.Response, err error) {
	h.once.Do(func() {
		h.resp = resp
		h.err = err
		close(h.done)
	})
}
