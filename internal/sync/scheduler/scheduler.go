// Package scheduler throttles and orders outbound calls to one external service.
//
// Each Scheduler owns a priority queue and a single worker goroutine. Requests
// are dispatched lowest priority number first, in enqueue order among equals,
// with at most RatePerSecond dispatches in any rolling one-second window.
// Throttled calls are retried with capped exponential backoff.
package scheduler

import (
	"container/heap"
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/kimhsiao/pagesync/backend/internal/apiclient"
	"github.com/kimhsiao/pagesync/backend/internal/clock"
	"github.com/kimhsiao/pagesync/backend/internal/errors"
	"github.com/kimhsiao/pagesync/backend/internal/logging"
)

// Config holds scheduler configuration.
type Config struct {
	RatePerSecond int           // Dispatches per rolling second; <= 0 disables throttling
	MaxAttempts   int           // Attempts per request on throttling (default: 5)
	BackoffBase   time.Duration // First backoff delay (default: 1 second)
	BackoffMax    time.Duration // Backoff ceiling (default: 30 seconds)
	MaxQueue      int           // Queue capacity; 0 means unbounded
	RejectOnStop  bool          // Resolve still-queued handles with ErrSchedulerStopped on Stop
	IdleInterval  time.Duration // How long an idle worker waits before re-checking (default: 100ms)
}

// DefaultConfig returns default scheduler configuration.
func DefaultConfig() *Config {
	return &Config{
		RatePerSecond: 3,
		MaxAttempts:   5,
		BackoffBase:   time.Second,
		BackoffMax:    30 * time.Second,
		RejectOnStop:  true,
		IdleInterval:  100 * time.Millisecond,
	}
}

// Stats is a snapshot of scheduler counters.
type Stats struct {
	Name              string
	Running           bool
	Queued            int
	Dispatched        uint64
	Throttled         uint64
	Failed            uint64
	Cancelled         uint64
	Rejected          uint64
	ConsecutiveErrors int
}

// Scheduler is a rate-limited priority dispatcher for one service.
type Scheduler struct {
	name   string
	client apiclient.Client
	clock  clock.Clock
	config Config

	mu        sync.Mutex
	queue     entryHeap
	seq       uint64
	isRunning bool
	isStopped bool
	stats     Stats
	cancelRun context.CancelFunc

	// window holds the most recent dispatch times; owned by the worker.
	window []time.Time

	wakeCh chan struct{}
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewScheduler creates a new Scheduler for the named service.
// A nil clock selects the system clock; a nil config selects DefaultConfig.
func NewScheduler(name string, client apiclient.Client, clk clock.Clock, config *Config) *Scheduler {
	if config == nil {
		config = DefaultConfig()
	}
	if clk == nil {
		clk = clock.New()
	}

	cfg := *config
	defaults := DefaultConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaults.MaxAttempts
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = defaults.BackoffBase
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = defaults.BackoffMax
	}
	if cfg.IdleInterval <= 0 {
		cfg.IdleInterval = defaults.IdleInterval
	}

	return &Scheduler{
		name:   name,
		client: client,
		clock:  clk,
		config: cfg,
		stats:  Stats{Name: name},
		wakeCh: make(chan struct{}, 1),
		stopCh: make(chan struct{}),
	}
}

// Name returns the service key.
func (s *Scheduler) Name() string {
	return s.name
}

// Enqueue queues req and returns immediately.
func (s *Scheduler) Enqueue(req apiclient.Request, priority int) *Handle {
	s.mu.Lock()
	s.seq++
	h := newHandle(s, req, priority, s.seq, s.clock.Now())

	if s.isStopped {
		s.stats.Rejected++
		s.mu.Unlock()
		h.resolve(nil, errors.New(errors.ErrSchedulerStopped,
			fmt.Sprintf("scheduler %q is stopped", s.name)))
		return h
	}

	if s.config.MaxQueue > 0 && len(s.queue) >= s.config.MaxQueue {
		s.stats.Rejected++
		s.mu.Unlock()
		logging.Warn("Scheduler queue full, rejecting request",
			map[string]interface{}{
				"service":   s.name,
				"operation": req.Operation(),
				"max_queue": s.config.MaxQueue,
			})
		h.resolve(nil, errors.New(errors.ErrRateLimitExceeded,
			fmt.Sprintf("queue for %q is full (%d)", s.name, s.config.MaxQueue)))
		return h
	}

	heap.Push(&s.queue, h)
	queued := len(s.queue)
	s.mu.Unlock()

	s.wake()

	logging.Debug("Request enqueued",
		map[string]interface{}{
			"service":   s.name,
			"operation": req.Operation(),
			"priority":  priority,
			"queued":    queued,
		})

	return h
}

// BatchResult is the outcome of one request in a Batch.
type BatchResult struct {
	Response *apiclient.Response
	Err      error
}

// Batch enqueues every request at the given priority and waits for all of
// them. Results are returned in submission order. Requests still queued when
// ctx is done are cancelled.
func (s *Scheduler) Batch(ctx context.Context, reqs []apiclient.Request, priority int) []BatchResult {
	handles := make([]*Handle, len(reqs))
	for i, req := range reqs {
		handles[i] = s.Enqueue(req, priority)
	}

	results := make([]BatchResult, len(reqs))
	for i, h := range handles {
		resp, err := h.Wait(ctx)
		if err != nil && ctx.Err() != nil {
			h.Cancel()
		}
		results[i] = BatchResult{Response: resp, Err: err}
	}
	return results
}

// Start starts the worker. Calling Start on a running or stopped scheduler
// does nothing.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.isRunning || s.isStopped {
		s.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.isRunning = true
	s.cancelRun = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run(runCtx)

	logging.Info("Scheduler started",
		map[string]interface{}{
			"service":         s.name,
			"rate_per_second": s.config.RatePerSecond,
		})
}

// Stop halts the worker and waits for it to exit. A request in the middle of
// dispatch is resolved with ErrSchedulerStopped. Still-queued requests are
// rejected the same way when RejectOnStop is set, and left pending otherwise.
// A stopped scheduler cannot be restarted.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.isStopped {
		s.mu.Unlock()
		return
	}
	s.isStopped = true
	s.isRunning = false
	cancel := s.cancelRun
	s.mu.Unlock()

	close(s.stopCh)
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()

	rejected := 0
	if s.config.RejectOnStop {
		s.mu.Lock()
		pending := make([]*Handle, 0, len(s.queue))
		for len(s.queue) > 0 {
			pending = append(pending, heap.Pop(&s.queue).(*Handle))
		}
		s.stats.Rejected += uint64(len(pending))
		s.mu.Unlock()

		for _, h := range pending {
			h.resolve(nil, errors.New(errors.ErrSchedulerStopped,
				fmt.Sprintf("scheduler %q stopped before dispatch", s.name)))
		}
		rejected = len(pending)
	}

	logging.Info("Scheduler stopped",
		map[string]interface{}{"service": s.name, "rejected": rejected})
}

// IsRunning returns whether the worker is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRunning
}

// Stats returns a snapshot of the scheduler counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.stats
	st.Running = s.isRunning
	st.Queued = len(s.queue)
	return st
}

// Backoff returns the delay before retry number attempt:
// min(base * 2^(attempt-1), ceiling).
func Backoff(attempt int, base, ceiling time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= ceiling {
			return ceiling
		}
	}
	if d > ceiling {
		return ceiling
	}
	return d
}

func (s *Scheduler) wake() {
	select {
	case s.wakeCh <- struct{}{}:
	default:
	}
}

func (s *Scheduler) cancel(h *Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if h.index < 0 {
		return false
	}
	heap.Remove(&s.queue, h.index)
	s.stats.Cancelled++
	return true
}

// run is the single dispatch loop.
func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	idle := time.NewTicker(s.config.IdleInterval)
	defer idle.Stop()

	for {
		h := s.next(ctx, idle.C)
		if h == nil {
			return
		}
		s.dispatch(ctx, h)
	}
}

// next pops the most urgent entry, idling while the queue is empty.
// It returns nil once the scheduler is stopping.
func (s *Scheduler) next(ctx context.Context, idle <-chan time.Time) *Handle {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.stopCh:
			return nil
		default:
		}

		s.mu.Lock()
		if len(s.queue) > 0 {
			h := heap.Pop(&s.queue).(*Handle)
			s.mu.Unlock()
			return h
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil
		case <-s.stopCh:
			return nil
		case <-s.wakeCh:
		case <-idle:
		}
	}
}

// dispatch performs the call, retrying on throttling.
func (s *Scheduler) dispatch(ctx context.Context, h *Handle) {
	op := h.req.Operation()

	var delay time.Duration
	for attempt := 1; ; attempt++ {
		if err := s.acquireSlot(ctx); err != nil {
			h.resolve(nil, s.stoppedErr(op, err))
			return
		}

		resp, err := s.client.Call(ctx, h.req)

		s.mu.Lock()
		s.stats.Dispatched++
		s.mu.Unlock()

		if err == nil {
			s.mu.Lock()
			s.stats.ConsecutiveErrors = 0
			s.mu.Unlock()
			h.resolve(resp, nil)
			return
		}

		if ctx.Err() != nil {
			h.resolve(nil, s.stoppedErr(op, err))
			return
		}

		if !apiclient.IsThrottled(err) {
			s.mu.Lock()
			s.stats.Failed++
			s.mu.Unlock()
			h.resolve(nil, err)
			return
		}

		s.mu.Lock()
		s.stats.Throttled++
		s.stats.ConsecutiveErrors++
		consecutive := s.stats.ConsecutiveErrors
		s.mu.Unlock()

		if attempt >= s.config.MaxAttempts {
			s.mu.Lock()
			s.stats.Failed++
			s.mu.Unlock()
			logging.ErrorWithCode("Request gave up after throttling", string(errors.ErrMaxRetriesExceeded), err,
				map[string]interface{}{
					"service":   s.name,
					"operation": op,
					"attempts":  attempt,
				})
			h.resolve(nil, &errors.MaxRetriesExceededError{
				Operation: op,
				Attempts:  attempt,
				LastErr:   err,
			})
			return
		}

		delay = s.retryDelay(attempt, delay, err)
		logging.Warn("Request throttled, backing off",
			map[string]interface{}{
				"service":            s.name,
				"operation":          op,
				"attempt":            attempt,
				"delay_ms":           delay.Milliseconds(),
				"consecutive_errors": consecutive,
			})

		if err := s.clock.Sleep(ctx, delay); err != nil {
			h.resolve(nil, s.stoppedErr(op, err))
			return
		}
	}
}

// retryDelay honours a Retry-After hint when it is longer than the computed
// backoff, never exceeding the ceiling. Delays never shrink between
// attempts of one request, so previous is a lower bound.
func (s *Scheduler) retryDelay(attempt int, previous time.Duration, err error) time.Duration {
	delay := Backoff(attempt, s.config.BackoffBase, s.config.BackoffMax)

	var apiErr *apiclient.Error
	if stderrors.As(err, &apiErr) && apiErr.RetryAfter > delay {
		delay = apiErr.RetryAfter
		if delay > s.config.BackoffMax {
			delay = s.config.BackoffMax
		}
	}
	if delay < previous {
		delay = previous
	}
	return delay
}

// acquireSlot waits until a dispatch fits in the rolling one-second window
// and records it.
func (s *Scheduler) acquireSlot(ctx context.Context) error {
	n := s.config.RatePerSecond
	if n <= 0 {
		return ctx.Err()
	}

	now := s.clock.Now()
	if len(s.window) >= n {
		oldest := s.window[len(s.window)-n]
		if wait := oldest.Add(time.Second).Sub(now); wait > 0 {
			if err := s.clock.Sleep(ctx, wait); err != nil {
				return err
			}
			now = s.clock.Now()
		}
	}

	s.window = append(s.window, now)
	if len(s.window) > n {
		s.window = append(s.window[:0], s.window[len(s.window)-n:]...)
	}
	return nil
}

func (s *Scheduler) stoppedErr(op string, cause error) error {
	return errors.Wrap(errors.ErrSchedulerStopped,
		fmt.Sprintf("scheduler %q stopped during %s", s.name, op), cause)
}
