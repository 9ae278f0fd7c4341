package queue

import (
	"context"
	"sync"
	"time"

	"github.com/kimhsiao/pagesync/backend/internal/logging"
)

// DefaultInterval is how often the Runner looks for due retries.
const DefaultInterval = time.Minute

// Processor runs one retry pass and reports how many tasks it consumed.
type Processor interface {
	ProcessRetries(ctx context.Context) (int, error)
}

// Runner drives a Processor on a fixed interval.
type Runner struct {
	processor Processor
	interval  time.Duration

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	trigger chan struct{}
	wg      sync.WaitGroup
	passes  int
}

// NewRunner creates a Runner. A non-positive interval uses DefaultInterval.
func NewRunner(processor Processor, interval time.Duration) *Runner {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Runner{
		processor: processor,
		interval:  interval,
		trigger:   make(chan struct{}, 1),
	}
}

// Start begins the periodic retry loop. Calling Start on a running Runner
// is a no-op.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return
	}
	r.running = true
	r.stopCh = make(chan struct{})

	logging.Info("Retry runner started",
		map[string]interface{}{
			"interval": r.interval.String(),
		})

	r.wg.Add(1)
	go r.loop(ctx, r.stopCh)
}

// Stop halts the loop and waits for an in-progress pass to finish.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	close(r.stopCh)
	r.mu.Unlock()

	r.wg.Wait()
	logging.Info("Retry runner stopped")
}

// TriggerNow requests an immediate pass without waiting for the next tick.
func (r *Runner) TriggerNow() {
	select {
	case r.trigger <- struct{}{}:
	default:
	}
}

// Passes returns the number of completed passes.
func (r *Runner) Passes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.passes
}

func (r *Runner) loop(ctx context.Context, stopCh <-chan struct{}) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.runPass(ctx)
		case <-r.trigger:
			r.runPass(ctx)
		case <-stopCh:
			return
		case <-ctx.Done():
			logging.Info("Retry runner context cancelled")
			return
		}
	}
}

func (r *Runner) runPass(ctx context.Context) {
	n, err := r.processor.ProcessRetries(ctx)

	r.mu.Lock()
	r.passes++
	r.mu.Unlock()

	if err != nil {
		logging.Error("Retry pass failed", err)
		return
	}
	if n > 0 {
		logging.Info("Retry pass completed",
			map[string]interface{}{
				"processed": n,
			})
	}
}
