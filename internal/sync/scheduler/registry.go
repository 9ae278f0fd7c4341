package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/kimhsiao/pagesync/backend/internal/errors"
)

// Registry holds one Scheduler per service key. It is built once at
// startup and passed to whatever needs to reach a service.
type Registry struct {
	mu         sync.RWMutex
	schedulers map[string]*Scheduler
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{schedulers: make(map[string]*Scheduler)}
}

// Register adds s under its name.
func (r *Registry) Register(s *Scheduler) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.schedulers[s.Name()]; ok {
		return errors.New(errors.ErrDuplicate, fmt.Sprintf("scheduler %q already registered", s.Name()))
	}
	r.schedulers[s.Name()] = s
	return nil
}

// Get returns the scheduler for name.
func (r *Registry) Get(name string) (*Scheduler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.schedulers[name]
	if !ok {
		return nil, errors.New(errors.ErrUnknownService, fmt.Sprintf("no scheduler for service %q", name))
	}
	return s, nil
}

// Names returns the registered service keys in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.schedulers))
	for name := range r.schedulers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// StartAll starts every registered scheduler.
func (r *Registry) StartAll(ctx context.Context) {
	for _, s := range r.all() {
		s.Start(ctx)
	}
}

// StopAll stops every registered scheduler concurrently and waits.
func (r *Registry) StopAll() {
	var wg sync.WaitGroup
	for _, s := range r.all() {
		wg.Add(1)
		go func(s *Scheduler) {
			defer wg.Done()
			s.Stop()
		}(s)
	}
	wg.Wait()
}

// Stats returns the stats of every scheduler, ordered by name.
func (r *Registry) Stats() []Stats {
	all := r.all()
	out := make([]Stats, 0, len(all))
	for _, s := range all {
		out = append(out, s.Stats())
	}
	return out
}

func (r *Registry) all() []*Scheduler {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.schedulers))
	for name := range r.schedulers {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]*Scheduler, 0, len(names))
	for _, name := range names {
		out = append(out, r.schedulers[name])
	}
	return out
}
