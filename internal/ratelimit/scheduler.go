// Package ratelimit serialises outbound work through a FIFO queue that admits
// at most a fixed number of items in any trailing time window.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	DefaultLimit  = 60
	DefaultWindow = 60 * time.Second
)

// Work is a unit of work run by the scheduler. The scheduler never inspects
// the outcome: it only decides when the work starts.
type Work func() (any, error)

// Result is the outcome of a submitted Work item.
type Result struct {
	Value any
	Err   error
}

type job struct {
	work   Work
	result chan Result
	queued time.Time
}

// Scheduler runs submitted work one item at a time, in submission order,
// admitting no more than limit items in any trailing window. Each scheduler
// owns its queue and window; independent schedulers do not interact.
type Scheduler struct {
	limit  int
	window time.Duration

	mu       sync.Mutex
	queue    []*job
	stamps   []time.Time
	draining bool
}

type Option func(*Scheduler)

// WithLimit sets the quota of dispatches allowed in the trailing window.
func WithLimit(limit int, window time.Duration) Option {
	return func(s *Scheduler) {
		if limit > 0 {
			s.limit = limit
		}
		if window > 0 {
			s.window = window
		}
	}
}

func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		limit:  DefaultLimit,
		window: DefaultWindow,
	}
	for _, opt := range opts {
		opt(s)
	}

	initMetrics()

	return s
}

// Submit enqueues work and returns a channel that receives its result once
// the work has run. The drain loop is started if it is not already running.
func (s *Scheduler) Submit(work Work) <-chan Result {
	j := &job{
		work:   work,
		result: make(chan Result, 1),
		queued: time.Now(),
	}

	s.mu.Lock()
	s.queue = append(s.queue, j)
	start := !s.draining
	s.draining = true
	s.mu.Unlock()

	if start {
		go s.drain()
	}

	return j.result
}

// Do submits work and waits for its result. Work already queued is never
// abandoned, so Do waits for the outcome even if the caller gives up on it:
// the work itself is expected to observe any cancellation it cares about.
func Do[T any](s *Scheduler, work func() (T, error)) (T, error) {
	r := <-s.Submit(func() (any, error) {
		return work()
	})
	if r.Err != nil {
		var zero T
		return zero, r.Err
	}

	v, _ := r.Value.(T)
	return v, nil
}

// QueueDepth reports the number of submitted items not yet dispatched.
func (s *Scheduler) QueueDepth() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.queue)
}

// InWindow reports how many dispatches fall inside the current window.
func (s *Scheduler) InWindow() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.prune(time.Now())
	return len(s.stamps)
}

func (s *Scheduler) drain() {
	for {
		j, wait := s.next()
		if j == nil && wait == 0 {
			return
		}

		if j == nil {
			log.Debug().
				Dur("wait", wait).
				Int("limit", s.limit).
				Msg("request window full, pausing queue")
			time.Sleep(wait)
			continue
		}

		recordDispatch(context.Background(), time.Since(j.queued))
		s.run(j)
	}
}

// next admits the head of the queue if the window has room. It returns the
// time to wait when the window is full, and (nil, 0) once the queue is empty,
// at which point the drain loop is marked stopped.
func (s *Scheduler) next() (*job, time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.queue) == 0 {
		s.draining = false
		return nil, 0
	}

	now := time.Now()
	s.prune(now)

	if len(s.stamps) >= s.limit {
		// after prune the oldest stamp is strictly inside the window, so the
		// wait is always positive
		return nil, s.window - now.Sub(s.stamps[0])
	}

	j := s.queue[0]
	s.queue[0] = nil
	s.queue = s.queue[1:]
	s.stamps = append(s.stamps, now)

	return j, 0
}

// prune drops timestamps that have aged out of the window. Callers hold mu.
func (s *Scheduler) prune(now time.Time) {
	keep := 0
	for keep < len(s.stamps) && now.Sub(s.stamps[keep]) >= s.window {
		keep++
	}
	if keep > 0 {
		s.stamps = append(s.stamps[:0], s.stamps[keep:]...)
	}
}

func (s *Scheduler) run(j *job) {
	defer func() {
		if r := recover(); r != nil {
			log.Warn().Interface("panic", r).Msg("scheduled work panicked, recovered")
			j.result <- Result{Err: &PanicError{Value: r}}
		}
	}()

	v, err := j.work()
	j.result <- Result{Value: v, Err: err}
}
