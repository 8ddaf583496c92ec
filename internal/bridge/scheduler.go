// Package bridge turns callback-style vendor calls into one-shot publishers.
//
// A Publisher wraps an Operation. Nothing runs until Subscribe; the operation
// is then started on a bounded worker pool, and its single terminal event is
// handed to a fixed completion Executor so that sinks never run on the
// worker and never race each other.
package bridge

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/firebridge/firebridge/internal/metrics"
)

// defaultWorkers bounds the pool when no WithWorkers option is given.
const defaultWorkers = 8

// Executor runs posted functions on a fixed context. Post must not block.
type Executor interface {
	Post(fn func())
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(fn func())

// Post calls f(fn).
func (f ExecutorFunc) Post(fn func()) {
	f(fn)
}

// Loop is the default completion context: a single goroutine that runs
// posted functions one at a time, in posting order.
type Loop struct {
	mu     sync.Mutex
	queue  []func()
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

// NewLoop starts a completion loop.
func NewLoop() *Loop {
	l := &Loop{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go l.run()
	return l
}

// Post enqueues fn. The queue is unbounded so workers never wait on a slow
// sink. Functions posted after Close are discarded.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		slog.Debug("Completion loop closed, dropping event")
		return
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Close stops accepting work, runs what is already queued and waits for
// the loop goroutine to exit.
func (l *Loop) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		<-l.done
		return
	}
	l.closed = true
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	<-l.done
}

func (l *Loop) run() {
	defer close(l.done)
	for {
		l.mu.Lock()
		batch := l.queue
		l.queue = nil
		closed := l.closed
		l.mu.Unlock()

		for _, fn := range batch {
			fn()
		}
		if closed && len(batch) == 0 {
			return
		}
		if len(batch) == 0 {
			<-l.wake
		}
	}
}

// Scheduler owns the worker pool and the completion context shared by all
// publishers built on it. It is safe for concurrent use.
type Scheduler struct {
	sem        *semaphore.Weighted
	workers    int
	completion Executor
	ownLoop    *Loop
	timeout    time.Duration
	logger     *slog.Logger
}

// SchedulerOption is a functional option for configuring a Scheduler.
type SchedulerOption func(*Scheduler)

// WithWorkers bounds how many operations run at once.
func WithWorkers(n int) SchedulerOption {
	return func(s *Scheduler) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithCompletion delivers terminal events on e instead of a private Loop.
func WithCompletion(e Executor) SchedulerOption {
	return func(s *Scheduler) {
		s.completion = e
	}
}

// WithTimeout puts a deadline on the context handed to each operation.
// Zero, the default, leaves vendor calls unbounded.
func WithTimeout(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		s.timeout = d
	}
}

// WithLogger sets the logger used for dispatch and drop diagnostics.
func WithLogger(l *slog.Logger) SchedulerOption {
	return func(s *Scheduler) {
		s.logger = l
	}
}

// NewScheduler creates a Scheduler. Without WithCompletion it starts its own
// Loop, which Close stops.
func NewScheduler(opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		workers: defaultWorkers,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.completion == nil {
		s.ownLoop = NewLoop()
		s.completion = s.ownLoop
	}
	s.sem = semaphore.NewWeighted(int64(s.workers))
	return s
}

// Workers returns the pool bound.
func (s *Scheduler) Workers() int {
	return s.workers
}

// Close stops the scheduler's own completion loop, if it has one. Events
// produced afterwards are dropped; vendor calls already running are not
// interrupted.
func (s *Scheduler) Close() {
	if s.ownLoop != nil {
		s.ownLoop.Close()
	}
}

// dispatch runs fn on a worker goroutine once a slot is free. It returns
// immediately. The context passed to fn carries the configured timeout; its
// cancel func is handed over so the caller can release it on completion.
func (s *Scheduler) dispatch(fn func(ctx context.Context, cancel context.CancelFunc)) {
	go func() {
		// Acquire with a background context never fails.
		_ = s.sem.Acquire(context.Background(), 1)
		metrics.BridgeWorkersBusy.Inc()
		defer func() {
			metrics.BridgeWorkersBusy.Dec()
			s.sem.Release(1)
		}()

		ctx, cancel := context.Background(), context.CancelFunc(func() {})
		if s.timeout > 0 {
			ctx, cancel = context.WithTimeout(ctx, s.timeout)
		}
		fn(ctx, cancel)
	}()
}

// post hands fn to the completion context.
func (s *Scheduler) post(fn func()) {
	s.completion.Post(fn)
}
