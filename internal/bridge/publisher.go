package bridge

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/firebridge/firebridge/internal/metrics"
)

// Publisher emits exactly one Result per subscription, or nothing at all
// when its owner is released before the vendor callback fires. It holds no
// per-subscription state, so one Publisher may be subscribed any number of
// times, concurrently; each subscription invokes the operation once.
type Publisher[T any] struct {
	sched *Scheduler
	name  string
	owner Liveness
	op    Operation[T]
}

// New builds a Publisher for op. name labels metrics and logs. owner may be
// nil, in which case results are never dropped.
func New[T any](sched *Scheduler, name string, owner Liveness, op Operation[T]) *Publisher[T] {
	return &Publisher[T]{
		sched: sched,
		name:  name,
		owner: owner,
		op:    op,
	}
}

// Name returns the operation label.
func (p *Publisher[T]) Name() string {
	return p.name
}

// Subscription is the handle for one Subscribe call.
type Subscription struct {
	cancelled atomic.Bool
	done      chan struct{}
}

// Cancel stops the terminal event from reaching the sink. It does not stop
// the vendor call, which runs to completion and is discarded.
func (s *Subscription) Cancel() {
	s.cancelled.Store(true)
}

// Done is closed after the sink has received the terminal event. It stays
// open forever if the event was dropped or the subscription cancelled.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Subscribe starts the operation on a worker and returns at once. sink is
// called at most once, on the scheduler's completion context.
func (p *Publisher[T]) Subscribe(sink func(Result[T])) *Subscription {
	sub := &Subscription{done: make(chan struct{})}
	metrics.BridgeSubscriptionsTotal.WithLabelValues(p.name).Inc()
	start := time.Now()

	p.sched.dispatch(func(ctx context.Context, cancel context.CancelFunc) {
		if !alive(p.owner) {
			cancel()
			p.dropped("owner released before dispatch")
			return
		}

		var once sync.Once
		p.op(ctx, func(v T, err error) {
			once.Do(func() {
				cancel()
				metrics.BridgeOperationDuration.WithLabelValues(p.name).Observe(time.Since(start).Seconds())

				if !alive(p.owner) {
					p.dropped("owner released before completion")
					return
				}

				res := Success(v)
				if err != nil {
					res = Failure[T](err)
				}
				p.sched.post(func() {
					p.deliver(sub, sink, res)
				})
			})
		})
	})
	return sub
}

// deliver runs on the completion context.
func (p *Publisher[T]) deliver(sub *Subscription, sink func(Result[T]), res Result[T]) {
	if sub.cancelled.Load() {
		metrics.BridgeEventsTotal.WithLabelValues(p.name, metrics.OutcomeCancelled).Inc()
		return
	}
	outcome := metrics.OutcomeSuccess
	if res.Failed() {
		outcome = metrics.OutcomeFailure
		p.sched.logger.Debug("Bridge operation failed", "operation", p.name, "error", res.Err)
	}
	metrics.BridgeEventsTotal.WithLabelValues(p.name, outcome).Inc()
	sink(res)
	close(sub.done)
}

func (p *Publisher[T]) dropped(reason string) {
	metrics.BridgeEventsTotal.WithLabelValues(p.name, metrics.OutcomeDropped).Inc()
	p.sched.logger.Debug("Bridge event dropped", "operation", p.name, "reason", reason)
}

// Await subscribes and blocks until the terminal event or ctx is done. On
// ctx expiry the subscription is cancelled and ctx.Err() returned. Await must
// not be called from the completion context, whose goroutine it would
// otherwise wait on.
func (p *Publisher[T]) Await(ctx context.Context) (T, error) {
	ch := make(chan Result[T], 1)
	sub := p.Subscribe(func(r Result[T]) {
		ch <- r
	})

	select {
	case r := <-ch:
		return r.Get()
	case <-ctx.Done():
		sub.Cancel()
		var zero T
		return zero, ctx.Err()
	}
}
