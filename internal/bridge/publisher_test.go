package bridge

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// newTestScheduler creates a Scheduler whose completion context is a Loop
// that flags when it is running a posted function.
func newTestScheduler(t *testing.T, opts ...SchedulerOption) (*Scheduler, *Loop, *atomic.Bool) {
	t.Helper()
	loop := NewLoop()
	var inCompletion atomic.Bool
	exec := ExecutorFunc(func(fn func()) {
		loop.Post(func() {
			inCompletion.Store(true)
			defer inCompletion.Store(false)
			fn()
		})
	})
	opts = append(opts, WithCompletion(exec))
	s := NewScheduler(opts...)
	t.Cleanup(func() {
		s.Close()
		loop.Close()
	})
	return s, loop, &inCompletion
}

// flush waits until everything posted to loop so far has run.
func flush(t *testing.T, loop *Loop) {
	t.Helper()
	ch := make(chan struct{})
	loop.Post(func() { close(ch) })
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("completion loop did not drain")
	}
}

func waitDone(t *testing.T, sub *Subscription) {
	t.Helper()
	select {
	case <-sub.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("subscription did not terminate")
	}
}

func assertPending(t *testing.T, sub *Subscription) {
	t.Helper()
	select {
	case <-sub.Done():
		t.Fatal("subscription terminated, want no event")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestNothingRunsBeforeSubscribe(t *testing.T) {
	s, _, _ := newTestScheduler(t)
	var calls atomic.Int32
	p := New(s, "test", nil, func(_ context.Context, done func(int, error)) {
		calls.Add(1)
		done(1, nil)
	})

	time.Sleep(20 * time.Millisecond)
	if calls.Load() != 0 {
		t.Fatalf("operation ran %d times before Subscribe", calls.Load())
	}

	v, err := p.Await(context.Background())
	if err != nil {
		t.Fatalf("Await: %v", err)
	}
	if v != 1 {
		t.Errorf("value = %d, want 1", v)
	}
	if calls.Load() != 1 {
		t.Errorf("operation ran %d times, want 1", calls.Load())
	}
}

func TestSuccessAndFailure(t *testing.T) {
	s, _, _ := newTestScheduler(t)
	boom := errors.New("boom")

	tests := []struct {
		name    string
		value   string
		err     error
		wantErr error
		wantVal string
	}{
		{"success", "doc", nil, nil, "doc"},
		{"failure", "", boom, boom, ""},
		{"error wins over value", "doc", boom, boom, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(s, "test", nil, func(_ context.Context, done func(string, error)) {
				done(tt.value, tt.err)
			})
			var got Result[string]
			sub := p.Subscribe(func(r Result[string]) { got = r })
			waitDone(t, sub)

			if !errors.Is(got.Err, tt.wantErr) || (tt.wantErr == nil && got.Err != nil) {
				t.Errorf("Err = %v, want %v", got.Err, tt.wantErr)
			}
			if got.Value != tt.wantVal {
				t.Errorf("Value = %q, want %q", got.Value, tt.wantVal)
			}
		})
	}
}

func TestExactlyOneTerminalEvent(t *testing.T) {
	s, loop, _ := newTestScheduler(t)
	p := New(s, "test", nil, func(_ context.Context, done func(int, error)) {
		done(1, nil)
		done(2, errors.New("late"))
		done(3, nil)
	})

	var events atomic.Int32
	var first Result[int]
	sub := p.Subscribe(func(r Result[int]) {
		if events.Add(1) == 1 {
			first = r
		}
	})
	waitDone(t, sub)
	flush(t, loop)

	if events.Load() != 1 {
		t.Fatalf("sink called %d times, want 1", events.Load())
	}
	if first.Value != 1 || first.Err != nil {
		t.Errorf("first event = %+v, want Success(1)", first)
	}
}

func TestSinkRunsOnCompletionContext(t *testing.T) {
	s, _, inCompletion := newTestScheduler(t)
	var workerSide atomic.Bool
	p := New(s, "test", nil, func(_ context.Context, done func(int, error)) {
		workerSide.Store(!inCompletion.Load())
		done(1, nil)
	})

	var onLoop bool
	sub := p.Subscribe(func(Result[int]) { onLoop = inCompletion.Load() })
	waitDone(t, sub)

	if !workerSide.Load() {
		t.Error("operation ran on the completion context")
	}
	if !onLoop {
		t.Error("sink did not run on the completion context")
	}
}

func TestSubscribeDoesNotBlock(t *testing.T) {
	s, _, _ := newTestScheduler(t)
	release := make(chan struct{})
	defer close(release)
	p := New(s, "test", nil, func(_ context.Context, done func(int, error)) {
		<-release
		done(1, nil)
	})

	returned := make(chan struct{})
	go func() {
		p.Subscribe(func(Result[int]) {})
		close(returned)
	}()
	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("Subscribe blocked on the operation")
	}
}

func TestOwnerReleasedBeforeDispatch(t *testing.T) {
	s, _, _ := newTestScheduler(t)
	owner := NewOwner()
	owner.Release()

	var calls atomic.Int32
	p := New(s, "test", owner, func(_ context.Context, done func(int, error)) {
		calls.Add(1)
		done(1, nil)
	})

	var sinkCalls atomic.Int32
	sub := p.Subscribe(func(Result[int]) { sinkCalls.Add(1) })
	assertPending(t, sub)

	if calls.Load() != 0 {
		t.Errorf("operation ran %d times for a released owner", calls.Load())
	}
	if sinkCalls.Load() != 0 {
		t.Errorf("sink called %d times, want 0", sinkCalls.Load())
	}
}

func TestOwnerReleasedBeforeCallback(t *testing.T) {
	s, loop, _ := newTestScheduler(t)
	owner := NewOwner()
	started := make(chan struct{})
	proceed := make(chan struct{})
	finished := make(chan struct{})

	p := New(s, "test", owner, func(_ context.Context, done func(int, error)) {
		close(started)
		<-proceed
		done(1, nil)
		close(finished)
	})

	var sinkCalls atomic.Int32
	sub := p.Subscribe(func(Result[int]) { sinkCalls.Add(1) })

	<-started
	owner.Release()
	close(proceed)
	<-finished
	flush(t, loop)

	assertPending(t, sub)
	if sinkCalls.Load() != 0 {
		t.Errorf("sink called %d times after owner release, want 0", sinkCalls.Load())
	}
}

func TestCancelSuppressesDeliveryNotCall(t *testing.T) {
	s, loop, _ := newTestScheduler(t)
	started := make(chan struct{})
	proceed := make(chan struct{})
	finished := make(chan struct{})

	p := New(s, "test", nil, func(_ context.Context, done func(int, error)) {
		close(started)
		<-proceed
		done(1, nil)
		close(finished)
	})

	var sinkCalls atomic.Int32
	sub := p.Subscribe(func(Result[int]) { sinkCalls.Add(1) })
	<-started
	sub.Cancel()
	close(proceed)

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("vendor call did not run to completion after Cancel")
	}
	flush(t, loop)

	if sinkCalls.Load() != 0 {
		t.Errorf("sink called %d times after Cancel, want 0", sinkCalls.Load())
	}
}

func TestConcurrentSubscriptionsAreIndependent(t *testing.T) {
	s, _, _ := newTestScheduler(t, WithWorkers(4))
	var calls atomic.Int32
	p := New(s, "test", nil, func(_ context.Context, done func(int32, error)) {
		done(calls.Add(1), nil)
	})

	const n = 20
	var mu sync.Mutex
	seen := make(map[int32]bool)
	subs := make([]*Subscription, n)
	for i := 0; i < n; i++ {
		subs[i] = p.Subscribe(func(r Result[int32]) {
			mu.Lock()
			seen[r.Value] = true
			mu.Unlock()
		})
	}
	for _, sub := range subs {
		waitDone(t, sub)
	}

	if calls.Load() != n {
		t.Errorf("operation ran %d times, want %d", calls.Load(), n)
	}
	if len(seen) != n {
		t.Errorf("got %d distinct results, want %d", len(seen), n)
	}
}

func TestWorkerPoolIsBounded(t *testing.T) {
	s, _, _ := newTestScheduler(t, WithWorkers(2))
	var running, peak atomic.Int32
	release := make(chan struct{})

	p := New(s, "test", nil, func(_ context.Context, done func(int, error)) {
		n := running.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		<-release
		running.Add(-1)
		done(0, nil)
	})

	subs := make([]*Subscription, 6)
	for i := range subs {
		subs[i] = p.Subscribe(func(Result[int]) {})
	}

	deadline := time.Now().Add(2 * time.Second)
	for running.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(30 * time.Millisecond)
	if got := running.Load(); got != 2 {
		t.Errorf("running = %d, want 2", got)
	}

	close(release)
	for _, sub := range subs {
		waitDone(t, sub)
	}
	if peak.Load() > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", peak.Load())
	}
}

func TestOperationTimeout(t *testing.T) {
	s, _, _ := newTestScheduler(t, WithTimeout(20*time.Millisecond))
	p := New(s, "test", nil, func(ctx context.Context, done func(int, error)) {
		<-ctx.Done()
		done(0, ctx.Err())
	})

	_, err := p.Await(context.Background())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
}

func TestNoTimeoutByDefault(t *testing.T) {
	s, _, _ := newTestScheduler(t)
	p := New(s, "test", nil, func(ctx context.Context, done func(bool, error)) {
		_, hasDeadline := ctx.Deadline()
		done(hasDeadline, nil)
	})

	hasDeadline, err := p.Await(context.Background())
	if err != nil {
		t.Fatalf("Await: %v", err)
	}
	if hasDeadline {
		t.Error("operation context has a deadline without WithTimeout")
	}
}

func TestAwaitHonorsContext(t *testing.T) {
	s, _, _ := newTestScheduler(t)
	p := New(s, "test", nil, func(_ context.Context, done func(int, error)) {
		// Never completes.
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := p.Await(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
}

func TestOwnScheduleLoop(t *testing.T) {
	s := NewScheduler(WithWorkers(1))
	defer s.Close()

	if s.Workers() != 1 {
		t.Errorf("Workers = %d, want 1", s.Workers())
	}
	p := New(s, "test", nil, Just("ok"))
	v, err := p.Await(context.Background())
	if err != nil || v != "ok" {
		t.Errorf("Await = (%q, %v), want (ok, nil)", v, err)
	}
}
