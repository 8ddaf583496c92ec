package publish

import (
	"context"
	"testing"
	"time"

	"github.com/firebridge/firebridge/internal/bridge"
)

func newScheduler(t *testing.T) *bridge.Scheduler {
	t.Helper()
	s := bridge.NewScheduler(bridge.WithWorkers(4))
	t.Cleanup(s.Close)
	return s
}

func await[T any](t *testing.T, p *bridge.Publisher[T]) (T, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	v, err := p.Await(ctx)
	if ctx.Err() != nil {
		t.Fatalf("%s publisher did not terminate", p.Name())
	}
	return v, err
}

// assertNoEvent subscribes to p, runs release while the operation is in
// flight, and checks that nothing reaches the sink afterwards.
func assertNoEvent[T any](t *testing.T, p *bridge.Publisher[T], started <-chan struct{}, release func()) {
	t.Helper()
	events := make(chan bridge.Result[T], 1)
	sub := p.Subscribe(func(r bridge.Result[T]) { events <- r })

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("operation was not started")
	}
	release()

	select {
	case r := <-events:
		t.Fatalf("got event %+v, want none", r)
	case <-sub.Done():
		t.Fatal("subscription terminated, want no event")
	case <-time.After(50 * time.Millisecond):
	}
}
