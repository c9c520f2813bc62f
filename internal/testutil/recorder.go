package testutil

import (
	"sync"
	"testing"
	"time"
)

// DefaultWait bounds how long Recorder waits for asynchronous deliveries.
const DefaultWait = 2 * time.Second

// Recorder collects values delivered from queue workers and lets a test
// wait for them.
//
// Push matches the doc.Sink shape, so a *Recorder[doc.FrontendMsg] can
// stand in for an orchestrator.
type Recorder[T any] struct {
	mu     sync.Mutex
	items  []T
	signal chan struct{}
}

// NewRecorder creates an empty recorder.
func NewRecorder[T any]() *Recorder[T] {
	return &Recorder[T]{signal: make(chan struct{}, 1)}
}

// Push records v. It never blocks and always reports true.
func (r *Recorder[T]) Push(v T) bool {
	r.Record(v)
	return true
}

// Record records v.
func (r *Recorder[T]) Record(v T) {
	r.mu.Lock()
	r.items = append(r.items, v)
	r.mu.Unlock()

	select {
	case r.signal <- struct{}{}:
	default:
	}
}

// All returns a copy of everything recorded so far.
func (r *Recorder[T]) All() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]T, len(r.items))
	copy(out, r.items)
	return out
}

// Len returns the number of recorded values.
func (r *Recorder[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

// WaitFor blocks until at least n values are recorded and returns the
// first n. It fails the test after DefaultWait.
func (r *Recorder[T]) WaitFor(t testing.TB, n int) []T {
	t.Helper()

	deadline := time.NewTimer(DefaultWait)
	defer deadline.Stop()
	for {
		if items := r.All(); len(items) >= n {
			return items[:n]
		}
		select {
		case <-r.signal:
		case <-deadline.C:
			t.Fatalf("timed out waiting for %d values, have %d", n, r.Len())
			return nil
		}
	}
}

// WaitUntil blocks until match reports true for some recorded value and
// returns it. It fails the test after DefaultWait.
func (r *Recorder[T]) WaitUntil(t testing.TB, match func(T) bool) T {
	t.Helper()

	deadline := time.NewTimer(DefaultWait)
	defer deadline.Stop()
	for {
		for _, v := range r.All() {
			if match(v) {
				return v
			}
		}
		select {
		case <-r.signal:
		case <-deadline.C:
			t.Fatalf("timed out waiting for a matching value among %d", r.Len())
			var zero T
			return zero
		}
	}
}
