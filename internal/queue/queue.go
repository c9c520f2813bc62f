// Package queue provides an ordered, single-subscriber delivery channel.
//
// Items pushed before a subscriber attaches are buffered and delivered in
// push order once one does. The subscriber's handler runs on a dedicated
// worker goroutine, one item at a time, so a queue serializes work without
// the caller holding a lock.
package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

var (
	// ErrAlreadySubscribed is returned by Subscribe on a queue that already
	// has its consumer.
	ErrAlreadySubscribed = errors.New("queue: already subscribed")

	// ErrClosed is returned by Subscribe on a closed queue.
	ErrClosed = errors.New("queue: closed")
)

// Option configures a Queue.
type Option func(*options)

type options struct {
	logger *slog.Logger
}

// WithLogger sets the logger used to report handler panics.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// Queue is an unbounded FIFO with exactly one consumer.
//
// The queue is unbounded so Push never blocks the producer; a slow consumer
// is bounded only by process memory.
type Queue[T any] struct {
	name   string
	logger *slog.Logger

	mu         sync.Mutex
	items      []T
	closed     bool
	subscribed bool
	busy       bool
	waiters    []chan struct{}

	signal chan struct{} // Signals item availability (buffered, size 1)
	done   chan struct{}
}

// New creates an empty queue. name appears in log output only.
func New[T any](name string, opts ...Option) *Queue[T] {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return &Queue[T]{
		name:   name,
		logger: o.logger,
		items:  make([]T, 0, 16),
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Name returns the queue's name.
func (q *Queue[T]) Name() string {
	return q.name
}

// Push appends item to the back of the queue. It never blocks.
// Returns false if the queue is closed.
func (q *Queue[T]) Push(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.items = append(q.items, item)

	// Non-blocking: the buffer of 1 coalesces multiple signals
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// Subscribe registers the queue's only consumer and starts its worker.
// Buffered items are delivered first, in push order. fn is never invoked
// concurrently with itself.
func (q *Queue[T]) Subscribe(fn func(T)) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}
	if q.subscribed {
		return ErrAlreadySubscribed
	}
	q.subscribed = true
	go q.run(fn)
	return nil
}

// Subscribed reports whether a consumer has attached.
func (q *Queue[T]) Subscribed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.subscribed
}

// Len returns the number of items not yet handed to the consumer.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Idle reports whether nothing is queued and no handler call is running.
func (q *Queue[T]) Idle() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) == 0 && !q.busy
}

func (q *Queue[T]) run(fn func(T)) {
	defer close(q.done)

	for {
		q.mu.Lock()
		if len(q.items) == 0 {
			q.busy = false
			q.notifyIdleLocked()
			closed := q.closed
			q.mu.Unlock()
			if closed {
				return
			}
			<-q.signal
			continue
		}

		item := q.items[0]
		// Zero the slot so the backing array does not retain the item.
		var zero T
		q.items[0] = zero
		if len(q.items) == 1 {
			q.items = q.items[:0]
		} else {
			q.items = q.items[1:]
		}
		q.busy = true
		q.mu.Unlock()

		q.invoke(fn, item)
	}
}

// invoke runs one handler call. A panicking handler is logged and the worker
// moves on to the next item.
func (q *Queue[T]) invoke(fn func(T), item T) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("queue handler panicked", "queue", q.name, "panic", r)
		}
	}()
	fn(item)
}

func (q *Queue[T]) notifyIdleLocked() {
	for _, w := range q.waiters {
		close(w)
	}
	q.waiters = nil
}

// Drain blocks until every pushed item has been handled or ctx is done.
// Calling Drain from inside the queue's own handler deadlocks.
func (q *Queue[T]) Drain(ctx context.Context) error {
	q.mu.Lock()
	if len(q.items) == 0 && !q.busy {
		q.mu.Unlock()
		return nil
	}
	w := make(chan struct{})
	q.waiters = append(q.waiters, w)
	q.mu.Unlock()

	select {
	case <-w:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting new items. The worker handles whatever is already
// queued, then exits. Close is idempotent.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal) // Wakes the worker
	if !q.subscribed {
		close(q.done)
	}
}

// Done returns a channel closed once the worker has exited, or once the
// queue is closed without ever having been subscribed.
func (q *Queue[T]) Done() <-chan struct{} {
	return q.done
}
