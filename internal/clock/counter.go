package clock

import "sync/atomic"

// Counter allocates strictly increasing sequence numbers for one actor.
//
// Thread-safety: Counter is safe for concurrent use (atomic operations).
// In practice only the frontend's change worker calls Next.
type Counter struct {
	seq atomic.Int64
}

// NewCounter creates a counter starting at 0.
func NewCounter() *Counter {
	return &Counter{}
}

// NewCounterAt creates a counter whose next value is start+1.
// Used when an actor resumes a document it has written before.
func NewCounterAt(start int64) *Counter {
	c := &Counter{}
	c.seq.Store(start)
	return c
}

// Next returns the next sequence number and increments the counter.
func (c *Counter) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last allocated sequence number.
func (c *Counter) Current() int64 {
	return c.seq.Load()
}

// AdvanceTo moves the counter forward to seq if it is behind.
// The counter never moves backwards.
func (c *Counter) AdvanceTo(seq int64) {
	for {
		cur := c.seq.Load()
		if seq <= cur {
			return
		}
		if c.seq.CompareAndSwap(cur, seq) {
			return
		}
	}
}
