package clock

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCounter_Next(t *testing.T) {
	c := NewCounter()
	assert.Equal(t, int64(0), c.Current())
	assert.Equal(t, int64(1), c.Next())
	assert.Equal(t, int64(2), c.Next())
	assert.Equal(t, int64(2), c.Current())
}

func TestCounter_NewCounterAt(t *testing.T) {
	c := NewCounterAt(7)
	assert.Equal(t, int64(8), c.Next())
}

func TestCounter_AdvanceTo(t *testing.T) {
	c := NewCounterAt(5)
	c.AdvanceTo(3)
	assert.Equal(t, int64(5), c.Current(), "counter must not move backwards")
	c.AdvanceTo(9)
	assert.Equal(t, int64(10), c.Next())
}

func TestCounter_ThreadSafe(t *testing.T) {
	c := NewCounter()
	const goroutines = 50
	const calls = 100

	var wg sync.WaitGroup
	seqs := make(chan int64, goroutines*calls)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < calls; j++ {
				seqs <- c.Next()
			}
		}()
	}
	wg.Wait()
	close(seqs)

	seen := make(map[int64]bool)
	for s := range seqs {
		assert.False(t, seen[s], "seq %d generated twice", s)
		seen[s] = true
	}
	assert.Len(t, seen, goroutines*calls)
}
