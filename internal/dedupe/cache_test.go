// ABOUTME: Tests for the replay cache backing idempotent writes
// ABOUTME: Validates first-writer-wins, TTL expiry, size eviction, sweeping and concurrency

package dedupe

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func TestCache_GetMissing(t *testing.T) {
	c := New[string](time.Minute, 10, nil)

	_, ok := c.Get("never-stored")
	assert.False(t, ok)
}

func TestCache_FirstWriterWins(t *testing.T) {
	c := New[string](time.Minute, 10, newClock().Now)

	assert.Equal(t, "first", c.Put("k", "first"))
	assert.Equal(t, "first", c.Put("k", "second"))

	v, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "first", v)
}

func TestCache_Expiry(t *testing.T) {
	clock := newClock()
	c := New[int](time.Minute, 10, clock.Now)

	c.Put("k", 1)
	clock.Advance(59 * time.Second)
	_, ok := c.Get("k")
	assert.True(t, ok)

	clock.Advance(time.Second)
	_, ok = c.Get("k")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len(), "expired entries are dropped on read")

	// an expired key can be written again
	assert.Equal(t, 2, c.Put("k", 2))
}

func TestCache_EvictsOldest(t *testing.T) {
	clock := newClock()
	c := New[int](time.Hour, 2, clock.Now)

	c.Put("a", 1)
	clock.Advance(time.Second)
	c.Put("b", 2)
	clock.Advance(time.Second)
	c.Put("c", 3)

	assert.Equal(t, 2, c.Len())
	_, ok := c.Get("a")
	assert.False(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)
}

func TestCache_Sweep(t *testing.T) {
	clock := newClock()
	c := New[int](time.Minute, 10, clock.Now)

	c.Put("old-1", 1)
	c.Put("old-2", 2)
	clock.Advance(30 * time.Second)
	c.Put("fresh", 3)
	clock.Advance(30 * time.Second)

	assert.Equal(t, 2, c.Sweep(clock.Now()))
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, 0, c.Sweep(clock.Now()))
}

func TestCache_Concurrent(t *testing.T) {
	c := New[int](time.Minute, 1000, nil)

	var wg sync.WaitGroup
	winners := make([]int, 50)
	for i := range winners {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			winners[i] = c.Put("shared", i)
			c.Put(fmt.Sprintf("own-%d", i), i)
		}(i)
	}
	wg.Wait()

	for _, w := range winners {
		assert.Equal(t, winners[0], w)
	}
	assert.Equal(t, 51, c.Len())
}
