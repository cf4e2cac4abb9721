package ratelimit

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixedClock lets tests drive the limiter's notion of time.
type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestLimiter(window time.Duration, max int) (*Limiter, *fixedClock) {
	clock := &fixedClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	l := New(window, max)
	l.now = clock.Now
	return l, clock
}

func TestAllowWithinLimit(t *testing.T) {
	l, _ := newTestLimiter(time.Minute, 5)
	defer l.Stop()

	for i := 0; i < 5; i++ {
		d := l.Allow("10.0.0.1")
		assert.True(t, d.Allowed, "request %d should pass", i+1)
		assert.Equal(t, 4-i, d.Remaining)
	}
}

func TestDenyOverLimit(t *testing.T) {
	l, _ := newTestLimiter(time.Minute, 3)
	defer l.Stop()

	for i := 0; i < 3; i++ {
		require.True(t, l.Allow("caller").Allowed)
	}

	d := l.Allow("caller")
	assert.False(t, d.Allowed)
	assert.Equal(t, time.Minute, d.RetryAfter)
}

func TestRetryAfterShrinksThroughWindow(t *testing.T) {
	l, clock := newTestLimiter(time.Minute, 1)
	defer l.Stop()

	require.True(t, l.Allow("caller").Allowed)

	clock.Advance(40 * time.Second)
	d := l.Allow("caller")
	require.False(t, d.Allowed)
	assert.Equal(t, 20*time.Second, d.RetryAfter)
}

func TestWindowReset(t *testing.T) {
	l, clock := newTestLimiter(time.Minute, 2)
	defer l.Stop()

	require.True(t, l.Allow("caller").Allowed)
	require.True(t, l.Allow("caller").Allowed)
	require.False(t, l.Allow("caller").Allowed)

	clock.Advance(time.Minute)

	d := l.Allow("caller")
	assert.True(t, d.Allowed)
	assert.Equal(t, 1, d.Remaining, "reset bucket counts the current request")
}

func TestIdentitiesAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(time.Minute, 1)
	defer l.Stop()

	require.True(t, l.Allow("a").Allowed)
	require.False(t, l.Allow("a").Allowed)

	assert.True(t, l.Allow("b").Allowed, "b has its own bucket")
}

func TestConcurrentIncrementsAreLinearizable(t *testing.T) {
	const max = 50
	const callers = 200

	l, _ := newTestLimiter(time.Minute, max)
	defer l.Stop()

	var wg sync.WaitGroup
	allowed := make(chan bool, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			allowed <- l.Allow("shared").Allowed
		}()
	}
	wg.Wait()
	close(allowed)

	got := 0
	for ok := range allowed {
		if ok {
			got++
		}
	}
	assert.Equal(t, max, got, "exactly max requests may pass under contention")
}

func TestSweepDropsIdleBuckets(t *testing.T) {
	l, clock := newTestLimiter(50*time.Millisecond, 1)
	defer l.Stop()

	require.True(t, l.Allow("idle").Allowed)
	clock.Advance(time.Second)

	assert.Eventually(t, func() bool {
		l.mu.Lock()
		defer l.mu.Unlock()
		_, ok := l.buckets["idle"]
		return !ok
	}, time.Second, 10*time.Millisecond)
}
