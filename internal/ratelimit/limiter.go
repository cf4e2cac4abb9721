// Package ratelimit implements a per-identity fixed-window request limiter.
//
// Each caller identity (normally the remote IP) owns one bucket counting the
// requests seen in the current window. When the window elapses the bucket
// resets; when the count would exceed the maximum the request is denied and
// the decision carries the remaining window time as a retry-after hint.
package ratelimit

import (
	"sync"
	"time"
)

// Decision is the outcome of a rate-limit check.
type Decision struct {
	Allowed bool

	// RetryAfter is the time until the current window elapses. Set only
	// when the request was denied.
	RetryAfter time.Duration

	// Remaining is the number of requests left in the current window.
	Remaining int
}

// bucket tracks one identity's requests within the current window.
type bucket struct {
	count       int
	windowStart time.Time
	lastSeen    time.Time
}

// Limiter is a fixed-window request limiter keyed by caller identity.
// Buckets are created lazily on first request and swept once they have been
// idle for a full window.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket

	window time.Duration
	max    int

	now      func() time.Time
	stopOnce sync.Once
	stopCh   chan struct{}
}

// New creates a Limiter allowing max requests per identity within each
// window. It starts a background sweep that drops idle buckets; callers must
// Stop the limiter when done with it.
func New(window time.Duration, max int) *Limiter {
	l := &Limiter{
		buckets: make(map[string]*bucket),
		window:  window,
		max:     max,
		now:     time.Now,
		stopCh:  make(chan struct{}),
	}
	go l.sweep()
	return l
}

// Allow records one request for identity and decides whether it may proceed.
// The count is incremented before the comparison, so the (max+1)-th request
// in a window is the first one denied.
func (l *Limiter) Allow(identity string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()

	b, ok := l.buckets[identity]
	if !ok || now.Sub(b.windowStart) >= l.window {
		l.buckets[identity] = &bucket{count: 1, windowStart: now, lastSeen: now}
		return Decision{Allowed: true, Remaining: l.max - 1}
	}

	b.count++
	b.lastSeen = now
	if b.count > l.max {
		return Decision{
			Allowed:    false,
			RetryAfter: b.windowStart.Add(l.window).Sub(now),
		}
	}
	return Decision{Allowed: true, Remaining: l.max - b.count}
}

// Stop terminates the background sweep. Safe to call more than once.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
}

func (l *Limiter) sweep() {
	ticker := time.NewTicker(l.window)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.mu.Lock()
			cutoff := l.now().Add(-l.window)
			for identity, b := range l.buckets {
				if b.lastSeen.Before(cutoff) {
					delete(l.buckets, identity)
				}
			}
			l.mu.Unlock()
		case <-l.stopCh:
			return
		}
	}
}
