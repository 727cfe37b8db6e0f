// Package ratelimit provides a sliding-window limiter keyed by string, used to throttle logins.
package ratelimit

import (
	"sync"
	"time"
)

// Limiter allows at most limit events per key inside a sliding window. Stale keys are evicted by
// a background goroutine; call Close on shutdown to stop it.
type Limiter struct {
	mu       sync.Mutex
	attempts map[string][]time.Time
	limit    int
	window   time.Duration
	now      func() time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New starts a limiter that sweeps expired entries every cleanupEvery. A non-positive
// cleanupEvery disables the sweeper.
func New(limit int, window, cleanupEvery time.Duration, opts ...Option) *Limiter {
	l := &Limiter{
		attempts: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}
	for _, o := range opts {
		o(l)
	}
	if cleanupEvery > 0 {
		go l.cleanup(cleanupEvery)
	}
	return l
}

// Close stops the sweeper.
func (l *Limiter) Close() {
	l.stopOnce.Do(func() { close(l.stopCh) })
}

// Window returns the configured window.
func (l *Limiter) Window() time.Duration { return l.window }

// recent drops timestamps older than the window. Caller holds mu.
func (l *Limiter) recent(key string, now time.Time) []time.Time {
	cutoff := now.Add(-l.window)
	var out []time.Time
	for _, t := range l.attempts[key] {
		if t.After(cutoff) {
			out = append(out, t)
		}
	}
	return out
}

// Allow records an attempt for key and reports whether it is within the limit. Refused
// attempts are not recorded.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	recent := l.recent(key, now)
	if len(recent) >= l.limit {
		l.attempts[key] = recent
		return false
	}
	l.attempts[key] = append(recent, now)
	return true
}

// RetryAfter returns how long until key gets a free slot, zero when it has one now.
func (l *Limiter) RetryAfter(key string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	recent := l.recent(key, now)
	if len(recent) < l.limit {
		return 0
	}
	return recent[0].Add(l.window).Sub(now)
}

// Reset forgets every attempt for key.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	delete(l.attempts, key)
	l.mu.Unlock()
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.attempts)
}

func (l *Limiter) sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	for key := range l.attempts {
		recent := l.recent(key, now)
		if len(recent) == 0 {
			delete(l.attempts, key)
		} else {
			l.attempts[key] = recent
		}
	}
}

func (l *Limiter) cleanup(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopCh:
			return
		case <-ticker.C:
			l.sweep()
		}
	}
}
