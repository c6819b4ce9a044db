package ratelimit

import (
	"sync"
	"time"
)

// bucket counts requests for one identity inside the current window.
// Each bucket has its own lock so unrelated identities never contend.
type bucket struct {
	mu          sync.Mutex
	windowStart time.Time
	count       int
}

// Limiter is a window counter keyed by identity (user id, IP, or API key id).
// One instance is constructed per concern (login, API keys) and shared across
// all request handlers; it is safe for concurrent use.
type Limiter struct {
	limit  int
	window time.Duration

	mu      sync.RWMutex
	buckets map[string]*bucket

	stop chan struct{}
	done chan struct{}
}

// New creates a limiter allowing limit requests per window per key.
func New(limit int, window time.Duration) *Limiter {
	l := &Limiter{
		limit:   limit,
		window:  window,
		buckets: make(map[string]*bucket),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go l.sweep()
	return l
}

// Allow records a request for key and reports whether it is within the
// default limit. On deny, retryAfter is the time until the window resets.
func (l *Limiter) Allow(key string) (bool, time.Duration) {
	return l.AllowLimit(key, l.limit)
}

// AllowLimit is Allow with a per-key limit override (API keys carry their own).
func (l *Limiter) AllowLimit(key string, limit int) (bool, time.Duration) {
	b := l.bucket(key)

	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	if now.Sub(b.windowStart) >= l.window {
		b.windowStart = now
		b.count = 0
	}

	if b.count >= limit {
		return false, l.retryAfter(b, now)
	}
	b.count++
	return true, 0
}

// Check reports whether key is within the limit without recording a request.
// Used for login throttling, where only failures count against the budget.
func (l *Limiter) Check(key string) (bool, time.Duration) {
	l.mu.RLock()
	b, ok := l.buckets[key]
	l.mu.RUnlock()
	if !ok {
		return true, 0
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	if now.Sub(b.windowStart) >= l.window {
		return true, 0
	}
	if b.count >= l.limit {
		return false, l.retryAfter(b, now)
	}
	return true, 0
}

// Incr records one failed attempt for key.
func (l *Limiter) Incr(key string) {
	b := l.bucket(key)

	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	if now.Sub(b.windowStart) >= l.window {
		b.windowStart = now
		b.count = 0
	}
	b.count++
}

// Reset clears the counter for key. Called after a successful login.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	delete(l.buckets, key)
	l.mu.Unlock()
}

// Close stops the background sweep.
func (l *Limiter) Close() {
	close(l.stop)
	<-l.done
}

func (l *Limiter) retryAfter(b *bucket, now time.Time) time.Duration {
	remaining := b.windowStart.Add(l.window).Sub(now)
	if remaining <= 0 {
		// Window boundary raced with the check; the next attempt will reset.
		return time.Second
	}
	return remaining
}

func (l *Limiter) bucket(key string) *bucket {
	l.mu.RLock()
	b, ok := l.buckets[key]
	l.mu.RUnlock()
	if ok {
		return b
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok = l.buckets[key]; ok {
		return b
	}
	b = &bucket{}
	l.buckets[key] = b
	return b
}

// sweep drops buckets whose window has long passed so memory stays bounded.
func (l *Limiter) sweep() {
	defer close(l.done)

	ticker := time.NewTicker(l.window)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-2 * l.window)
			l.mu.Lock()
			for key, b := range l.buckets {
				b.mu.Lock()
				stale := b.windowStart.Before(cutoff)
				b.mu.Unlock()
				if stale {
					delete(l.buckets, key)
				}
			}
			l.mu.Unlock()
		}
	}
}
