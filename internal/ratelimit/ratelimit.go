// Package ratelimit provides a fixed-window per-key request limiter for the
// webhook endpoints. State is owned by the constructed Limiter instance, so
// independent limiters can coexist in tests.
package ratelimit

import (
	"sync"
	"time"
)

type entry struct {
	count   int
	resetAt time.Time
}

// Limiter allows up to maxRequests per key within each window. Expired
// windows are swept by a background janitor until Stop is called.
type Limiter struct {
	mu          sync.Mutex
	entries     map[string]*entry
	maxRequests int
	window      time.Duration
	stop        chan struct{}
	stopOnce    sync.Once
}

// New creates a Limiter and starts its cleanup goroutine.
func New(maxRequests int, window time.Duration) *Limiter {
	l := &Limiter{
		entries:     make(map[string]*entry),
		maxRequests: maxRequests,
		window:      window,
		stop:        make(chan struct{}),
	}
	go l.janitor()
	return l
}

// Allow reports whether another request from key fits in the current window
// and consumes a slot if it does.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	e, ok := l.entries[key]
	if !ok || now.After(e.resetAt) {
		l.entries[key] = &entry{count: 1, resetAt: now.Add(l.window)}
		return true
	}

	if e.count >= l.maxRequests {
		return false
	}
	e.count++
	return true
}

// Stop halts the cleanup goroutine.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}

func (l *Limiter) janitor() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			now := time.Now()
			l.mu.Lock()
			for key, e := range l.entries {
				if now.After(e.resetAt) {
					delete(l.entries, key)
				}
			}
			l.mu.Unlock()
		}
	}
}
