package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryLimiter keeps the windows in process memory; it is reset on restart.
type MemoryLimiter struct {
	mu        sync.Mutex
	now       func() time.Time
	windows   map[string][]time.Time
	maxWindow time.Duration
}

func NewMemoryLimiter() *MemoryLimiter {
	return NewMemoryLimiterWithClock(time.Now)
}

func NewMemoryLimiterWithClock(now func() time.Time) *MemoryLimiter {
	if now == nil {
		now = time.Now
	}
	return &MemoryLimiter{
		now:     now,
		windows: make(map[string][]time.Time),
	}
}

func (l *MemoryLimiter) Reserve(_ context.Context, key string, p Policy) (*Reservation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if p.Window > l.maxWindow {
		l.maxWindow = p.Window
	}
	kept := prune(l.windows[key], now.Add(-p.Window))

	if len(kept) >= p.MaxMessages {
		l.store(key, kept)
		retry := time.Duration(0)
		if len(kept) > 0 {
			retry = kept[0].Add(p.Window).Sub(now)
		}
		return &Reservation{Allowed: false, RetryAfter: retry}, nil
	}

	kept = append(kept, now)
	l.windows[key] = kept
	return &Reservation{Allowed: true, cancel: func() { l.remove(key, now) }}, nil
}

func (l *MemoryLimiter) remove(key string, at time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	window := l.windows[key]
	for i := len(window) - 1; i >= 0; i-- {
		if window[i].Equal(at) {
			l.store(key, append(window[:i], window[i+1:]...))
			return
		}
	}
}

// Len returns the number of recorded sends for key, expired ones included until the next Reserve or Sweep.
func (l *MemoryLimiter) Len(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows[key])
}

func (l *MemoryLimiter) Sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-l.maxWindow)
	for key, window := range l.windows {
		l.store(key, prune(window, cutoff))
	}
}

func (l *MemoryLimiter) Close() error {
	return nil
}

func (l *MemoryLimiter) store(key string, window []time.Time) {
	if len(window) == 0 {
		delete(l.windows, key)
		return
	}
	l.windows[key] = window
}

// prune keeps the timestamps strictly after cutoff. Timestamps are appended in order, so the expired ones
// form a prefix.
func prune(window []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(window) && !window[i].After(cutoff) {
		i++
	}
	return window[i:]
}
