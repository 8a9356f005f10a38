// Package ratelimit tracks per-source request budgets over a rolling window.
//
// The limiter never blocks: a caller past budget is told no and skips its tick.
package ratelimit

import (
	"sync"
	"time"
)

// Limiter holds one fixed-window counter per source.
type Limiter struct {
	mu       sync.Mutex
	now      func() time.Time
	counters map[string]*counter
}

type counter struct {
	max         int
	window      time.Duration
	windowStart time.Time
	count       int
}

// Usage is a read-only view of one source's counter.
type Usage struct {
	Count     int
	Limit     int
	Window    time.Duration
	ResetIn   time.Duration
	Unlimited bool
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// New creates an empty limiter.
func New(opts ...Option) *Limiter {
	l := &Limiter{
		now:      time.Now,
		counters: make(map[string]*counter),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Register installs a budget of max requests per window for id. A max of
// zero or less leaves the source unlimited. The window opens at the first
// granted request, not here.
//
// Re-registering keeps the requests already counted in the open window, so
// removing and adding a source back never hands out a fresh budget.
func (l *Limiter) Register(id string, max int, window time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if max <= 0 {
		delete(l.counters, id)
		return
	}
	if c, ok := l.counters[id]; ok {
		c.max = max
		c.window = window
		return
	}
	l.counters[id] = &counter{max: max, window: window}
}

// TryAcquire consumes one request from id's budget. It resets the window
// first if it has fully elapsed. Unknown or unlimited sources always succeed.
func (l *Limiter) TryAcquire(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.counters[id]
	if !ok {
		return true
	}

	now := l.now()
	if now.Sub(c.windowStart) >= c.window {
		c.count = 0
		c.windowStart = now
	}

	if c.count < c.max {
		c.count++
		return true
	}
	return false
}

// Usage reports id's counter without mutating it. A window that has not been
// opened yet or has already elapsed reports zero requests and no reset.
func (l *Limiter) Usage(id string) Usage {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.counters[id]
	if !ok {
		return Usage{Unlimited: true}
	}

	u := Usage{Count: c.count, Limit: c.max, Window: c.window}
	if c.windowStart.IsZero() {
		return u
	}
	elapsed := l.now().Sub(c.windowStart)
	if elapsed >= c.window {
		u.Count = 0
		return u
	}
	u.ResetIn = c.window - elapsed
	return u
}

// Remaining returns how many requests id may still issue in the current
// window, or -1 when it is unlimited.
func (l *Limiter) Remaining(id string) int {
	u := l.Usage(id)
	if u.Unlimited {
		return -1
	}
	return u.Limit - u.Count
}
