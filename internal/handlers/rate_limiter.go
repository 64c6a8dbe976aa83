package handlers

import (
	"strings"
	"sync"
	"time"
)

type rateLimiter interface {
	Allow(key string) bool
}

// fixedWindowLimiter counts requests per key inside a fixed window. Checkout
// uses it keyed by customer id so a stuck client retry loop cannot pile up
// pending orders.
type fixedWindowLimiter struct {
	limit  int
	window time.Duration
	clock  func() time.Time
	mu     sync.Mutex
	slots  map[string]windowSlot
}

type windowSlot struct {
	count   int
	resetAt time.Time
}

func newFixedWindowLimiter(limit int, window time.Duration, clock func() time.Time) rateLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &fixedWindowLimiter{
		limit:  limit,
		window: window,
		clock:  clock,
		slots:  make(map[string]windowSlot),
	}
}

func (l *fixedWindowLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = "anonymous"
	}
	now := l.clock()
	l.mu.Lock()
	defer l.mu.Unlock()

	slot, ok := l.slots[key]
	if !ok || now.After(slot.resetAt) {
		l.slots[key] = windowSlot{count: 1, resetAt: now.Add(l.window)}
		l.pruneExpiredLocked(now)
		return true
	}

	if slot.count >= l.limit {
		return false
	}
	slot.count++
	l.slots[key] = slot
	return true
}

func (l *fixedWindowLimiter) pruneExpiredLocked(now time.Time) {
	for key, slot := range l.slots {
		if now.After(slot.resetAt) {
			delete(l.slots, key)
		}
	}
}
