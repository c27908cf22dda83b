package autosave

import (
	"sync"
	"time"

	"github.com/TheRealM4rtin/Clippia-sub000/internal/clock"
)

const (
	DefaultLimitInterval = time.Minute
	DefaultLimitRequests = 10
)

// Limiter is a sliding-window limiter keyed by window id.
type Limiter struct {
	clock    clock.Clock
	interval time.Duration
	max      int

	mu      sync.Mutex
	entries map[string][]time.Time
}

func NewLimiter(clk clock.Clock, interval time.Duration, maxRequests int) *Limiter {
	if clk == nil {
		clk = clock.Real()
	}
	if interval <= 0 {
		interval = DefaultLimitInterval
	}
	if maxRequests <= 0 {
		maxRequests = DefaultLimitRequests
	}
	return &Limiter{
		clock:    clk,
		interval: interval,
		max:      maxRequests,
		entries:  map[string][]time.Time{},
	}
}

// Allow records an attempt for key and reports whether it fits in the window.
// Rejected attempts are not recorded.
func (l *Limiter) Allow(key string) bool {
	now := l.clock.Now()
	cutoff := now.Add(-l.interval)
	l.mu.Lock()
	defer l.mu.Unlock()
	hits := l.entries[key]
	kept := hits[:0]
	for _, at := range hits {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	l.entries[key] = append(kept, now)
	return true
}

func (l *Limiter) Forget(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, key)
}
