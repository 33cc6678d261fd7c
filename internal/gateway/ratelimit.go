package gateway

import (
	"sync"
	"time"
)

const (
	defaultLoginPerMinute = 10
	loginWindow           = time.Minute

	// maxTrackedIPs bounds the limiter map so rotating source addresses
	// cannot grow it without limit.
	maxTrackedIPs = 4096
)

type limiterEntry struct {
	windowStart time.Time
	count       int
}

// loginLimiter is a fixed-window attempt counter keyed by client IP.
type loginLimiter struct {
	mu      sync.Mutex
	max     int
	entries map[string]*limiterEntry
	now     func() time.Time
}

func newLoginLimiter(perMinute int) *loginLimiter {
	if perMinute <= 0 {
		perMinute = defaultLoginPerMinute
	}
	return &loginLimiter{
		max:     perMinute,
		entries: make(map[string]*limiterEntry),
		now:     time.Now,
	}
}

// Allow consumes one attempt for key. When the budget is spent it reports
// false together with the time left until the window resets.
func (l *loginLimiter) Allow(key string) (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if len(l.entries) >= maxTrackedIPs {
		l.evict(now)
	}

	e, ok := l.entries[key]
	if !ok || now.Sub(e.windowStart) >= loginWindow {
		l.entries[key] = &limiterEntry{windowStart: now, count: 1}
		return 0, true
	}
	e.count++
	if e.count > l.max {
		return e.windowStart.Add(loginWindow).Sub(now), false
	}
	return 0, true
}

// evict drops entries whose window has passed, then arbitrary ones while
// the map is still full.
func (l *loginLimiter) evict(now time.Time) {
	for k, e := range l.entries {
		if now.Sub(e.windowStart) >= loginWindow {
			delete(l.entries, k)
		}
	}
	for k := range l.entries {
		if len(l.entries) < maxTrackedIPs {
			break
		}
		delete(l.entries, k)
	}
}
