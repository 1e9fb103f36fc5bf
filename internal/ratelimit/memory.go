package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// MemoryLimiter keeps one token bucket per username in process memory. The
// bucket refills at limit/window and bursts up to limit, an approximation of
// the trailing-window count that never touches the database.
type MemoryLimiter struct {
	mu        sync.Mutex
	users     map[string]*userLimiter
	limit     int
	window    time.Duration
	lastSweep time.Time
}

type userLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewMemoryLimiter creates an in-process limiter.
func NewMemoryLimiter(limit int, window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		users:     make(map[string]*userLimiter),
		limit:     limit,
		window:    window,
		lastSweep: time.Now(),
	}
}

// IsLimited consumes one token from the user's bucket.
func (l *MemoryLimiter) IsLimited(ctx context.Context, username string) (bool, error) {
	if l.limit <= 0 {
		return false, nil
	}

	l.mu.Lock()
	l.sweepLocked()

	ul, exists := l.users[username]
	if !exists {
		ul = &userLimiter{
			limiter: rate.NewLimiter(rate.Limit(float64(l.limit)/l.window.Seconds()), l.limit),
		}
		l.users[username] = ul
	}
	ul.lastSeen = time.Now()
	l.mu.Unlock()

	return !ul.limiter.Allow(), nil
}

// sweepLocked drops buckets idle for several windows. Called with l.mu held.
func (l *MemoryLimiter) sweepLocked() {
	now := time.Now()
	if now.Sub(l.lastSweep) < l.window {
		return
	}
	l.lastSweep = now

	idle := 3 * l.window
	for username, ul := range l.users {
		if now.Sub(ul.lastSeen) > idle {
			delete(l.users, username)
		}
	}
}
