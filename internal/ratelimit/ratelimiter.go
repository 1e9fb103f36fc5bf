package ratelimit

import (
	"context"
	"time"
)

// Limiter reports whether an identity has exhausted its quota for the
// current trailing window.
type Limiter interface {
	IsLimited(ctx context.Context, username string) (bool, error)
}

// RequestCounter is the slice of the usage ledger the ledger-backed limiter
// needs: how many records a user has inside the trailing window.
type RequestCounter interface {
	CountSince(ctx context.Context, username string, since time.Time) (int, error)
}

// LedgerLimiter enforces the limit by counting usage-ledger records in the
// trailing window. Denied requests are themselves logged (429), so they count
// toward subsequent checks. The check-then-act sequence is not transactional;
// concurrent bursts right at the boundary may briefly overshoot the limit.
type LedgerLimiter struct {
	counter RequestCounter
	limit   int
	window  time.Duration
}

// NewLedgerLimiter creates a ledger-backed limiter. A limit <= 0 disables
// limiting.
func NewLedgerLimiter(counter RequestCounter, limit int, window time.Duration) *LedgerLimiter {
	return &LedgerLimiter{
		counter: counter,
		limit:   limit,
		window:  window,
	}
}

// IsLimited counts the user's ledger records inside the trailing window.
func (l *LedgerLimiter) IsLimited(ctx context.Context, username string) (bool, error) {
	if l.limit <= 0 {
		return false, nil
	}

	count, err := l.counter.CountSince(ctx, username, time.Now().Add(-l.window))
	if err != nil {
		return false, err
	}

	return count >= l.limit, nil
}

// NoopLimiter allows all requests.
type NoopLimiter struct{}

func NewNoopLimiter() *NoopLimiter {
	return &NoopLimiter{}
}

func (l *NoopLimiter) IsLimited(ctx context.Context, username string) (bool, error) {
	return false, nil
}
