package models

import (
	"time"
)

// UsageRecord is a single row of the usage ledger. Records are append-only:
// one per request that passed authentication, including requests rejected by
// the rate limiter (429) and failed upstream connections (502).
type UsageRecord struct {
	ID            int64     `db:"id"`
	Username      string    `db:"username"`
	Path          string    `db:"path"`
	StatusCode    int       `db:"status_code"`
	DurationMS    int64     `db:"duration_ms"`
	RequestBytes  int64     `db:"request_bytes"`
	ResponseBytes int64     `db:"response_bytes"`
	CreatedAt     time.Time `db:"created_at"`
}
