package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/dDraxb/Llamaserve/internal/models"
)

// UsageRepository is the append-only usage ledger. It doubles as the data
// source for the ledger-backed rate limiter via CountSince.
type UsageRepository struct {
	db *DB
}

// NewUsageRepository creates a new usage repository.
func NewUsageRepository(db *DB) *UsageRepository {
	return &UsageRepository{db: db}
}

// Insert appends one usage record. CreatedAt is assigned by the database.
func (r *UsageRepository) Insert(ctx context.Context, rec *models.UsageRecord) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (username, path, status_code, duration_ms, request_bytes, response_bytes)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`, r.db.requestsTable)

	err := r.db.conn.QueryRowxContext(
		ctx, query,
		rec.Username, rec.Path, rec.StatusCode, rec.DurationMS, rec.RequestBytes, rec.ResponseBytes,
	).Scan(&rec.ID, &rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert usage record: %w", err)
	}

	return nil
}

// CountSince counts a user's ledger records created at or after the given
// time.
func (r *UsageRepository) CountSince(ctx context.Context, username string, since time.Time) (int, error) {
	query := fmt.Sprintf(`
		SELECT COUNT(*)
		FROM %s
		WHERE username = $1 AND created_at >= $2
	`, r.db.requestsTable)

	var count int
	if err := r.db.conn.GetContext(ctx, &count, query, username, since); err != nil {
		return 0, fmt.Errorf("failed to count usage records: %w", err)
	}

	return count, nil
}
