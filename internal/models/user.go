package models

import (
	"time"
)

// User is an identity in the shared credential store. The proxy only reads
// this table; rows are managed by the userctl tool.
type User struct {
	ID         int64     `db:"id"`
	Username   string    `db:"username"`
	APIKeyHash string    `db:"api_key_hash"` // SHA-256 hex, never the raw key
	IsActive   bool      `db:"is_active"`
	CreatedAt  time.Time `db:"created_at"`
}
