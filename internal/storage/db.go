package storage

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver
)

// Table names come from configuration and are interpolated into SQL, so they
// are restricted to plain identifiers.
var validIdent = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// DB wraps the database connection shared by the credential store and the
// usage ledger.
type DB struct {
	conn *sqlx.DB

	usersTable    string
	requestsTable string

	userCache *LRUCache
}

// DBConfig holds database configuration.
type DBConfig struct {
	DSN string

	UsersTable    string
	RequestsTable string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration

	UserCacheSize int
	UserCacheTTL  time.Duration
}

// NewDB connects to Postgres and configures the connection pool.
func NewDB(cfg DBConfig) (*DB, error) {
	if !validIdent.MatchString(cfg.UsersTable) || !validIdent.MatchString(cfg.RequestsTable) {
		return nil, fmt.Errorf("invalid table name: users=%q requests=%q", cfg.UsersTable, cfg.RequestsTable)
	}

	conn, err := sqlx.Connect("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	conn.SetMaxOpenConns(cfg.MaxOpenConns)
	conn.SetMaxIdleConns(cfg.MaxIdleConns)
	conn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	conn.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	return &DB{
		conn:          conn,
		usersTable:    cfg.UsersTable,
		requestsTable: cfg.RequestsTable,
		userCache:     NewLRUCache(cfg.UserCacheSize, cfg.UserCacheTTL),
	}, nil
}

// Close closes the database connection and clears the credential cache.
func (db *DB) Close() error {
	db.userCache.Clear()
	return db.conn.Close()
}

// Ping checks if the database is reachable.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// EnsureSchema creates the credential and ledger tables if they do not exist
// and upgrades older ledger tables that predate the byte/duration columns.
func (db *DB) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id SERIAL PRIMARY KEY,
			username TEXT UNIQUE NOT NULL,
			api_key_hash TEXT NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`, db.usersTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_api_key_hash_idx ON %s (api_key_hash)`,
			db.usersTable, db.usersTable),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id BIGSERIAL PRIMARY KEY,
			username TEXT NOT NULL,
			path TEXT NOT NULL,
			status_code INTEGER NOT NULL,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			request_bytes BIGINT NOT NULL DEFAULT 0,
			response_bytes BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`, db.requestsTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_username_created_at_idx ON %s (username, created_at)`,
			db.requestsTable, db.requestsTable),
		fmt.Sprintf(`ALTER TABLE %s ADD COLUMN IF NOT EXISTS duration_ms INTEGER NOT NULL DEFAULT 0`,
			db.requestsTable),
		fmt.Sprintf(`ALTER TABLE %s ADD COLUMN IF NOT EXISTS request_bytes BIGINT NOT NULL DEFAULT 0`,
			db.requestsTable),
		fmt.Sprintf(`ALTER TABLE %s ADD COLUMN IF NOT EXISTS response_bytes BIGINT NOT NULL DEFAULT 0`,
			db.requestsTable),
	}

	for _, stmt := range stmts {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema bootstrap failed: %w", err)
		}
	}
	return nil
}
