package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dDraxb/Llamaserve/internal/models"
)

// UserRepository handles credential-store rows. The proxy only calls
// GetByKeyHash; the write methods exist for the userctl tool.
type UserRepository struct {
	db    *DB
	cache *LRUCache
}

// NewUserRepository creates a new user repository.
func NewUserRepository(db *DB) *UserRepository {
	return &UserRepository{
		db:    db,
		cache: db.userCache,
	}
}

// GetByKeyHash retrieves a user by API key hash (with caching). The cache
// TTL bounds how long a rotated or deactivated key stays visible to a
// running proxy; key state itself is owned by the userctl tool.
func (r *UserRepository) GetByKeyHash(ctx context.Context, keyHash string) (*models.User, error) {
	if cached, found := r.cache.Get(keyHash); found {
		return cached.(*models.User), nil
	}

	var user models.User
	query := fmt.Sprintf(`
		SELECT id, username, api_key_hash, is_active, created_at
		FROM %s
		WHERE api_key_hash = $1
		LIMIT 1
	`, r.db.usersTable)

	err := r.db.conn.GetContext(ctx, &user, query, keyHash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	r.cache.Set(keyHash, &user)

	return &user, nil
}

// Create inserts a new user with the given key hash.
func (r *UserRepository) Create(ctx context.Context, username, keyHash string) (*models.User, error) {
	user := &models.User{
		Username:   username,
		APIKeyHash: keyHash,
		IsActive:   true,
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (username, api_key_hash, is_active)
		VALUES ($1, $2, TRUE)
		RETURNING id, created_at
	`, r.db.usersTable)

	err := r.db.conn.QueryRowxContext(ctx, query, username, keyHash).
		Scan(&user.ID, &user.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	return user, nil
}

// RotateKey replaces the key hash for a user.
func (r *UserRepository) RotateKey(ctx context.Context, username, keyHash string) error {
	query := fmt.Sprintf(`UPDATE %s SET api_key_hash = $1 WHERE username = $2`, r.db.usersTable)
	return r.exec(ctx, query, keyHash, username)
}

// SetActive toggles the active flag for a user.
func (r *UserRepository) SetActive(ctx context.Context, username string, active bool) error {
	query := fmt.Sprintf(`UPDATE %s SET is_active = $1 WHERE username = $2`, r.db.usersTable)
	return r.exec(ctx, query, active, username)
}

// Delete removes a user.
func (r *UserRepository) Delete(ctx context.Context, username string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE username = $1`, r.db.usersTable)
	return r.exec(ctx, query, username)
}

// List returns all users ordered by name.
func (r *UserRepository) List(ctx context.Context) ([]*models.User, error) {
	query := fmt.Sprintf(`
		SELECT id, username, api_key_hash, is_active, created_at
		FROM %s
		ORDER BY username
	`, r.db.usersTable)

	var users []*models.User
	if err := r.db.conn.SelectContext(ctx, &users, query); err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}

	return users, nil
}

func (r *UserRepository) exec(ctx context.Context, query string, args ...interface{}) error {
	result, err := r.db.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrUserNotFound
	}

	return nil
}
