package httpapi

import (
	"context"
	"errors"
	"fmt"

	"github.com/dDraxb/Llamaserve/internal/auth"
	"github.com/dDraxb/Llamaserve/internal/models"
	"github.com/dDraxb/Llamaserve/internal/storage"
)

// userGetter is the read path of the credential store.
type userGetter interface {
	GetByKeyHash(ctx context.Context, keyHash string) (*models.User, error)
}

// DatabaseCredentialStore implements auth.CredentialStore on top of the
// user repository.
type DatabaseCredentialStore struct {
	users userGetter
}

// NewDatabaseCredentialStore creates a database-backed credential store.
func NewDatabaseCredentialStore(users userGetter) *DatabaseCredentialStore {
	return &DatabaseCredentialStore{users: users}
}

// Resolve hashes the token and looks up the matching identity. Inactive users
// resolve exactly like unknown tokens so that the 401 response does not leak
// whether an identity exists. Store failures are returned as-is (wrapped) so
// the pipeline can fail closed with 503 instead of 401.
func (s *DatabaseCredentialStore) Resolve(ctx context.Context, token string) (*auth.Identity, error) {
	user, err := s.users.GetByKeyHash(ctx, auth.HashKey(token))
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return nil, auth.ErrTokenNotFound
		}
		return nil, fmt.Errorf("credential lookup failed: %w", err)
	}

	if !user.IsActive {
		return nil, auth.ErrTokenNotFound
	}

	return &auth.Identity{Username: user.Username}, nil
}
