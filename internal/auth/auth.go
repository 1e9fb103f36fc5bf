package auth

import (
	"context"
	"errors"
	"strings"
)

// ErrTokenNotFound is returned when a token does not resolve to an active
// identity. Unknown and deactivated tokens are deliberately indistinguishable.
var ErrTokenNotFound = errors.New("token not found")

// Identity is the authenticated caller resolved from a bearer token.
type Identity struct {
	Username string
}

// CredentialStore resolves plaintext bearer tokens into identities.
//
// Implementations must return ErrTokenNotFound for unknown or inactive
// tokens, and a distinct error when the store itself is unreachable so that
// callers can fail closed instead of treating an outage as a bad credential.
type CredentialStore interface {
	Resolve(ctx context.Context, token string) (*Identity, error)
}

// ParseBearer extracts the token from an "Authorization: Bearer <token>"
// header. The scheme match is case-insensitive.
func ParseBearer(header string) (string, error) {
	if header == "" {
		return "", errors.New("missing Authorization header")
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid Authorization header format")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errors.New("empty bearer token")
	}
	return token, nil
}
