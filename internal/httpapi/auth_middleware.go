package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/dDraxb/Llamaserve/internal/auth"
)

type contextKey string

const identityKey contextKey = "identity"

// authMiddleware authenticates every request before it reaches the proxy.
// Requests without a resolvable bearer token terminate here with 401 and are
// not written to the usage ledger (there is no identity to attribute them
// to). A credential-store outage fails closed with 503.
func authMiddleware(store auth.CredentialStore, logger *logrus.Logger) func(http.Handler) http.Handler {
	log := logger.WithField("component", "auth")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := auth.ParseBearer(r.Header.Get("Authorization"))
			if err != nil {
				writeJSONError(w, http.StatusUnauthorized, "missing bearer token")
				return
			}

			identity, err := store.Resolve(r.Context(), token)
			if err != nil {
				if errors.Is(err, auth.ErrTokenNotFound) {
					writeJSONError(w, http.StatusUnauthorized, "invalid or inactive token")
					return
				}
				log.WithError(err).Error("Credential store unavailable")
				writeJSONError(w, http.StatusServiceUnavailable, "credential store unavailable")
				return
			}

			ctx := context.WithValue(r.Context(), identityKey, identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// identityFrom retrieves the authenticated identity from the request context.
func identityFrom(ctx context.Context) (*auth.Identity, bool) {
	identity, ok := ctx.Value(identityKey).(*auth.Identity)
	return identity, ok
}
