package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/dmitrijs2005/quickide/internal/common"
	"github.com/dmitrijs2005/quickide/internal/server/auth"
)

// WithIdentity stores the authenticated caller in ctx.
func WithIdentity(ctx context.Context, id auth.Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFromContext returns the caller set by the access guard.
func IdentityFromContext(ctx context.Context) (auth.Identity, bool) {
	id, ok := ctx.Value(identityKey).(auth.Identity)
	return id, ok
}

// bearerToken extracts the token from "Authorization: Bearer <token>".
func bearerToken(r *http.Request) (string, error) {
	h := strings.TrimSpace(r.Header.Get(common.AuthorizationHeaderName))
	if h == "" {
		return "", common.ErrMissingCredential
	}
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, common.BearerScheme) {
		return "", common.ErrInvalidToken
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", common.ErrInvalidToken
	}
	return token, nil
}

// accessGuard rejects requests without a valid session token with 401. The
// wrapped handler only runs for verified callers.
func (s *Server) accessGuard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := bearerToken(r)
		if err == nil {
			var id auth.Identity
			id, err = s.users.Verify(token)
			if err == nil {
				next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
				return
			}
		}

		reason := "invalid"
		switch {
		case errors.Is(err, common.ErrMissingCredential):
			reason = "missing"
		case errors.Is(err, common.ErrTokenExpired):
			reason = "expired"
		}
		s.logger.Debug(r.Context(), "access denied",
			"request_id", RequestIDFromContext(r.Context()),
			"path", r.URL.Path,
			"reason", reason,
		)
		s.writeError(w, r, err)
	})
}
