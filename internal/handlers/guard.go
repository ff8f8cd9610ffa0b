package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/stockroom/apiserver/internal/logx"
	"github.com/stockroom/apiserver/types"
	"go.uber.org/zap"
)

type contextKey string

const contextUserKey contextKey = "user"

// Authorizer resolves a bearer token to a user holding at least minRole.
// *services.AuthService satisfies it.
type Authorizer interface {
	Authorize(ctx context.Context, token string, minRole types.Role) (*types.User, error)
}

// RequireRole rejects requests without a valid bearer token with 401 and
// requests whose user ranks below minRole with 403. The user is stored in
// the request context for the handlers behind it.
func RequireRole(auth Authorizer, minRole types.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := bearerToken(r)
			if err != nil {
				writeUnauthorized(w)
				return
			}

			user, err := auth.Authorize(r.Context(), token, minRole)
			if err != nil {
				writeServiceError(w, r, err)
				return
			}

			ctx := context.WithValue(r.Context(), contextUserKey, user)
			ctx = logx.With(ctx, zap.Int("user_id", user.ID))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// userFromContext returns the user stored by RequireRole.
func userFromContext(ctx context.Context) (*types.User, bool) {
	user, ok := ctx.Value(contextUserKey).(*types.User)
	return user, ok && user != nil
}

func bearerToken(r *http.Request) (string, error) {
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if auth == "" {
		return "", errors.New("missing authorization")
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errors.New("invalid authorization")
	}
	return token, nil
}

// currentUser fetches the authenticated user or writes 401.
func currentUser(w http.ResponseWriter, r *http.Request) (*types.User, bool) {
	user, ok := userFromContext(r.Context())
	if !ok {
		writeUnauthorized(w)
	}
	return user, ok
}
