package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/zhouzirui/llmbot-chat/internal/identity"
	"github.com/zhouzirui/llmbot-chat/pkg/utils"
)

type identityKey struct{}

// Identity reads the bearer credential from the Authorization header, or
// from the idToken query parameter used by websocket clients, and stores
// the caller identity in the request context. Requests without a
// credential continue as anonymous; unreadable credentials are rejected.
func Identity(logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := identity.FromToken(bearerToken(r))
			if err != nil && !errors.Is(err, identity.ErrNoToken) {
				logger.Debug("rejecting credential", zap.String("path", r.URL.Path), zap.Error(err))
				utils.RespondError(w, http.StatusUnauthorized, "invalid credential")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

// WithIdentity attaches id to ctx.
func WithIdentity(ctx context.Context, id identity.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom returns the caller identity, anonymous when none was set.
func IdentityFrom(ctx context.Context) identity.Identity {
	if id, ok := ctx.Value(identityKey{}).(identity.Identity); ok {
		return id
	}
	return identity.Anonymous()
}

func bearerToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		scheme, token, ok := strings.Cut(auth, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	return r.URL.Query().Get("idToken")
}
