package middleware

import (
	"context"
	"log/slog"
	"strings"

	"connectrpc.com/connect"

	"github.com/Harry0M/oikos-sub001/internal/auth"
	"github.com/Harry0M/oikos-sub001/internal/models"
	"github.com/Harry0M/oikos-sub001/internal/session"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	// UserIDKey is the context key for storing the authenticated user ID.
	UserIDKey contextKey = "user_id"
	// DisplayNameKey is the context key for storing the authenticated user's display name.
	DisplayNameKey contextKey = "display_name"
)

// GetUserID extracts the user ID from the context.
// Returns empty string if not found.
func GetUserID(ctx context.Context) string {
	userID, _ := ctx.Value(UserIDKey).(string)
	return userID
}

// GetIdentity extracts the authenticated identity from the context.
// The zero Identity means the request was not authenticated.
func GetIdentity(ctx context.Context) models.Identity {
	name, _ := ctx.Value(DisplayNameKey).(string)
	return models.Identity{UserID: GetUserID(ctx), DisplayName: name}
}

// WithIdentity returns ctx carrying identity.
func WithIdentity(ctx context.Context, identity models.Identity) context.Context {
	ctx = context.WithValue(ctx, UserIDKey, identity.UserID)
	return context.WithValue(ctx, DisplayNameKey, identity.DisplayName)
}

// RequireAuth returns a middleware that validates JWT tokens and requires authentication.
// The identity is added to the request context and signed into sessions, so
// the sync layer follows whoever is using the device.
func RequireAuth(jwtManager *auth.JWTManager, sessions *session.Manager) connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			tokenString, err := auth.BearerToken(req.Header().Get("Authorization"))
			if err != nil {
				return nil, connect.NewError(connect.CodeUnauthenticated, err)
			}

			claims, err := jwtManager.Validate(tokenString)
			if err != nil {
				return nil, connect.NewError(connect.CodeUnauthenticated, err)
			}

			identity := claims.Identity()
			if sessions != nil && !strings.HasSuffix(req.Spec().Procedure, "/SignOut") {
				if _, err := sessions.SignIn(ctx, identity, tokenString); err != nil {
					// The local ledger stays usable without sync.
					slog.Warn("Session sign-in failed", "user_id", identity.UserID, "error", err)
				}
			}

			return next(WithIdentity(ctx, identity), req)
		}
	}
}
