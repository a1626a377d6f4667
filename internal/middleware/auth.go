package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/homeyield/selection-server-go/internal/audit"
	apperrors "github.com/homeyield/selection-server-go/internal/errors"
	"github.com/homeyield/selection-server-go/internal/model"
	"github.com/homeyield/selection-server-go/internal/repository"
	"github.com/homeyield/selection-server-go/internal/util"
)

type contextKey string

const UserContextKey contextKey = "user"

func GetUser(ctx context.Context) *model.User {
	if user, ok := ctx.Value(UserContextKey).(*model.User); ok {
		return user
	}
	return nil
}

// GetUserID returns the signed-in user's id, or "" for anonymous requests.
func GetUserID(ctx context.Context) string {
	if user := GetUser(ctx); user != nil {
		return user.ID
	}
	return ""
}

// AuthMiddleware resolves an optional bearer token to a user. Requests
// without a token pass through anonymously; a token that matches no user is
// rejected.
type AuthMiddleware struct {
	userRepo repository.UserRepository
}

func NewAuthMiddleware(userRepo repository.UserRepository) *AuthMiddleware {
	return &AuthMiddleware{userRepo: userRepo}
}

func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractToken(r)
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}

		user, err := m.userRepo.FindByTokenHash(r.Context(), util.HashToken(token))
		if err != nil {
			log.Ctx(r.Context()).Error().Err(err).Msg("auth middleware: database error")
			writeError(w, apperrors.Persistence("authenticate", err))
			return
		}

		if user == nil {
			audit.LogFromRequest(r, audit.Event{Type: audit.EventAuthFailure})
			writeError(w, apperrors.InvalidToken("Invalid token"))
			return
		}

		ctx := context.WithValue(r.Context(), UserContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireUser rejects anonymous requests.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetUser(r.Context()) == nil {
			writeError(w, apperrors.Unauthorized("Missing authentication token"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// extractToken reads the bearer header, or the token query parameter for
// EventSource clients that cannot set headers.
func extractToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}

	return r.URL.Query().Get("token")
}
