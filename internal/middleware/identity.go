package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/homeyield/selection-server-go/internal/config"
	"github.com/homeyield/selection-server-go/internal/identity"
	"github.com/homeyield/selection-server-go/internal/util"
)

const (
	IdentityContextKey contextKey = "identity"
	ClientIDContextKey contextKey = "clientId"
)

func GetIdentity(ctx context.Context) *identity.Manager {
	if ident, ok := ctx.Value(IdentityContextKey).(*identity.Manager); ok {
		return ident
	}
	return nil
}

func GetClientID(ctx context.Context) string {
	if id, ok := ctx.Value(ClientIDContextKey).(string); ok {
		return id
	}
	return ""
}

// StorageFactory opens the durable storage of one client.
type StorageFactory func(clientID string) identity.Storage

// IdentityMiddleware binds each request to a client profile through the
// client_id cookie, issuing one when absent, and attaches that client's
// identity manager to the request context.
type IdentityMiddleware struct {
	newStorage StorageFactory
	secure     bool
}

func NewIdentityMiddleware(newStorage StorageFactory, secure bool) *IdentityMiddleware {
	return &IdentityMiddleware{newStorage: newStorage, secure: secure}
}

func (m *IdentityMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientID := ""
		if cookie, err := r.Cookie(config.ClientCookieName); err == nil && util.IsValidUUID(cookie.Value) {
			clientID = cookie.Value
		}
		if clientID == "" {
			clientID = uuid.NewString()
			setClientCookie(w, clientID, m.secure)
		}

		ctx := context.WithValue(r.Context(), ClientIDContextKey, clientID)
		ctx = context.WithValue(ctx, IdentityContextKey, identity.NewManager(m.newStorage(clientID)))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func setClientCookie(w http.ResponseWriter, clientID string, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     config.ClientCookieName,
		Value:    clientID,
		Path:     "/",
		MaxAge:   int(config.ClientCookieMaxAge.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}
