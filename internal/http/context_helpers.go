package httpx

import (
	"context"
	"errors"
	"net/http"

	domainauth "github.com/scoutline/scout-api/internal/domain/auth"
)

// sessionKey is an unexported context key type to avoid collisions across packages.
// Centralized in this file so all handlers/middleware use the same key.
type sessionKey struct{}

// SetSessionInContext returns a child context that carries the given session.
// If session is nil, the original ctx is returned unchanged.
func SetSessionInContext(ctx context.Context, session *domainauth.Session) context.Context {
	if session == nil {
		return ctx
	}
	return context.WithValue(ctx, sessionKey{}, session)
}

// GetSessionFromContext returns the session from context and a boolean indicating presence.
func GetSessionFromContext(ctx context.Context) (*domainauth.Session, bool) {
	if session, ok := ctx.Value(sessionKey{}).(*domainauth.Session); ok && session != nil {
		return session, true
	}
	return nil, false
}

// OwnerIDFromContext returns the owner behind the current request, if any.
// Every owner-scoped handler reads identity through this accessor.
func OwnerIDFromContext(ctx context.Context) (string, bool) {
	session, ok := GetSessionFromContext(ctx)
	if !ok {
		return "", false
	}
	return session.OwnerID, true
}

// requireOwner resolves the owner identity or writes a 401 and returns ok=false.
// The session middleware normally guarantees presence; this covers handlers
// mounted without it.
func requireOwner(w http.ResponseWriter, r *http.Request) (string, bool) {
	ownerID, ok := OwnerIDFromContext(r.Context())
	if !ok {
		WriteError(w, ErrorParams{
			Code:    http.StatusUnauthorized,
			ErrCode: "authentication_required",
			Err:     errors.New("authentication required"),
		})
		return "", false
	}
	return ownerID, true
}
