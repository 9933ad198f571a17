package ports

// Package ports defines interfaces (hexagonal ports) for session lookup.
// Implementations live in internal/adapters; orchestration in internal/http.

import (
	"context"

	domainauth "github.com/scoutline/scout-api/internal/domain/auth"
)

// SessionStore persists and retrieves owner sessions.
type SessionStore interface {
	Save(ctx context.Context, sess domainauth.Session) error
	Get(ctx context.Context, id string) (domainauth.Session, error)
	Delete(ctx context.Context, id string) error
}
