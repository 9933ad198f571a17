// Package devseed seeds well-known development sessions so the API is
// immediately usable against a fresh local environment.
package devseed

import (
	"context"
	"fmt"
	"time"

	"github.com/scoutline/scout-api/internal/domain/auth"
	"github.com/scoutline/scout-api/internal/ports"
)

// Well-known development session identifiers. Use them as the session_id
// cookie value when exercising the API locally.
const (
	AdminSessionID = "dev-admin"
	UserSessionID  = "dev-user"

	AdminOwnerID = "dev-admin"
	UserOwnerID  = "dev-user"
)

const defaultSessionTTL = 12 * time.Hour

// Sessions writes the development sessions into the store. Existing sessions
// with the same IDs are overwritten, so repeated seeding is safe.
func Sessions(ctx context.Context, store ports.SessionStore, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	now := time.Now().UTC()

	seeds := []auth.Session{
		{
			ID:        AdminSessionID,
			OwnerID:   AdminOwnerID,
			Role:      auth.RoleAdmin,
			CreatedAt: now,
			ExpiresAt: now.Add(ttl),
		},
		{
			ID:        UserSessionID,
			OwnerID:   UserOwnerID,
			Role:      auth.RoleUser,
			CreatedAt: now,
			ExpiresAt: now.Add(ttl),
		},
	}

	for _, sess := range seeds {
		if err := store.Save(ctx, sess); err != nil {
			return fmt.Errorf("seed session %s: %w", sess.ID, err)
		}
	}
	return nil
}
