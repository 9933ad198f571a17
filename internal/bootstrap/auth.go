package bootstrap

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	redisadapter "github.com/scoutline/scout-api/internal/adapters/redis"
	"github.com/scoutline/scout-api/internal/devseed"
	httpx "github.com/scoutline/scout-api/internal/http"
	"github.com/scoutline/scout-api/internal/ports"
)

// SessionStoreConfig contains configuration for the session store.
type SessionStoreConfig struct {
	RedisClient redis.UniversalClient
	SessionTTL  time.Duration
	IsDev       bool
	Logger      *slog.Logger
}

// BuildSessionStore creates the session store backing request authentication.
// Production deployments require Redis; development mode falls back to an
// in-memory store seeded with well-known sessions.
//
//nolint:ireturn // callers depend on the port, not a concrete store.
func BuildSessionStore(cfg SessionStoreConfig) (ports.SessionStore, error) {
	if cfg.RedisClient != nil {
		return redisadapter.NewSessionStoreWithPrefix(cfg.RedisClient, "session:"), nil
	}

	if !cfg.IsDev {
		return nil, errors.New("session store requires a redis client outside development mode")
	}

	if cfg.Logger != nil {
		cfg.Logger.Warn("redis not configured; using in-memory session store with seeded dev sessions")
	}

	store := httpx.NewMemorySessionStore()
	if err := devseed.Sessions(context.Background(), store, cfg.SessionTTL); err != nil {
		return nil, err
	}
	return store, nil
}
