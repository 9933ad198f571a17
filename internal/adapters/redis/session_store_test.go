package redis

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainauth "github.com/scoutline/scout-api/internal/domain/auth"
	"github.com/scoutline/scout-api/internal/testutil"
)

// setupTestRedis creates a Redis client for testing.
// Tests will be skipped if Redis is not available.
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	return testutil.SetupTestRedis(t)
}

func testSession(id string) domainauth.Session {
	return domainauth.Session{
		ID:        id,
		OwnerID:   "owner-123",
		Role:      domainauth.RoleUser,
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(30 * time.Minute),
	}
}

func TestSessionStore_SaveAndGet(t *testing.T) {
	client := setupTestRedis(t)
	defer client.Close()

	store := NewSessionStore(client)
	ctx := context.Background()

	session := testSession("test-session-1")
	require.NoError(t, store.Save(ctx, session))

	retrieved, err := store.Get(ctx, "test-session-1")
	require.NoError(t, err)
	assert.Equal(t, session.ID, retrieved.ID)
	assert.Equal(t, session.OwnerID, retrieved.OwnerID)
	assert.Equal(t, session.Role, retrieved.Role)
	assert.WithinDuration(t, session.ExpiresAt, retrieved.ExpiresAt, time.Second)
}

func TestSessionStore_GetNonExistent(t *testing.T) {
	client := setupTestRedis(t)
	defer client.Close()

	store := NewSessionStore(client)

	_, err := store.Get(context.Background(), "non-existent")
	assert.Equal(t, ErrNotFound, err)
}

func TestSessionStore_SaveValidation(t *testing.T) {
	client := setupTestRedis(t)
	defer client.Close()

	store := NewSessionStore(client)
	ctx := context.Background()

	t.Run("empty id", func(t *testing.T) {
		sess := testSession("")
		assert.Error(t, store.Save(ctx, sess))
	})

	t.Run("empty owner", func(t *testing.T) {
		sess := testSession("test-session-2")
		sess.OwnerID = ""
		assert.Error(t, store.Save(ctx, sess))
	})

	t.Run("already expired", func(t *testing.T) {
		sess := testSession("test-session-3")
		sess.ExpiresAt = time.Now().Add(-time.Minute)
		assert.Error(t, store.Save(ctx, sess))
	})
}

func TestSessionStore_Delete(t *testing.T) {
	client := setupTestRedis(t)
	defer client.Close()

	store := NewSessionStore(client)
	ctx := context.Background()

	session := testSession("test-session-4")
	require.NoError(t, store.Save(ctx, session))
	require.NoError(t, store.Delete(ctx, session.ID))

	_, err := store.Get(ctx, session.ID)
	assert.Equal(t, ErrNotFound, err)

	// Deleting a missing session is a no-op.
	assert.NoError(t, store.Delete(ctx, "non-existent"))
	assert.NoError(t, store.Delete(ctx, ""))
}

func TestSessionStore_CustomPrefix(t *testing.T) {
	client := setupTestRedis(t)
	defer client.Close()

	ctx := context.Background()
	store := NewSessionStoreWithPrefix(client, "scout:sess:")

	session := testSession("test-session-5")
	require.NoError(t, store.Save(ctx, session))

	retrieved, err := store.Get(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, session.OwnerID, retrieved.OwnerID)

	// The default-prefix store cannot see it.
	_, err = NewSessionStore(client).Get(ctx, session.ID)
	assert.Equal(t, ErrNotFound, err)
}
