package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRole_Valid(t *testing.T) {
	assert.True(t, RoleAdmin.Valid())
	assert.True(t, RoleUser.Valid())
	assert.False(t, Role("superuser").Valid())
	assert.False(t, Role("").Valid())
}

func TestSession_IsAdmin(t *testing.T) {
	assert.True(t, Session{Role: RoleAdmin}.IsAdmin())
	assert.False(t, Session{Role: RoleUser}.IsAdmin())
}

func TestSession_Expired(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

	live := Session{ExpiresAt: now.Add(time.Hour)}
	assert.False(t, live.Expired(now))

	dead := Session{ExpiresAt: now.Add(-time.Minute)}
	assert.True(t, dead.Expired(now))
}
