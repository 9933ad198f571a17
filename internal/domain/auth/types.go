package auth

// Package auth contains domain-level types for sessions and roles.
// It is pure and free of framework/adapter concerns.

import "time"

// Role represents an application's authorization role.
// Keep string form for easy persistence and cookies.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// Valid returns true if the Role is a known role.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleUser
}

// Session is the server-side record behind a session cookie. Session issuance
// happens outside this service; we only look sessions up to establish the
// owner identity on each request.
type Session struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IsAdmin returns true if the session carries the admin role.
func (s Session) IsAdmin() bool { return s.Role == RoleAdmin }

// Expired returns true if the session has expired at the given instant.
func (s Session) Expired(now time.Time) bool { return now.After(s.ExpiresAt) }
