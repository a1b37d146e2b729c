// Package auth contains the domain types for dashboard authentication:
// sessions issued by the hosted backend, the profile that carries the
// dashboard role, and the port through which the backend is reached.
package auth

import (
	"time"
)

// Role represents a dashboard role stored on the user's profile.
type Role string

const (
	// RoleSuperAdmin has full access, including managing other admins.
	RoleSuperAdmin Role = "super_admin"
	// RoleAdmin has full access to the dashboard.
	RoleAdmin Role = "admin"
	// RoleManager is a non-privileged staff role.
	RoleManager Role = "manager"
	// RoleStaff is a non-privileged staff role.
	RoleStaff Role = "staff"
)

// IsValid returns true if the role is a known role.
func (r Role) IsValid() bool {
	switch r {
	case RoleSuperAdmin, RoleAdmin, RoleManager, RoleStaff:
		return true
	default:
		return false
	}
}

// IsPrivileged returns true for roles permitted to use the dashboard by default.
// Unknown role strings are never privileged.
func (r Role) IsPrivileged() bool {
	return r == RoleAdmin || r == RoleSuperAdmin
}

// User is the identity embedded in a session.
type User struct {
	// ID is the backend's user identifier (JWT "sub").
	ID string `json:"id"`
	// Email is the user's login email.
	Email string `json:"email,omitempty"`
}

// Profile is the application-level record returned by get_my_profile.
type Profile struct {
	Name     string `json:"name"`
	ImageURL string `json:"image_url,omitempty"`
	Role     Role   `json:"role"`
}

// Session is a credential bundle issued by the hosted backend.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	User         *User     `json:"user,omitempty"`
}

// Valid reports whether the session can be presented to the backend.
// A session holding a refresh token without an access token is invalid.
func (s *Session) Valid() bool {
	return s != nil && s.AccessToken != ""
}

// Contradictory reports whether the session holds a refresh token but no
// access token. Such state is never authenticated and must be cleared.
func (s *Session) Contradictory() bool {
	return s != nil && s.AccessToken == "" && s.RefreshToken != ""
}

// IsLoggedIn reports whether the session is valid and carries a user.
func (s *Session) IsLoggedIn() bool {
	return s.Valid() && s.User != nil && s.User.ID != ""
}

// IsExpired returns true if the access token expires within leeway of now.
// A zero ExpiresAt never expires.
func (s *Session) IsExpired(now time.Time, leeway time.Duration) bool {
	if s.ExpiresAt.IsZero() {
		return false
	}
	return !now.Add(leeway).Before(s.ExpiresAt)
}

// UserAttributes are the mutable fields of a user.
type UserAttributes struct {
	Email    string `json:"email,omitempty"`
	Password string `json:"password,omitempty"`
}

// Viewer is the authenticated principal of a request or client runtime.
type Viewer struct {
	User    *User    `json:"user"`
	Profile *Profile `json:"profile"`
}
