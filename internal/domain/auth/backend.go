package auth

import "context"

// Backend is the port to the hosted authentication backend.
// Implementations return *BackendError for API error responses and wrap
// ErrTransient for network failures.
type Backend interface {
	// SignInWithPassword exchanges credentials for a session.
	SignInWithPassword(ctx context.Context, email, password string) (*Session, error)

	// RefreshSession exchanges a refresh token for a new session.
	RefreshSession(ctx context.Context, refreshToken string) (*Session, error)

	// SignOut revokes the session behind accessToken.
	SignOut(ctx context.Context, accessToken string) error

	// GetUser returns the user behind accessToken, as verified by the backend.
	GetUser(ctx context.Context, accessToken string) (*User, error)

	// UpdateUser changes attributes of the user behind accessToken.
	UpdateUser(ctx context.Context, accessToken string, attrs UserAttributes) (*User, error)

	// GetMyProfile calls the get_my_profile RPC. It returns (nil, nil)
	// when the user has no profile row.
	GetMyProfile(ctx context.Context, accessToken string) (*Profile, error)
}
