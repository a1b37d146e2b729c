package client

import (
	"context"

	"github.com/Sentinel-Gate/dashgate/internal/domain/auth"
	"github.com/Sentinel-Gate/dashgate/internal/domain/recovery"
)

// observedBackend reports every backend auth failure to the watchdog as
// the response arrives, whichever caller made the request.
type observedBackend struct {
	next     auth.Backend
	watchdog *recovery.Watchdog
}

func (b *observedBackend) SignInWithPassword(ctx context.Context, email, password string) (*auth.Session, error) {
	s, err := b.next.SignInWithPassword(ctx, email, password)
	return s, b.watchdog.Count(ctx, err)
}

func (b *observedBackend) RefreshSession(ctx context.Context, refreshToken string) (*auth.Session, error) {
	s, err := b.next.RefreshSession(ctx, refreshToken)
	return s, b.watchdog.Count(ctx, err)
}

func (b *observedBackend) SignOut(ctx context.Context, accessToken string) error {
	return b.watchdog.Count(ctx, b.next.SignOut(ctx, accessToken))
}

func (b *observedBackend) GetUser(ctx context.Context, accessToken string) (*auth.User, error) {
	u, err := b.next.GetUser(ctx, accessToken)
	return u, b.watchdog.Count(ctx, err)
}

func (b *observedBackend) UpdateUser(ctx context.Context, accessToken string, attrs auth.UserAttributes) (*auth.User, error) {
	u, err := b.next.UpdateUser(ctx, accessToken, attrs)
	return u, b.watchdog.Count(ctx, err)
}

func (b *observedBackend) GetMyProfile(ctx context.Context, accessToken string) (*auth.Profile, error) {
	p, err := b.next.GetMyProfile(ctx, accessToken)
	return p, b.watchdog.Count(ctx, err)
}

var _ auth.Backend = (*observedBackend)(nil)
