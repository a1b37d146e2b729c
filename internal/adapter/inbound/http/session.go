package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Sentinel-Gate/dashgate/internal/domain/auth"
)

// refreshLeeway refreshes access tokens shortly before they expire.
const refreshLeeway = 30 * time.Second

// TokenIdentifier reads the user and expiry out of an access token.
type TokenIdentifier interface {
	Identify(token string) (*auth.User, time.Time, error)
}

// SessionLoader resolves the session of an incoming request from its
// cookies, refreshing it through the backend when the access token expired.
type SessionLoader struct {
	cookies *SessionCookies
	backend auth.Backend
	tokens  TokenIdentifier
	timeout time.Duration
	now     func() time.Time
}

// NewSessionLoader creates a loader. tokens may be nil, in which case the
// user stored in the cookie is trusted.
func NewSessionLoader(cookies *SessionCookies, backend auth.Backend, tokens TokenIdentifier, timeout time.Duration) *SessionLoader {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &SessionLoader{
		cookies: cookies,
		backend: backend,
		tokens:  tokens,
		timeout: timeout,
		now:     time.Now,
	}
}

// Load returns the request's session, or nil for a logged-out visitor.
// A session that cannot be used is cleared from the response so the
// browser stops presenting it.
func (l *SessionLoader) Load(w http.ResponseWriter, r *http.Request) *auth.Session {
	logger := LoggerFromContext(r.Context())

	session, err := l.cookies.Read(r)
	if err != nil {
		logger.Info("discarding unreadable session cookie", "error", err)
		l.clear(w, r)
		return nil
	}
	if session == nil {
		return nil
	}
	if session.Contradictory() {
		logger.Info("discarding session without access token")
		l.clear(w, r)
		return nil
	}

	if err := l.identify(session); err != nil {
		logger.Info("discarding session with bad access token", "error", err)
		l.clear(w, r)
		return nil
	}

	if !session.IsExpired(l.now(), refreshLeeway) {
		return session
	}
	if session.RefreshToken == "" {
		l.clear(w, r)
		return nil
	}

	ctx, cancel := context.WithTimeout(r.Context(), l.timeout)
	defer cancel()

	refreshed, err := l.backend.RefreshSession(ctx, session.RefreshToken)
	if err != nil {
		logRefreshFailure(logger, err)
		if !auth.IsTransient(err) {
			l.clear(w, r)
		}
		return nil
	}
	if err := l.identify(refreshed); err != nil {
		logger.Warn("refreshed session carries bad access token", "error", err)
		l.clear(w, r)
		return nil
	}
	if err := l.cookies.Write(w, r, refreshed); err != nil {
		logger.Error("failed to write refreshed session", "error", err)
	}
	logger.Debug("session refreshed", "user_id", refreshed.User.ID)
	return refreshed
}

// identify fills the session user and expiry from its access token.
func (l *SessionLoader) identify(s *auth.Session) error {
	if l.tokens == nil || s.AccessToken == "" {
		return nil
	}
	user, exp, err := l.tokens.Identify(s.AccessToken)
	if err != nil {
		return fmt.Errorf("%w: %w", auth.ErrInvalidSession, err)
	}
	if user != nil {
		s.User = user
	}
	if !exp.IsZero() {
		s.ExpiresAt = exp
	}
	return nil
}

// clear expires every cookie of the session namespace on the response.
func (l *SessionLoader) clear(w http.ResponseWriter, r *http.Request) {
	clearNamespace(r.Context(), w, r, l.cookies.Prefix())
}

func logRefreshFailure(logger *slog.Logger, err error) {
	var be *auth.BackendError
	if errors.As(err, &be) {
		logger.Info("session refresh rejected", "status", be.Status, "code", be.Code)
		return
	}
	logger.Warn("session refresh failed", "error", err)
}
