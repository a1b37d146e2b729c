// Package recovery returns a client with degraded auth state to a clean
// logged-out state: it wipes every namespaced key and hard-navigates to
// the login page, at most once per episode.
package recovery

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/Sentinel-Gate/dashgate/internal/domain/auth"
	"github.com/Sentinel-Gate/dashgate/internal/domain/authstate"
)

// Navigator performs a full-page navigation. Everything in flight in the
// current page context is abandoned.
type Navigator interface {
	HardRedirect(target string)
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(target string)

// HardRedirect calls f.
func (f NavigatorFunc) HardRedirect(target string) { f(target) }

// Resetter clears failure accounting after a recovery.
type Resetter interface {
	Reset()
}

// Notifier receives a callback after each completed recovery.
type Notifier func(ctx context.Context, removed int)

// Controller runs the recovery sequence. Safe for concurrent use.
type Controller struct {
	store     *authstate.Store
	navigator Navigator
	tracker   Resetter
	loginURL  string
	latched   atomic.Bool
	runs      atomic.Int64
	notify    Notifier
	logger    *slog.Logger
}

// Option configures a Controller.
type Option func(*Controller)

// WithTracker resets t after every recovery.
func WithTracker(t Resetter) Option {
	return func(c *Controller) { c.tracker = t }
}

// WithNotifier registers a callback run after every recovery.
func WithNotifier(n Notifier) Option {
	return func(c *Controller) { c.notify = n }
}

// NewController creates a Controller sending the user to loginURL.
func NewController(store *authstate.Store, nav Navigator, loginURL string, logger *slog.Logger, opts ...Option) *Controller {
	c := &Controller{
		store:     store,
		navigator: nav,
		loginURL:  loginURL,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OnThresholdBreach clears all auth state and navigates to the login page.
// It returns true when this call ran the sequence; calls made while a
// recovery is latched do nothing and return false.
func (c *Controller) OnThresholdBreach(ctx context.Context) bool {
	if !c.latched.CompareAndSwap(false, true) {
		c.logger.Debug("auth recovery already in flight")
		return false
	}

	c.logger.Warn("auth error threshold breached, clearing auth state", "login_url", c.loginURL)

	// ClearAll never fails.
	removed := c.store.ClearAll(ctx)
	c.navigator.HardRedirect(c.loginURL)

	if c.tracker != nil {
		c.tracker.Reset()
	}
	c.runs.Add(1)
	if c.notify != nil {
		c.notify(ctx, removed)
	}
	return true
}

// Rearm releases the latch so a later episode can recover again.
// Called after a successful sign-in.
func (c *Controller) Rearm() {
	c.latched.Store(false)
}

// Recovering reports whether a recovery has run and the latch is still held.
func (c *Controller) Recovering() bool {
	return c.latched.Load()
}

// Runs returns how many times the sequence has run.
func (c *Controller) Runs() int64 {
	return c.runs.Load()
}

// CheckStartup runs recovery once when the persisted session is
// self-contradictory or the initial session read failed with a
// refresh-token error. It returns true when recovery ran.
func (c *Controller) CheckStartup(ctx context.Context, session *auth.Session, readErr error) bool {
	switch {
	case session.Contradictory():
		c.logger.Warn("persisted session has a refresh token but no access token")
	case readErr != nil && (auth.IsRefreshTokenFailure(readErr) || errors.Is(readErr, auth.ErrInvalidSession)):
		c.logger.Warn("initial session read failed", "error", readErr)
	default:
		return false
	}
	return c.OnThresholdBreach(ctx)
}
