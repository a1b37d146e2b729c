// Package profile caches the current {user, profile} pair of the client
// runtime, keyed by session identity and invalidated by auth events.
package profile

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/Sentinel-Gate/dashgate/internal/domain/auth"
	"github.com/Sentinel-Gate/dashgate/internal/domain/events"
)

// Result is the answer of Cache.GetCurrent. Both fields are nil when the
// user is logged out; Profile alone is nil when the role is unknown and
// the user must be treated as unprivileged.
type Result struct {
	User    *auth.User    `json:"user"`
	Profile *auth.Profile `json:"profile"`
}

// Sessions reads and revokes the client's session. GetSession returns
// (nil, nil) when no session is persisted.
type Sessions interface {
	GetSession(ctx context.Context) (*auth.Session, error)
	SignOut(ctx context.Context) error
}

// Fetcher calls the profile RPC.
type Fetcher interface {
	GetMyProfile(ctx context.Context, accessToken string) (*auth.Profile, error)
}

// Observer receives failed reads. Observe returns true when recovery ran
// and the caller must stop.
type Observer interface {
	Observe(ctx context.Context, err error) bool
}

// Resetter clears failure accounting.
type Resetter interface {
	Reset()
}

type entry struct {
	key    string
	result Result
	stale  bool
}

// Cache holds at most one entry: the current session's result.
// Safe for concurrent use.
type Cache struct {
	sessions Sessions
	fetcher  Fetcher
	observer Observer
	tracker  Resetter
	logger   *slog.Logger

	// fetchMu serializes fetches so an invalidation burst issues one RPC.
	fetchMu sync.Mutex
	mu      sync.Mutex
	current *entry
	fetches int

	refetch  chan struct{}
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Option configures a Cache.
type Option func(*Cache)

// WithTracker resets t on TOKEN_REFRESHED and SIGNED_OUT.
func WithTracker(t Resetter) Option {
	return func(c *Cache) { c.tracker = t }
}

// NewCache creates a Cache.
func NewCache(sessions Sessions, fetcher Fetcher, observer Observer, logger *slog.Logger, opts ...Option) *Cache {
	c := &Cache{
		sessions: sessions,
		fetcher:  fetcher,
		observer: observer,
		logger:   logger,
		refetch:  make(chan struct{}, 1),
		stopChan: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetCurrent returns the cached result for the current session, fetching
// it when the cache is empty, stale or held by a different session.
// It never retries a failed fetch.
func (c *Cache) GetCurrent(ctx context.Context) Result {
	c.fetchMu.Lock()
	defer c.fetchMu.Unlock()
	return c.fetch(ctx)
}

func (c *Cache) fetch(ctx context.Context) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("unexpected error in profile fetch", "panic", r)
			c.signOut(ctx)
			c.Purge()
			res = Result{}
		}
	}()

	session, err := c.sessions.GetSession(ctx)
	if err != nil {
		c.logger.Warn("session read failed", "error", err)
		if c.observer.Observe(ctx, fmt.Errorf("get session: %w", err)) {
			return Result{}
		}
		c.signOut(ctx)
		c.Purge()
		return Result{}
	}
	if !session.IsLoggedIn() {
		c.Purge()
		return Result{}
	}

	key := identity(session)
	c.mu.Lock()
	if e := c.current; e != nil && e.key == key && !e.stale {
		res := e.result
		c.mu.Unlock()
		return res
	}
	c.fetches++
	c.mu.Unlock()

	prof, err := c.fetcher.GetMyProfile(ctx, session.AccessToken)
	if err != nil {
		c.logger.Warn("profile fetch failed", "user_id", session.User.ID, "error", err)
		if c.observer.Observe(ctx, fmt.Errorf("get profile: %w", err)) {
			return Result{}
		}
		// Partial results are not cached so the next read asks again.
		return Result{User: session.User}
	}

	res = Result{User: session.User, Profile: prof}
	c.mu.Lock()
	c.current = &entry{key: key, result: res}
	c.mu.Unlock()
	return res
}

func (c *Cache) signOut(ctx context.Context) {
	if err := c.sessions.SignOut(ctx); err != nil {
		c.logger.Warn("sign-out after failed fetch", "error", err)
	}
}

// Purge drops the cached entry.
func (c *Cache) Purge() {
	c.mu.Lock()
	c.current = nil
	c.mu.Unlock()
}

// Invalidate marks the cached entry stale and asks the worker to refetch.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	if c.current != nil {
		c.current.stale = true
	}
	c.mu.Unlock()

	select {
	case c.refetch <- struct{}{}:
	default:
	}
}

// Fetches returns how many profile RPCs the cache has issued.
func (c *Cache) Fetches() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fetches
}

// HandleEvent applies one auth-state-change event.
func (c *Cache) HandleEvent(_ context.Context, ev events.Event) {
	switch ev.Type {
	case events.SignedOut:
		c.Purge()
		if c.tracker != nil {
			c.tracker.Reset()
		}
	case events.TokenRefreshed:
		if c.tracker != nil {
			c.tracker.Reset()
		}
		c.Invalidate()
	case events.UserUpdated:
		c.Invalidate()
	}
}

// Subscribe registers the cache on e and returns the unsubscribe function.
func (c *Cache) Subscribe(e *events.Emitter) func() {
	return e.Subscribe(c.HandleEvent)
}

// Start launches the refetch worker. It stops when ctx is cancelled or
// Stop is called.
func (c *Cache) Start(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stopChan:
				return
			case <-c.refetch:
				c.mu.Lock()
				wanted := c.current != nil && c.current.stale
				c.mu.Unlock()
				if wanted {
					c.GetCurrent(ctx)
				}
			}
		}
	}()
}

// Stop stops the refetch worker and waits for it. Safe to call multiple times.
func (c *Cache) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopChan)
	})
	c.wg.Wait()
}

// identity keys an entry by user and access token without keeping the token.
func identity(s *auth.Session) string {
	return s.User.ID + ":" + strconv.FormatUint(xxhash.Sum64String(s.AccessToken), 16)
}
