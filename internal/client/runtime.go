// Package client is the command-line counterpart of the dashboard's browser
// client. It keeps the session in a local storage file and a cookie jar,
// serves the current user and profile from a cache, and resets every piece
// of auth state when the backend keeps rejecting it.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	httpadapter "github.com/Sentinel-Gate/dashgate/internal/adapter/inbound/http"
	"github.com/Sentinel-Gate/dashgate/internal/adapter/outbound/memory"
	"github.com/Sentinel-Gate/dashgate/internal/adapter/outbound/state"
	"github.com/Sentinel-Gate/dashgate/internal/domain/audit"
	"github.com/Sentinel-Gate/dashgate/internal/domain/auth"
	"github.com/Sentinel-Gate/dashgate/internal/domain/authstate"
	"github.com/Sentinel-Gate/dashgate/internal/domain/events"
	"github.com/Sentinel-Gate/dashgate/internal/domain/profile"
	"github.com/Sentinel-Gate/dashgate/internal/domain/ratelimit"
	"github.com/Sentinel-Gate/dashgate/internal/domain/recovery"
)

// refreshLeeway refreshes the access token this long before it expires.
const refreshLeeway = 30 * time.Second

// ErrNavigated is returned by calls made after recovery sent the user to
// the login page.
var ErrNavigated = errors.New("navigated to login page")

// Runtime owns the client-side auth state of one process.
type Runtime struct {
	backend  auth.Backend
	local    *state.LocalStorage
	jar      *memory.CookieJar
	tab      *memory.SessionStorage
	store    *authstate.Store
	tracker  *ratelimit.ErrorRateTracker
	recovery *recovery.Controller
	watchdog *recovery.Watchdog
	emitter  *events.Emitter
	profiles *profile.Cache
	cookies  *httpadapter.SessionCookies
	audit    audit.Recorder
	meter    metric.MeterProvider
	counters counters

	siteURL    *url.URL
	loginURL   string
	storageKey string
	threshold  int
	window     time.Duration
	nav        recovery.Navigator
	now        func() time.Time
	logger     *slog.Logger

	root     context.Context
	cancel   context.CancelFunc
	mu       sync.Mutex // serializes session reads and writes
	navMu    sync.Mutex
	navTo    string
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithSiteURL sets the dashboard origin the session cookie is scoped to.
func WithSiteURL(u *url.URL) Option {
	return func(r *Runtime) {
		r.siteURL = u
	}
}

// WithLoginURL sets where recovery sends the user.
func WithLoginURL(loginURL string) Option {
	return func(r *Runtime) {
		r.loginURL = loginURL
	}
}

// WithCookies sets the session cookie codec, which also fixes the
// namespace prefix and the storage key.
func WithCookies(c *httpadapter.SessionCookies) Option {
	return func(r *Runtime) {
		r.cookies = c
	}
}

// WithErrorPolicy sets the failure threshold and window of the tracker.
func WithErrorPolicy(threshold int, window time.Duration) Option {
	return func(r *Runtime) {
		r.threshold = threshold
		r.window = window
	}
}

// WithNavigator replaces the default navigator, which cancels the runtime.
func WithNavigator(nav recovery.Navigator) Option {
	return func(r *Runtime) {
		r.nav = nav
	}
}

// WithClock sets the time source for expiry checks and the tracker.
func WithClock(now func() time.Time) Option {
	return func(r *Runtime) {
		r.now = now
	}
}

// WithMeterProvider reports runtime counters through mp.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(r *Runtime) {
		r.meter = mp
	}
}

// WithAuditRecorder records recovery runs.
func WithAuditRecorder(rec audit.Recorder) Option {
	return func(r *Runtime) {
		r.audit = rec
	}
}

// New wires a Runtime around backend, persisting the session in local.
// The runtime stays usable until Close or until recovery navigates away.
func New(ctx context.Context, backend auth.Backend, local *state.LocalStorage, logger *slog.Logger, opts ...Option) *Runtime {
	r := &Runtime{
		local:     local,
		jar:       memory.NewCookieJar(),
		tab:       memory.NewSessionStorage(),
		threshold: ratelimit.DefaultErrorThreshold,
		window:    ratelimit.DefaultErrorWindow,
		audit:     audit.NopRecorder{},
		meter:     noop.NewMeterProvider(),
		now:       time.Now,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.siteURL == nil {
		r.siteURL = &url.URL{Scheme: "http", Host: "127.0.0.1:3000"}
	}
	if r.loginURL == "" {
		r.loginURL = r.siteURL.JoinPath("login").String()
	}
	if r.cookies == nil {
		r.cookies = httpadapter.NewSessionCookies(authstate.DefaultPrefix, "", r.siteURL.Scheme == "https")
	}
	r.storageKey = r.cookies.Name()
	r.counters = newCounters(r.meter, logger)
	r.root, r.cancel = context.WithCancel(ctx)
	if r.nav == nil {
		r.nav = recovery.NavigatorFunc(r.navigate)
	}

	r.store = authstate.NewStore(r.cookies.Prefix(), logger, r.jar, r.local, r.tab)
	r.tracker = ratelimit.NewErrorRateTracker(
		ratelimit.WithThreshold(r.threshold),
		ratelimit.WithWindow(r.window),
		ratelimit.WithClock(r.now),
	)
	r.recovery = recovery.NewController(r.store, r.nav, r.loginURL, logger,
		recovery.WithTracker(r.tracker),
		recovery.WithNotifier(r.recovered),
	)
	r.watchdog = recovery.NewWatchdog(r.tracker, r.recovery)
	r.backend = &observedBackend{next: backend, watchdog: r.watchdog}
	r.emitter = events.NewEmitter(logger)
	r.profiles = profile.NewCache(r, r.backend, r.watchdog, logger, profile.WithTracker(r.tracker))
	r.profiles.Subscribe(r.emitter)
	r.emitter.Subscribe(r.mirrorEvent)

	r.emitter.Start(r.root)
	r.profiles.Start(r.root)
	return r
}

// navigate is the default navigator: it records the target and cancels
// every in-flight call of the runtime.
func (r *Runtime) navigate(target string) {
	r.navMu.Lock()
	r.navTo = target
	r.navMu.Unlock()
	r.logger.Info("redirecting to login page", "url", target)
	r.cancel()
}

func (r *Runtime) recovered(ctx context.Context, removed int) {
	r.counters.recoveries.Add(ctx, 1)
	r.audit.Record(audit.Record{
		Event:  audit.EventRecovery,
		Reason: fmt.Sprintf("auth error threshold reached, %d keys cleared", removed),
	})
}

// mirrorEvent records the last auth event in session storage, where other
// components of the process can read it.
func (r *Runtime) mirrorEvent(_ context.Context, ev events.Event) {
	r.tab.SetItem(r.storageKey+"-event", string(ev.Type))
}

// NavigatedTo returns the page recovery sent the user to, or "".
func (r *Runtime) NavigatedTo() string {
	r.navMu.Lock()
	defer r.navMu.Unlock()
	return r.navTo
}

// Done is closed when the runtime is closed or navigated away.
func (r *Runtime) Done() <-chan struct{} { return r.root.Done() }

// Profiles returns the current user and profile cache.
func (r *Runtime) Profiles() *profile.Cache { return r.profiles }

// Events returns the auth-state-change emitter.
func (r *Runtime) Events() *events.Emitter { return r.emitter }

// Store returns the auth state store spanning every client surface.
func (r *Runtime) Store() *authstate.Store { return r.store }

// scope derives a context that is cancelled with either ctx or the runtime.
func (r *Runtime) scope(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(r.root, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

func (r *Runtime) alive() error {
	if r.root.Err() == nil {
		return nil
	}
	if r.NavigatedTo() != "" {
		return ErrNavigated
	}
	return r.root.Err()
}

// SignIn exchanges credentials for a session and persists it. A successful
// sign-in starts a fresh error episode.
func (r *Runtime) SignIn(ctx context.Context, email, password string) (*auth.Session, error) {
	if err := r.alive(); err != nil {
		return nil, err
	}
	ctx, cancel := r.scope(ctx)
	defer cancel()

	session, err := r.backend.SignInWithPassword(ctx, email, password)
	if err != nil {
		return nil, fmt.Errorf("sign in: %w", err)
	}

	r.mu.Lock()
	err = r.persist(ctx, session)
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}

	r.counters.signIns.Add(ctx, 1)
	r.tracker.Reset()
	r.recovery.Rearm()
	r.emitter.Emit(events.Event{Type: events.SignedIn, UserID: userID(session)})
	return session, nil
}

// SignOut revokes the session at the backend and forgets it locally. The
// local session is removed even when the backend call fails.
func (r *Runtime) SignOut(ctx context.Context) error {
	ctx, cancel := r.scope(ctx)
	defer cancel()

	r.mu.Lock()
	session, _ := r.loadStored(ctx)
	if session.Valid() {
		if err := r.backend.SignOut(ctx, session.AccessToken); err != nil {
			r.logger.Warn("backend sign-out failed", "error", err)
		}
	}
	err := r.forget(ctx)
	r.mu.Unlock()

	r.emitter.Emit(events.Event{Type: events.SignedOut, UserID: userID(session)})
	return err
}

// GetSession returns the persisted session, refreshing it when the access
// token is about to expire. It returns (nil, nil) when signed out and
// auth.ErrInvalidSession for a session without an access token.
func (r *Runtime) GetSession(ctx context.Context) (*auth.Session, error) {
	if err := r.alive(); err != nil {
		return nil, err
	}
	ctx, cancel := r.scope(ctx)
	defer cancel()

	r.mu.Lock()
	defer r.mu.Unlock()

	session, err := r.loadStored(ctx)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, nil
	}
	if session.Contradictory() {
		return nil, auth.ErrInvalidSession
	}
	if !session.IsExpired(r.now(), refreshLeeway) {
		return session, nil
	}

	refreshed, err := r.backend.RefreshSession(ctx, session.RefreshToken)
	if err != nil {
		r.counters.refreshes.Add(ctx, 1, metric.WithAttributes(resultFailed))
		return nil, fmt.Errorf("refresh session: %w", err)
	}
	r.counters.refreshes.Add(ctx, 1, metric.WithAttributes(resultOK))
	if err := r.persist(ctx, refreshed); err != nil {
		return nil, err
	}
	r.logger.Debug("session refreshed", "user_id", userID(refreshed))
	r.emitter.Emit(events.Event{Type: events.TokenRefreshed, UserID: userID(refreshed)})
	return refreshed, nil
}

// UpdatePassword sets a new password for the signed-in user.
func (r *Runtime) UpdatePassword(ctx context.Context, password string) (*auth.User, error) {
	session, err := r.GetSession(ctx)
	if err != nil {
		return nil, err
	}
	if !session.IsLoggedIn() {
		return nil, auth.ErrNoSession
	}

	ctx, cancel := r.scope(ctx)
	defer cancel()
	user, err := r.backend.UpdateUser(ctx, session.AccessToken, auth.UserAttributes{Password: password})
	if err != nil {
		return nil, fmt.Errorf("update password: %w", err)
	}
	r.emitter.Emit(events.Event{Type: events.UserUpdated, UserID: user.ID})
	return user, nil
}

// CheckStartup inspects the persisted session once at startup and resets
// the auth state when it cannot be used. It returns true when recovery ran.
func (r *Runtime) CheckStartup(ctx context.Context) bool {
	session, err := r.GetSession(ctx)
	return r.recovery.CheckStartup(r.root, session, err)
}

// StartAutoRefresh keeps the session fresh in the background, checking it
// every interval. Failures are reported to the watchdog.
func (r *Runtime) StartAutoRefresh(interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-r.root.Done():
				return
			case <-ticker.C:
				if _, err := r.GetSession(r.root); err != nil && r.root.Err() == nil {
					r.logger.Warn("background session refresh failed", "error", err)
					r.watchdog.Observe(r.root, err)
				}
			}
		}
	}()
}

// Close stops background work. Persisted state is kept.
func (r *Runtime) Close() {
	r.stopOnce.Do(func() {
		r.cancel()
		r.wg.Wait()
		r.profiles.Stop()
		r.emitter.Stop()
	})
}

func (r *Runtime) loadStored(ctx context.Context) (*auth.Session, error) {
	raw, ok, err := r.local.GetItem(ctx, r.storageKey)
	if err != nil {
		return nil, fmt.Errorf("read session: %w", err)
	}
	if !ok || raw == "" {
		return nil, nil
	}
	var s auth.Session
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, fmt.Errorf("%w: %w", auth.ErrInvalidSession, err)
	}
	return &s, nil
}

// persist writes s to local storage and mirrors it into the cookie jar.
func (r *Runtime) persist(ctx context.Context, s *auth.Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := r.local.SetItem(ctx, r.storageKey, string(data)); err != nil {
		return fmt.Errorf("store session: %w", err)
	}

	value, err := httpadapter.Encode(s)
	if err != nil {
		return err
	}
	r.jar.SetCookies(r.siteURL, []*http.Cookie{{
		Name:     r.storageKey,
		Value:    value,
		Path:     "/",
		SameSite: http.SameSiteLaxMode,
	}})
	return nil
}

func (r *Runtime) forget(ctx context.Context) error {
	_ = r.jar.Remove(ctx, r.storageKey)
	if err := r.local.RemoveItem(ctx, r.storageKey); err != nil {
		return fmt.Errorf("remove session: %w", err)
	}
	return nil
}

func userID(s *auth.Session) string {
	if s == nil || s.User == nil {
		return ""
	}
	return s.User.ID
}

var _ profile.Sessions = (*Runtime)(nil)
