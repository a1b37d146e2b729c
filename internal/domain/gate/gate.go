// Package gate decides, for every page request, whether the visitor may see
// the page, must be sent to the login page, or must be signed out.
package gate

import (
	"context"
	"log/slog"
	"net/url"
	"time"

	"github.com/Sentinel-Gate/dashgate/internal/domain/auth"
)

// Auth routes are reachable without a session. A logged-in visitor is sent
// away from them.
const (
	RouteLogin          = "/login"
	RouteSignup         = "/signup"
	RouteForgotPassword = "/forgot-password"
	RouteUpdatePassword = "/update-password"
)

// DefaultLookupTimeout bounds the profile lookup when none is configured.
const DefaultLookupTimeout = 5 * time.Second

// IsAuthRoute reports whether path is one of the auth routes. Matching is exact.
func IsAuthRoute(path string) bool {
	switch path {
	case RouteLogin, RouteSignup, RouteForgotPassword, RouteUpdatePassword:
		return true
	default:
		return false
	}
}

// DecisionKind is the outcome of a gate decision.
type DecisionKind int

const (
	// Allow lets the request through.
	Allow DecisionKind = iota
	// RedirectHome sends a logged-in visitor away from an auth route.
	RedirectHome
	// RedirectLogin sends a logged-out visitor to the login page.
	RedirectLogin
	// RedirectUnauthorized signs the visitor out and sends them to the login
	// page with error=unauthorized.
	RedirectUnauthorized
)

// String returns the metric label of the decision.
func (k DecisionKind) String() string {
	switch k {
	case Allow:
		return "allow"
	case RedirectHome:
		return "redirect_home"
	case RedirectLogin:
		return "redirect_login"
	case RedirectUnauthorized:
		return "unauthorized"
	default:
		return "unknown"
	}
}

// Decision is the result of Gate.Decide.
type Decision struct {
	Kind DecisionKind
	// Location is the relative redirect target. Empty on Allow.
	Location string
	// SignOut is set when the session must be revoked before redirecting.
	SignOut bool
	// Profile is the resolved profile on Allow for a logged-in visitor.
	Profile *auth.Profile
	// Reason explains a denial for logs and audit records.
	Reason string
}

// ProfileLookup resolves the profile of the session's user.
// It returns (nil, nil) when the user has no profile.
type ProfileLookup interface {
	LookupProfile(ctx context.Context, session *auth.Session) (*auth.Profile, error)
}

// ProfileLookupFunc adapts a function to ProfileLookup.
type ProfileLookupFunc func(ctx context.Context, session *auth.Session) (*auth.Profile, error)

// LookupProfile calls f.
func (f ProfileLookupFunc) LookupProfile(ctx context.Context, session *auth.Session) (*auth.Profile, error) {
	return f(ctx, session)
}

// Gate applies the routing rules. Safe for concurrent use.
type Gate struct {
	lookup        ProfileLookup
	authorizer    Authorizer
	lookupTimeout time.Duration
	logger        *slog.Logger
}

// Option configures a Gate.
type Option func(*Gate)

// WithLookupTimeout bounds each profile lookup.
func WithLookupTimeout(d time.Duration) Option {
	return func(g *Gate) {
		if d > 0 {
			g.lookupTimeout = d
		}
	}
}

// WithAuthorizer replaces the default role-set authorizer.
func WithAuthorizer(a Authorizer) Option {
	return func(g *Gate) {
		if a != nil {
			g.authorizer = a
		}
	}
}

// New creates a Gate. The default authorizer admits admin and super_admin.
func New(lookup ProfileLookup, logger *slog.Logger, opts ...Option) *Gate {
	g := &Gate{
		lookup:        lookup,
		authorizer:    DefaultRoles(),
		lookupTimeout: DefaultLookupTimeout,
		logger:        logger,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Decide classifies a request for path carrying session (nil when the
// visitor has no session). Any lookup or authorization failure denies.
func (g *Gate) Decide(ctx context.Context, path string, session *auth.Session) Decision {
	loggedIn := session.IsLoggedIn()
	authRoute := IsAuthRoute(path)

	switch {
	case loggedIn && authRoute:
		return Decision{Kind: RedirectHome, Location: "/"}
	case !loggedIn && authRoute:
		return Decision{Kind: Allow}
	case !loggedIn:
		return Decision{Kind: RedirectLogin, Location: LoginLocation(path)}
	}

	lookupCtx, cancel := context.WithTimeout(ctx, g.lookupTimeout)
	defer cancel()

	profile, err := g.lookup.LookupProfile(lookupCtx, session)
	if err != nil {
		g.logger.Warn("profile lookup failed, denying",
			"user_id", session.User.ID, "path", path, "error", err)
		return unauthorized("profile lookup failed")
	}
	if profile == nil {
		g.logger.Info("no profile for user, denying", "user_id", session.User.ID, "path", path)
		return unauthorized("profile missing")
	}

	ok, err := g.authorizer.Authorize(ctx, Subject{User: session.User, Profile: profile, Path: path})
	if err != nil {
		g.logger.Warn("authorization failed, denying",
			"user_id", session.User.ID, "role", profile.Role, "error", err)
		return unauthorized("authorization error")
	}
	if !ok {
		return unauthorized("role " + string(profile.Role) + " not permitted")
	}
	return Decision{Kind: Allow, Profile: profile}
}

func unauthorized(reason string) Decision {
	return Decision{
		Kind:     RedirectUnauthorized,
		Location: UnauthorizedLocation(),
		SignOut:  true,
		Reason:   reason,
	}
}

// LoginLocation returns the login redirect for a visitor who asked for path.
func LoginLocation(path string) string {
	q := url.Values{}
	q.Set("redirect_to", path)
	return RouteLogin + "?" + q.Encode()
}

// UnauthorizedLocation returns the login redirect for a denied visitor.
func UnauthorizedLocation() string {
	return RouteLogin + "?error=unauthorized"
}
