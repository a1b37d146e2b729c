package http

import (
	"context"
	"net/http"
	"net/url"

	"github.com/Sentinel-Gate/dashgate/internal/ctxkey"
	"github.com/Sentinel-Gate/dashgate/internal/domain/audit"
	"github.com/Sentinel-Gate/dashgate/internal/domain/auth"
	"github.com/Sentinel-Gate/dashgate/internal/domain/gate"
)

// ProfileInvalidator drops any cached profile of a session.
type ProfileInvalidator interface {
	Invalidate(ctx context.Context, session *auth.Session) error
}

// gateHandler puts the session gate in front of next. Non-canonical paths
// are redirected to their clean form before anything else, so next only
// ever sees the path the gate decided on. Excluded paths pass straight
// through. Admitted requests carry an *auth.Viewer in their context;
// everything else is redirected with 307.
func (s *Server) gateHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if canonical := gate.Canonical(r.URL.Path); canonical != r.URL.Path {
			target := url.URL{Path: canonical, RawQuery: r.URL.RawQuery}
			LoggerFromContext(r.Context()).Debug("non-canonical path", "path", r.URL.Path, "location", canonical)
			redirect(w, target.String(), http.StatusPermanentRedirect)
			return
		}
		if !s.matcher.Matches(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		ctx := r.Context()
		logger := LoggerFromContext(ctx)
		session := s.loader.Load(w, r)
		decision := s.gate.Decide(ctx, r.URL.Path, session)
		s.metrics.GateDecisions.WithLabelValues(decision.Kind.String()).Inc()

		if decision.SignOut {
			s.revoke(w, r, session)
			s.record(r, audit.Record{
				Event:  audit.EventAccessDenied,
				UserID: session.User.ID,
				Email:  session.User.Email,
				Role:   roleOf(decision.Profile),
				Reason: decision.Reason,
			})
			logger.Info("access denied", "user_id", session.User.ID, "path", r.URL.Path, "reason", decision.Reason)
		}

		if decision.Kind != gate.Allow {
			logger.Debug("gate redirect", "decision", decision.Kind.String(), "path", r.URL.Path, "location", decision.Location)
			redirect(w, decision.Location, http.StatusTemporaryRedirect)
			return
		}

		if session.IsLoggedIn() {
			viewer := &auth.Viewer{User: session.User, Profile: decision.Profile}
			ctx = context.WithValue(ctx, ctxkey.ViewerKey{}, viewer)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// revoke ends session at the backend and clears it from the browser.
// Backend failures are logged; the cookies are cleared regardless.
func (s *Server) revoke(w http.ResponseWriter, r *http.Request, session *auth.Session) {
	ctx := r.Context()
	logger := LoggerFromContext(ctx)

	if session.Valid() {
		if err := s.backend.SignOut(ctx, session.AccessToken); err != nil {
			logger.Warn("backend sign-out failed", "error", err)
		}
		if s.invalidator != nil {
			if err := s.invalidator.Invalidate(ctx, session); err != nil {
				logger.Warn("failed to drop cached profile", "error", err)
			}
		}
	}
	clearNamespace(ctx, w, r, s.cookies.Prefix())
}

// redirect writes a redirect with a Location taken verbatim, so relative
// targets stay relative.
func redirect(w http.ResponseWriter, location string, status int) {
	w.Header().Set("Location", location)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
}

func roleOf(p *auth.Profile) string {
	if p == nil {
		return ""
	}
	return string(p.Role)
}
