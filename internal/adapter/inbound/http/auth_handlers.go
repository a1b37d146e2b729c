package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/Sentinel-Gate/dashgate/internal/domain/audit"
	"github.com/Sentinel-Gate/dashgate/internal/domain/auth"
	"github.com/Sentinel-Gate/dashgate/internal/domain/ratelimit"
)

// maxSignInBody bounds the sign-in request body.
const maxSignInBody = 16 << 10

const throttledMessage = "Too many sign-in attempts, try again later"

// signInRequest is the body of POST /auth/sign-in.
type signInRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
}

// newSignInValidator reports field errors under their JSON names.
func newSignInValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validateSignIn checks req and returns per-field messages.
func validateSignIn(v *validator.Validate, req signInRequest) error {
	err := v.Struct(req)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	fields := make(map[string]string, len(fieldErrs))
	for _, fe := range fieldErrs {
		if _, seen := fields[fe.Field()]; seen {
			continue
		}
		fields[fe.Field()] = fieldMessage(fe)
	}
	return &auth.ValidationError{Fields: fields}
}

func fieldMessage(fe validator.FieldError) string {
	label := strings.ToUpper(fe.Field()[:1]) + fe.Field()[1:]
	switch fe.Tag() {
	case "required":
		return label + " is required"
	case "email":
		return "Invalid email address"
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", label, fe.Param())
	default:
		return label + " is invalid"
	}
}

// handleSignIn exchanges credentials for a session and stores it in the
// session cookies.
func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := LoggerFromContext(ctx)

	var req signInRequest
	body := http.MaxBytesReader(w, r.Body, maxSignInBody)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		logger.Warn("unreadable sign-in body", "error", err)
		s.metrics.SignInTotal.WithLabelValues("error").Inc()
		respondFieldErrors(ctx, w, http.StatusInternalServerError, map[string]string{
			"password": "Server error: failed to parse request body: " + err.Error(),
		})
		return
	}

	if err := validateSignIn(s.validate, req); err != nil {
		var ve *auth.ValidationError
		if !errors.As(err, &ve) {
			s.serverError(ctx, w, err)
			return
		}
		s.metrics.SignInTotal.WithLabelValues("invalid").Inc()
		s.record(r, audit.Record{Event: audit.EventSignInFailed, Email: req.Email, Reason: ve.Error()})
		respondFieldErrors(ctx, w, http.StatusUnauthorized, ve.Fields)
		return
	}

	if !s.allowSignIn(w, r, req.Email) {
		s.metrics.SignInTotal.WithLabelValues("throttled").Inc()
		s.record(r, audit.Record{Event: audit.EventSignInThrottled, Email: req.Email})
		respondFieldErrors(ctx, w, http.StatusTooManyRequests, map[string]string{"password": throttledMessage})
		return
	}

	session, err := s.backend.SignInWithPassword(ctx, req.Email, req.Password)
	if err != nil {
		var be *auth.BackendError
		if errors.As(err, &be) && !auth.IsTransient(err) {
			logger.Info("sign-in rejected", "email", req.Email, "status", be.Status, "code", be.Code)
			s.metrics.SignInTotal.WithLabelValues("rejected").Inc()
			s.record(r, audit.Record{Event: audit.EventSignInFailed, Email: req.Email, Reason: be.Message})
			respondFieldErrors(ctx, w, http.StatusUnauthorized, map[string]string{"password": be.Message})
			return
		}
		s.serverError(ctx, w, fmt.Errorf("sign-in call failed: %w", err))
		return
	}

	if err := s.cookies.Write(w, r, session); err != nil {
		s.serverError(ctx, w, err)
		return
	}

	var userID string
	if session.User != nil {
		userID = session.User.ID
	}
	logger.Info("signed in", "user_id", userID, "email", req.Email)
	s.metrics.SignInTotal.WithLabelValues("ok").Inc()
	s.record(r, audit.Record{Event: audit.EventSignIn, UserID: userID, Email: req.Email})
	respondJSON(ctx, w, http.StatusOK, map[string]bool{"success": true})
}

// allowSignIn applies the per-IP sign-in limit, then the per-account limit
// when one is configured. A limiter error admits the request.
func (s *Server) allowSignIn(w http.ResponseWriter, r *http.Request, email string) bool {
	if s.limiter == nil {
		return true
	}
	ipKey := ratelimit.FormatKey(ratelimit.KeyTypeIP, RemoteIPFromContext(r.Context()))
	if !s.allowKey(w, r, ipKey, s.signInLimit) {
		return false
	}
	if s.accountLimit.Rate == 0 {
		return true
	}
	emailKey := ratelimit.FormatKey(ratelimit.KeyTypeEmail, strings.ToLower(strings.TrimSpace(email)))
	return s.allowKey(w, r, emailKey, s.accountLimit)
}

func (s *Server) allowKey(w http.ResponseWriter, r *http.Request, key string, cfg ratelimit.RateLimitConfig) bool {
	res, err := s.limiter.Allow(r.Context(), key, cfg)
	if err != nil {
		LoggerFromContext(r.Context()).Warn("sign-in rate limiter failed", "key", key, "error", err)
		return true
	}
	if !res.Allowed {
		secs := int(res.RetryAfter.Round(time.Second) / time.Second)
		w.Header().Set("Retry-After", strconv.Itoa(max(secs, 1)))
	}
	return res.Allowed
}

// handleSignOut revokes the current session, clears the cookies and sends
// the browser to the login page. It never fails.
func (s *Server) handleSignOut(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	session, err := s.cookies.Read(r)
	if err != nil {
		LoggerFromContext(ctx).Debug("sign-out with unreadable session cookie", "error", err)
		session = nil
	}
	s.revoke(w, r, session)

	rec := audit.Record{Event: audit.EventSignOut}
	if session != nil && session.User != nil {
		rec.UserID = session.User.ID
		rec.Email = session.User.Email
	}
	s.record(r, rec)
	s.metrics.SignOutTotal.Inc()

	redirect(w, s.siteURL+"/login", http.StatusMovedPermanently)
}

// handleMe returns the user and profile behind the session cookie, as
// verified by the backend.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	session := s.loader.Load(w, r)
	if !session.Valid() {
		respondError(ctx, w, http.StatusUnauthorized, "not signed in")
		return
	}

	user, err := s.backend.GetUser(ctx, session.AccessToken)
	if err != nil {
		LoggerFromContext(ctx).Info("user lookup failed", "error", err)
		respondError(ctx, w, http.StatusUnauthorized, "session is not valid")
		return
	}

	profile, err := s.backend.GetMyProfile(ctx, session.AccessToken)
	if err != nil {
		LoggerFromContext(ctx).Warn("profile lookup failed", "user_id", user.ID, "error", err)
		profile = nil
	}
	respondJSON(ctx, w, http.StatusOK, auth.Viewer{User: user, Profile: profile})
}

// serverError logs err and writes the 500 field error body.
func (s *Server) serverError(ctx context.Context, w http.ResponseWriter, err error) {
	LoggerFromContext(ctx).Error("sign-in failed", "error", err)
	s.metrics.SignInTotal.WithLabelValues("error").Inc()
	respondFieldErrors(ctx, w, http.StatusInternalServerError, map[string]string{
		"password": "Server error: " + err.Error(),
	})
}

// record stamps rec with request data and hands it to the audit recorder.
func (s *Server) record(r *http.Request, rec audit.Record) {
	rec.RemoteIP = RemoteIPFromContext(r.Context())
	rec.RequestID = RequestIDFromContext(r.Context())
	if rec.Path == "" {
		rec.Path = r.URL.Path
	}
	s.audit.Record(rec)
}
