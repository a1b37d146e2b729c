package auth

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// Sentinel errors for authentication operations.
var (
	// ErrNoSession is returned when no session is persisted.
	ErrNoSession = errors.New("no session")
	// ErrInvalidSession is returned for a session with a refresh token but no access token.
	ErrInvalidSession = errors.New("session has a refresh token but no access token")
	// ErrUnauthorized is returned when a logged-in user's role is not permitted.
	ErrUnauthorized = errors.New("user is not authorized for the dashboard")
	// ErrTransient wraps network and backend availability failures.
	ErrTransient = errors.New("authentication backend unavailable")
)

// Backend error codes that indicate degraded auth state.
const (
	CodeRefreshTokenNotFound = "refresh_token_not_found"
	CodeOverRequestRateLimit = "over_request_rate_limit"
	CodeSessionNotFound      = "session_not_found"
	CodeInvalidCredentials   = "invalid_credentials"
)

// BackendError is an error response returned by the hosted backend.
type BackendError struct {
	// Status is the HTTP status of the response.
	Status int
	// Code is the machine-readable error code, if any.
	Code string
	// Message is the human-readable message.
	Message string
}

func (e *BackendError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("backend error %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("backend error %d: %s", e.Status, e.Message)
}

// IsRefreshTokenFailure reports whether err says the refresh token is
// missing, revoked or malformed.
func IsRefreshTokenFailure(err error) bool {
	var be *BackendError
	if !errors.As(err, &be) {
		return false
	}
	if be.Code == CodeRefreshTokenNotFound {
		return true
	}
	msg := strings.ToLower(be.Message)
	return strings.Contains(msg, "refresh_token") || strings.Contains(msg, "refresh token")
}

// IsAuthFailure reports whether err is a backend auth response that signals
// degraded client state: a 400 or 429 carrying refresh_token_not_found or
// over_request_rate_limit.
func IsAuthFailure(err error) bool {
	if errors.Is(err, ErrInvalidSession) {
		return true
	}
	var be *BackendError
	if !errors.As(err, &be) {
		return false
	}
	if be.Status != http.StatusBadRequest && be.Status != http.StatusTooManyRequests {
		return false
	}
	return be.Code == CodeRefreshTokenNotFound || be.Code == CodeOverRequestRateLimit
}

// ValidationError carries per-field messages for rejected input.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// IsTransient reports whether err is a network failure or a 5xx response,
// i.e. not a verdict about the credentials.
func IsTransient(err error) bool {
	if errors.Is(err, ErrTransient) {
		return true
	}
	var be *BackendError
	return errors.As(err, &be) && be.Status >= http.StatusInternalServerError
}
