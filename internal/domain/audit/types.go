// Package audit contains domain types for the auth audit trail.
package audit

import (
	"time"
)

// EventType categorizes an audit record.
type EventType string

const (
	// EventSignIn records a successful password sign-in.
	EventSignIn EventType = "access.sign_in"
	// EventSignInFailed records a rejected sign-in (validation or backend).
	EventSignInFailed EventType = "access.sign_in_failed"
	// EventSignInThrottled records a sign-in refused by the rate limiter.
	EventSignInThrottled EventType = "access.sign_in_throttled"
	// EventSignOut records an explicit sign-out.
	EventSignOut EventType = "access.sign_out"
	// EventAccessDenied records a logged-in user refused by the role check.
	EventAccessDenied EventType = "access.denied"
	// EventRecovery records a forced reset of degraded client auth state.
	EventRecovery EventType = "session.recovery"
)

// Record is a single audit event.
type Record struct {
	// ID uniquely identifies the record (UUID).
	ID string `json:"id"`
	// Timestamp when the event occurred (UTC).
	Timestamp time.Time `json:"timestamp"`
	// Event categorizes the record.
	Event EventType `json:"event"`
	// UserID is the backend user id, when known.
	UserID string `json:"user_id,omitempty"`
	// Email is the account email, when known.
	Email string `json:"email,omitempty"`
	// Role is the profile role at the time of the event, when known.
	Role string `json:"role,omitempty"`
	// RemoteIP is the client address.
	RemoteIP string `json:"remote_ip,omitempty"`
	// RequestID correlates the record with request logs.
	RequestID string `json:"request_id,omitempty"`
	// Path is the request path that triggered the event.
	Path string `json:"path,omitempty"`
	// Reason explains failures and denials.
	Reason string `json:"reason,omitempty"`
}

// Filter selects records from a queryable store.
type Filter struct {
	// Since drops records older than this instant (zero = no bound).
	Since time.Time
	// Event restricts to one event type (empty = all).
	Event EventType
	// UserID restricts to one user (empty = all).
	UserID string
	// Limit caps the number of records (default 100, max 1000).
	Limit int
}

// NormalizedLimit returns Limit clamped to [1, 1000] with default 100.
func (f Filter) NormalizedLimit() int {
	switch {
	case f.Limit <= 0:
		return 100
	case f.Limit > 1000:
		return 1000
	default:
		return f.Limit
	}
}

// Matches reports whether r satisfies the filter.
func (f Filter) Matches(r Record) bool {
	if !f.Since.IsZero() && r.Timestamp.Before(f.Since) {
		return false
	}
	if f.Event != "" && r.Event != f.Event {
		return false
	}
	if f.UserID != "" && r.UserID != f.UserID {
		return false
	}
	return true
}
