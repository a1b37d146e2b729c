package ratelimit

import (
	"sync"
	"time"
)

// Default auth error policy: five failures within ten seconds.
const (
	DefaultErrorThreshold = 5
	DefaultErrorWindow    = 10 * time.Second
)

// Clock returns the current time. Tests inject a fake.
type Clock func() time.Time

// ErrorRateTracker counts auth failures inside a sliding window and reports
// when the threshold is reached. The window restarts when the gap since the
// previous failure exceeds the window length.
//
// State is process-wide and never persisted. Safe for concurrent use.
type ErrorRateTracker struct {
	mu        sync.Mutex
	count     int
	last      time.Time
	threshold int
	window    time.Duration
	now       Clock
}

// TrackerOption configures an ErrorRateTracker.
type TrackerOption func(*ErrorRateTracker)

// WithThreshold sets the failure count that signals a breach.
func WithThreshold(n int) TrackerOption {
	return func(t *ErrorRateTracker) {
		if n > 0 {
			t.threshold = n
		}
	}
}

// WithWindow sets the window length.
func WithWindow(d time.Duration) TrackerOption {
	return func(t *ErrorRateTracker) {
		if d > 0 {
			t.window = d
		}
	}
}

// WithClock sets the time source.
func WithClock(c Clock) TrackerOption {
	return func(t *ErrorRateTracker) {
		t.now = c
	}
}

// NewErrorRateTracker creates a tracker with the default policy unless overridden.
func NewErrorRateTracker(opts ...TrackerOption) *ErrorRateTracker {
	t := &ErrorRateTracker{
		threshold: DefaultErrorThreshold,
		window:    DefaultErrorWindow,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// RecordFailure registers one failure and returns true when the count inside
// the current window has reached the threshold.
func (t *ErrorRateTracker) RecordFailure() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if now.Sub(t.last) > t.window {
		t.count = 0
	}
	t.last = now
	t.count++
	return t.count >= t.threshold
}

// Reset clears the window. Called after a successful recovery or sign-in.
func (t *ErrorRateTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.count = 0
	t.last = time.Time{}
}

// Count returns the number of failures in the current window.
func (t *ErrorRateTracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}
