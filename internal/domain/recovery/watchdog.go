package recovery

import (
	"context"
	"errors"

	"github.com/Sentinel-Gate/dashgate/internal/domain/auth"
)

// FailureRecorder counts failures and reports a breach.
type FailureRecorder interface {
	RecordFailure() bool
}

// ObservedError marks an auth failure that has already been counted.
type ObservedError struct {
	Err error
}

func (e *ObservedError) Error() string { return e.Err.Error() }

func (e *ObservedError) Unwrap() error { return e.Err }

// MarkObserved wraps err so IsObserved reports true. Nil stays nil.
func MarkObserved(err error) error {
	if err == nil || IsObserved(err) {
		return err
	}
	return &ObservedError{Err: err}
}

// IsObserved reports whether err was already counted.
func IsObserved(err error) bool {
	var oe *ObservedError
	return errors.As(err, &oe)
}

// Watchdog feeds auth failures to the tracker and starts recovery on breach.
type Watchdog struct {
	tracker    FailureRecorder
	controller *Controller
}

// NewWatchdog creates a Watchdog.
func NewWatchdog(tracker FailureRecorder, controller *Controller) *Watchdog {
	return &Watchdog{tracker: tracker, controller: controller}
}

// Observe counts a failed session or profile read that was not already
// counted on the wire and runs recovery on breach. It returns true when
// recovery ran or is already latched, meaning the caller must not make
// further backend calls.
func (w *Watchdog) Observe(ctx context.Context, err error) bool {
	if err != nil && !IsObserved(err) {
		if w.tracker.RecordFailure() {
			w.controller.OnThresholdBreach(ctx)
			return true
		}
	}
	return w.controller.Recovering()
}

// Count registers a backend response classified by auth.IsAuthFailure and
// returns err marked as observed. Other errors pass through unchanged.
// Backend decorators call this so a later Observe of the same error does
// not count it twice.
func (w *Watchdog) Count(ctx context.Context, err error) error {
	if err == nil || IsObserved(err) || !auth.IsAuthFailure(err) {
		return err
	}
	if w.tracker.RecordFailure() {
		w.controller.OnThresholdBreach(ctx)
	}
	return MarkObserved(err)
}
