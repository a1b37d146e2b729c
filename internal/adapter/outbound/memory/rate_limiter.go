// Package memory provides in-memory implementations of outbound ports:
// the sign-in throttle, browser-like auth state surfaces and the recent
// audit buffer.
package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Sentinel-Gate/dashgate/internal/domain/ratelimit"
)

// RateLimiter implements ratelimit.RateLimiter using GCRA in memory.
// Thread-safe. Includes background cleanup to bound memory growth.
type RateLimiter struct {
	tats            map[string]time.Time // theoretical arrival time per key
	mu              sync.Mutex
	now             func() time.Time
	logger          *slog.Logger
	stopChan        chan struct{}
	wg              sync.WaitGroup
	once            sync.Once
	cleanupInterval time.Duration
	maxTTL          time.Duration
}

// RateLimiterOption configures a RateLimiter.
type RateLimiterOption func(*RateLimiter)

// WithCleanup sets how often expired keys are swept and how old a key must be.
func WithCleanup(interval, maxTTL time.Duration) RateLimiterOption {
	return func(r *RateLimiter) {
		if interval > 0 {
			r.cleanupInterval = interval
		}
		if maxTTL > 0 {
			r.maxTTL = maxTTL
		}
	}
}

// WithLimiterClock sets the time source.
func WithLimiterClock(now func() time.Time) RateLimiterOption {
	return func(r *RateLimiter) {
		r.now = now
	}
}

// WithLimiterLogger sets the logger used by cleanup.
func WithLimiterLogger(logger *slog.Logger) RateLimiterOption {
	return func(r *RateLimiter) {
		r.logger = logger
	}
}

// NewRateLimiter creates an in-memory rate limiter.
// Default cleanup interval: 5 minutes, default maxTTL: 1 hour.
func NewRateLimiter(opts ...RateLimiterOption) *RateLimiter {
	r := &RateLimiter{
		tats:            make(map[string]time.Time),
		now:             time.Now,
		logger:          slog.Default(),
		stopChan:        make(chan struct{}),
		cleanupInterval: 5 * time.Minute,
		maxTTL:          time.Hour,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Allow reports whether one more event for key fits the configured rate.
// Burst events are admitted back to back; afterwards one event per
// Period/Rate.
func (r *RateLimiter) Allow(_ context.Context, key string, config ratelimit.RateLimitConfig) (ratelimit.RateLimitResult, error) {
	if config.Rate <= 0 {
		config.Rate = 1
	}
	if config.Burst <= 0 {
		config.Burst = config.Rate
	}
	emission := config.Period / time.Duration(config.Rate)
	if emission <= 0 {
		emission = time.Nanosecond
	}
	tolerance := time.Duration(config.Burst) * emission

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	tat, ok := r.tats[key]
	if !ok || tat.Before(now) {
		tat = now
	}
	next := tat.Add(emission)

	if ahead := next.Sub(now); ahead > tolerance {
		return ratelimit.RateLimitResult{
			Allowed:    false,
			Remaining:  0,
			RetryAfter: ahead - tolerance,
			ResetAfter: tat.Sub(now),
		}, nil
	}

	r.tats[key] = next
	remaining := int((tolerance - next.Sub(now)) / emission)
	if remaining < 0 {
		remaining = 0
	}

	return ratelimit.RateLimitResult{
		Allowed:    true,
		Remaining:  remaining,
		ResetAfter: next.Sub(now),
	}, nil
}

// Forget drops the state of key, restoring its full burst.
func (r *RateLimiter) Forget(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tats, key)
}

// StartCleanup starts the background sweep of keys older than maxTTL.
// It stops when ctx is cancelled or Stop() is called.
func (r *RateLimiter) StartCleanup(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.cleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-r.stopChan:
				return
			case <-ticker.C:
				r.sweep()
			}
		}
	}()
}

func (r *RateLimiter) sweep() {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-r.maxTTL)
	cleaned := 0
	for key, tat := range r.tats {
		if tat.Before(cutoff) {
			delete(r.tats, key)
			cleaned++
		}
	}

	if cleaned > 0 {
		r.logger.Debug("rate limiter cleanup completed",
			"cleaned_keys", cleaned,
			"remaining_keys", len(r.tats))
	}
}

// Stop stops the cleanup goroutine and waits for it to exit.
// Safe to call multiple times.
func (r *RateLimiter) Stop() {
	r.once.Do(func() {
		close(r.stopChan)
	})
	r.wg.Wait()
}

// Size returns the current number of tracked keys.
func (r *RateLimiter) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tats)
}

var _ ratelimit.RateLimiter = (*RateLimiter)(nil)
