// Package redis shares profile lookups between gate instances. Entries are
// keyed by session identity and expire after a short TTL.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/redis/go-redis/v9"

	"github.com/Sentinel-Gate/dashgate/internal/domain/auth"
	"github.com/Sentinel-Gate/dashgate/internal/domain/gate"
)

// DefaultTTL is how long a lookup result is reused.
const DefaultTTL = 30 * time.Second

const keyPrefix = "dashgate:profile:"

// cachedProfile distinguishes "no profile" from a cache miss.
type cachedProfile struct {
	Found   bool          `json:"found"`
	Profile *auth.Profile `json:"profile,omitempty"`
}

// ProfileCache wraps a gate.ProfileLookup with a Redis read-through cache.
// Redis failures fall back to the wrapped lookup; lookup errors are never cached.
type ProfileCache struct {
	client *redis.Client
	next   gate.ProfileLookup
	ttl    time.Duration
	logger *slog.Logger
}

// NewProfileCache creates a cache in front of next.
func NewProfileCache(client *redis.Client, next gate.ProfileLookup, ttl time.Duration, logger *slog.Logger) *ProfileCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &ProfileCache{client: client, next: next, ttl: ttl, logger: logger}
}

// NewClient parses a redis:// or rediss:// URL and pings the server.
func NewClient(ctx context.Context, rawURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// Key returns the cache key of session. The access token is hashed so it
// never reaches Redis.
func Key(session *auth.Session) string {
	return keyPrefix + session.User.ID + ":" + strconv.FormatUint(xxhash.Sum64String(session.AccessToken), 16)
}

// LookupProfile returns the cached result or asks the wrapped lookup.
func (c *ProfileCache) LookupProfile(ctx context.Context, session *auth.Session) (*auth.Profile, error) {
	if !session.IsLoggedIn() {
		return c.next.LookupProfile(ctx, session)
	}
	key := Key(session)

	data, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var cp cachedProfile
		if jerr := json.Unmarshal(data, &cp); jerr == nil {
			if !cp.Found {
				return nil, nil
			}
			return cp.Profile, nil
		}
		c.logger.Warn("discarding corrupt profile cache entry", "user_id", session.User.ID)
	case errors.Is(err, redis.Nil):
	default:
		c.logger.Warn("profile cache unavailable", "error", err)
	}

	profile, err := c.next.LookupProfile(ctx, session)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(cachedProfile{Found: profile != nil, Profile: profile})
	if err == nil {
		if serr := c.client.Set(ctx, key, payload, c.ttl).Err(); serr != nil {
			c.logger.Warn("failed to store profile cache entry", "error", serr)
		}
	}
	return profile, nil
}

// Invalidate drops the entry for session. Called on sign-out.
func (c *ProfileCache) Invalidate(ctx context.Context, session *auth.Session) error {
	if !session.IsLoggedIn() {
		return nil
	}
	if err := c.client.Del(ctx, Key(session)).Err(); err != nil {
		return fmt.Errorf("invalidate profile cache: %w", err)
	}
	return nil
}

var _ gate.ProfileLookup = (*ProfileCache)(nil)
