// Package authstate owns every piece of client-side auth state: cookies and
// storage entries whose key starts with the namespace prefix. Clearing is
// exhaustive across all registered surfaces and never fails as a whole.
package authstate

import (
	"context"
	"log/slog"
	"strings"
)

// DefaultPrefix is the namespace prefix of auth cookies and storage keys.
const DefaultPrefix = "sb-"

// Surface is one place auth state lives (a cookie jar, local storage,
// session storage, a response being written).
type Surface interface {
	// Name identifies the surface in logs.
	Name() string
	// Keys enumerates every key currently held by the surface.
	Keys(ctx context.Context) ([]string, error)
	// Remove deletes key from the surface. Missing keys are not an error.
	Remove(ctx context.Context, key string) error
}

// Store clears and lists namespaced auth state across surfaces.
type Store struct {
	prefix   string
	surfaces []Surface
	logger   *slog.Logger
}

// NewStore creates a Store for the given prefix and surfaces.
// An empty prefix falls back to DefaultPrefix.
func NewStore(prefix string, logger *slog.Logger, surfaces ...Surface) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{
		prefix:   prefix,
		surfaces: surfaces,
		logger:   logger,
	}
}

// Prefix returns the namespace prefix.
func (s *Store) Prefix() string { return s.prefix }

// Owns reports whether key belongs to the auth namespace.
func (s *Store) Owns(key string) bool {
	return strings.HasPrefix(key, s.prefix)
}

// WithSurfaces returns a Store that also clears the given surfaces.
// Used for per-request surfaces on the server side.
func (s *Store) WithSurfaces(extra ...Surface) *Store {
	surfaces := make([]Surface, 0, len(s.surfaces)+len(extra))
	surfaces = append(surfaces, s.surfaces...)
	surfaces = append(surfaces, extra...)
	return &Store{prefix: s.prefix, surfaces: surfaces, logger: s.logger}
}

// ClearAll removes every namespaced key from every surface and returns the
// number of keys removed. A surface that fails to enumerate or remove is
// logged and skipped; clearing continues with the next key or surface.
// Non-namespaced keys are never touched.
func (s *Store) ClearAll(ctx context.Context) int {
	removed := 0
	for _, surface := range s.surfaces {
		keys, err := surface.Keys(ctx)
		if err != nil {
			s.logger.Warn("auth state surface unavailable, skipping",
				"surface", surface.Name(), "error", err)
			continue
		}
		for _, key := range keys {
			if !s.Owns(key) {
				continue
			}
			if err := surface.Remove(ctx, key); err != nil {
				s.logger.Warn("failed to remove auth state key",
					"surface", surface.Name(), "key", key, "error", err)
				continue
			}
			removed++
		}
	}
	s.logger.Info("auth state cleared", "removed", removed, "surfaces", len(s.surfaces))
	return removed
}

// ListKeys returns the union of namespaced keys across all surfaces.
// Unavailable surfaces contribute nothing.
func (s *Store) ListKeys(ctx context.Context) map[string]struct{} {
	out := make(map[string]struct{})
	for _, surface := range s.surfaces {
		keys, err := surface.Keys(ctx)
		if err != nil {
			s.logger.Debug("auth state surface unavailable", "surface", surface.Name(), "error", err)
			continue
		}
		for _, key := range keys {
			if s.Owns(key) {
				out[key] = struct{}{}
			}
		}
	}
	return out
}
