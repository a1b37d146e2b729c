package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/Sentinel-Gate/dashgate/internal/domain/authstate"
)

// SessionStorage is a per-process string key/value store. Its contents
// vanish with the process.
type SessionStorage struct {
	mu    sync.RWMutex
	items map[string]string
}

var _ authstate.Surface = (*SessionStorage)(nil)

// NewSessionStorage creates an empty SessionStorage.
func NewSessionStorage() *SessionStorage {
	return &SessionStorage{items: make(map[string]string)}
}

// GetItem returns the value stored under key.
func (s *SessionStorage) GetItem(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.items[key]
	return v, ok
}

// SetItem stores value under key.
func (s *SessionStorage) SetItem(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key] = value
}

// RemoveItem deletes key.
func (s *SessionStorage) RemoveItem(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, key)
}

// Name identifies the surface in logs.
func (s *SessionStorage) Name() string { return "session_storage" }

// Keys returns every key in sorted order.
func (s *SessionStorage) Keys(context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.items))
	for k := range s.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Remove implements authstate.Surface.
func (s *SessionStorage) Remove(_ context.Context, key string) error {
	s.RemoveItem(key)
	return nil
}
