// Package state provides the client runtime's local storage: a string
// key/value file shared by every dashgate process of the same user.
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/Sentinel-Gate/dashgate/internal/domain/authstate"
)

// fileFormatVersion is written to every storage file.
const fileFormatVersion = "1"

// storageFile is the on-disk layout.
type storageFile struct {
	Version   string            `json:"version"`
	Items     map[string]string `json:"items"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// LocalStorage is a persistent string key/value store backed by a JSON file.
// Writes are atomic (write-tmp, fsync, rename) and serialized across
// processes with a lock file; reads take a shared lock.
type LocalStorage struct {
	path   string
	mu     sync.Mutex
	logger *slog.Logger
}

var _ authstate.Surface = (*LocalStorage)(nil)

// NewLocalStorage creates a LocalStorage for the given file path.
// The parent directory is created on first write.
func NewLocalStorage(path string, logger *slog.Logger) *LocalStorage {
	return &LocalStorage{
		path:   path,
		logger: logger,
	}
}

// Name identifies the surface in logs.
func (s *LocalStorage) Name() string { return "local_storage" }

// Path returns the configured file path.
func (s *LocalStorage) Path() string { return s.path }

// GetItem returns the value stored under key.
func (s *LocalStorage) GetItem(ctx context.Context, key string) (string, bool, error) {
	items, err := s.read(ctx)
	if err != nil {
		return "", false, err
	}
	v, ok := items[key]
	return v, ok, nil
}

// SetItem stores value under key.
func (s *LocalStorage) SetItem(ctx context.Context, key, value string) error {
	return s.update(ctx, func(items map[string]string) bool {
		if cur, ok := items[key]; ok && cur == value {
			return false
		}
		items[key] = value
		return true
	})
}

// RemoveItem deletes key. Missing keys are not an error.
func (s *LocalStorage) RemoveItem(ctx context.Context, key string) error {
	return s.update(ctx, func(items map[string]string) bool {
		if _, ok := items[key]; !ok {
			return false
		}
		delete(items, key)
		return true
	})
}

// Keys returns every stored key in sorted order.
func (s *LocalStorage) Keys(ctx context.Context) ([]string, error) {
	items, err := s.read(ctx)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(items))
	for k := range items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Remove implements authstate.Surface.
func (s *LocalStorage) Remove(ctx context.Context, key string) error {
	return s.RemoveItem(ctx, key)
}

// read loads the items under a shared lock. A missing file is empty storage.
func (s *LocalStorage) read(ctx context.Context) (map[string]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := os.Stat(s.path); os.IsNotExist(err) {
		return map[string]string{}, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	release, err := s.acquire(lockShared)
	if err != nil {
		return nil, err
	}
	defer release()

	return s.load()
}

// update runs fn on the current items under the exclusive lock and persists
// the result when fn reports a change.
func (s *LocalStorage) update(ctx context.Context, fn func(map[string]string) bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("create storage dir: %w", err)
	}

	release, err := s.acquire(lockExclusive)
	if err != nil {
		return err
	}
	defer release()

	items, err := s.load()
	if err != nil {
		return err
	}
	if !fn(items) {
		return nil
	}
	return s.save(items)
}

func (s *LocalStorage) acquire(lock func(uintptr) error) (func(), error) {
	lockPath := s.path + ".lock"
	if err := os.MkdirAll(filepath.Dir(lockPath), 0700); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	lockFile, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if err := lock(lockFile.Fd()); err != nil {
		_ = lockFile.Close()
		return nil, fmt.Errorf("acquire file lock: %w", err)
	}
	return func() {
		_ = unlock(lockFile.Fd())
		_ = lockFile.Close()
	}, nil
}

// load reads the file. Caller holds the lock.
func (s *LocalStorage) load() (map[string]string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("read storage file: %w", err)
	}

	if runtime.GOOS != "windows" {
		if info, statErr := os.Stat(s.path); statErr == nil {
			if mode := info.Mode().Perm(); mode&0077 != 0 {
				s.logger.Warn("storage file has too-open permissions, should be 0600",
					"path", s.path, "current_mode", fmt.Sprintf("%04o", mode))
			}
		}
	}

	if len(data) == 0 {
		return map[string]string{}, nil
	}
	var f storageFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse storage file: %w", err)
	}
	if f.Items == nil {
		f.Items = map[string]string{}
	}
	return f.Items, nil
}

// save writes items atomically. Caller holds the exclusive lock.
func (s *LocalStorage) save(items map[string]string) error {
	data, err := json.MarshalIndent(storageFile{
		Version:   fileFormatVersion,
		Items:     items,
		UpdatedAt: time.Now().UTC(),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal storage: %w", err)
	}
	data = append(data, '\n')

	if err := s.writeAtomic(data); err != nil {
		return err
	}
	if err := os.Chmod(s.path, 0600); err != nil {
		s.logger.Warn("failed to set permissions on storage file", "error", err)
	}
	s.logger.Debug("local storage saved", "path", s.path, "keys", len(items))
	return nil
}

// writeAtomic writes data to a temp file, fsyncs it, and renames it over
// the target path. On any error the temp file is removed.
func (s *LocalStorage) writeAtomic(data []byte) error {
	tmpPath := s.path + ".tmp"

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	cleanup := func() {
		_ = f.Close()
		_ = os.Remove(tmpPath)
	}

	if _, err := f.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("fsync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename temp to storage: %w", err)
	}
	return nil
}

// Wipe deletes the storage file and its lock file.
func (s *LocalStorage) Wipe() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range []string{s.path, s.path + ".lock", s.path + ".tmp"} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove %s: %w", p, err)
		}
	}
	return nil
}
