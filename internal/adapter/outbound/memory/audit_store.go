package memory

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"

	"github.com/Sentinel-Gate/dashgate/internal/domain/audit"
)

const defaultRecentCap = 1000

// AuditStore implements audit.Store writing JSON lines to stdout or a file.
// It also keeps a bounded ring buffer of recent records for queries.
type AuditStore struct {
	encoder *json.Encoder
	writer  io.Writer
	mu      sync.Mutex
	recent  []audit.Record
	next    int
	full    bool
}

// NewAuditStore creates an audit store writing to w. A capacity <= 0 keeps
// the default of 1000 recent records.
func NewAuditStore(w io.Writer, capacity int) *AuditStore {
	if capacity <= 0 {
		capacity = defaultRecentCap
	}
	return &AuditStore{
		encoder: json.NewEncoder(w),
		writer:  w,
		recent:  make([]audit.Record, capacity),
	}
}

// Append writes records as JSON lines and remembers them.
func (s *AuditStore) Append(_ context.Context, records ...audit.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range records {
		if err := s.encoder.Encode(r); err != nil {
			return err
		}
		s.recent[s.next] = r
		s.next = (s.next + 1) % len(s.recent)
		if s.next == 0 {
			s.full = true
		}
	}
	return nil
}

// Flush syncs file-backed output. Records are written through on Append.
func (s *AuditStore) Flush(context.Context) error {
	if f, ok := s.writer.(*os.File); ok && f != os.Stdout && f != os.Stderr {
		return f.Sync()
	}
	return nil
}

// Close closes the underlying file unless it is stdout or stderr.
func (s *AuditStore) Close() error {
	if f, ok := s.writer.(*os.File); ok && f != os.Stdout && f != os.Stderr {
		return f.Close()
	}
	return nil
}

// Query returns buffered records matching filter, newest first.
func (s *AuditStore) Query(_ context.Context, filter audit.Filter) ([]audit.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	limit := filter.NormalizedLimit()
	size := s.next
	if s.full {
		size = len(s.recent)
	}

	var out []audit.Record
	for i := 0; i < size && len(out) < limit; i++ {
		idx := (s.next - 1 - i + len(s.recent)) % len(s.recent)
		if rec := s.recent[idx]; filter.Matches(rec) {
			out = append(out, rec)
		}
	}
	return out, nil
}

var (
	_ audit.Store      = (*AuditStore)(nil)
	_ audit.QueryStore = (*AuditStore)(nil)
)
