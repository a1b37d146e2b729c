// Package service contains the application services that sit between the
// inbound adapters and the domain.
package service

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Sentinel-Gate/dashgate/internal/domain/audit"
)

// AuditService provides async audit logging with a buffered channel and a
// background worker, so auth handlers never wait on audit storage.
type AuditService struct {
	store         audit.Store
	auditChan     chan audit.Record
	wg            sync.WaitGroup
	logger        *slog.Logger
	batchSize     int
	flushInterval time.Duration
	channelSize   int
	sendTimeout   time.Duration // 0 = drop immediately
	dropCount     atomic.Int64

	warningThreshold int // percent of channel capacity
	lastWarning      atomic.Int64

	// closeMu orders sends against Stop closing the channel.
	closeMu sync.RWMutex
	closed  bool
	now     func() time.Time
}

var _ audit.Recorder = (*AuditService)(nil)

// AuditOption configures AuditService.
type AuditOption func(*AuditService)

// WithBatchSize sets the number of records to batch before writing.
func WithBatchSize(size int) AuditOption {
	return func(s *AuditService) {
		if size > 0 {
			s.batchSize = size
		}
	}
}

// WithFlushInterval sets the interval to flush pending records.
func WithFlushInterval(interval time.Duration) AuditOption {
	return func(s *AuditService) {
		if interval > 0 {
			s.flushInterval = interval
		}
	}
}

// WithChannelSize sets the size of the audit channel buffer.
func WithChannelSize(size int) AuditOption {
	return func(s *AuditService) {
		if size > 0 {
			s.auditChan = make(chan audit.Record, size)
			s.channelSize = size
		}
	}
}

// WithSendTimeout sets the backpressure timeout.
// 0 = drop immediately, >0 = block up to this duration before dropping.
func WithSendTimeout(timeout time.Duration) AuditOption {
	return func(s *AuditService) {
		s.sendTimeout = timeout
	}
}

// WithWarningThreshold sets the channel depth warning percentage (0-100).
func WithWarningThreshold(percent int) AuditOption {
	return func(s *AuditService) {
		s.warningThreshold = min(max(percent, 0), 100)
	}
}

// NewAuditService creates a new AuditService with the given store and options.
func NewAuditService(store audit.Store, logger *slog.Logger, opts ...AuditOption) *AuditService {
	const defaultChannelSize = 1000
	s := &AuditService{
		store:            store,
		auditChan:        make(chan audit.Record, defaultChannelSize),
		logger:           logger,
		batchSize:        100,
		flushInterval:    time.Second,
		channelSize:      defaultChannelSize,
		sendTimeout:      100 * time.Millisecond,
		warningThreshold: 80,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins the background worker that batches and writes audit records.
func (s *AuditService) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.worker(ctx)
}

// Record queues a record for the background worker. ID and Timestamp are
// filled in when empty. If the channel stays full past sendTimeout the
// record is dropped and counted.
func (s *AuditService) Record(record audit.Record) {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = s.now().UTC()
	}

	s.closeMu.RLock()
	defer s.closeMu.RUnlock()
	if s.closed {
		s.recordDrop(record)
		return
	}

	if s.warningThreshold > 0 {
		depth := len(s.auditChan)
		if depth >= s.channelSize*s.warningThreshold/100 {
			s.warnChannelDepth(depth)
		}
	}

	select {
	case s.auditChan <- record:
		return
	default:
	}

	if s.sendTimeout <= 0 {
		s.recordDrop(record)
		return
	}

	timer := time.NewTimer(s.sendTimeout)
	defer timer.Stop()
	select {
	case s.auditChan <- record:
	case <-timer.C:
		s.recordDrop(record)
	}
}

func (s *AuditService) recordDrop(record audit.Record) {
	drops := s.dropCount.Add(1)
	s.logger.Warn("audit record dropped",
		"event", record.Event,
		"user_id", record.UserID,
		"total_drops", drops,
	)
}

// warnChannelDepth logs a capacity warning at most once per second.
func (s *AuditService) warnChannelDepth(depth int) {
	now := time.Now().UnixNano()
	last := s.lastWarning.Load()
	if now-last < int64(time.Second) {
		return
	}
	if s.lastWarning.CompareAndSwap(last, now) {
		s.logger.Warn("audit channel approaching capacity",
			"depth", depth,
			"capacity", s.channelSize,
			"percent", depth*100/s.channelSize,
		)
	}
}

// DroppedRecords returns total dropped records.
func (s *AuditService) DroppedRecords() int64 {
	return s.dropCount.Load()
}

// ChannelDepth returns current channel usage.
func (s *AuditService) ChannelDepth() int {
	return len(s.auditChan)
}

// ChannelCapacity returns the channel size.
func (s *AuditService) ChannelCapacity() int {
	return cap(s.auditChan)
}

// Stop closes the channel and waits for the worker to flush and exit.
// Safe to call multiple times.
func (s *AuditService) Stop() {
	s.closeMu.Lock()
	if !s.closed {
		s.closed = true
		close(s.auditChan)
	}
	s.closeMu.Unlock()
	s.wg.Wait()
}

func (s *AuditService) worker(ctx context.Context) {
	defer s.wg.Done()

	batch := make([]audit.Record, 0, s.batchSize)
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	finalFlush := func() {
		if len(batch) == 0 {
			return
		}
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.flush(flushCtx, batch)
		if err := s.store.Flush(flushCtx); err != nil {
			s.logger.Error("failed to flush audit store", "error", err)
		}
	}

	for {
		select {
		case record, ok := <-s.auditChan:
			if !ok {
				finalFlush()
				return
			}
			batch = append(batch, record)
			if len(batch) >= s.batchSize {
				s.flush(ctx, batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				s.flush(ctx, batch)
				batch = batch[:0]
			}

		case <-ctx.Done():
			// Drain what is already queued, then stop.
			for {
				select {
				case record, ok := <-s.auditChan:
					if !ok {
						finalFlush()
						return
					}
					batch = append(batch, record)
				default:
					finalFlush()
					return
				}
			}
		}
	}
}

// flush writes a batch. Errors are logged; audit never fails an auth flow.
func (s *AuditService) flush(ctx context.Context, batch []audit.Record) {
	if err := s.store.Append(ctx, batch...); err != nil {
		s.logger.Error("failed to write audit batch",
			"error", err,
			"count", len(batch),
		)
	}
}
