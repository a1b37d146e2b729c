package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/Sentinel-Gate/dashgate/internal/domain/audit"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type captureStore struct {
	mu      sync.Mutex
	records []audit.Record
	delay   time.Duration
	err     error
	flushes int
}

func (c *captureStore) Append(_ context.Context, records ...audit.Record) error {
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.records = append(c.records, records...)
	return nil
}

func (c *captureStore) Flush(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flushes++
	return nil
}

func (c *captureStore) Close() error { return nil }

func (c *captureStore) snapshot() []audit.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]audit.Record(nil), c.records...)
}

func TestAuditService_StopFlushesPending(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := &captureStore{}
	svc := NewAuditService(store, discardLogger(), WithBatchSize(100), WithFlushInterval(time.Hour))
	svc.Start(context.Background())

	for i := 0; i < 5; i++ {
		svc.Record(audit.Record{Event: audit.EventSignIn})
	}
	svc.Stop()

	got := store.snapshot()
	if len(got) != 5 {
		t.Fatalf("stored %d records, want 5", len(got))
	}
	for _, r := range got {
		if r.ID == "" {
			t.Error("record ID not filled in")
		}
		if r.Timestamp.IsZero() {
			t.Error("record Timestamp not filled in")
		}
	}
	if store.flushes == 0 {
		t.Error("store.Flush not called on shutdown")
	}
}

func TestAuditService_BatchSizeTriggersWrite(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := &captureStore{}
	svc := NewAuditService(store, discardLogger(), WithBatchSize(2), WithFlushInterval(time.Hour))
	svc.Start(context.Background())
	defer svc.Stop()

	svc.Record(audit.Record{ID: "a", Event: audit.EventSignIn})
	svc.Record(audit.Record{ID: "b", Event: audit.EventSignOut})

	deadline := time.Now().Add(2 * time.Second)
	for len(store.snapshot()) < 2 {
		if time.Now().After(deadline) {
			t.Fatal("full batch was not written")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := store.snapshot(); got[0].ID != "a" || got[1].ID != "b" {
		t.Errorf("records out of order: %v, %v", got[0].ID, got[1].ID)
	}
}

func TestAuditService_FlushInterval(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := &captureStore{}
	svc := NewAuditService(store, discardLogger(), WithBatchSize(100), WithFlushInterval(10*time.Millisecond))
	svc.Start(context.Background())
	defer svc.Stop()

	svc.Record(audit.Record{Event: audit.EventRecovery})

	deadline := time.Now().Add(2 * time.Second)
	for len(store.snapshot()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("ticker did not flush the partial batch")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestAuditService_OverflowDrops(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := &captureStore{delay: 50 * time.Millisecond}
	svc := NewAuditService(store, discardLogger(),
		WithChannelSize(2),
		WithSendTimeout(5*time.Millisecond),
		WithBatchSize(1),
	)
	svc.Start(context.Background())

	for i := 0; i < 10; i++ {
		svc.Record(audit.Record{Event: audit.EventSignInFailed})
	}
	if svc.DroppedRecords() == 0 {
		t.Error("expected drops with a 2-slot channel and a slow store")
	}
	svc.Stop()
}

func TestAuditService_RecordAfterStop(t *testing.T) {
	defer goleak.VerifyNone(t)

	svc := NewAuditService(&captureStore{}, discardLogger())
	svc.Start(context.Background())
	svc.Stop()
	svc.Stop()

	svc.Record(audit.Record{Event: audit.EventSignIn})
	if svc.DroppedRecords() != 1 {
		t.Errorf("DroppedRecords() = %d, want 1", svc.DroppedRecords())
	}
}

func TestAuditService_ContextCancelDrains(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := &captureStore{}
	svc := NewAuditService(store, discardLogger(), WithBatchSize(100), WithFlushInterval(time.Hour))
	ctx, cancel := context.WithCancel(context.Background())
	svc.Start(ctx)

	svc.Record(audit.Record{Event: audit.EventSignOut})
	svc.Record(audit.Record{Event: audit.EventSignOut})
	cancel()
	svc.Stop()

	if got := len(store.snapshot()); got != 2 {
		t.Errorf("stored %d records after cancel, want 2", got)
	}
}

func TestAuditService_StoreErrorIsLogged(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := &captureStore{err: errors.New("disk full")}
	svc := NewAuditService(store, discardLogger(), WithBatchSize(1))
	svc.Start(context.Background())
	svc.Record(audit.Record{Event: audit.EventSignIn})
	svc.Stop()

	if len(store.snapshot()) != 0 {
		t.Error("failing store should hold no records")
	}
}
