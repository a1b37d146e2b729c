package audit

import (
	"context"
)

// Store persists audit records.
// Implementation handles batching and async writes.
type Store interface {
	// Append stores audit records.
	Append(ctx context.Context, records ...Record) error

	// Flush forces pending records to storage. Called during shutdown.
	Flush(ctx context.Context) error

	// Close releases resources.
	Close() error
}

// QueryStore provides read access to stored records, newest first.
type QueryStore interface {
	Query(ctx context.Context, filter Filter) ([]Record, error)
}

// Recorder accepts records without blocking the caller.
type Recorder interface {
	Record(record Record)
}

// NopRecorder discards every record.
type NopRecorder struct{}

// Record implements Recorder.
func (NopRecorder) Record(Record) {}
