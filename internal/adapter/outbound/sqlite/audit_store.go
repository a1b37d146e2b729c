// Package sqlite provides a SQLite-backed audit store using the pure-Go
// modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/Sentinel-Gate/dashgate/internal/domain/audit"
)

const schema = `
CREATE TABLE IF NOT EXISTS auth_audit (
	id         TEXT PRIMARY KEY,
	ts         INTEGER NOT NULL,
	event      TEXT NOT NULL,
	user_id    TEXT NOT NULL DEFAULT '',
	email      TEXT NOT NULL DEFAULT '',
	role       TEXT NOT NULL DEFAULT '',
	remote_ip  TEXT NOT NULL DEFAULT '',
	request_id TEXT NOT NULL DEFAULT '',
	path       TEXT NOT NULL DEFAULT '',
	reason     TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_auth_audit_ts ON auth_audit(ts);
CREATE INDEX IF NOT EXISTS idx_auth_audit_user ON auth_audit(user_id);
`

// AuditStore implements audit.Store and audit.QueryStore on SQLite.
type AuditStore struct {
	db *sql.DB
}

// DSN converts a sqlite:///abs/path.db URL into a modernc DSN.
func DSN(output string) string {
	path := strings.TrimPrefix(output, "sqlite://")
	return fmt.Sprintf("file:%s?mode=rwc&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
}

// Open opens (creating if needed) the database at dsn and applies the schema.
func Open(ctx context.Context, dsn string) (*AuditStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite serializes writers; one connection avoids SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply audit schema: %w", err)
	}
	return &AuditStore{db: db}, nil
}

// Append inserts records in a single transaction. Duplicate IDs are ignored.
func (s *AuditStore) Append(ctx context.Context, records ...audit.Record) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin audit tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO auth_audit
		(id, ts, event, user_id, email, role, remote_ip, request_id, path, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare audit insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, r := range records {
		if _, err := stmt.ExecContext(ctx,
			r.ID, r.Timestamp.UTC().UnixNano(), string(r.Event), r.UserID, r.Email,
			r.Role, r.RemoteIP, r.RequestID, r.Path, r.Reason,
		); err != nil {
			return fmt.Errorf("insert audit record %s: %w", r.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit audit tx: %w", err)
	}
	return nil
}

// Query returns matching records, newest first.
func (s *AuditStore) Query(ctx context.Context, filter audit.Filter) ([]audit.Record, error) {
	var (
		where []string
		args  []any
	)
	if !filter.Since.IsZero() {
		where = append(where, "ts >= ?")
		args = append(args, filter.Since.UTC().UnixNano())
	}
	if filter.Event != "" {
		where = append(where, "event = ?")
		args = append(args, string(filter.Event))
	}
	if filter.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, filter.UserID)
	}

	q := `SELECT id, ts, event, user_id, email, role, remote_ip, request_id, path, reason FROM auth_audit`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY ts DESC, id DESC LIMIT ?"
	args = append(args, filter.NormalizedLimit())

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []audit.Record
	for rows.Next() {
		var (
			r     audit.Record
			ts    int64
			event string
		)
		if err := rows.Scan(&r.ID, &ts, &event, &r.UserID, &r.Email, &r.Role,
			&r.RemoteIP, &r.RequestID, &r.Path, &r.Reason); err != nil {
			return nil, fmt.Errorf("scan audit row: %w", err)
		}
		r.Timestamp = time.Unix(0, ts).UTC()
		r.Event = audit.EventType(event)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Flush is a no-op; Append commits synchronously.
func (s *AuditStore) Flush(context.Context) error { return nil }

// Close closes the database.
func (s *AuditStore) Close() error {
	return s.db.Close()
}

var (
	_ audit.Store      = (*AuditStore)(nil)
	_ audit.QueryStore = (*AuditStore)(nil)
)
