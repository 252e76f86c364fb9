package sqlite

import (
	"context"
	"time"

	"github.com/vidgate/vidgate/domain/usage"
	"github.com/vidgate/vidgate/ports"
)

// UsageStore implements ports.UsageStore using SQLite.
type UsageStore struct {
	db *DB
}

// NewUsageStore creates a new SQLite usage store.
func NewUsageStore(db *DB) *UsageStore {
	return &UsageStore{db: db}
}

// RecordBatch stores multiple usage events.
func (s *UsageStore) RecordBatch(ctx context.Context, events []usage.Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO usage_events (
			id, key_id, route, method, path, status_code, latency_ms,
			response_bytes, remote_ip, user_agent, timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range events {
		// Store timestamp in UTC for consistent querying
		_, err := stmt.ExecContext(ctx,
			e.ID, e.KeyID, e.Route, e.Method, e.Path, e.StatusCode, e.LatencyMs,
			e.ResponseBytes, e.RemoteIP, e.UserAgent, e.Timestamp.UTC(),
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// CountSince returns the number of events recorded at or after start.
func (s *UsageStore) CountSince(ctx context.Context, start time.Time) (int64, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM usage_events WHERE datetime(timestamp) >= datetime(?)
	`, start.UTC().Format("2006-01-02 15:04:05"))

	var count int64
	if err := row.Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// Cleanup removes old usage events.
func (s *UsageStore) Cleanup(ctx context.Context, olderThan time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM usage_events WHERE timestamp < ?
	`, olderThan)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// Ensure interface compliance.
var _ ports.UsageStore = (*UsageStore)(nil)
