package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/Harry0M/oikos-sub001/internal/models"
)

// EnqueueOutbox inserts the entry or replaces the pending payload for the
// same path. Replacing bumps the revision and clears the retry state.
func (s *SQLiteStore) EnqueueOutbox(ctx context.Context, entry *models.OutboxEntry) error {
	now := time.Now()
	if entry.CreatedAt == 0 {
		entry.CreatedAt = now.Unix()
	}
	if entry.NextAttemptAt.IsZero() {
		entry.NextAttemptAt = now
	}

	err := s.db.QueryRowContext(ctx,
		`INSERT INTO outbox (path, payload, revision, attempts, next_attempt_at, last_error, created_at)
		 VALUES (?, ?, 1, 0, ?, '', ?)
		 ON CONFLICT(path) DO UPDATE SET
		     payload = excluded.payload,
		     revision = outbox.revision + 1,
		     attempts = 0,
		     next_attempt_at = excluded.next_attempt_at,
		     last_error = ''
		 RETURNING revision`,
		entry.Path, string(entry.Payload), entry.NextAttemptAt.UnixMilli(), entry.CreatedAt,
	).Scan(&entry.Revision)
	if err != nil {
		return fmt.Errorf("failed to enqueue outbox entry: %w", err)
	}
	entry.Attempts = 0
	entry.LastError = ""
	return nil
}

// ListDueOutbox retrieves entries whose next attempt is at or before now.
func (s *SQLiteStore) ListDueOutbox(ctx context.Context, now time.Time, limit int) ([]models.OutboxEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT path, payload, revision, attempts, next_attempt_at, last_error, created_at
		 FROM outbox WHERE next_attempt_at <= ? ORDER BY next_attempt_at, created_at, path LIMIT ?`,
		now.UnixMilli(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list outbox: %w", err)
	}
	defer rows.Close()

	var entries []models.OutboxEntry
	for rows.Next() {
		var e models.OutboxEntry
		var payload string
		var next int64
		if err := rows.Scan(&e.Path, &payload, &e.Revision, &e.Attempts, &next, &e.LastError, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan outbox entry: %w", err)
		}
		e.Payload = []byte(payload)
		e.NextAttemptAt = time.UnixMilli(next)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate outbox: %w", err)
	}
	return entries, nil
}

// MarkOutboxFailed records a failed delivery. It is a no-op when the entry
// was replaced since it was read.
func (s *SQLiteStore) MarkOutboxFailed(ctx context.Context, path string, revision int64, attempts int, next time.Time, lastErr string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE outbox SET attempts = ?, next_attempt_at = ?, last_error = ? WHERE path = ? AND revision = ?",
		attempts, next.UnixMilli(), lastErr, path, revision,
	)
	if err != nil {
		return fmt.Errorf("failed to mark outbox entry failed: %w", err)
	}
	return nil
}

// DeleteOutbox removes a delivered entry unless a newer revision replaced it.
func (s *SQLiteStore) DeleteOutbox(ctx context.Context, path string, revision int64) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM outbox WHERE path = ? AND revision = ?", path, revision)
	if err != nil {
		return fmt.Errorf("failed to delete outbox entry: %w", err)
	}
	return nil
}

// CountOutbox returns the number of pending entries.
func (s *SQLiteStore) CountOutbox(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM outbox").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count outbox: %w", err)
	}
	return n, nil
}
