package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"trustaudit/internal/types"
)

// StartCollection appends a log entry and returns its id.
func (s *SQLStore) StartCollection(ctx context.Context, entry types.CollectionLogEntry) (string, error) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Status == "" {
		entry.Status = "started"
	}
	if entry.StartedAt.IsZero() {
		entry.StartedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, s.rebind(`INSERT INTO collection_log
		(id, subject_id, source_name, requested_by, reason, status, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		entry.ID, entry.SubjectID, entry.SourceName, entry.RequestedBy, entry.Reason,
		entry.Status, toUnix(entry.StartedAt), nullTime(entry.CompletedAt))
	if err != nil {
		return "", fmt.Errorf("failed to append collection log: %w", err)
	}
	return entry.ID, nil
}

// CompleteCollection stamps status and completion time. An entry is only
// completed once.
func (s *SQLStore) CompleteCollection(ctx context.Context, id, status string, completedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		s.rebind("UPDATE collection_log SET status = ?, completed_at = ? WHERE id = ? AND completed_at IS NULL"),
		status, toUnix(completedAt), id)
	if err != nil {
		return fmt.Errorf("failed to complete collection log %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("collection log %s: %w", id, ErrNotFound)
	}
	return nil
}

// ListCollectionLog returns a subject's log entries, oldest first.
func (s *SQLStore) ListCollectionLog(ctx context.Context, subjectID string) ([]types.CollectionLogEntry, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT id, subject_id, source_name, requested_by,
		reason, status, started_at, completed_at
		FROM collection_log WHERE subject_id = ? ORDER BY started_at, id`), subjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list collection log: %w", err)
	}
	defer rows.Close()

	var out []types.CollectionLogEntry
	for rows.Next() {
		var (
			e         types.CollectionLogEntry
			started   int64
			completed sql.NullInt64
		)
		if err := rows.Scan(&e.ID, &e.SubjectID, &e.SourceName, &e.RequestedBy,
			&e.Reason, &e.Status, &started, &completed); err != nil {
			return nil, fmt.Errorf("failed to scan collection log: %w", err)
		}
		e.StartedAt = fromUnix(started)
		if completed.Valid {
			t := fromUnix(completed.Int64)
			e.CompletedAt = &t
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
