package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"trustaudit/internal/types"
)

const subjectColumns = "id, name, city, state, website, phone, latest_audit_id, created_at"

// CreateSubject inserts a subject, assigning an id and creation time if unset.
func (s *SQLStore) CreateSubject(ctx context.Context, subj *types.Subject) error {
	if subj.Name == "" {
		return fmt.Errorf("subject name is required")
	}
	if subj.ID == "" {
		subj.ID = uuid.NewString()
	}
	if subj.CreatedAt.IsZero() {
		subj.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, s.rebind(`INSERT INTO subjects
		(id, name, city, state, website, phone, latest_audit_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, NULL, ?)`),
		subj.ID, subj.Name, subj.City, subj.State, subj.Website, subj.Phone, toUnix(subj.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to create subject: %w", err)
	}
	return nil
}

// GetSubject returns the subject or ErrNotFound.
func (s *SQLStore) GetSubject(ctx context.Context, id string) (*types.Subject, error) {
	row := s.db.QueryRowContext(ctx, s.rebind("SELECT "+subjectColumns+" FROM subjects WHERE id = ?"), id)
	subj, err := scanSubject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("subject %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subject: %w", err)
	}
	return subj, nil
}

// ListSubjects returns all subjects ordered by name.
func (s *SQLStore) ListSubjects(ctx context.Context) ([]types.Subject, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+subjectColumns+" FROM subjects ORDER BY name, id")
	if err != nil {
		return nil, fmt.Errorf("failed to list subjects: %w", err)
	}
	defer rows.Close()

	var out []types.Subject
	for rows.Next() {
		subj, err := scanSubject(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subject: %w", err)
		}
		out = append(out, *subj)
	}
	return out, rows.Err()
}

func scanSubject(row rowScanner) (*types.Subject, error) {
	var (
		subj    types.Subject
		latest  sql.NullString
		created int64
	)
	if err := row.Scan(&subj.ID, &subj.Name, &subj.City, &subj.State, &subj.Website,
		&subj.Phone, &latest, &created); err != nil {
		return nil, err
	}
	subj.LatestAuditID = latest.String
	subj.CreatedAt = fromUnix(created)
	return &subj, nil
}
