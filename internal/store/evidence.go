package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"trustaudit/internal/logging"
	"trustaudit/internal/types"
)

const evidenceColumns = `subject_id, source_name, source_url, raw_payload, structured_payload,
	fetch_status, error_message, fetched_at, expires_at`

// upsertEvidenceSQL replaces the whole row in one statement so readers never
// observe a partially written record.
const upsertEvidenceSQL = `INSERT INTO evidence (` + evidenceColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (subject_id, source_name) DO UPDATE SET
		source_url = excluded.source_url,
		raw_payload = excluded.raw_payload,
		structured_payload = excluded.structured_payload,
		fetch_status = excluded.fetch_status,
		error_message = excluded.error_message,
		fetched_at = excluded.fetched_at,
		expires_at = excluded.expires_at`

// GetEvidence returns the record for (subjectID, sourceName), or nil if absent.
func (s *SQLStore) GetEvidence(ctx context.Context, subjectID, sourceName string) (*types.EvidenceRecord, error) {
	row := s.db.QueryRowContext(ctx,
		s.rebind("SELECT "+evidenceColumns+" FROM evidence WHERE subject_id = ? AND source_name = ?"),
		subjectID, sourceName)

	rec, err := scanEvidence(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get evidence %s/%s: %w", subjectID, sourceName, err)
	}
	return rec, nil
}

// UpsertEvidence writes rec under (subjectID, sourceName). Last write wins.
func (s *SQLStore) UpsertEvidence(ctx context.Context, subjectID, sourceName string, rec types.EvidenceRecord) error {
	if !rec.Status.Valid() {
		return fmt.Errorf("invalid fetch status %q for %s", rec.Status, sourceName)
	}
	rec.SubjectID = subjectID
	rec.SourceName = sourceName
	if rec.Status != types.FetchError {
		rec.ErrorMessage = ""
	}

	var structured sql.NullString
	if rec.Structured != nil {
		data, err := json.Marshal(rec.Structured)
		if err != nil {
			return fmt.Errorf("failed to marshal structured payload: %w", err)
		}
		structured = sql.NullString{String: string(data), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, s.rebind(upsertEvidenceSQL),
		rec.SubjectID, rec.SourceName,
		nullString(rec.SourceURL), nullString(rec.RawPayload), structured,
		string(rec.Status), nullString(rec.ErrorMessage),
		toUnix(rec.FetchedAt), toUnix(rec.ExpiresAt))
	if err != nil {
		return fmt.Errorf("failed to upsert evidence %s/%s: %w", subjectID, sourceName, err)
	}
	logging.StoreDebug("Upserted evidence %s/%s status=%s", subjectID, sourceName, rec.Status)
	return nil
}

// ListEvidence returns every record for the subject ordered by source name.
func (s *SQLStore) ListEvidence(ctx context.Context, subjectID string) ([]types.EvidenceRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		s.rebind("SELECT "+evidenceColumns+" FROM evidence WHERE subject_id = ? ORDER BY source_name"),
		subjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list evidence: %w", err)
	}
	defer rows.Close()

	var out []types.EvidenceRecord
	for rows.Next() {
		rec, err := scanEvidence(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan evidence: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvidence(row rowScanner) (*types.EvidenceRecord, error) {
	var (
		rec                        types.EvidenceRecord
		sourceURL, raw, structured sql.NullString
		status                     string
		errMsg                     sql.NullString
		fetchedAt, expiresAt       int64
	)
	if err := row.Scan(&rec.SubjectID, &rec.SourceName, &sourceURL, &raw, &structured,
		&status, &errMsg, &fetchedAt, &expiresAt); err != nil {
		return nil, err
	}
	rec.SourceURL = sourceURL.String
	rec.RawPayload = raw.String
	rec.Status = types.FetchStatus(status)
	rec.ErrorMessage = errMsg.String
	rec.FetchedAt = fromUnix(fetchedAt)
	rec.ExpiresAt = fromUnix(expiresAt)
	if structured.Valid && structured.String != "" {
		var p types.StructuredPayload
		if err := json.Unmarshal([]byte(structured.String), &p); err != nil {
			return nil, fmt.Errorf("corrupt structured payload for %s: %w", rec.SourceName, err)
		}
		rec.Structured = &p
	}
	return &rec, nil
}
