package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"trustaudit/internal/logging"
	"trustaudit/internal/types"
)

// SaveAudit inserts result and points the subject's latest_audit_id at it in
// one transaction. The subject must exist.
func (s *SQLStore) SaveAudit(ctx context.Context, result *types.AuditResult) error {
	if result.ID == "" {
		result.ID = uuid.NewString()
	}
	if result.CreatedAt.IsZero() {
		result.CreatedAt = time.Now().UTC()
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal audit result: %w", err)
	}

	forced := 0
	if result.Forced {
		forced = 1
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin audit transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.rebind(`INSERT INTO audit_results
		(id, subject_id, audit_version, trust_score, risk_level, recommendation,
		 forced, cost, digest, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		result.ID, result.SubjectID, result.AuditVersion, result.TrustScore,
		string(result.RiskLevel), string(result.Recommendation),
		forced, result.Cost, result.Digest, string(payload), toUnix(result.CreatedAt)); err != nil {
		return fmt.Errorf("failed to insert audit result: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		s.rebind("UPDATE subjects SET latest_audit_id = ? WHERE id = ?"),
		result.ID, result.SubjectID)
	if err != nil {
		return fmt.Errorf("failed to update latest audit: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("subject %s: %w", result.SubjectID, ErrNotFound)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit audit result: %w", err)
	}
	logging.Store("Saved audit %s for subject %s (score=%d forced=%v)",
		result.ID, result.SubjectID, result.TrustScore, result.Forced)
	return nil
}

// LatestAudit follows the subject's latest_audit_id pointer. It returns
// nil, nil when the subject has never been audited.
func (s *SQLStore) LatestAudit(ctx context.Context, subjectID string) (*types.AuditResult, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT a.payload FROM audit_results a
		JOIN subjects s ON s.latest_audit_id = a.id
		WHERE s.id = ?`), subjectID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest audit: %w", err)
	}
	return decodeAudit(payload)
}

// ListAudits returns every audit for the subject, newest first.
func (s *SQLStore) ListAudits(ctx context.Context, subjectID string) ([]types.AuditResult, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT payload FROM audit_results
		WHERE subject_id = ? ORDER BY created_at DESC, id`), subjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list audits: %w", err)
	}
	defer rows.Close()

	var out []types.AuditResult
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan audit: %w", err)
		}
		a, err := decodeAudit(payload)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func decodeAudit(payload string) (*types.AuditResult, error) {
	var a types.AuditResult
	if err := json.Unmarshal([]byte(payload), &a); err != nil {
		return nil, fmt.Errorf("corrupt audit payload: %w", err)
	}
	return &a, nil
}
