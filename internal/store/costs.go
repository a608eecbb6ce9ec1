package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"trustaudit/internal/types"
)

// AppendCost writes one ledger line. Ledger rows are never updated.
func (s *SQLStore) AppendCost(ctx context.Context, entry types.CostEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`INSERT INTO cost_ledger
		(id, service, operation, subject_id, model, input_tokens, output_tokens, cost_usd, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		entry.ID, entry.Service, entry.Operation, entry.SubjectID, entry.Model,
		entry.InputTokens, entry.OutputTokens, entry.CostUSD, toUnix(entry.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to append cost: %w", err)
	}
	return nil
}

// CostLine is an aggregate row of the ledger.
type CostLine struct {
	Service      string
	Operation    string
	Calls        int
	InputTokens  int64
	OutputTokens int64
	CostUSD      float64
}

// CostSummary aggregates the ledger by service and operation. An empty
// subjectID summarizes everything.
func (s *SQLStore) CostSummary(ctx context.Context, subjectID string) ([]CostLine, error) {
	query := `SELECT service, operation, COUNT(*), COALESCE(SUM(input_tokens), 0),
		COALESCE(SUM(output_tokens), 0), COALESCE(SUM(cost_usd), 0)
		FROM cost_ledger`
	var args []any
	if subjectID != "" {
		query += " WHERE subject_id = ?"
		args = append(args, subjectID)
	}
	query += " GROUP BY service, operation ORDER BY service, operation"

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize costs: %w", err)
	}
	defer rows.Close()

	var out []CostLine
	for rows.Next() {
		var l CostLine
		if err := rows.Scan(&l.Service, &l.Operation, &l.Calls, &l.InputTokens, &l.OutputTokens, &l.CostUSD); err != nil {
			return nil, fmt.Errorf("failed to scan cost line: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
