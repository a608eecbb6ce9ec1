package store

import (
	"context"
	"fmt"
	"time"

	"trustaudit/internal/logging"
)

// Schema versions:
// v1: subjects, evidence, collection_log, audit_results
// v2: cost_ledger
// v3: lookup indexes for collection_log, audit_results and evidence expiry
const CurrentSchemaVersion = 3

// Migration is one versioned schema step. Statements run in a single transaction.
type Migration struct {
	Version     int
	Description string
	Statements  []string
}

// migrations is the ordered schema history. The DDL is valid for both
// SQLite and PostgreSQL.
var migrations = []Migration{
	{
		Version:     1,
		Description: "core tables",
		Statements: []string{
			`CREATE TABLE IF NOT EXISTS subjects (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL,
				city TEXT NOT NULL DEFAULT '',
				state TEXT NOT NULL DEFAULT '',
				website TEXT NOT NULL DEFAULT '',
				phone TEXT NOT NULL DEFAULT '',
				latest_audit_id TEXT,
				created_at BIGINT NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS evidence (
				subject_id TEXT NOT NULL,
				source_name TEXT NOT NULL,
				source_url TEXT,
				raw_payload TEXT,
				structured_payload TEXT,
				fetch_status TEXT NOT NULL,
				error_message TEXT,
				fetched_at BIGINT NOT NULL,
				expires_at BIGINT NOT NULL,
				PRIMARY KEY (subject_id, source_name)
			)`,
			`CREATE TABLE IF NOT EXISTS collection_log (
				id TEXT PRIMARY KEY,
				subject_id TEXT NOT NULL,
				source_name TEXT NOT NULL,
				requested_by TEXT NOT NULL,
				reason TEXT NOT NULL DEFAULT '',
				status TEXT NOT NULL,
				started_at BIGINT NOT NULL,
				completed_at BIGINT
			)`,
			`CREATE TABLE IF NOT EXISTS audit_results (
				id TEXT PRIMARY KEY,
				subject_id TEXT NOT NULL REFERENCES subjects(id),
				audit_version TEXT NOT NULL,
				trust_score INTEGER NOT NULL,
				risk_level TEXT NOT NULL,
				recommendation TEXT NOT NULL,
				forced INTEGER NOT NULL DEFAULT 0,
				cost DOUBLE PRECISION NOT NULL DEFAULT 0,
				digest TEXT NOT NULL DEFAULT '',
				payload TEXT NOT NULL,
				created_at BIGINT NOT NULL
			)`,
		},
	},
	{
		Version:     2,
		Description: "cost ledger",
		Statements: []string{
			`CREATE TABLE IF NOT EXISTS cost_ledger (
				id TEXT PRIMARY KEY,
				service TEXT NOT NULL,
				operation TEXT NOT NULL,
				subject_id TEXT NOT NULL DEFAULT '',
				model TEXT NOT NULL DEFAULT '',
				input_tokens BIGINT NOT NULL DEFAULT 0,
				output_tokens BIGINT NOT NULL DEFAULT 0,
				cost_usd DOUBLE PRECISION NOT NULL DEFAULT 0,
				created_at BIGINT NOT NULL
			)`,
		},
	},
	{
		Version:     3,
		Description: "lookup indexes",
		Statements: []string{
			`CREATE INDEX IF NOT EXISTS idx_collection_log_subject ON collection_log(subject_id, started_at)`,
			`CREATE INDEX IF NOT EXISTS idx_audit_results_subject ON audit_results(subject_id, created_at)`,
			`CREATE INDEX IF NOT EXISTS idx_evidence_expires ON evidence(expires_at)`,
			`CREATE INDEX IF NOT EXISTS idx_cost_ledger_subject ON cost_ledger(subject_id)`,
		},
	},
}

// MigrationResult holds the result of a migration run.
type MigrationResult struct {
	FromVersion   int
	ToVersion     int
	MigrationsRun int
	Duration      time.Duration
}

// Migrate applies every migration newer than the recorded schema version.
func (s *SQLStore) Migrate(ctx context.Context) error {
	_, err := s.MigrateWithResult(ctx)
	return err
}

// MigrateWithResult is Migrate with a summary of what ran.
func (s *SQLStore) MigrateWithResult(ctx context.Context) (*MigrationResult, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Migrate")
	defer timer.Stop()

	start := time.Now()
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		description TEXT NOT NULL,
		applied_at BIGINT NOT NULL
	)`); err != nil {
		return nil, fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	current, err := s.SchemaVersion(ctx)
	if err != nil {
		return nil, err
	}
	result := &MigrationResult{FromVersion: current, ToVersion: current}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		logging.StoreDebug("Applying migration v%d: %s", m.Version, m.Description)

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return result, fmt.Errorf("failed to begin migration v%d: %w", m.Version, err)
		}
		for _, stmt := range m.Statements {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				tx.Rollback()
				return result, fmt.Errorf("migration v%d failed: %w", m.Version, err)
			}
		}
		if _, err := tx.ExecContext(ctx,
			s.rebind("INSERT INTO schema_migrations (version, description, applied_at) VALUES (?, ?, ?)"),
			m.Version, m.Description, time.Now().UnixNano()); err != nil {
			tx.Rollback()
			return result, fmt.Errorf("failed to record migration v%d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return result, fmt.Errorf("failed to commit migration v%d: %w", m.Version, err)
		}
		result.ToVersion = m.Version
		result.MigrationsRun++
	}

	result.Duration = time.Since(start)
	logging.Store("Schema migrations complete: v%d -> v%d (%d applied)",
		result.FromVersion, result.ToVersion, result.MigrationsRun)
	return result, nil
}

// SchemaVersion returns the highest applied migration version.
func (s *SQLStore) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	err := s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return v, nil
}
