// Package store persists subjects, evidence, the collection log, audit
// results and the cost ledger in SQLite or PostgreSQL.
//
// All statements are written with "?" placeholders and rebound for the
// active dialect. Timestamps are stored as unix nanoseconds so freshness
// comparisons are exact on both backends.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"trustaudit/internal/logging"
	"trustaudit/internal/types"
)

// ErrNotFound is returned by lookups that require a row.
var ErrNotFound = errors.New("not found")

// Dialect selects placeholder style and driver-specific setup.
type Dialect int

const (
	DialectSQLite Dialect = iota
	DialectPostgres
)

func (d Dialect) String() string {
	if d == DialectPostgres {
		return "postgres"
	}
	return "sqlite"
}

// ParseDialect maps a config driver name to a Dialect.
func ParseDialect(driver string) (Dialect, error) {
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3", "":
		return DialectSQLite, nil
	case "postgres", "postgresql", "pq":
		return DialectPostgres, nil
	}
	return 0, fmt.Errorf("unsupported store driver %q", driver)
}

// SQLStore implements the types repositories on database/sql.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
}

// Open connects to the database, applies pragmas for SQLite and runs
// pending migrations.
func Open(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Open")
	defer timer.Stop()

	dialect, err := ParseDialect(driver)
	if err != nil {
		return nil, err
	}
	logging.Store("Opening %s store", dialect)

	var db *sql.DB
	switch dialect {
	case DialectSQLite:
		if dsn != ":memory:" && !strings.HasPrefix(dsn, "file:") {
			if err := os.MkdirAll(filepath.Dir(dsn), 0755); err != nil {
				return nil, fmt.Errorf("failed to create directory: %w", err)
			}
		}
		db, err = sql.Open("sqlite", dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		// One connection serializes writers and keeps :memory: databases shared.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		for _, pragma := range []string{
			"PRAGMA busy_timeout = 5000",
			"PRAGMA journal_mode = WAL",
			"PRAGMA synchronous = NORMAL",
			"PRAGMA foreign_keys = ON",
		} {
			if _, err := db.ExecContext(ctx, pragma); err != nil {
				logging.StoreDebug("Failed to apply %q: %v", pragma, err)
			}
		}
	case DialectPostgres:
		db, err = sql.Open("postgres", dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
	}

	s := New(db, dialect)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing connection. Callers own migrations.
func New(db *sql.DB, dialect Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: dialect}
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// DB exposes the underlying connection.
func (s *SQLStore) DB() *sql.DB {
	return s.db
}

// Dialect returns the active dialect.
func (s *SQLStore) Dialect() Dialect {
	return s.dialect
}

// rebind rewrites "?" placeholders to "$n" for PostgreSQL.
func (s *SQLStore) rebind(query string) string {
	return rebind(s.dialect, query)
}

func rebind(d Dialect, query string) string {
	if d != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func toUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnix(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

var (
	_ types.EvidenceStore     = (*SQLStore)(nil)
	_ types.CollectionLog     = (*SQLStore)(nil)
	_ types.AuditRepository   = (*SQLStore)(nil)
	_ types.SubjectRepository = (*SQLStore)(nil)
	_ types.CostLedger        = (*SQLStore)(nil)

	_ types.EvidenceStore     = (*MemoryStore)(nil)
	_ types.CollectionLog     = (*MemoryStore)(nil)
	_ types.AuditRepository   = (*MemoryStore)(nil)
	_ types.SubjectRepository = (*MemoryStore)(nil)
	_ types.CostLedger        = (*MemoryStore)(nil)
)
