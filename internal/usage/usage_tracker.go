package usage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"trustaudit/internal/logging"
	"trustaudit/internal/types"
)

type subjectKey struct{}

// Tracker is the cost/usage tracker: every paid call is appended to the
// durable ledger and added to in-memory session totals. Recording never
// takes a lock; the ledger must itself be safe for concurrent appends.
type Tracker struct {
	ledger types.CostLedger

	session     counter
	byService   sync.Map // string -> *counter
	byOperation sync.Map // string -> *counter

	now func() time.Time
}

// NewTracker creates a tracker writing to ledger. A nil ledger keeps
// session totals only.
func NewTracker(ledger types.CostLedger) *Tracker {
	return &Tracker{ledger: ledger, now: time.Now}
}

// Record appends an entry and updates the session totals. The totals are
// updated even when the ledger write fails, so the session view never
// under-reports spend.
func (t *Tracker) Record(ctx context.Context, entry types.CostEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = t.now().UTC()
	}
	if entry.SubjectID == "" {
		entry.SubjectID = SubjectFromContext(ctx)
	}

	t.session.add(entry.InputTokens, entry.OutputTokens, entry.CostUSD)
	loadCounter(&t.byService, entry.Service).add(entry.InputTokens, entry.OutputTokens, entry.CostUSD)
	loadCounter(&t.byOperation, entry.Operation).add(entry.InputTokens, entry.OutputTokens, entry.CostUSD)

	logging.UsageDebug("%s/%s subject=%s in=%d out=%d cost=$%.6f",
		entry.Service, entry.Operation, entry.SubjectID, entry.InputTokens, entry.OutputTokens, entry.CostUSD)

	if t.ledger == nil {
		return nil
	}
	if err := t.ledger.AppendCost(ctx, entry); err != nil {
		return fmt.Errorf("append cost entry: %w", err)
	}
	return nil
}

// Totals returns a snapshot of the session totals.
func (t *Tracker) Totals() Totals {
	return Totals{
		Session:     t.session.snapshot(),
		ByService:   snapshotMap(&t.byService),
		ByOperation: snapshotMap(&t.byOperation),
	}
}

// Scope returns a recorder that also keeps its own running total, used to
// price a single audit run.
func (t *Tracker) Scope() *Scope {
	return &Scope{tracker: t}
}

// Scope forwards to a Tracker and sums what passed through it.
type Scope struct {
	tracker *Tracker
	total   counter
}

// Record forwards the entry and adds it to the scope total.
func (s *Scope) Record(ctx context.Context, entry types.CostEntry) error {
	s.total.add(entry.InputTokens, entry.OutputTokens, entry.CostUSD)
	if s.tracker == nil {
		return nil
	}
	return s.tracker.Record(ctx, entry)
}

// Counts returns what this scope recorded.
func (s *Scope) Counts() TokenCounts {
	return s.total.snapshot()
}

// Cost returns the scope's total spend in USD.
func (s *Scope) Cost() float64 {
	return s.total.snapshot().Cost
}

// Price computes the cost of a token-metered call from per-million prices.
func Price(inputTokens, outputTokens int, inputPerMTok, outputPerMTok float64) float64 {
	return float64(inputTokens)/1e6*inputPerMTok + float64(outputTokens)/1e6*outputPerMTok
}

func loadCounter(m *sync.Map, key string) *counter {
	if key == "" {
		key = "unknown"
	}
	if c, ok := m.Load(key); ok {
		return c.(*counter)
	}
	c, _ := m.LoadOrStore(key, &counter{})
	return c.(*counter)
}

func snapshotMap(m *sync.Map) map[string]TokenCounts {
	out := make(map[string]TokenCounts)
	m.Range(func(k, v any) bool {
		out[k.(string)] = v.(*counter).snapshot()
		return true
	})
	return out
}

// WithSubject tags costs recorded under ctx with a subject id.
func WithSubject(ctx context.Context, subjectID string) context.Context {
	return context.WithValue(ctx, subjectKey{}, subjectID)
}

// SubjectFromContext returns the subject id set by WithSubject.
func SubjectFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(subjectKey{}).(string); ok {
		return v
	}
	return ""
}
