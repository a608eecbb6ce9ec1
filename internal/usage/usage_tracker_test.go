package usage

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"trustaudit/internal/types"
)

type recordingLedger struct {
	mu      sync.Mutex
	entries []types.CostEntry
	err     error
}

func (l *recordingLedger) AppendCost(_ context.Context, e types.CostEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return l.err
	}
	l.entries = append(l.entries, e)
	return nil
}

func TestTracker_RecordAggregatesAndPersists(t *testing.T) {
	ledger := &recordingLedger{}
	tracker := NewTracker(ledger)

	ctx := WithSubject(context.Background(), "subj-1")
	if err := tracker.Record(ctx, types.CostEntry{Service: "gemini", Operation: OpReasoning, InputTokens: 10, OutputTokens: 5, CostUSD: 0.25}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := tracker.Record(ctx, types.CostEntry{Service: "google", Operation: OpFetch, CostUSD: 0.032}); err != nil {
		t.Fatalf("Record: %v", err)
	}

	totals := tracker.Totals()
	if totals.Session.Calls != 2 || totals.Session.Input != 10 || totals.Session.Output != 5 || totals.Session.Total != 15 {
		t.Fatalf("Session=%+v, want calls=2 input=10 output=5 total=15", totals.Session)
	}
	if math.Abs(totals.Session.Cost-0.282) > 1e-9 {
		t.Fatalf("Session cost=%f, want 0.282", totals.Session.Cost)
	}
	if got := totals.ByService["gemini"]; got.Calls != 1 || got.Total != 15 {
		t.Fatalf("ByService[gemini]=%+v", got)
	}
	if got := totals.ByOperation[OpFetch]; got.Calls != 1 {
		t.Fatalf("ByOperation[fetch]=%+v", got)
	}

	if len(ledger.entries) != 2 {
		t.Fatalf("ledger has %d entries, want 2", len(ledger.entries))
	}
	for _, e := range ledger.entries {
		if e.ID == "" || e.CreatedAt.IsZero() {
			t.Errorf("entry not stamped: %+v", e)
		}
		if e.SubjectID != "subj-1" {
			t.Errorf("SubjectID=%q, want subj-1", e.SubjectID)
		}
	}
}

func TestTracker_LedgerFailureStillCounts(t *testing.T) {
	tracker := NewTracker(&recordingLedger{err: errors.New("disk full")})
	err := tracker.Record(context.Background(), types.CostEntry{Service: "gemini", Operation: OpReasoning, CostUSD: 1})
	if err == nil {
		t.Fatal("expected ledger error")
	}
	if tracker.Totals().Session.Calls != 1 {
		t.Fatal("session totals should include the failed append")
	}
}

func TestTracker_ConcurrentRecord(t *testing.T) {
	ledger := &recordingLedger{}
	tracker := NewTracker(ledger)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = tracker.Record(context.Background(), types.CostEntry{Service: "svc", Operation: OpSearch, InputTokens: 1, CostUSD: 0.001})
		}()
	}
	wg.Wait()

	totals := tracker.Totals()
	if totals.Session.Calls != 50 || totals.Session.Input != 50 {
		t.Fatalf("Session=%+v, want 50 calls", totals.Session)
	}
	if math.Abs(totals.Session.Cost-0.05) > 1e-9 {
		t.Fatalf("cost=%f, want 0.05", totals.Session.Cost)
	}
	if len(ledger.entries) != 50 {
		t.Fatalf("ledger=%d entries, want 50", len(ledger.entries))
	}
}

func TestScope(t *testing.T) {
	tracker := NewTracker(nil)
	scope := tracker.Scope()
	_ = scope.Record(context.Background(), types.CostEntry{Service: "gemini", Operation: OpReasoning, CostUSD: 0.5})
	_ = tracker.Record(context.Background(), types.CostEntry{Service: "gemini", Operation: OpReasoning, CostUSD: 2})

	if scope.Cost() != 0.5 {
		t.Fatalf("scope cost=%f, want 0.5", scope.Cost())
	}
	if tracker.Totals().Session.Cost != 2.5 {
		t.Fatalf("tracker cost=%f, want 2.5", tracker.Totals().Session.Cost)
	}
}

func TestPrice(t *testing.T) {
	got := Price(1_000_000, 200_000, 0.30, 2.50)
	if math.Abs(got-0.80) > 1e-9 {
		t.Fatalf("Price=%f, want 0.80", got)
	}
}

func TestTracker_SubjectFromContext(t *testing.T) {
	ledger := &recordingLedger{}
	tracker := NewTracker(ledger)

	ctx := WithSubject(context.Background(), "subj-9")
	_ = tracker.Record(ctx, types.CostEntry{Service: "duckduckgo", Operation: OpSearch})
	_ = tracker.Record(ctx, types.CostEntry{Service: "gemini", Operation: OpReasoning, SubjectID: "explicit"})

	if len(ledger.entries) != 2 {
		t.Fatalf("ledger=%d entries, want 2", len(ledger.entries))
	}
	if ledger.entries[0].SubjectID != "subj-9" {
		t.Fatalf("subject=%q, want subj-9", ledger.entries[0].SubjectID)
	}
	if ledger.entries[1].SubjectID != "explicit" {
		t.Fatalf("explicit subject overwritten: %q", ledger.entries[1].SubjectID)
	}
	if SubjectFromContext(context.Background()) != "" {
		t.Fatalf("expected empty subject")
	}
}
