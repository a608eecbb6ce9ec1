package investigate

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trustaudit/internal/ratelimit"
	"trustaudit/internal/store"
	"trustaudit/internal/tools"
	"trustaudit/internal/types"
	"trustaudit/internal/usage"
)

var subject = types.Subject{ID: "subj-1", Name: "Acme Roofing LLC", City: "Denver", State: "CO"}

type fakeSearcher struct {
	results []SearchResult
	err     error
	queries []string
}

func (f *fakeSearcher) Endpoint() string { return "https://search.example/html/" }

func (f *fakeSearcher) Search(_ context.Context, query string, max int) ([]SearchResult, error) {
	f.queries = append(f.queries, query)
	if f.err != nil {
		return nil, f.err
	}
	if len(f.results) > max {
		return f.results[:max], nil
	}
	return f.results, nil
}

type countingLimiter struct {
	domains []string
}

func (c *countingLimiter) Acquire(_ context.Context, domain string, n int) error {
	c.domains = append(c.domains, domain)
	return nil
}

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newInvestigator(s Searcher, cfg Config) (*Investigator, *store.MemoryStore, *countingLimiter) {
	mem := store.NewMemoryStore()
	lim := &countingLimiter{}
	inv := New(s, mem, mem, lim, cfg, WithClock(func() time.Time { return fixedNow }))
	return inv, mem, lim
}

func TestRun_WritesAdHocEvidence(t *testing.T) {
	searcher := &fakeSearcher{results: []SearchResult{
		{Title: "Acme Roofing sued", URL: "https://news.example/a", Snippet: "lawsuit filed"},
		{Title: "Acme Roofing reviews", URL: "https://reviews.example/a"},
	}}
	inv, mem, lim := newInvestigator(searcher, Config{})
	ctx := context.Background()

	out, err := inv.Run(ctx, Request{Subject: subject, RunID: "audit-01", Seq: 1, Query: "acme roofing lawsuit denver", Reason: "BBB grade F"})
	require.NoError(t, err)

	assert.Equal(t, "ad_hoc_search:audit-01:1", out.Investigation.SourceName)
	assert.Equal(t, "success", out.Investigation.Status)
	assert.Equal(t, "BBB grade F", out.Investigation.Reason)
	assert.Contains(t, out.Summary, "Acme Roofing sued")
	assert.Equal(t, []string{"search.example"}, lim.domains)

	rec, err := mem.GetEvidence(ctx, subject.ID, "ad_hoc_search:audit-01:1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, types.FetchSuccess, rec.Status)
	assert.Equal(t, 2, *rec.Structured.Mentions)
	assert.Equal(t, "acme roofing lawsuit denver", rec.Structured.Extra["query"])
	assert.False(t, rec.IsFresh(fixedNow), "zero TTL evidence must never be fresh")

	entries, err := mem.ListCollectionLog(ctx, subject.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, types.RequestedByAuditAgent, entries[0].RequestedBy)
	assert.True(t, strings.HasPrefix(entries[0].Reason, "BBB grade F"))
	assert.Equal(t, "success", entries[0].Status)
	assert.NotNil(t, entries[0].CompletedAt)
}

func TestRun_FailureIsRecordedNotReturned(t *testing.T) {
	inv, mem, _ := newInvestigator(&fakeSearcher{err: errors.New("connection reset")}, Config{})
	ctx := context.Background()

	out, err := inv.Run(ctx, Request{Subject: subject, RunID: "audit-01", Seq: 2, Query: "acme roofing", Reason: "check"})
	require.NoError(t, err)
	assert.Equal(t, "error", out.Investigation.Status)
	assert.Contains(t, out.Summary, "connection reset")

	rec, _ := mem.GetEvidence(ctx, subject.ID, "ad_hoc_search:audit-01:2")
	require.NotNil(t, rec)
	assert.Equal(t, types.FetchError, rec.Status)
	assert.Contains(t, rec.ErrorMessage, "connection reset")
}

func TestRun_NoResults(t *testing.T) {
	inv, _, _ := newInvestigator(&fakeSearcher{}, Config{})
	out, err := inv.Run(context.Background(), Request{Subject: subject, Seq: 1, Query: "zzz", Reason: "check"})
	require.NoError(t, err)
	assert.Equal(t, "not_found", out.Investigation.Status)
	assert.Equal(t, "No results found for: zzz", out.Summary)
}

func TestRun_TTLAndCost(t *testing.T) {
	searcher := &fakeSearcher{results: []SearchResult{{Title: "t", URL: "https://x.example"}}}
	inv, mem, _ := newInvestigator(searcher, Config{TTL: time.Hour, CostPerSearch: 0.005})
	scope := usage.NewTracker(mem).Scope()

	_, err := inv.Run(context.Background(), Request{Subject: subject, RunID: "audit-01", Seq: 1, Query: "acme", Reason: "why", Costs: scope})
	require.NoError(t, err)

	rec, _ := mem.GetEvidence(context.Background(), subject.ID, "ad_hoc_search:audit-01:1")
	assert.True(t, rec.IsFresh(fixedNow.Add(30*time.Minute)))
	assert.InDelta(t, 0.005, scope.Cost(), 1e-9)
	costs := mem.Costs()
	require.Len(t, costs, 1)
	assert.Equal(t, usage.OpSearch, costs[0].Operation)
}

func TestRun_RequiresSubjectID(t *testing.T) {
	inv, _, _ := newInvestigator(&fakeSearcher{}, Config{})
	_, err := inv.Run(context.Background(), Request{Query: "x"})
	assert.Error(t, err)
}

func TestNewTool_ValidatesThroughRegistry(t *testing.T) {
	var gotQuery, gotReason string
	reg := tools.NewRegistry()
	reg.MustRegister(NewTool(func(ctx context.Context, query, reason string) (string, error) {
		gotQuery, gotReason = query, reason
		return "ok", nil
	}))
	ctx := context.Background()

	res, err := reg.Execute(ctx, ToolName, map[string]any{"query": "  acme roofing  ", "reason": "grade F"})
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Result)
	assert.Equal(t, "acme roofing", gotQuery)
	assert.Equal(t, "grade F", gotReason)

	_, err = reg.Execute(ctx, ToolName, map[string]any{"query": "acme roofing"})
	assert.ErrorIs(t, err, tools.ErrInvalidArgs)
}

var _ ratelimit.Limiter = (*countingLimiter)(nil)
