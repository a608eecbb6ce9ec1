// Package investigate implements the audit loop's single extra capability:
// an ad hoc web search whose results are written back as evidence under a
// non-cacheable source name.
package investigate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"trustaudit/internal/logging"
	"trustaudit/internal/metrics"
	"trustaudit/internal/ratelimit"
	"trustaudit/internal/types"
	"trustaudit/internal/usage"
)

// ToolName is the capability's name in the reasoning conversation.
const ToolName = "investigate"

// CostRecorder receives a ledger entry for paid searches.
type CostRecorder interface {
	Record(ctx context.Context, entry types.CostEntry) error
}

// Config tunes the investigator.
type Config struct {
	MaxResults int
	Timeout    time.Duration
	// TTL is the lifetime of the written evidence. Zero means never fresh.
	TTL time.Duration
	// CostPerSearch is charged to the ledger when positive.
	CostPerSearch float64
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{MaxResults: 8, Timeout: 30 * time.Second}
}

// Investigator runs searches and records them.
type Investigator struct {
	searcher Searcher
	store    types.EvidenceStore
	log      types.CollectionLog
	limiter  ratelimit.Limiter
	metrics  *metrics.Recorder
	cfg      Config
	now      func() time.Time
}

// Option configures an Investigator.
type Option func(*Investigator)

// WithMetrics sets the metrics recorder.
func WithMetrics(m *metrics.Recorder) Option {
	return func(i *Investigator) { i.metrics = m }
}

// WithClock overrides the clock.
func WithClock(now func() time.Time) Option {
	return func(i *Investigator) { i.now = now }
}

// New creates an Investigator.
func New(searcher Searcher, store types.EvidenceStore, log types.CollectionLog, limiter ratelimit.Limiter, cfg Config, opts ...Option) *Investigator {
	def := DefaultConfig()
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = def.MaxResults
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.TTL < 0 {
		cfg.TTL = 0
	}
	inv := &Investigator{
		searcher: searcher,
		store:    store,
		log:      log,
		limiter:  limiter,
		cfg:      cfg,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(inv)
	}
	return inv
}

// Config returns the investigator's settings.
func (inv *Investigator) Config() Config { return inv.cfg }

// Request is one investigate call.
type Request struct {
	Subject types.Subject
	// RunID identifies the audit run; with Seq it names the evidence record.
	RunID string
	// Seq numbers the investigation within its audit run, starting at 1.
	Seq    int
	Query  string
	Reason string
	// Costs receives the ledger entry for a paid search; nil skips charging.
	Costs CostRecorder
}

// Outcome is what an investigation produced.
type Outcome struct {
	Investigation types.Investigation
	Record        types.EvidenceRecord
	Results       []SearchResult
	// Summary is the text handed back to the reasoning service.
	Summary string
}

// Run performs the search and writes the evidence record. Search failures
// are recorded, not returned; the error return is reserved for a missing
// subject.
func (inv *Investigator) Run(ctx context.Context, req Request) (*Outcome, error) {
	if req.Subject.ID == "" {
		return nil, fmt.Errorf("investigate: subject has no id")
	}
	source := types.AdHocSourceName(req.RunID, req.Seq)
	searchURL := inv.searcher.Endpoint()
	if d, ok := inv.searcher.(*DuckDuckGo); ok {
		searchURL = d.SearchURL(req.Query)
	}
	persistCtx := context.WithoutCancel(ctx)

	logging.Investigate("investigation %d for %s: query=%q reason=%q", req.Seq, req.Subject.ID, req.Query, req.Reason)

	entryID, err := inv.log.StartCollection(persistCtx, types.CollectionLogEntry{
		SubjectID:   req.Subject.ID,
		SourceName:  source,
		RequestedBy: types.RequestedByAuditAgent,
		Reason:      fmt.Sprintf("%s (query: %q)", req.Reason, req.Query),
		StartedAt:   inv.now(),
	})
	if err != nil {
		logging.Get(logging.CategoryInvestigate).Warn("collection log start failed for %s: %v", source, err)
	}

	results, searchErr := inv.search(ctx, req.Query)
	fetchedAt := inv.now()

	rec := types.EvidenceRecord{
		SubjectID:  req.Subject.ID,
		SourceName: source,
		SourceURL:  searchURL,
		FetchedAt:  fetchedAt,
		ExpiresAt:  fetchedAt.Add(inv.cfg.TTL),
	}
	switch {
	case searchErr != nil:
		rec.Status = types.FetchError
		rec.ErrorMessage = searchErr.Error()
	case len(results) == 0:
		rec.Status = types.FetchNotFound
	default:
		rec.Status = types.FetchSuccess
		mentions := len(results)
		rec.RawPayload = formatResults(req.Query, results)
		rec.Structured = &types.StructuredPayload{
			Mentions: &mentions,
			Extra:    map[string]string{"query": req.Query},
		}
	}

	if err := inv.store.UpsertEvidence(persistCtx, req.Subject.ID, source, rec); err != nil {
		logging.Get(logging.CategoryInvestigate).Error("failed to persist %s for %s: %v", source, req.Subject.ID, err)
	}
	if entryID != "" {
		if err := inv.log.CompleteCollection(persistCtx, entryID, string(rec.Status), inv.now()); err != nil {
			logging.Get(logging.CategoryInvestigate).Warn("collection log completion failed for %s: %v", source, err)
		}
	}
	if inv.cfg.CostPerSearch > 0 && searchErr == nil && req.Costs != nil {
		inv.charge(persistCtx, req.Costs, req.Subject.ID)
	}
	inv.metrics.Investigation(ctx, string(rec.Status))

	out := &Outcome{
		Investigation: types.Investigation{
			Query:      req.Query,
			Reason:     req.Reason,
			Status:     string(rec.Status),
			SourceName: source,
			At:         fetchedAt,
		},
		Record:  rec,
		Results: results,
	}
	switch rec.Status {
	case types.FetchSuccess:
		out.Summary = rec.RawPayload
	case types.FetchNotFound:
		out.Summary = "No results found for: " + req.Query
	default:
		out.Summary = "Search failed: " + rec.ErrorMessage
	}
	return out, nil
}

func (inv *Investigator) charge(ctx context.Context, costs CostRecorder, subjectID string) {
	err := costs.Record(ctx, types.CostEntry{
		ID:        uuid.NewString(),
		Service:   "web_search",
		Operation: usage.OpSearch,
		SubjectID: subjectID,
		CostUSD:   inv.cfg.CostPerSearch,
	})
	if err != nil {
		logging.Get(logging.CategoryInvestigate).Warn("cost ledger append failed: %v", err)
	}
}

func (inv *Investigator) search(ctx context.Context, query string) ([]SearchResult, error) {
	ctx, cancel := context.WithTimeout(ctx, inv.cfg.Timeout)
	defer cancel()

	if inv.limiter != nil {
		if err := inv.limiter.Acquire(ctx, ratelimit.DomainOf(inv.searcher.Endpoint()), 1); err != nil {
			return nil, fmt.Errorf("rate limit: %w", err)
		}
	}
	results, err := inv.searcher.Search(ctx, query, inv.cfg.MaxResults)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	return results, nil
}

// formatResults renders results as markdown for the evidence digest.
func formatResults(query string, results []SearchResult) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Search Results for: %s\n\n", query)
	fmt.Fprintf(&sb, "Found %d results:\n\n", len(results))
	for i, r := range results {
		fmt.Fprintf(&sb, "## %d. %s\n", i+1, r.Title)
		fmt.Fprintf(&sb, "**URL:** %s\n", r.URL)
		if r.Snippet != "" {
			fmt.Fprintf(&sb, "\n%s\n", r.Snippet)
		}
		sb.WriteString("\n---\n\n")
	}
	return sb.String()
}
