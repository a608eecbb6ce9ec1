// Package collect runs source fetches for a subject, caches the results in the
// evidence store and computes the cross-platform discrepancy check.
package collect

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"trustaudit/internal/logging"
	"trustaudit/internal/metrics"
	"trustaudit/internal/ratelimit"
	"trustaudit/internal/sources"
	"trustaudit/internal/types"
	"trustaudit/internal/usage"
)

// Config bounds a collection run.
type Config struct {
	BatchSize            int
	FetchTimeout         time.Duration
	DiscrepancyThreshold float64
}

// DefaultConfig returns the standard limits.
func DefaultConfig() Config {
	return Config{
		BatchSize:            5,
		FetchTimeout:         30 * time.Second,
		DiscrepancyThreshold: DefaultThreshold,
	}
}

// CostRecorder receives a ledger entry for every paid fetch.
type CostRecorder interface {
	Record(ctx context.Context, entry types.CostEntry) error
}

// Options selects what a run does.
type Options struct {
	// Sources limits the run; empty means every registered source.
	Sources []string
	// Force refetches even when a fresh record exists.
	Force       bool
	RequestedBy string
	Reason      string
}

// Result is one record per requested source, ordered by source name, plus
// the discrepancy report over them.
type Result struct {
	SubjectID   string
	Records     []types.EvidenceRecord
	Discrepancy types.DiscrepancyReport
	Fetched     int
	Cached      int
	// PersistFailures counts records that were fetched but could not be stored.
	PersistFailures int
}

// Record returns the record for source, if present.
func (r *Result) Record(source string) (types.EvidenceRecord, bool) {
	for _, rec := range r.Records {
		if rec.SourceName == source {
			return rec, true
		}
	}
	return types.EvidenceRecord{}, false
}

// Orchestrator is the collection orchestrator.
type Orchestrator struct {
	registry *sources.Registry
	fetchers map[string]sources.Fetcher
	store    types.EvidenceStore
	log      types.CollectionLog
	limiter  ratelimit.Limiter
	costs    CostRecorder
	metrics  *metrics.Recorder
	cfg      Config
	now      func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithCostRecorder charges paid sources to rec.
func WithCostRecorder(rec CostRecorder) Option {
	return func(o *Orchestrator) { o.costs = rec }
}

// WithMetrics records fetch metrics to rec.
func WithMetrics(rec *metrics.Recorder) Option {
	return func(o *Orchestrator) { o.metrics = rec }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New creates an orchestrator. Every registry source must have a fetcher.
func New(
	registry *sources.Registry,
	fetchers map[string]sources.Fetcher,
	store types.EvidenceStore,
	log types.CollectionLog,
	limiter ratelimit.Limiter,
	cfg Config,
	opts ...Option,
) (*Orchestrator, error) {
	for _, name := range registry.Names() {
		if fetchers[name] == nil {
			return nil, fmt.Errorf("no fetcher for source %s", name)
		}
	}
	def := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = def.FetchTimeout
	}
	if cfg.DiscrepancyThreshold <= 0 {
		cfg.DiscrepancyThreshold = def.DiscrepancyThreshold
	}

	o := &Orchestrator{
		registry: registry,
		fetchers: fetchers,
		store:    store,
		log:      log,
		limiter:  limiter,
		cfg:      cfg,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Registry returns the source registry the orchestrator collects from.
func (o *Orchestrator) Registry() *sources.Registry {
	return o.registry
}

// Threshold returns the discrepancy threshold.
func (o *Orchestrator) Threshold() float64 {
	return o.cfg.DiscrepancyThreshold
}

// Collect gathers evidence for subject. Per-source failures become error
// records; the only errors returned are for an invalid request.
func (o *Orchestrator) Collect(ctx context.Context, subject types.Subject, opts Options) (*Result, error) {
	if subject.ID == "" {
		return nil, fmt.Errorf("subject has no id")
	}
	names := opts.Sources
	if len(names) == 0 {
		names = o.registry.Names()
	}
	specs := make([]sources.Spec, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true
		spec, ok := o.registry.Get(name)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownSource, name)
		}
		specs = append(specs, spec)
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })

	if opts.RequestedBy == "" {
		opts.RequestedBy = types.RequestedByInitial
	}
	if opts.Reason == "" {
		opts.Reason = "collection run"
	}

	timer := logging.StartTimer(logging.CategoryCollect, "collect "+subject.ID)
	defer timer.Stop()
	logging.Collect("collecting %d sources for %s (%s), force=%v", len(specs), subject.Name, subject.ID, opts.Force)

	ctx = usage.WithSubject(ctx, subject.ID)
	outcomes := make([]outcome, len(specs))

	var pool, lane errgroup.Group
	pool.SetLimit(o.cfg.BatchSize)

	var sequential []int
	for i, spec := range specs {
		if spec.Sequential {
			sequential = append(sequential, i)
			continue
		}
		i, spec := i, spec
		pool.Go(func() error {
			outcomes[i] = o.collectOne(ctx, subject, spec, opts)
			return nil
		})
	}
	lane.Go(func() error {
		for _, i := range sequential {
			outcomes[i] = o.collectOne(ctx, subject, specs[i], opts)
		}
		return nil
	})
	_ = pool.Wait()
	_ = lane.Wait()

	res := &Result{SubjectID: subject.ID, Records: make([]types.EvidenceRecord, len(outcomes))}
	for i, oc := range outcomes {
		res.Records[i] = oc.record
		switch {
		case oc.cached:
			res.Cached++
		default:
			res.Fetched++
		}
		if oc.persistErr != nil {
			res.PersistFailures++
		}
	}
	res.Discrepancy = Discrepancy(res.Records, o.cfg.DiscrepancyThreshold)

	logging.Collect("collected %s: fetched=%d cached=%d discrepancy=%v spread=%.2f",
		subject.ID, res.Fetched, res.Cached, res.Discrepancy.Detected, res.Discrepancy.Spread)
	return res, nil
}

type outcome struct {
	record     types.EvidenceRecord
	cached     bool
	persistErr error
}

func (o *Orchestrator) collectOne(ctx context.Context, subject types.Subject, spec sources.Spec, opts Options) outcome {
	if !opts.Force {
		existing, err := o.store.GetEvidence(ctx, subject.ID, spec.Name)
		if err != nil {
			logging.CollectWarn("cache lookup %s/%s failed: %v", subject.ID, spec.Name, err)
		} else if existing.IsFresh(o.now()) {
			logging.CollectDebug("cache hit %s/%s (%s, expires %s)", subject.ID, spec.Name, existing.Status, existing.ExpiresAt.Format(time.RFC3339))
			o.metrics.CacheHit(ctx, spec.Name)
			return outcome{record: *existing, cached: true}
		}
	}

	// Persistence outlives a cancelled caller so the attempt is still recorded.
	persistCtx := context.WithoutCancel(ctx)

	logID, err := o.log.StartCollection(persistCtx, types.CollectionLogEntry{
		SubjectID:   subject.ID,
		SourceName:  spec.Name,
		RequestedBy: opts.RequestedBy,
		Reason:      opts.Reason,
		Status:      "started",
		StartedAt:   o.now().UTC(),
	})
	if err != nil {
		logging.CollectWarn("collection log start %s/%s: %v", subject.ID, spec.Name, err)
	}

	started := time.Now()
	res, fetchErr := o.fetch(ctx, subject, spec)
	elapsed := time.Since(started)

	fetchedAt := o.now().UTC()
	rec := types.EvidenceRecord{
		SubjectID:  subject.ID,
		SourceName: spec.Name,
		FetchedAt:  fetchedAt,
		ExpiresAt:  fetchedAt.Add(o.registry.TTL(spec.Name)),
	}
	if fetchErr != nil {
		rec.Status = types.FetchError
		rec.ErrorMessage = fetchErr.Error()
		logging.CollectWarn("%s/%s failed after %s: %v", subject.ID, spec.Name, elapsed, fetchErr)
	} else {
		rec.Status = res.Status
		rec.SourceURL = res.URL
		rec.RawPayload = res.Raw
		rec.Structured = res.Structured
		if !rec.Status.Valid() {
			rec.Status = types.FetchError
			rec.ErrorMessage = fmt.Sprintf("fetcher returned invalid status %q", res.Status)
		}
		logging.CollectDebug("%s/%s -> %s in %s", subject.ID, spec.Name, rec.Status, elapsed)

		if spec.CostPerCall > 0 && o.costs != nil {
			if err := o.costs.Record(persistCtx, types.CostEntry{
				Service:   spec.Name,
				Operation: usage.OpFetch,
				SubjectID: subject.ID,
				CostUSD:   spec.CostPerCall,
			}); err != nil {
				logging.CollectWarn("cost ledger %s: %v", spec.Name, err)
			}
		}
	}
	o.metrics.Fetch(ctx, spec.Name, string(rec.Status), elapsed)

	var persistErr error
	if err := o.store.UpsertEvidence(persistCtx, subject.ID, spec.Name, rec); err != nil {
		persistErr = err
		logging.CollectWarn("store %s/%s: %v", subject.ID, spec.Name, err)
	}
	if logID != "" {
		if err := o.log.CompleteCollection(persistCtx, logID, string(rec.Status), o.now().UTC()); err != nil {
			logging.CollectWarn("collection log complete %s: %v", logID, err)
		}
	}
	return outcome{record: rec, persistErr: persistErr}
}

// fetch acquires rate-limit tokens and runs the fetcher under the per-fetch
// timeout, converting panics and failures into a FetchError.
func (o *Orchestrator) fetch(ctx context.Context, subject types.Subject, spec sources.Spec) (res *sources.Result, err error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.FetchTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			logging.Get(logging.CategoryCollect).Error("fetcher %s panicked: %v\n%s", spec.Name, r, debug.Stack())
			res, err = nil, &FetchError{Source: spec.Name, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	if o.limiter != nil {
		if err := o.limiter.Acquire(ctx, spec.Domain, spec.Tokens()); err != nil {
			return nil, &FetchError{Source: spec.Name, Err: fmt.Errorf("rate limit: %w", err)}
		}
	}

	res, err = o.fetchers[spec.Name].Fetch(ctx, subject)
	if err != nil {
		return nil, &FetchError{Source: spec.Name, Err: err}
	}
	if res == nil {
		return nil, &FetchError{Source: spec.Name, Err: fmt.Errorf("fetcher returned no result")}
	}
	return res, nil
}

// Coverage reports cache health for a subject without fetching anything.
func (o *Orchestrator) Coverage(ctx context.Context, subjectID string) (types.Coverage, error) {
	records, err := o.store.ListEvidence(ctx, subjectID)
	if err != nil {
		return types.Coverage{}, fmt.Errorf("list evidence: %w", err)
	}
	cov := types.Coverage{SubjectID: subjectID, Total: o.registry.Len()}
	now := o.now()
	for i := range records {
		rec := &records[i]
		if _, ok := o.registry.Get(rec.SourceName); !ok {
			continue
		}
		if rec.IsFresh(now) {
			cov.Fresh++
			if rec.Status == types.FetchSuccess {
				cov.Successful++
			}
		}
	}
	return cov, nil
}
