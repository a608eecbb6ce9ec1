// Package audit runs the bounded reasoning loop that turns cached evidence
// into a persisted, enforced trust verdict.
//
// One run is strictly sequential: a single conversation with the reasoning
// service, at most MaxIterations calls, at most MaxInvestigations executed
// investigations. Nothing is persisted until the run finalizes, so a caller
// that abandons a run leaves no trace beyond investigation evidence.
package audit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"trustaudit/internal/collect"
	"trustaudit/internal/enforce"
	"trustaudit/internal/investigate"
	"trustaudit/internal/logging"
	"trustaudit/internal/metrics"
	"trustaudit/internal/reasoning"
	"trustaudit/internal/tools"
	"trustaudit/internal/types"
	"trustaudit/internal/usage"
)

// Forced finalize verdict.
const (
	ForcedScore          = 50
	ForcedRiskLevel      = types.RiskModerate
	ForcedRecommendation = types.RecommendVerify
)

// Config bounds the loop.
type Config struct {
	Version              string
	MaxIterations        int
	MaxInvestigations    int
	DigestBudget         int
	DiscrepancyThreshold float64

	// Reasoning prices in USD per million tokens.
	InputPricePerMTok  float64
	OutputPricePerMTok float64
}

// DefaultConfig returns the standard budgets.
func DefaultConfig() Config {
	return Config{
		Version:              enforce.CurrentVersion,
		MaxIterations:        5,
		MaxInvestigations:    2,
		DigestBudget:         DefaultDigestBudget,
		DiscrepancyThreshold: collect.DefaultThreshold,
	}
}

// Investigator executes one investigation.
type Investigator interface {
	Run(ctx context.Context, req investigate.Request) (*investigate.Outcome, error)
}

// Options tune a single run.
type Options struct {
	// IncludeStale adds expired records to the digest, labeled stale.
	IncludeStale bool
	// Discrepancy reuses a report computed by a preceding collection.
	Discrepancy *types.DiscrepancyReport
}

// Auditor runs audits.
type Auditor struct {
	service      reasoning.Service
	evidence     types.EvidenceStore
	audits       types.AuditRepository
	investigator Investigator
	costs        *usage.Tracker
	metrics      *metrics.Recorder
	observer     func(from, to State)
	cfg          Config
	rules        enforce.RuleSet
	now          func() time.Time
}

// Option configures an Auditor.
type Option func(*Auditor)

// WithCostTracker records reasoning and search costs.
func WithCostTracker(t *usage.Tracker) Option {
	return func(a *Auditor) { a.costs = t }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *metrics.Recorder) Option {
	return func(a *Auditor) { a.metrics = m }
}

// WithObserver is called on every state transition.
func WithObserver(fn func(from, to State)) Option {
	return func(a *Auditor) { a.observer = fn }
}

// WithClock overrides the clock.
func WithClock(now func() time.Time) Option {
	return func(a *Auditor) { a.now = now }
}

// New creates an Auditor. investigator may be nil, in which case every
// investigate call is rejected.
func New(service reasoning.Service, evidence types.EvidenceStore, audits types.AuditRepository, investigator Investigator, cfg Config, opts ...Option) (*Auditor, error) {
	if service == nil {
		return nil, errors.New("audit: reasoning service is required")
	}
	def := DefaultConfig()
	if cfg.Version == "" {
		cfg.Version = def.Version
	}
	if cfg.MaxIterations < 1 {
		cfg.MaxIterations = def.MaxIterations
	}
	if cfg.MaxInvestigations < 0 {
		cfg.MaxInvestigations = 0
	}
	if cfg.DigestBudget <= 0 {
		cfg.DigestBudget = def.DigestBudget
	}
	if cfg.DiscrepancyThreshold <= 0 {
		cfg.DiscrepancyThreshold = def.DiscrepancyThreshold
	}
	rules, err := enforce.RulesFor(cfg.Version)
	if err != nil {
		return nil, fmt.Errorf("audit: %w", err)
	}

	a := &Auditor{
		service:      service,
		evidence:     evidence,
		audits:       audits,
		investigator: investigator,
		cfg:          cfg,
		rules:        rules,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Config returns the effective configuration.
func (a *Auditor) Config() Config { return a.cfg }

// Run audits subject against its cached evidence and persists the result.
// It returns an error only when evidence cannot be loaded, the result cannot
// be saved, or ctx is cancelled; budget exhaustion yields a forced verdict.
func (a *Auditor) Run(ctx context.Context, subject types.Subject, opts Options) (*types.AuditResult, error) {
	if subject.ID == "" {
		return nil, ErrNoSubject
	}
	ctx = usage.WithSubject(ctx, subject.ID)
	timer := logging.StartTimer(logging.CategoryAudit, "audit "+subject.ID)
	defer timer.Stop()

	r := &run{id: uuid.NewString(), a: a, subject: subject, state: StateCollecting, scope: &usage.Scope{}}
	if a.costs != nil {
		r.scope = a.costs.Scope()
	}
	r.tools = tools.NewRegistry()
	r.tools.MustRegister(investigate.NewTool(r.investigate))

	records, err := a.evidence.ListEvidence(ctx, subject.ID)
	if err != nil {
		return nil, fmt.Errorf("load evidence for %s: %w", subject.ID, err)
	}
	now := a.now()
	selected := SelectEvidence(records, now, opts.IncludeStale)
	disc := opts.Discrepancy
	if disc == nil {
		d := collect.Discrepancy(selected, a.cfg.DiscrepancyThreshold)
		disc = &d
	}
	logging.Audit("auditing %s (%s): %d of %d records selected, stale=%v", subject.Name, subject.ID, len(selected), len(records), opts.IncludeStale)

	var (
		verdict *Verdict
		digest  Digest
	)
	if len(selected) == 0 {
		r.forcedReason = "no evidence available for subject; reasoning service not called"
		r.moveTo(StateForcedFinalize)
	} else {
		digest = BuildDigest(subject, selected, disc, a.cfg.DigestBudget, now)
		r.history = []reasoning.Message{
			reasoning.SystemMessage(systemPrompt(a.cfg.MaxInvestigations)),
			reasoning.UserMessage(userPrompt(digest.Text)),
		}
		r.moveTo(StateReasoning)
		verdict = r.converse(ctx)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if verdict != nil {
			r.moveTo(StateVerdict)
		} else {
			r.forcedReason = r.exhaustedReason()
			r.moveTo(StateForcedFinalize)
		}
	}

	result := r.finalize(verdict, digest, disc)
	seal, err := Seal(result)
	if err != nil {
		return nil, err
	}
	result.Digest = seal

	if err := a.audits.SaveAudit(ctx, result); err != nil {
		return nil, fmt.Errorf("save audit for %s: %w", subject.ID, err)
	}
	if r.state == StateVerdict {
		r.moveTo(StateFinalized)
	}

	a.metrics.Audit(ctx, string(result.RiskLevel), result.Forced, result.Iterations)
	if result.ScoreOverride != nil {
		worst := string(types.WorstSeverity(result.RedFlags))
		if worst == "" {
			worst = "none"
		}
		a.metrics.Override(ctx, worst)
	}
	logging.Audit("audit %s for %s: score=%d risk=%s forced=%v iterations=%d investigations=%d cost=$%.4f",
		result.ID, subject.ID, result.TrustScore, result.RiskLevel, result.Forced, result.Iterations, result.RoundsUsed, result.Cost)
	return result, nil
}

// run is the mutable state of one audit.
type run struct {
	id      string
	a       *Auditor
	subject types.Subject
	state   State
	history []reasoning.Message
	tools   *tools.Registry
	scope   *usage.Scope

	iterations     int
	used           int
	investigations []types.Investigation
	adHocSources   []string
	pending        []string
	lastErr        error
	forcedReason   string
}

func (r *run) moveTo(to State) {
	if !CanTransition(r.state, to) {
		logging.AuditWarn("unexpected transition %s -> %s for %s", r.state, to, r.subject.ID)
	}
	logging.AuditDebug("%s: %s -> %s", r.subject.ID, r.state, to)
	if r.a.observer != nil {
		r.a.observer(r.state, to)
	}
	r.state = to
}

func (r *run) toolDefinitions() []reasoning.ToolDefinition {
	all := r.tools.All()
	defs := make([]reasoning.ToolDefinition, 0, len(all))
	for _, t := range all {
		defs = append(defs, reasoning.ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.Schema.JSONSchema(),
		})
	}
	return defs
}

func (r *run) budgetLeft() bool {
	return r.a.investigator != nil && r.used < r.a.cfg.MaxInvestigations
}

// converse drives the conversation until a verdict parses or the iteration
// cap is reached.
func (r *run) converse(ctx context.Context) *Verdict {
	maxIter := r.a.cfg.MaxIterations
	for r.iterations < maxIter {
		if ctx.Err() != nil {
			return nil
		}
		final := r.iterations == maxIter-1
		var defs []reasoning.ToolDefinition
		if !final && r.budgetLeft() {
			defs = r.toolDefinitions()
		}
		if final && r.iterations > 0 {
			r.pending = append(r.pending, finalTurnInstruction)
		}
		if len(r.pending) > 0 {
			r.history = append(r.history, reasoning.UserMessage(strings.Join(r.pending, "\n\n")))
			r.pending = nil
		}

		r.iterations++
		reply, err := r.a.service.Converse(ctx, r.history, defs)
		r.a.metrics.ReasoningCall(ctx, r.a.service.Provider(), err == nil)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			r.lastErr = err
			logging.AuditWarn("reasoning call %d/%d for %s failed: %v", r.iterations, maxIter, r.subject.ID, err)
			r.moveTo(StateReasoning)
			continue
		}
		r.charge(ctx, reply.Usage)
		r.history = append(r.history, reasoning.AssistantMessage(reply))

		if reply.HasToolCalls() {
			for _, call := range reply.ToolCalls {
				r.history = append(r.history, reasoning.ToolMessage(call, r.handleToolCall(ctx, call)))
			}
			r.moveTo(StateReasoning)
			continue
		}

		v, err := ParseVerdict(reply.Text)
		if err != nil {
			r.lastErr = err
			logging.AuditWarn("reasoning call %d/%d for %s: %v", r.iterations, maxIter, r.subject.ID, err)
			r.pending = append(r.pending, fmt.Sprintf(correctiveInstruction, err))
			r.moveTo(StateReasoning)
			continue
		}
		return v
	}
	return nil
}

// handleToolCall returns the text fed back as the tool result.
func (r *run) handleToolCall(ctx context.Context, call reasoning.ToolCall) string {
	if call.Name != investigate.ToolName {
		return fmt.Sprintf("error: unknown capability %q; only %s is available", call.Name, investigate.ToolName)
	}
	query, _ := call.Input["query"].(string)
	reason, _ := call.Input["reason"].(string)

	if !r.budgetLeft() {
		berr := &BudgetExceededError{Kind: "investigations", Limit: r.a.cfg.MaxInvestigations}
		r.reject(query, reason, berr)
		r.lastErr = berr
		return "error: " + berr.Error() + ". Produce your verdict from the evidence you have."
	}

	res, err := r.tools.Execute(ctx, call.Name, call.Input)
	if err != nil {
		if errors.Is(err, tools.ErrInvalidArgs) {
			r.reject(query, reason, err)
		}
		return "error: " + err.Error()
	}
	return res.Result
}

func (r *run) reject(query, reason string, err error) {
	logging.AuditWarn("investigate rejected for %s: %v (query=%q reason=%q)", r.subject.ID, err, query, reason)
	r.investigations = append(r.investigations, types.Investigation{
		Query:  query,
		Reason: reason,
		Status: "rejected",
		At:     r.a.now(),
	})
}

// investigate is the tool body; arguments are already schema-valid.
func (r *run) investigate(ctx context.Context, query, reason string) (string, error) {
	if r.state == StateReasoning {
		r.moveTo(StateInvestigationRequested)
	}
	r.used++
	out, err := r.a.investigator.Run(ctx, investigate.Request{
		Subject: r.subject,
		RunID:   r.id,
		Seq:     r.used,
		Query:   query,
		Reason:  reason,
		Costs:   r.scope,
	})
	if err != nil {
		return "", err
	}
	r.investigations = append(r.investigations, out.Investigation)
	if out.Record.Status == types.FetchSuccess {
		r.adHocSources = append(r.adHocSources, out.Record.SourceName)
	}
	remaining := r.a.cfg.MaxInvestigations - r.used
	return fmt.Sprintf("%s\n\n(%d investigation(s) remaining)", out.Summary, remaining), nil
}

func (r *run) charge(ctx context.Context, u reasoning.Usage) {
	if u.InputTokens == 0 && u.OutputTokens == 0 {
		return
	}
	entry := types.CostEntry{
		ID:           uuid.NewString(),
		Service:      r.a.service.Provider(),
		Operation:    usage.OpReasoning,
		SubjectID:    r.subject.ID,
		Model:        r.a.service.Model(),
		InputTokens:  u.InputTokens,
		OutputTokens: u.OutputTokens,
		CostUSD:      usage.Price(u.InputTokens, u.OutputTokens, r.a.cfg.InputPricePerMTok, r.a.cfg.OutputPricePerMTok),
	}
	if err := r.scope.Record(context.WithoutCancel(ctx), entry); err != nil {
		logging.AuditWarn("cost ledger append failed for %s: %v", r.subject.ID, err)
	}
}

func (r *run) exhaustedReason() string {
	limit := &BudgetExceededError{Kind: "iterations", Limit: r.a.cfg.MaxIterations}
	if r.lastErr != nil {
		return fmt.Sprintf("%s without a valid verdict; last error: %v", limit.Error(), r.lastErr)
	}
	return fmt.Sprintf("%s without a valid verdict; the reasoning service kept requesting tools", limit.Error())
}

func (r *run) finalize(v *Verdict, digest Digest, disc *types.DiscrepancyReport) *types.AuditResult {
	res := &types.AuditResult{
		ID:              r.id,
		SubjectID:       r.subject.ID,
		AuditVersion:    r.a.cfg.Version,
		RedFlags:        []types.RedFlag{},
		PositiveSignals: []string{},
		Gaps:            []string{},
		SourcesUsed:     append(append([]string{}, digest.Included...), r.adHocSources...),
		RoundsUsed:      r.used,
		Iterations:      r.iterations,
		Investigations:  r.investigations,
		Discrepancy:     disc,
		CreatedAt:       r.a.now().UTC(),
	}

	if v == nil {
		res.Forced = true
		res.TrustScore = ForcedScore
		res.RiskLevel = ForcedRiskLevel
		res.Recommendation = ForcedRecommendation
		res.Reasoning = "Forced finalize: " + r.forcedReason
		res.Gaps = append(res.Gaps, "forced finalize: "+r.forcedReason)
	} else {
		out := r.a.rules.Apply(v.Score(), v.RedFlags)
		res.TrustScore = out.Score
		res.RiskLevel = out.RiskLevel
		res.Recommendation = out.Recommendation
		res.ScoreOverride = out.Override
		res.Reasoning = v.Reasoning
		if v.RedFlags != nil {
			res.RedFlags = v.RedFlags
		}
		if v.PositiveSignals != nil {
			res.PositiveSignals = v.PositiveSignals
		}
		res.Gaps = append(res.Gaps, v.Gaps...)
	}

	if len(digest.Truncated) > 0 {
		res.Gaps = append(res.Gaps, "digest budget exceeded; omitted sources: "+strings.Join(digest.Truncated, ", "))
	}
	if len(digest.Stale) > 0 {
		res.Gaps = append(res.Gaps, "stale evidence used: "+strings.Join(digest.Stale, ", "))
	}
	res.Cost = r.scope.Cost()
	return res
}
