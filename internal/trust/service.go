// Package trust is the entry point used by the record-storage layer: it
// collects evidence, runs audits and reports cache coverage for a subject.
package trust

import (
	"context"
	"errors"
	"fmt"

	"trustaudit/internal/audit"
	"trustaudit/internal/collect"
	"trustaudit/internal/logging"
	"trustaudit/internal/store"
	"trustaudit/internal/types"
)

// ErrSubjectNotFound is returned when the subject id is unknown.
var ErrSubjectNotFound = errors.New("subject not found")

// Collector gathers evidence for a subject.
type Collector interface {
	Collect(ctx context.Context, subject types.Subject, opts collect.Options) (*collect.Result, error)
	Coverage(ctx context.Context, subjectID string) (types.Coverage, error)
}

// Auditor runs one audit over stored evidence.
type Auditor interface {
	Run(ctx context.Context, subject types.Subject, opts audit.Options) (*types.AuditResult, error)
}

// AuditOptions tune RunAudit.
type AuditOptions struct {
	// SkipCollection audits whatever is cached, stale records included.
	SkipCollection bool
	// Force refetches every source during the collection step.
	Force bool
}

// Service ties subjects, collection and audits together.
type Service struct {
	subjects  types.SubjectRepository
	collector Collector
	auditor   Auditor
}

// NewService creates a Service.
func NewService(subjects types.SubjectRepository, collector Collector, auditor Auditor) *Service {
	return &Service{subjects: subjects, collector: collector, auditor: auditor}
}

func (s *Service) subject(ctx context.Context, subjectID string) (types.Subject, error) {
	if subjectID == "" {
		return types.Subject{}, audit.ErrNoSubject
	}
	subj, err := s.subjects.GetSubject(ctx, subjectID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && subj == nil) {
		return types.Subject{}, fmt.Errorf("%w: %s", ErrSubjectNotFound, subjectID)
	}
	if err != nil {
		return types.Subject{}, fmt.Errorf("load subject: %w", err)
	}
	return *subj, nil
}

// RunCollection fetches every registered source for the subject and returns
// one record per source. Per-source failures are inside the records.
func (s *Service) RunCollection(ctx context.Context, subjectID string) ([]types.EvidenceRecord, error) {
	res, err := s.collect(ctx, subjectID, false)
	if err != nil {
		return nil, err
	}
	return res.Records, nil
}

// Collect is RunCollection with the full result, discrepancy report included.
func (s *Service) Collect(ctx context.Context, subjectID string, force bool) (*collect.Result, error) {
	return s.collect(ctx, subjectID, force)
}

func (s *Service) collect(ctx context.Context, subjectID string, force bool) (*collect.Result, error) {
	subj, err := s.subject(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	return s.collector.Collect(ctx, subj, collect.Options{
		Force:       force,
		RequestedBy: types.RequestedByInitial,
		Reason:      "scheduled collection",
	})
}

// RunAudit audits the subject. Unless SkipCollection is set, a collection
// runs first and its discrepancy report is handed to the audit.
func (s *Service) RunAudit(ctx context.Context, subjectID string, opts AuditOptions) (*types.AuditResult, error) {
	subj, err := s.subject(ctx, subjectID)
	if err != nil {
		return nil, err
	}

	var auditOpts audit.Options
	if opts.SkipCollection {
		auditOpts.IncludeStale = true
	} else {
		res, err := s.collector.Collect(ctx, subj, collect.Options{
			Force:       opts.Force,
			RequestedBy: types.RequestedByInitial,
			Reason:      "pre-audit collection",
		})
		if err != nil {
			return nil, fmt.Errorf("collect: %w", err)
		}
		logging.Audit("Collected %d sources for %s (%d fetched, %d cached)", len(res.Records), subj.ID, res.Fetched, res.Cached)
		disc := res.Discrepancy
		auditOpts.Discrepancy = &disc
	}

	return s.auditor.Run(ctx, subj, auditOpts)
}

// GetCoverage reports cache health without fetching.
func (s *Service) GetCoverage(ctx context.Context, subjectID string) (types.Coverage, error) {
	if subjectID == "" {
		return types.Coverage{}, audit.ErrNoSubject
	}
	return s.collector.Coverage(ctx, subjectID)
}
