package types

import (
	"context"
	"time"
)

// EvidenceStore is the keyed (subject, source) evidence cache.
// UpsertEvidence replaces the whole record atomically; readers never see a
// partially written record.
type EvidenceStore interface {
	// GetEvidence returns nil, nil when no record exists.
	GetEvidence(ctx context.Context, subjectID, sourceName string) (*EvidenceRecord, error)
	UpsertEvidence(ctx context.Context, subjectID, sourceName string, rec EvidenceRecord) error
	// ListEvidence returns every record for the subject ordered by source name.
	ListEvidence(ctx context.Context, subjectID string) ([]EvidenceRecord, error)
}

// CollectionLog is the append-only trail of why fetches happened.
type CollectionLog interface {
	StartCollection(ctx context.Context, entry CollectionLogEntry) (string, error)
	CompleteCollection(ctx context.Context, id, status string, completedAt time.Time) error
}

// AuditRepository persists audit results.
type AuditRepository interface {
	// SaveAudit inserts the result and moves the subject's latest audit pointer
	// in the same transaction.
	SaveAudit(ctx context.Context, result *AuditResult) error
	// LatestAudit returns nil, nil when the subject has never been audited.
	LatestAudit(ctx context.Context, subjectID string) (*AuditResult, error)
	ListAudits(ctx context.Context, subjectID string) ([]AuditResult, error)
}

// SubjectRepository stores the entities under evaluation.
type SubjectRepository interface {
	CreateSubject(ctx context.Context, s *Subject) error
	GetSubject(ctx context.Context, id string) (*Subject, error)
	ListSubjects(ctx context.Context) ([]Subject, error)
}

// CostLedger is the append-only sink for paid external calls.
type CostLedger interface {
	AppendCost(ctx context.Context, entry CostEntry) error
}
