package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"trustaudit/internal/types"
)

type evidenceKey struct {
	subject string
	source  string
}

// MemoryStore is an in-process implementation of every repository. Records
// are copied on the way in and out, so an upsert is an atomic replace.
type MemoryStore struct {
	mu       sync.RWMutex
	evidence map[evidenceKey]types.EvidenceRecord
	log      []types.CollectionLogEntry
	audits   []types.AuditResult
	subjects map[string]types.Subject
	costs    []types.CostEntry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		evidence: make(map[evidenceKey]types.EvidenceRecord),
		subjects: make(map[string]types.Subject),
	}
}

func copyEvidence(rec types.EvidenceRecord) types.EvidenceRecord {
	rec.Structured = rec.Structured.Clone()
	return rec
}

// GetEvidence returns a copy of the record, or nil if absent.
func (m *MemoryStore) GetEvidence(_ context.Context, subjectID, sourceName string) (*types.EvidenceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.evidence[evidenceKey{subjectID, sourceName}]
	if !ok {
		return nil, nil
	}
	c := copyEvidence(rec)
	return &c, nil
}

// UpsertEvidence replaces the record for (subjectID, sourceName).
func (m *MemoryStore) UpsertEvidence(_ context.Context, subjectID, sourceName string, rec types.EvidenceRecord) error {
	if !rec.Status.Valid() {
		return fmt.Errorf("invalid fetch status %q for %s", rec.Status, sourceName)
	}
	rec.SubjectID = subjectID
	rec.SourceName = sourceName
	if rec.Status != types.FetchError {
		rec.ErrorMessage = ""
	}
	c := copyEvidence(rec)

	m.mu.Lock()
	m.evidence[evidenceKey{subjectID, sourceName}] = c
	m.mu.Unlock()
	return nil
}

// ListEvidence returns the subject's records ordered by source name.
func (m *MemoryStore) ListEvidence(_ context.Context, subjectID string) ([]types.EvidenceRecord, error) {
	m.mu.RLock()
	var out []types.EvidenceRecord
	for k, rec := range m.evidence {
		if k.subject == subjectID {
			out = append(out, copyEvidence(rec))
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].SourceName < out[j].SourceName })
	return out, nil
}

// StartCollection appends a log entry.
func (m *MemoryStore) StartCollection(_ context.Context, entry types.CollectionLogEntry) (string, error) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Status == "" {
		entry.Status = "started"
	}
	if entry.StartedAt.IsZero() {
		entry.StartedAt = time.Now().UTC()
	}
	m.mu.Lock()
	m.log = append(m.log, entry)
	m.mu.Unlock()
	return entry.ID, nil
}

// CompleteCollection stamps an open log entry.
func (m *MemoryStore) CompleteCollection(_ context.Context, id, status string, completedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.log {
		if m.log[i].ID == id && m.log[i].CompletedAt == nil {
			t := completedAt
			m.log[i].Status = status
			m.log[i].CompletedAt = &t
			return nil
		}
	}
	return fmt.Errorf("collection log %s: %w", id, ErrNotFound)
}

// ListCollectionLog returns a subject's entries in append order.
func (m *MemoryStore) ListCollectionLog(_ context.Context, subjectID string) ([]types.CollectionLogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []types.CollectionLogEntry
	for _, e := range m.log {
		if e.SubjectID == subjectID {
			out = append(out, e)
		}
	}
	return out, nil
}

// CreateSubject stores a subject.
func (m *MemoryStore) CreateSubject(_ context.Context, s *types.Subject) error {
	if s.Name == "" {
		return fmt.Errorf("subject name is required")
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.subjects[s.ID]; exists {
		return fmt.Errorf("subject %s already exists", s.ID)
	}
	m.subjects[s.ID] = *s
	return nil
}

// GetSubject returns the subject or ErrNotFound.
func (m *MemoryStore) GetSubject(_ context.Context, id string) (*types.Subject, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.subjects[id]
	if !ok {
		return nil, fmt.Errorf("subject %s: %w", id, ErrNotFound)
	}
	return &s, nil
}

// ListSubjects returns subjects ordered by name.
func (m *MemoryStore) ListSubjects(_ context.Context) ([]types.Subject, error) {
	m.mu.RLock()
	out := make([]types.Subject, 0, len(m.subjects))
	for _, s := range m.subjects {
		out = append(out, s)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// SaveAudit appends the result and moves the subject pointer under one lock.
func (m *MemoryStore) SaveAudit(_ context.Context, result *types.AuditResult) error {
	if result.ID == "" {
		result.ID = uuid.NewString()
	}
	if result.CreatedAt.IsZero() {
		result.CreatedAt = time.Now().UTC()
	}
	c, err := cloneAudit(result)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	subj, ok := m.subjects[result.SubjectID]
	if !ok {
		return fmt.Errorf("subject %s: %w", result.SubjectID, ErrNotFound)
	}
	m.audits = append(m.audits, *c)
	subj.LatestAuditID = result.ID
	m.subjects[result.SubjectID] = subj
	return nil
}

// LatestAudit follows the subject's latest pointer.
func (m *MemoryStore) LatestAudit(_ context.Context, subjectID string) (*types.AuditResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	subj, ok := m.subjects[subjectID]
	if !ok || subj.LatestAuditID == "" {
		return nil, nil
	}
	for i := range m.audits {
		if m.audits[i].ID == subj.LatestAuditID {
			return cloneAudit(&m.audits[i])
		}
	}
	return nil, nil
}

// ListAudits returns the subject's audits, newest first.
func (m *MemoryStore) ListAudits(_ context.Context, subjectID string) ([]types.AuditResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []types.AuditResult
	for i := len(m.audits) - 1; i >= 0; i-- {
		if m.audits[i].SubjectID == subjectID {
			c, err := cloneAudit(&m.audits[i])
			if err != nil {
				return nil, err
			}
			out = append(out, *c)
		}
	}
	return out, nil
}

// AppendCost records a ledger entry.
func (m *MemoryStore) AppendCost(_ context.Context, entry types.CostEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	m.mu.Lock()
	m.costs = append(m.costs, entry)
	m.mu.Unlock()
	return nil
}

// Costs returns a snapshot of the ledger.
func (m *MemoryStore) Costs() []types.CostEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.CostEntry, len(m.costs))
	copy(out, m.costs)
	return out
}

func cloneAudit(a *types.AuditResult) (*types.AuditResult, error) {
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("failed to copy audit result: %w", err)
	}
	var c types.AuditResult
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to copy audit result: %w", err)
	}
	return &c, nil
}
