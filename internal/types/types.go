// Package types provides the shared data model used across trustaudit packages.
// It exists to break import cycles between the collector, the audit loop, and the store.
// Types in this package should stay plain data with no complex dependencies.
package types

import (
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// SUBJECTS
// =============================================================================

// Subject is the business entity being evaluated.
type Subject struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	City    string `json:"city,omitempty"`
	State   string `json:"state,omitempty"`
	Website string `json:"website,omitempty"`
	Phone   string `json:"phone,omitempty"`

	// LatestAuditID points at the most recent AuditResult. It is only written by
	// the audit repository inside the transaction that inserts that result.
	LatestAuditID string    `json:"latest_audit_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Location renders "City, ST" or whichever half is present.
func (s Subject) Location() string {
	switch {
	case s.City != "" && s.State != "":
		return s.City + ", " + s.State
	case s.City != "":
		return s.City
	default:
		return s.State
	}
}

// =============================================================================
// EVIDENCE
// =============================================================================

// FetchStatus is the outcome of a single source fetch.
type FetchStatus string

const (
	FetchSuccess  FetchStatus = "success"
	FetchNotFound FetchStatus = "not_found"
	FetchError    FetchStatus = "error"
)

// Valid reports whether s is one of the known statuses.
func (s FetchStatus) Valid() bool {
	switch s {
	case FetchSuccess, FetchNotFound, FetchError:
		return true
	}
	return false
}

// AdHocSourcePrefix names evidence written by the investigate capability.
const AdHocSourcePrefix = "ad_hoc_search:"

// AdHocSourceName returns the evidence source name for the n-th
// investigation of an audit run. Only the first 8 characters of runID are
// kept, which is enough to keep runs of one subject apart.
func AdHocSourceName(runID string, n int) string {
	if len(runID) > 8 {
		runID = runID[:8]
	}
	return fmt.Sprintf("%s%s:%d", AdHocSourcePrefix, runID, n)
}

// IsAdHocSource reports whether name was produced by an investigation.
func IsAdHocSource(name string) bool {
	return strings.HasPrefix(name, AdHocSourcePrefix)
}

// StructuredPayload holds the normalized fields a source parser extracted.
// Pointer fields distinguish "not reported" from a zero value.
type StructuredPayload struct {
	Rating        *float64          `json:"rating,omitempty"`
	RatingScale   float64           `json:"rating_scale,omitempty"` // 0 means 5
	ReviewCount   *int              `json:"review_count,omitempty"`
	LetterGrade   string            `json:"letter_grade,omitempty"`
	Accredited    *bool             `json:"accredited,omitempty"`
	Complaints    *int              `json:"complaints,omitempty"`
	LicenseStatus string            `json:"license_status,omitempty"`
	LicenseNumber string            `json:"license_number,omitempty"`
	Mentions      *int              `json:"mentions,omitempty"`
	MatchedName   string            `json:"matched_name,omitempty"`
	Extra         map[string]string `json:"extra,omitempty"`
}

// Scale returns the rating scale, defaulting to 5.
func (p *StructuredPayload) Scale() float64 {
	if p == nil || p.RatingScale <= 0 {
		return 5
	}
	return p.RatingScale
}

// Clone returns a deep copy so cached records cannot be mutated through
// a caller's pointer.
func (p *StructuredPayload) Clone() *StructuredPayload {
	if p == nil {
		return nil
	}
	c := *p
	if p.Rating != nil {
		v := *p.Rating
		c.Rating = &v
	}
	if p.ReviewCount != nil {
		v := *p.ReviewCount
		c.ReviewCount = &v
	}
	if p.Accredited != nil {
		v := *p.Accredited
		c.Accredited = &v
	}
	if p.Complaints != nil {
		v := *p.Complaints
		c.Complaints = &v
	}
	if p.Mentions != nil {
		v := *p.Mentions
		c.Mentions = &v
	}
	if p.Extra != nil {
		c.Extra = make(map[string]string, len(p.Extra))
		for k, v := range p.Extra {
			c.Extra[k] = v
		}
	}
	return &c
}

// EvidenceRecord is the cached result of one source for one subject.
// At most one record exists per (SubjectID, SourceName).
type EvidenceRecord struct {
	SubjectID    string             `json:"subject_id"`
	SourceName   string             `json:"source_name"`
	SourceURL    string             `json:"source_url,omitempty"`
	RawPayload   string             `json:"raw_payload,omitempty"`
	Structured   *StructuredPayload `json:"structured_payload,omitempty"`
	Status       FetchStatus        `json:"fetch_status"`
	ErrorMessage string             `json:"error_message,omitempty"`
	FetchedAt    time.Time          `json:"fetched_at"`
	ExpiresAt    time.Time          `json:"expires_at"`
}

// IsFresh reports whether the record is still within its TTL at now.
// A record whose expiry equals now is already stale.
func (r *EvidenceRecord) IsFresh(now time.Time) bool {
	if r == nil {
		return false
	}
	return now.Before(r.ExpiresAt)
}

// CollectionLogEntry explains why a fetch happened. Entries are append-only;
// only CompletedAt and Status are stamped after creation.
type CollectionLogEntry struct {
	ID          string     `json:"id"`
	SubjectID   string     `json:"subject_id"`
	SourceName  string     `json:"source_name"`
	RequestedBy string     `json:"requested_by"`
	Reason      string     `json:"reason"`
	Status      string     `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Requesters recorded in the collection log.
const (
	RequestedByInitial    = "initial"
	RequestedByAuditAgent = "audit_agent"
)

// Coverage summarizes cache health for a subject without triggering work.
type Coverage struct {
	SubjectID  string `json:"subject_id"`
	Total      int    `json:"total"`
	Fresh      int    `json:"fresh"`
	Successful int    `json:"successful"`
}

// CostEntry is one line of the append-only paid-call ledger.
type CostEntry struct {
	ID           string    `json:"id"`
	Service      string    `json:"service"`   // provider or source name
	Operation    string    `json:"operation"` // fetch, reasoning, search
	SubjectID    string    `json:"subject_id,omitempty"`
	Model        string    `json:"model,omitempty"`
	InputTokens  int       `json:"input_tokens,omitempty"`
	OutputTokens int       `json:"output_tokens,omitempty"`
	CostUSD      float64   `json:"cost_usd"`
	CreatedAt    time.Time `json:"created_at"`
}
