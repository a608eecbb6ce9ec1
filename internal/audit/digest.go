package audit

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"trustaudit/internal/types"
)

// DefaultDigestBudget is the character budget of the evidence digest.
const DefaultDigestBudget = 60000

// Digest is the evidence block handed to the reasoning service.
type Digest struct {
	Text string
	// Included lists sources whose content is in the digest.
	Included []string
	// Truncated lists sources replaced by a truncation marker.
	Truncated []string
	// Stale lists included sources past their expiry.
	Stale []string
}

// SelectEvidence keeps fresh records, plus stale ones when includeStale is
// set, ordered by source name. Expired ad hoc search results are never
// selected: they answered one question in one audit.
func SelectEvidence(records []types.EvidenceRecord, now time.Time, includeStale bool) []types.EvidenceRecord {
	out := make([]types.EvidenceRecord, 0, len(records))
	for _, r := range records {
		if r.IsFresh(now) || (includeStale && !types.IsAdHocSource(r.SourceName)) {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SourceName < out[j].SourceName })
	return out
}

// BuildDigest serializes records into a text block of at most budget
// characters, not counting truncation markers. A source that would overflow
// the remaining budget is replaced by a marker stating its size. The
// discrepancy report always comes first.
func BuildDigest(subject types.Subject, records []types.EvidenceRecord, disc *types.DiscrepancyReport, budget int, now time.Time) Digest {
	if budget <= 0 {
		budget = DefaultDigestBudget
	}
	var d Digest
	var sb strings.Builder

	header := subjectHeader(subject) + discrepancySection(disc) +
		fmt.Sprintf("EVIDENCE (%d sources, ordered by name)\n\n", len(records))
	sb.WriteString(header)
	remaining := budget - len(header)

	for _, rec := range records {
		stale := !rec.IsFresh(now)
		section := recordSection(rec, stale)
		if len(section) > remaining {
			fmt.Fprintf(&sb, "=== %s [TRUNCATED: %d characters omitted, digest budget exhausted] ===\n\n", rec.SourceName, len(section))
			d.Truncated = append(d.Truncated, rec.SourceName)
			continue
		}
		sb.WriteString(section)
		remaining -= len(section)
		d.Included = append(d.Included, rec.SourceName)
		if stale {
			d.Stale = append(d.Stale, rec.SourceName)
		}
	}

	d.Text = sb.String()
	return d
}

func subjectHeader(s types.Subject) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "SUBJECT: %s\n", s.Name)
	if loc := s.Location(); loc != "" {
		fmt.Fprintf(&sb, "LOCATION: %s\n", loc)
	}
	if s.Website != "" {
		fmt.Fprintf(&sb, "WEBSITE: %s\n", s.Website)
	}
	if s.Phone != "" {
		fmt.Fprintf(&sb, "PHONE: %s\n", s.Phone)
	}
	sb.WriteString("\n")
	return sb.String()
}

func discrepancySection(d *types.DiscrepancyReport) string {
	if d == nil {
		return ""
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "CROSS-PLATFORM RATING CHECK: discrepancy_detected=%v spread=%.2f threshold=%.2f\n",
		d.Detected, d.Spread, d.Threshold)
	for _, r := range d.Ratings {
		fmt.Fprintf(&sb, "  %s: %s (normalized %.2f/5)\n", r.Source, r.Raw, r.Normalized)
	}
	for _, p := range d.Pairs {
		fmt.Fprintf(&sb, "  DISAGREEMENT: %s rates %.2f higher than %s\n", p.High, p.Gap, p.Low)
	}
	sb.WriteString("\n")
	return sb.String()
}

func recordSection(rec types.EvidenceRecord, stale bool) string {
	var sb strings.Builder
	label := string(rec.Status)
	if stale {
		label += fmt.Sprintf(", STALE since %s", rec.ExpiresAt.UTC().Format(time.RFC3339))
	}
	fmt.Fprintf(&sb, "=== %s [%s] fetched %s ===\n", rec.SourceName, label, rec.FetchedAt.UTC().Format(time.RFC3339))
	if rec.SourceURL != "" {
		fmt.Fprintf(&sb, "url: %s\n", rec.SourceURL)
	}
	if rec.ErrorMessage != "" {
		fmt.Fprintf(&sb, "error: %s\n", rec.ErrorMessage)
	}
	if rec.Structured != nil {
		if data, err := json.Marshal(rec.Structured); err == nil {
			fmt.Fprintf(&sb, "structured: %s\n", data)
		}
	}
	if raw := strings.TrimSpace(rec.RawPayload); raw != "" {
		sb.WriteString("raw:\n")
		sb.WriteString(raw)
		sb.WriteString("\n")
	}
	sb.WriteString("\n")
	return sb.String()
}
