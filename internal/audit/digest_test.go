package audit

import (
	"strings"
	"testing"
	"time"

	"trustaudit/internal/types"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func record(source, raw string, fresh bool) types.EvidenceRecord {
	expires := now.Add(time.Hour)
	if !fresh {
		expires = now.Add(-time.Hour)
	}
	return types.EvidenceRecord{
		SubjectID: "s1", SourceName: source, RawPayload: raw,
		Status: types.FetchSuccess, FetchedAt: now.Add(-2 * time.Hour), ExpiresAt: expires,
	}
}

func TestSelectEvidence(t *testing.T) {
	recs := []types.EvidenceRecord{record("yelp", "y", true), record("bbb", "b", false), record("angi", "a", true)}

	fresh := SelectEvidence(recs, now, false)
	if len(fresh) != 2 || fresh[0].SourceName != "angi" || fresh[1].SourceName != "yelp" {
		t.Errorf("fresh selection = %v", names(fresh))
	}
	all := SelectEvidence(recs, now, true)
	if len(all) != 3 || all[1].SourceName != "bbb" {
		t.Errorf("stale selection = %v", names(all))
	}
}

func TestSelectEvidence_ExpiredAdHocExcluded(t *testing.T) {
	recs := []types.EvidenceRecord{
		record("bbb", "b", false),
		record(types.AdHocSourceName("run-a", 1), "old search", false),
		record(types.AdHocSourceName("run-b", 1), "new search", true),
	}

	got := names(SelectEvidence(recs, now, true))
	want := []string{"ad_hoc_search:run-b:1", "bbb"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("selection = %v, want %v", got, want)
	}
}

func TestBuildDigest_TruncatesOverflowingSources(t *testing.T) {
	subject := types.Subject{ID: "s1", Name: "Acme Roofing LLC", City: "Denver", State: "CO"}
	recs := []types.EvidenceRecord{
		record("angi", "small angi payload", true),
		record("bbb", strings.Repeat("x", 5000), true),
		record("yelp", "small yelp payload", true),
	}
	disc := &types.DiscrepancyReport{Detected: true, Spread: 4.8, Threshold: 1.5,
		Pairs: []types.DiscrepancyPair{{High: "google", Low: "bbb", Gap: 4.8}}}

	d := BuildDigest(subject, recs, disc, 2000, now)

	if !strings.HasPrefix(d.Text, "SUBJECT: Acme Roofing LLC\nLOCATION: Denver, CO\n") {
		t.Errorf("digest should open with the subject:\n%s", d.Text)
	}
	discAt := strings.Index(d.Text, "CROSS-PLATFORM RATING CHECK: discrepancy_detected=true")
	evidenceAt := strings.Index(d.Text, "=== angi")
	if discAt < 0 || evidenceAt < discAt {
		t.Error("discrepancy report must precede the evidence")
	}
	if !strings.Contains(d.Text, "DISAGREEMENT: google rates 4.80 higher than bbb") {
		t.Error("pair not named in digest")
	}
	if !strings.Contains(d.Text, "=== bbb [TRUNCATED: ") {
		t.Errorf("missing truncation marker:\n%s", d.Text)
	}
	if strings.Contains(d.Text, strings.Repeat("x", 100)) {
		t.Error("truncated content leaked into digest")
	}
	if got := strings.Join(d.Included, ","); got != "angi,yelp" {
		t.Errorf("Included = %s", got)
	}
	if got := strings.Join(d.Truncated, ","); got != "bbb" {
		t.Errorf("Truncated = %s", got)
	}
	if strings.Index(d.Text, "=== angi") > strings.Index(d.Text, "=== yelp") {
		t.Error("sources out of order")
	}
}

func TestBuildDigest_BudgetHonored(t *testing.T) {
	var recs []types.EvidenceRecord
	for _, n := range []string{"a", "b", "c", "d", "e", "f"} {
		recs = append(recs, record(n, strings.Repeat("z", 300), true))
	}
	d := BuildDigest(types.Subject{Name: "X"}, recs, nil, 1200, now)

	markers := strings.Count(d.Text, "[TRUNCATED:")
	if markers != len(d.Truncated) || markers == 0 {
		t.Fatalf("markers=%d truncated=%v", markers, d.Truncated)
	}
	content := len(d.Text)
	for _, line := range strings.Split(d.Text, "\n") {
		if strings.Contains(line, "[TRUNCATED:") {
			content -= len(line) + 2
		}
	}
	if content > 1200 {
		t.Errorf("content %d exceeds budget", content)
	}
}

func TestBuildDigest_LabelsStale(t *testing.T) {
	d := BuildDigest(types.Subject{Name: "X"}, []types.EvidenceRecord{record("bbb", "old", false)}, nil, 0, now)
	if !strings.Contains(d.Text, "=== bbb [success, STALE since 2026-03-01T11:00:00Z]") {
		t.Errorf("stale label missing:\n%s", d.Text)
	}
	if len(d.Stale) != 1 {
		t.Errorf("Stale = %v", d.Stale)
	}
}

func names(recs []types.EvidenceRecord) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.SourceName
	}
	return out
}
