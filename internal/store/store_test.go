package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trustaudit/internal/types"
)

type repository interface {
	types.EvidenceStore
	types.CollectionLog
	types.AuditRepository
	types.SubjectRepository
	types.CostLedger
	ListCollectionLog(ctx context.Context, subjectID string) ([]types.CollectionLogEntry, error)
}

var base = time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

func newSQLite(t *testing.T) *SQLStore {
	t.Helper()
	s, err := Open(context.Background(), "sqlite", filepath.Join(t.TempDir(), "data", "trustaudit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func backends(t *testing.T) map[string]func(t *testing.T) repository {
	return map[string]func(t *testing.T) repository{
		"sqlite": func(t *testing.T) repository { return newSQLite(t) },
		"memory": func(t *testing.T) repository { return NewMemoryStore() },
	}
}

func ptr[T any](v T) *T { return &v }

func TestEvidence_IdempotentUpsert(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			ctx := context.Background()

			first := types.EvidenceRecord{
				SourceURL:  "https://www.bbb.org/search?find_text=Acme",
				RawPayload: "first",
				Status:     types.FetchSuccess,
				Structured: &types.StructuredPayload{LetterGrade: "B"},
				FetchedAt:  base,
				ExpiresAt:  base.Add(24 * time.Hour),
			}
			second := types.EvidenceRecord{
				RawPayload: "second",
				Status:     types.FetchSuccess,
				Structured: &types.StructuredPayload{LetterGrade: "F", Accredited: ptr(false)},
				FetchedAt:  base.Add(time.Hour),
				ExpiresAt:  base.Add(25 * time.Hour),
			}
			require.NoError(t, s.UpsertEvidence(ctx, "s1", "bbb", first))
			require.NoError(t, s.UpsertEvidence(ctx, "s1", "bbb", second))

			all, err := s.ListEvidence(ctx, "s1")
			require.NoError(t, err)
			require.Len(t, all, 1)

			got := all[0]
			assert.Equal(t, "s1", got.SubjectID)
			assert.Equal(t, "bbb", got.SourceName)
			assert.Equal(t, "second", got.RawPayload)
			assert.Empty(t, got.SourceURL, "second write's nil URL must win")
			assert.Equal(t, "F", got.Structured.LetterGrade)
			require.NotNil(t, got.Structured.Accredited)
			assert.False(t, *got.Structured.Accredited)
			assert.True(t, got.ExpiresAt.Equal(second.ExpiresAt))
		})
	}
}

func TestEvidence_GetMissingReturnsNil(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			rec, err := open(t).GetEvidence(context.Background(), "nobody", "bbb")
			require.NoError(t, err)
			assert.Nil(t, rec)
		})
	}
}

func TestEvidence_RoundTripAndFreshnessBoundary(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			ctx := context.Background()
			expires := base.Add(12*time.Hour + 123456789*time.Nanosecond)

			require.NoError(t, s.UpsertEvidence(ctx, "s1", "google", types.EvidenceRecord{
				Status: types.FetchSuccess,
				Structured: &types.StructuredPayload{
					Rating:      ptr(4.8),
					ReviewCount: ptr(312),
					MatchedName: "Acme Roofing LLC",
					Extra:       map[string]string{"place_id": "abc"},
				},
				FetchedAt: base,
				ExpiresAt: expires,
			}))

			rec, err := s.GetEvidence(ctx, "s1", "google")
			require.NoError(t, err)
			require.NotNil(t, rec)
			assert.Equal(t, 4.8, *rec.Structured.Rating)
			assert.Equal(t, 312, *rec.Structured.ReviewCount)
			assert.Equal(t, "abc", rec.Structured.Extra["place_id"])

			assert.True(t, rec.IsFresh(expires.Add(-time.Nanosecond)))
			assert.False(t, rec.IsFresh(expires), "exact expiry is stale")
		})
	}
}

func TestEvidence_ErrorMessageOnlyForErrors(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			ctx := context.Background()
			require.NoError(t, s.UpsertEvidence(ctx, "s1", "yelp", types.EvidenceRecord{
				Status: types.FetchNotFound, ErrorMessage: "ignored", FetchedAt: base, ExpiresAt: base,
			}))
			require.NoError(t, s.UpsertEvidence(ctx, "s1", "angi", types.EvidenceRecord{
				Status: types.FetchError, ErrorMessage: "timeout", FetchedAt: base, ExpiresAt: base,
			}))

			yelp, _ := s.GetEvidence(ctx, "s1", "yelp")
			angi, _ := s.GetEvidence(ctx, "s1", "angi")
			assert.Empty(t, yelp.ErrorMessage)
			assert.Equal(t, "timeout", angi.ErrorMessage)

			err := s.UpsertEvidence(ctx, "s1", "houzz", types.EvidenceRecord{Status: "maybe"})
			assert.Error(t, err)
		})
	}
}

func TestEvidence_ListOrderedBySource(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			ctx := context.Background()
			for _, src := range []string{"yelp", "bbb", "osha", "angi"} {
				require.NoError(t, s.UpsertEvidence(ctx, "s1", src, types.EvidenceRecord{
					Status: types.FetchSuccess, FetchedAt: base, ExpiresAt: base,
				}))
			}
			require.NoError(t, s.UpsertEvidence(ctx, "other", "bbb", types.EvidenceRecord{
				Status: types.FetchSuccess, FetchedAt: base, ExpiresAt: base,
			}))

			all, err := s.ListEvidence(ctx, "s1")
			require.NoError(t, err)
			var names []string
			for _, r := range all {
				names = append(names, r.SourceName)
			}
			assert.Equal(t, []string{"angi", "bbb", "osha", "yelp"}, names)
		})
	}
}

func TestEvidence_ConcurrentWriters(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			ctx := context.Background()

			var wg sync.WaitGroup
			for i := 0; i < 12; i++ {
				wg.Add(2)
				go func(i int) {
					defer wg.Done()
					src := fmt.Sprintf("source_%02d", i)
					assert.NoError(t, s.UpsertEvidence(ctx, "s1", src, types.EvidenceRecord{
						Status: types.FetchSuccess, RawPayload: src, FetchedAt: base, ExpiresAt: base,
					}))
				}(i)
				go func(i int) {
					defer wg.Done()
					// Same key from many writers: fields must come from one writer.
					tag := fmt.Sprintf("writer-%d", i)
					assert.NoError(t, s.UpsertEvidence(ctx, "s1", "contended", types.EvidenceRecord{
						Status:     types.FetchSuccess,
						SourceURL:  "https://example.com/" + tag,
						RawPayload: tag,
						FetchedAt:  base,
						ExpiresAt:  base,
					}))
				}(i)
			}
			wg.Wait()

			all, err := s.ListEvidence(ctx, "s1")
			require.NoError(t, err)
			assert.Len(t, all, 13)

			rec, err := s.GetEvidence(ctx, "s1", "contended")
			require.NoError(t, err)
			assert.Equal(t, "https://example.com/"+rec.RawPayload, rec.SourceURL)
		})
	}
}

func TestCollectionLog(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			ctx := context.Background()

			id, err := s.StartCollection(ctx, types.CollectionLogEntry{
				SubjectID:   "s1",
				SourceName:  types.AdHocSourceName("run1", 1),
				RequestedBy: types.RequestedByAuditAgent,
				Reason:      "BBB grade contradicts Google rating",
				StartedAt:   base,
			})
			require.NoError(t, err)
			require.NotEmpty(t, id)

			require.NoError(t, s.CompleteCollection(ctx, id, "success", base.Add(time.Second)))
			assert.Error(t, s.CompleteCollection(ctx, id, "error", base.Add(2*time.Second)),
				"entries are completed once")

			entries, err := s.ListCollectionLog(ctx, "s1")
			require.NoError(t, err)
			require.Len(t, entries, 1)
			assert.Equal(t, "success", entries[0].Status)
			assert.Equal(t, "BBB grade contradicts Google rating", entries[0].Reason)
			require.NotNil(t, entries[0].CompletedAt)
			assert.True(t, entries[0].CompletedAt.Equal(base.Add(time.Second)))
		})
	}
}

func TestSubjectsAndAudits(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			ctx := context.Background()

			subj := &types.Subject{Name: "Acme Roofing LLC", City: "Austin", State: "TX"}
			require.NoError(t, s.CreateSubject(ctx, subj))
			require.NotEmpty(t, subj.ID)

			_, err := s.GetSubject(ctx, "missing")
			assert.True(t, errors.Is(err, ErrNotFound))

			latest, err := s.LatestAudit(ctx, subj.ID)
			require.NoError(t, err)
			assert.Nil(t, latest)

			first := &types.AuditResult{
				SubjectID: subj.ID, AuditVersion: "2.1.0", TrustScore: 72,
				RiskLevel: types.RiskLow, Recommendation: types.RecommendVerify,
				RedFlags:  []types.RedFlag{{Severity: types.SeverityMinor, Category: "reviews", Description: "few reviews"}},
				CreatedAt: base,
			}
			second := &types.AuditResult{
				SubjectID: subj.ID, AuditVersion: "2.1.0", TrustScore: 50,
				RiskLevel: types.RiskModerate, Recommendation: types.RecommendVerify,
				Forced: true, Gaps: []string{"iteration budget exhausted"},
				CreatedAt: base.Add(time.Hour),
			}
			require.NoError(t, s.SaveAudit(ctx, first))
			require.NoError(t, s.SaveAudit(ctx, second))

			got, err := s.GetSubject(ctx, subj.ID)
			require.NoError(t, err)
			assert.Equal(t, second.ID, got.LatestAuditID)

			latest, err = s.LatestAudit(ctx, subj.ID)
			require.NoError(t, err)
			require.NotNil(t, latest)
			assert.True(t, latest.Forced)
			assert.Equal(t, 50, latest.TrustScore)

			all, err := s.ListAudits(ctx, subj.ID)
			require.NoError(t, err)
			require.Len(t, all, 2)
			assert.Equal(t, second.ID, all[0].ID)
			assert.Equal(t, "few reviews", all[1].RedFlags[0].Description)

			orphan := &types.AuditResult{SubjectID: "missing", AuditVersion: "2.1.0", RiskLevel: types.RiskLow, Recommendation: types.RecommendVerify}
			assert.Error(t, s.SaveAudit(ctx, orphan))
			orphans, err := s.ListAudits(ctx, "missing")
			require.NoError(t, err)
			assert.Empty(t, orphans, "failed save must not leave a row behind")
		})
	}
}

func TestAppendCost(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			err := s.AppendCost(context.Background(), types.CostEntry{
				Service: "google", Operation: "fetch", SubjectID: "s1", CostUSD: 0.017,
			})
			assert.NoError(t, err)
		})
	}
}

func TestSQLite_MigrationsIdempotent(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "trustaudit.db")

	s, err := Open(ctx, "sqlite", path)
	require.NoError(t, err)
	v, err := s.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, v)
	require.NoError(t, s.Close())

	s, err = Open(ctx, "sqlite", path)
	require.NoError(t, err)
	defer s.Close()
	res, err := s.MigrateWithResult(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.MigrationsRun)
	assert.Equal(t, CurrentSchemaVersion, res.ToVersion)
}

func TestSQLite_CostSummary(t *testing.T) {
	s := newSQLite(t)
	ctx := context.Background()

	entries := []types.CostEntry{
		{Service: "gemini", Operation: "reasoning", SubjectID: "s1", InputTokens: 1000, OutputTokens: 200, CostUSD: 0.01},
		{Service: "gemini", Operation: "reasoning", SubjectID: "s1", InputTokens: 500, OutputTokens: 100, CostUSD: 0.005},
		{Service: "google", Operation: "fetch", SubjectID: "s2", CostUSD: 0.017},
	}
	for _, e := range entries {
		require.NoError(t, s.AppendCost(ctx, e))
	}

	all, err := s.CostSummary(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "gemini", all[0].Service)
	assert.Equal(t, 2, all[0].Calls)
	assert.Equal(t, int64(1500), all[0].InputTokens)
	assert.InDelta(t, 0.015, all[0].CostUSD, 1e-9)

	s1, err := s.CostSummary(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, s1, 1)
}

func TestParseDialect(t *testing.T) {
	d, err := ParseDialect("postgres")
	require.NoError(t, err)
	assert.Equal(t, DialectPostgres, d)

	d, err = ParseDialect("")
	require.NoError(t, err)
	assert.Equal(t, DialectSQLite, d)

	_, err = ParseDialect("mysql")
	assert.Error(t, err)
}
