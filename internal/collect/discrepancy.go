package collect

import (
	"fmt"
	"math"
	"sort"
	"strconv"

	"trustaudit/internal/types"
)

// DefaultThreshold is the rating spread, on a 0-5 scale, above which
// platforms are considered to disagree.
const DefaultThreshold = 1.5

// letterGrades maps letter grades onto the common 0-5 scale. NR is absent.
var letterGrades = map[string]float64{
	"A+": 5.0, "A": 4.75, "A-": 4.5,
	"B+": 4.0, "B": 3.75, "B-": 3.5,
	"C+": 3.0, "C": 2.75, "C-": 2.5,
	"D+": 2.0, "D": 1.75, "D-": 1.5,
	"F": 0.0,
}

// NormalizeGrade returns the 0-5 value of a letter grade.
func NormalizeGrade(grade string) (float64, bool) {
	v, ok := letterGrades[grade]
	return v, ok
}

// platformRating extracts a record's rating on the 0-5 scale. A letter
// grade takes precedence over a star rating on the same record.
func platformRating(rec types.EvidenceRecord) (types.PlatformRating, bool) {
	if rec.Status != types.FetchSuccess || rec.Structured == nil {
		return types.PlatformRating{}, false
	}
	p := rec.Structured
	if v, ok := NormalizeGrade(p.LetterGrade); ok {
		return types.PlatformRating{Source: rec.SourceName, Raw: p.LetterGrade, Normalized: v}, true
	}
	if p.Rating != nil {
		scale := p.Scale()
		v := math.Max(0, math.Min(5, *p.Rating/scale*5))
		raw := strconv.FormatFloat(*p.Rating, 'f', -1, 64) + "/" + strconv.FormatFloat(scale, 'f', -1, 64)
		if p.ReviewCount != nil {
			raw += fmt.Sprintf(" (%d reviews)", *p.ReviewCount)
		}
		return types.PlatformRating{Source: rec.SourceName, Raw: raw, Normalized: round2(v)}, true
	}
	return types.PlatformRating{}, false
}

// Discrepancy compares every platform that reported a rating or letter grade.
// It needs no reasoning service and is computed on every run.
func Discrepancy(records []types.EvidenceRecord, threshold float64) types.DiscrepancyReport {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	report := types.DiscrepancyReport{Threshold: threshold}

	for _, rec := range records {
		if pr, ok := platformRating(rec); ok {
			report.Ratings = append(report.Ratings, pr)
		}
	}
	if len(report.Ratings) < 2 {
		return report
	}
	sort.Slice(report.Ratings, func(i, j int) bool {
		return report.Ratings[i].Source < report.Ratings[j].Source
	})

	lo, hi := math.Inf(1), math.Inf(-1)
	for _, r := range report.Ratings {
		lo = math.Min(lo, r.Normalized)
		hi = math.Max(hi, r.Normalized)
	}
	report.Spread = round2(hi - lo)
	report.Detected = report.Spread > threshold

	for i := 0; i < len(report.Ratings); i++ {
		for j := i + 1; j < len(report.Ratings); j++ {
			a, b := report.Ratings[i], report.Ratings[j]
			gap := round2(math.Abs(a.Normalized - b.Normalized))
			if gap <= threshold {
				continue
			}
			if a.Normalized < b.Normalized {
				a, b = b, a
			}
			report.Pairs = append(report.Pairs, types.DiscrepancyPair{High: a.Source, Low: b.Source, Gap: gap})
		}
	}
	sort.SliceStable(report.Pairs, func(i, j int) bool {
		return report.Pairs[i].Gap > report.Pairs[j].Gap
	})
	return report
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
