// Package enforce makes a proposed verdict obey the score invariants before
// it is persisted. Everything here is pure: the same input always yields the
// same output.
package enforce

import (
	"fmt"

	"trustaudit/internal/logging"
	"trustaudit/internal/types"
)

// Band is an inclusive score range.
type Band struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// Contains reports whether score lies in the band.
func (b Band) Contains(score int) bool {
	return score >= b.Min && score <= b.Max
}

// Clamp moves score into the band.
func (b Band) Clamp(score int) int {
	switch {
	case score < b.Min:
		return b.Min
	case score > b.Max:
		return b.Max
	}
	return score
}

func (b Band) String() string {
	return fmt.Sprintf("[%d,%d]", b.Min, b.Max)
}

// FullRange is every valid score.
var FullRange = Band{Min: 0, Max: 100}

// BandFor returns the score range implied by the worst red-flag severity.
// No flags, or MINOR flags only, allow 60 to 100.
func BandFor(worst types.Severity) Band {
	switch worst {
	case types.SeverityCritical:
		return Band{Min: 0, Max: 15}
	case types.SeveritySevere:
		return Band{Min: 15, Max: 35}
	case types.SeverityModerate:
		return Band{Min: 40, Max: 60}
	}
	return Band{Min: 60, Max: 100}
}

// DeriveRiskLevel maps a final score to its risk level and recommendation.
// It is total over all integers.
func DeriveRiskLevel(score int) (types.RiskLevel, types.Recommendation) {
	switch {
	case score <= 15:
		return types.RiskCritical, types.RecommendAvoid
	case score <= 35:
		return types.RiskSevere, types.RecommendAvoid
	case score <= 60:
		return types.RiskModerate, types.RecommendCaution
	case score <= 75:
		return types.RiskLow, types.RecommendVerify
	}
	return types.RiskTrusted, types.RecommendRecommended
}

// Outcome is the enforced result.
type Outcome struct {
	Score          int
	RiskLevel      types.RiskLevel
	Recommendation types.Recommendation
	// Override is set only when Score differs from the proposed score.
	Override *types.ScoreOverride
}

// Enforce applies the current rule set.
func Enforce(proposed int, flags []types.RedFlag) Outcome {
	return Current().Apply(proposed, flags)
}

func clampTo(band Band, proposed int, why string) (int, *types.ScoreOverride) {
	if band.Contains(proposed) {
		return proposed, nil
	}
	enforced := band.Clamp(proposed)
	reason := fmt.Sprintf("%s requires score in %s; proposed %d", why, band, proposed)
	logging.EnforceDebug("score override: %s -> %d", reason, enforced)
	return enforced, &types.ScoreOverride{Original: proposed, Enforced: enforced, Reason: reason}
}
