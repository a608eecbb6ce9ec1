package enforce

import (
	"fmt"

	"github.com/Masterminds/semver/v3"

	"trustaudit/internal/types"
)

// CurrentVersion is the audit_version written by new audits.
const CurrentVersion = "2.1.0"

// RuleSet is the enforcement algorithm for a range of audit versions.
type RuleSet struct {
	Name       string
	Constraint string
	// SeverityBands clamps the score into the worst flag's band. Without it
	// only the 0 to 100 range and the derived fields are enforced.
	SeverityBands bool

	constraint *semver.Constraints
}

// Apply enforces the rule set on a proposed score.
func (r RuleSet) Apply(proposed int, flags []types.RedFlag) Outcome {
	score, override := clampTo(FullRange, proposed, "score range")
	if r.SeverityBands {
		worst := types.WorstSeverity(flags)
		label := "no red flags above MINOR"
		if worst.Rank() > types.SeverityMinor.Rank() {
			label = fmt.Sprintf("worst red flag %s", worst)
		}
		var banded *types.ScoreOverride
		score, banded = clampTo(BandFor(worst), score, label)
		if banded != nil {
			if override != nil {
				banded.Reason = override.Reason + "; " + banded.Reason
			}
			banded.Original = proposed
			override = banded
		}
	}
	risk, rec := DeriveRiskLevel(score)
	return Outcome{Score: score, RiskLevel: risk, Recommendation: rec, Override: override}
}

var ruleSets = []RuleSet{
	{Name: "severity-bands", Constraint: ">= 2.0.0-0", SeverityBands: true},
	{Name: "legacy-thresholds", Constraint: "< 2.0.0-0", SeverityBands: false},
}

func init() {
	for i := range ruleSets {
		c, err := semver.NewConstraint(ruleSets[i].Constraint)
		if err != nil {
			panic(fmt.Sprintf("enforce: bad constraint %q: %v", ruleSets[i].Constraint, err))
		}
		ruleSets[i].constraint = c
	}
}

// RulesFor selects the rule set for an audit version.
func RulesFor(version string) (RuleSet, error) {
	v, err := semver.NewVersion(version)
	if err != nil {
		return RuleSet{}, fmt.Errorf("invalid audit version %q: %w", version, err)
	}
	for _, rs := range ruleSets {
		if rs.constraint.Check(v) {
			return rs, nil
		}
	}
	return RuleSet{}, fmt.Errorf("no enforcement rules for audit version %s", version)
}

// Current returns the rule set for CurrentVersion.
func Current() RuleSet {
	rs, err := RulesFor(CurrentVersion)
	if err != nil {
		panic(err)
	}
	return rs
}

// Reenforce re-derives a stored result under its own version's rules and
// reports whether anything would change. Stored results are never mutated.
func Reenforce(result *types.AuditResult) (Outcome, bool, error) {
	rs, err := RulesFor(result.AuditVersion)
	if err != nil {
		return Outcome{}, false, err
	}
	out := rs.Apply(result.TrustScore, result.RedFlags)
	changed := out.Score != result.TrustScore ||
		out.RiskLevel != result.RiskLevel ||
		out.Recommendation != result.Recommendation
	return out, changed, nil
}
