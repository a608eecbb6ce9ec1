package audit

import (
	"testing"

	"trustaudit/internal/types"
)

func TestSeal(t *testing.T) {
	res := &types.AuditResult{
		ID: "a1", SubjectID: "s1", AuditVersion: "2.1.0", TrustScore: 42,
		RiskLevel: types.RiskModerate, Recommendation: types.RecommendCaution,
		Reasoning: "r", RedFlags: []types.RedFlag{}, Gaps: []string{}, CreatedAt: now,
	}
	first, err := Seal(res)
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != 64 {
		t.Errorf("digest length = %d", len(first))
	}
	again, _ := Seal(res)
	if again != first {
		t.Error("seal is not deterministic")
	}

	res.Digest = first
	if ok, err := VerifySeal(res); err != nil || !ok {
		t.Errorf("VerifySeal = %v, %v", ok, err)
	}

	res.TrustScore = 90
	if ok, _ := VerifySeal(res); ok {
		t.Error("tampered result should not verify")
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StateCollecting, StateReasoning, true},
		{StateCollecting, StateForcedFinalize, true},
		{StateReasoning, StateInvestigationRequested, true},
		{StateInvestigationRequested, StateReasoning, true},
		{StateReasoning, StateVerdict, true},
		{StateVerdict, StateFinalized, true},
		{StateCollecting, StateVerdict, false},
		{StateInvestigationRequested, StateVerdict, false},
		{StateFinalized, StateReasoning, false},
		{StateForcedFinalize, StateFinalized, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v", tt.from, tt.to, got)
		}
	}
}
