package types

import (
	"strings"
	"time"
)

// Severity grades a red flag.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeveritySevere   Severity = "SEVERE"
	SeverityModerate Severity = "MODERATE"
	SeverityMinor    Severity = "MINOR"
)

// ParseSeverity maps the vocabulary a reasoning engine tends to use onto the
// four canonical severities. HIGH folds into SEVERE, MEDIUM into MODERATE, LOW
// into MINOR. Anything unrecognized is treated as MODERATE.
func ParseSeverity(s string) Severity {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "CRITICAL":
		return SeverityCritical
	case "SEVERE", "HIGH":
		return SeveritySevere
	case "MODERATE", "MEDIUM":
		return SeverityModerate
	case "MINOR", "LOW", "INFO":
		return SeverityMinor
	default:
		return SeverityModerate
	}
}

// Rank orders severities; higher is worse. Empty ranks lowest.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeveritySevere:
		return 3
	case SeverityModerate:
		return 2
	case SeverityMinor:
		return 1
	}
	return 0
}

// RiskLevel is the derived risk tier.
type RiskLevel string

const (
	RiskCritical RiskLevel = "CRITICAL"
	RiskSevere   RiskLevel = "SEVERE"
	RiskModerate RiskLevel = "MODERATE"
	RiskLow      RiskLevel = "LOW"
	RiskTrusted  RiskLevel = "TRUSTED"
)

// Recommendation is the derived action for a consumer of the verdict.
type Recommendation string

const (
	RecommendAvoid       Recommendation = "AVOID"
	RecommendCaution     Recommendation = "CAUTION"
	RecommendVerify      Recommendation = "VERIFY"
	RecommendRecommended Recommendation = "RECOMMENDED"
)

// RedFlag is one problem the reasoning engine reported.
type RedFlag struct {
	Severity    Severity `json:"severity"`
	Category    string   `json:"category"`
	Description string   `json:"description"`
	Evidence    string   `json:"evidence,omitempty"`
}

// WorstSeverity returns the highest severity among flags, or "" when there are none.
func WorstSeverity(flags []RedFlag) Severity {
	var worst Severity
	for _, f := range flags {
		if f.Severity.Rank() > worst.Rank() {
			worst = f.Severity
		}
	}
	return worst
}

// ScoreOverride records that enforcement moved the engine's proposed score.
type ScoreOverride struct {
	Original int    `json:"original"`
	Enforced int    `json:"enforced"`
	Reason   string `json:"reason"`
}

// Investigation records one use (or refused use) of the investigate capability.
type Investigation struct {
	Query      string    `json:"query"`
	Reason     string    `json:"reason"`
	Status     string    `json:"status"` // success, not_found, error, rejected
	SourceName string    `json:"source_name,omitempty"`
	At         time.Time `json:"at"`
}

// PlatformRating is one platform's rating on the common 0-5 scale.
type PlatformRating struct {
	Source     string  `json:"source"`
	Raw        string  `json:"raw"`
	Normalized float64 `json:"normalized"`
}

// DiscrepancyPair names two platforms whose ratings disagree beyond the threshold.
type DiscrepancyPair struct {
	High string  `json:"high"`
	Low  string  `json:"low"`
	Gap  float64 `json:"gap"`
}

// DiscrepancyReport is the cheap cross-platform check computed without the reasoning engine.
type DiscrepancyReport struct {
	Detected  bool              `json:"discrepancy_detected"`
	Spread    float64           `json:"spread"`
	Threshold float64           `json:"threshold"`
	Ratings   []PlatformRating  `json:"ratings,omitempty"`
	Pairs     []DiscrepancyPair `json:"pairs,omitempty"`
}

// AuditResult is the persisted outcome of one audit run. It is written once
// and never mutated; re-audits append new results.
type AuditResult struct {
	ID              string             `json:"id"`
	SubjectID       string             `json:"subject_id"`
	AuditVersion    string             `json:"audit_version"`
	TrustScore      int                `json:"trust_score"`
	RiskLevel       RiskLevel          `json:"risk_level"`
	Recommendation  Recommendation     `json:"recommendation"`
	Reasoning       string             `json:"reasoning"`
	RedFlags        []RedFlag          `json:"red_flags"`
	PositiveSignals []string           `json:"positive_signals"`
	Gaps            []string           `json:"gaps"`
	SourcesUsed     []string           `json:"sources_used"`
	RoundsUsed      int                `json:"rounds_used"`
	Iterations      int                `json:"iterations"`
	Investigations  []Investigation    `json:"investigations,omitempty"`
	ScoreOverride   *ScoreOverride     `json:"score_override,omitempty"`
	Forced          bool               `json:"forced"`
	Discrepancy     *DiscrepancyReport `json:"discrepancy,omitempty"`
	Cost            float64            `json:"cost"`
	Digest          string             `json:"digest,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
}
