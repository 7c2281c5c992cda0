package models

import "time"

// RiskLevel is the bucket a risk score falls into.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskModerate RiskLevel = "moderate"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
	RiskImminent RiskLevel = "imminent"
)

var riskLevelRank = map[RiskLevel]int{
	RiskLow:      0,
	RiskModerate: 1,
	RiskHigh:     2,
	RiskCritical: 3,
	RiskImminent: 4,
}

// RiskLevels lists every level from least to most severe.
var RiskLevels = []RiskLevel{RiskLow, RiskModerate, RiskHigh, RiskCritical, RiskImminent}

// Rank orders levels low < moderate < high < critical < imminent.
// Unknown levels rank -1.
func (l RiskLevel) Rank() int {
	if r, ok := riskLevelRank[l]; ok {
		return r
	}
	return -1
}

// Valid reports whether l is one of the known levels.
func (l RiskLevel) Valid() bool {
	return l.Rank() >= 0
}

// AtLeast reports whether l is as severe as other or more.
func (l RiskLevel) AtLeast(other RiskLevel) bool {
	return l.Rank() >= other.Rank()
}

// SeverityHint is the highest indicator tier found by the text analyzer.
type SeverityHint string

const (
	SeverityNone     SeverityHint = "none"
	SeverityLow      SeverityHint = "low"
	SeverityModerate SeverityHint = "moderate"
	SeverityHigh     SeverityHint = "high"
	SeverityCritical SeverityHint = "critical"
)

var severityRank = map[SeverityHint]int{
	SeverityNone:     0,
	SeverityLow:      1,
	SeverityModerate: 2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// Rank orders hints none < low < moderate < high < critical.
func (s SeverityHint) Rank() int {
	if r, ok := severityRank[s]; ok {
		return r
	}
	return -1
}

// TextAnalysisResult is derived from one batch of text entries.
type TextAnalysisResult struct {
	IndicatorsFound []string     `json:"indicatorsFound"` // sorted, unique
	Confidence      float64      `json:"confidence"`
	SeverityHint    SeverityHint `json:"severityHint"`
}

// Factor names a scoring component.
type Factor string

const (
	FactorTrend   Factor = "trend"
	FactorPattern Factor = "pattern"
	FactorText    Factor = "text"
)

// Factors lists every scoring component in canonical order.
var Factors = []Factor{FactorPattern, FactorText, FactorTrend}

// CrisisRiskAssessment is the fused result of one assessment cycle.
// It is never mutated after creation.
type CrisisRiskAssessment struct {
	ID                  string             `db:"id" json:"id"`
	UserID              string             `db:"subject_id" json:"userId"`
	Timestamp           time.Time          `db:"assessed_at" json:"timestamp"`
	RiskScore           float64            `db:"risk_score" json:"riskScore"`
	RiskLevel           RiskLevel          `db:"risk_level" json:"riskLevel"`
	Confidence          float64            `db:"confidence" json:"confidence"`
	ContributingFactors []Factor           `db:"-" json:"contributingFactors"` // descending contribution
	Components          map[Factor]float64 `db:"-" json:"components"`          // score points per factor
	RequiresHumanReview bool               `db:"requires_human_review" json:"requiresHumanReview"`
	ModelVersion        string             `db:"model_version" json:"modelVersion"`
	Degraded            []string           `db:"-" json:"degraded,omitempty"`
}

// HasFactor reports whether f contributed to the assessment.
func (a *CrisisRiskAssessment) HasFactor(f Factor) bool {
	for _, cf := range a.ContributingFactors {
		if cf == f {
			return true
		}
	}
	return false
}

// CheckStatus is the outcome of one ethical check.
type CheckStatus string

const (
	CheckPassed         CheckStatus = "passed"
	CheckFailed         CheckStatus = "failed"
	CheckReviewRequired CheckStatus = "review_required"
)

// EthicalCheck is one safeguard evaluated against the latest assessment.
type EthicalCheck struct {
	Type    string      `json:"type"`
	Status  CheckStatus `json:"status"`
	Message string      `json:"message"`
}

// EthicalStatus summarises the safeguards for the current assessment.
type EthicalStatus struct {
	AllPassed bool           `json:"allPassed"`
	Checks    []EthicalCheck `json:"checks"`
}
