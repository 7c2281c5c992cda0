package models

import "time"

// Verdict is a reviewer's decision on an assessment.
type Verdict string

const (
	VerdictConfirmed     Verdict = "confirmed"
	VerdictFalsePositive Verdict = "false_positive"
	VerdictEscalate      Verdict = "escalate"
)

// Valid reports whether v is a known verdict.
func (v Verdict) Valid() bool {
	switch v {
	case VerdictConfirmed, VerdictFalsePositive, VerdictEscalate:
		return true
	}
	return false
}

// ReviewStatus tracks a review record's lifecycle.
type ReviewStatus string

const (
	ReviewPending  ReviewStatus = "pending"
	ReviewResolved ReviewStatus = "resolved"
)

// HumanReviewRecord is created for assessments that require review and
// becomes terminal once a verdict is recorded.
type HumanReviewRecord struct {
	ID              string       `db:"id" json:"id"`
	AssessmentRef   string       `db:"assessment_id" json:"assessmentRef"`
	SubjectID       string       `db:"subject_id" json:"subjectId"`
	RiskLevel       RiskLevel    `db:"risk_level" json:"riskLevel"` // level of the reviewed assessment
	Reviewer        *string      `db:"reviewer" json:"reviewer,omitempty"`
	Status          ReviewStatus `db:"status" json:"status"`
	Verdict         *Verdict     `db:"verdict" json:"verdict,omitempty"`
	ActualRiskLevel *RiskLevel   `db:"actual_risk_level" json:"actualRiskLevel,omitempty"`
	Notes           *string      `db:"notes" json:"notes,omitempty"`
	RequestedAt     time.Time    `db:"requested_at" json:"requestedAt"`
	ResolvedAt      *time.Time   `db:"resolved_at" json:"resolvedAt,omitempty"`
}

// Resolved reports whether a verdict has been recorded.
func (r *HumanReviewRecord) Resolved() bool {
	return r.Status == ReviewResolved
}
