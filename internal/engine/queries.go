package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"crisis-engine/internal/escalation"
	"crisis-engine/internal/models"
	"crisis-engine/internal/performance"
	"crisis-engine/internal/review"
)

// trendThreshold is the difference in mean risk score, in points, between
// the two halves of a period that counts as a trend.
const trendThreshold = 5.0

var trendPeriods = map[string]time.Duration{
	"24h": 24 * time.Hour,
	"7d":  7 * 24 * time.Hour,
	"30d": 30 * 24 * time.Hour,
}

// GetCurrentAssessment returns the most recent assessment of a subject.
func (e *Engine) GetCurrentAssessment(ctx context.Context, subjectID string) (models.CrisisRiskAssessment, error) {
	st := e.viewSubject(ctx, subjectID)
	if st == nil {
		return models.CrisisRiskAssessment{}, fmt.Errorf("%w: %s", ErrNoAssessment, subjectID)
	}
	defer st.mu.Unlock()
	a := st.latest()
	if a == nil {
		return models.CrisisRiskAssessment{}, fmt.Errorf("%w: %s", ErrNoAssessment, subjectID)
	}
	return *a, nil
}

// GetAssessmentHistory returns the subject's history, oldest first.
func (e *Engine) GetAssessmentHistory(ctx context.Context, subjectID string) []models.CrisisRiskAssessment {
	st := e.viewSubject(ctx, subjectID)
	if st == nil {
		return []models.CrisisRiskAssessment{}
	}
	defer st.mu.Unlock()
	out := make([]models.CrisisRiskAssessment, len(st.history))
	for i, a := range st.history {
		out[i] = *a
	}
	return out
}

// GetRiskTrend compares the mean risk score of the first and second half
// of the assessments made within period ("24h", "7d" or "30d").
func (e *Engine) GetRiskTrend(ctx context.Context, subjectID, period string) (models.Trend, error) {
	d, ok := trendPeriods[period]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidPeriod, period)
	}
	since := e.now().Add(-d)

	st := e.viewSubject(ctx, subjectID)
	if st == nil {
		return models.TrendStable, nil
	}
	var scores []float64
	for _, a := range st.history {
		if !a.Timestamp.Before(since) {
			scores = append(scores, a.RiskScore)
		}
	}
	st.mu.Unlock()

	return trendOf(scores), nil
}

func trendOf(scores []float64) models.Trend {
	if len(scores) < 2 {
		return models.TrendStable
	}
	half := len(scores) / 2
	diff := mean(scores[half:]) - mean(scores[:half])
	switch {
	case diff > trendThreshold:
		return models.TrendWorsening
	case diff < -trendThreshold:
		return models.TrendImproving
	default:
		return models.TrendStable
	}
}

func mean(values []float64) float64 {
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// GetEscalationState returns the subject's escalation state and recent
// transitions.
func (e *Engine) GetEscalationState(ctx context.Context, subjectID string) escalation.Snapshot {
	st := e.viewSubject(ctx, subjectID)
	if st == nil {
		return escalation.NewMachine(subjectID, e.opts.ConfidenceBypass).Snapshot()
	}
	defer st.mu.Unlock()
	return st.machine.Snapshot()
}

// ResolveEscalation closes the subject's current episode by hand.
func (e *Engine) ResolveEscalation(ctx context.Context, subjectID string) (*escalation.Transition, bool) {
	st := e.viewSubject(ctx, subjectID)
	if st == nil {
		return nil, false
	}
	t, moved := st.machine.Resolve(e.now())
	st.mu.Unlock()
	if moved {
		e.publishTransition(t)
	}
	return t, moved
}

// Ethical check types.
const (
	CheckHumanReviewGate  = "human_review_gate"
	CheckConfidenceFloor  = "confidence_floor"
	CheckDataCompleteness = "data_completeness"
	CheckCalibrationFloor = "calibration_floor"
)

// GetEthicalStatus evaluates the safeguards against the subject's latest
// assessment.
func (e *Engine) GetEthicalStatus(ctx context.Context, subjectID string) (models.EthicalStatus, error) {
	st := e.viewSubject(ctx, subjectID)
	if st == nil {
		return models.EthicalStatus{}, fmt.Errorf("%w: %s", ErrNoAssessment, subjectID)
	}
	latest := st.latest()
	cal := st.calibration
	st.mu.Unlock()
	if latest == nil {
		return models.EthicalStatus{}, fmt.Errorf("%w: %s", ErrNoAssessment, subjectID)
	}

	reviewCheck, err := e.reviewGate(ctx, latest)
	if err != nil {
		return models.EthicalStatus{}, err
	}
	checks := []models.EthicalCheck{
		reviewCheck,
		confidenceFloor(latest),
		dataCompleteness(latest),
		e.calibrationFloor(cal),
	}

	status := models.EthicalStatus{AllPassed: true, Checks: checks}
	for _, c := range checks {
		if c.Status != models.CheckPassed {
			status.AllPassed = false
		}
	}
	return status, nil
}

func (e *Engine) reviewGate(ctx context.Context, a *models.CrisisRiskAssessment) (models.EthicalCheck, error) {
	check := models.EthicalCheck{Type: CheckHumanReviewGate}
	if !a.RequiresHumanReview {
		check.Status = models.CheckPassed
		check.Message = "Assessment does not require human review"
		return check, nil
	}
	rec, err := e.reviews.ForAssessment(ctx, a.ID)
	switch {
	case errors.Is(err, review.ErrReviewNotFound):
		check.Status = models.CheckFailed
		check.Message = "Human review required but not queued"
	case err != nil:
		return check, fmt.Errorf("failed to look up review: %w", err)
	case rec.Resolved():
		check.Status = models.CheckPassed
		check.Message = fmt.Sprintf("Reviewed with verdict %s", *rec.Verdict)
	default:
		check.Status = models.CheckReviewRequired
		check.Message = "Awaiting human review"
	}
	return check, nil
}

func confidenceFloor(a *models.CrisisRiskAssessment) models.EthicalCheck {
	if a.Confidence < 0.5 {
		return models.EthicalCheck{
			Type:    CheckConfidenceFloor,
			Status:  models.CheckReviewRequired,
			Message: fmt.Sprintf("Confidence %.2f is below 0.50", a.Confidence),
		}
	}
	return models.EthicalCheck{
		Type:    CheckConfidenceFloor,
		Status:  models.CheckPassed,
		Message: fmt.Sprintf("Confidence %.2f", a.Confidence),
	}
}

func dataCompleteness(a *models.CrisisRiskAssessment) models.EthicalCheck {
	check := models.EthicalCheck{Type: CheckDataCompleteness}
	switch n := len(a.Degraded); {
	case n == 0:
		check.Status = models.CheckPassed
		check.Message = "All signals available"
	case n >= 3:
		check.Status = models.CheckFailed
		check.Message = "Most signals unavailable: " + strings.Join(a.Degraded, ", ")
	default:
		check.Status = models.CheckReviewRequired
		check.Message = "Signals unavailable: " + strings.Join(a.Degraded, ", ")
	}
	return check
}

// calibrationFloor flags subjects whose feedback has pushed a factor down
// to its minimum weight.
func (e *Engine) calibrationFloor(cal models.SubjectCalibration) models.EthicalCheck {
	var floored []string
	for _, f := range models.Factors {
		if cal.Weight(f) <= e.weightFloor(f)+1e-9 {
			floored = append(floored, string(f))
		}
	}
	if len(floored) > 0 {
		return models.EthicalCheck{
			Type:    CheckCalibrationFloor,
			Status:  models.CheckReviewRequired,
			Message: fmt.Sprintf("Weight at minimum after %d false positives: %s", cal.FalsePositives, strings.Join(floored, ", ")),
		}
	}
	return models.EthicalCheck{
		Type:    CheckCalibrationFloor,
		Status:  models.CheckPassed,
		Message: "Calibration within bounds",
	}
}

// Dashboard summarises the engine for reviewers.
type Dashboard struct {
	Subjects         int                      `json:"subjects"`
	States           map[escalation.State]int `json:"states"`
	HighRiskSubjects []string                 `json:"highRiskSubjects"`
	PendingReviews   int                      `json:"pendingReviews"`
	Performance      models.ModelPerformance  `json:"performance"`
	Outcomes         performance.Counts       `json:"outcomes"`
}

// Dashboard collects the reviewer dashboard.
func (e *Engine) Dashboard(ctx context.Context) (Dashboard, error) {
	pending, err := e.reviews.Pending(ctx)
	if err != nil {
		return Dashboard{}, fmt.Errorf("failed to list pending reviews: %w", err)
	}

	d := Dashboard{
		States:           make(map[escalation.State]int),
		HighRiskSubjects: []string{},
		PendingReviews:   len(pending),
		Performance:      e.tracker.GetPerformance(),
		Outcomes:         e.tracker.Counts(),
	}
	for _, id := range e.Subjects() {
		state := e.GetEscalationState(ctx, id).State
		d.Subjects++
		d.States[state]++
		if state.IsHighRisk() {
			d.HighRiskSubjects = append(d.HighRiskSubjects, id)
		}
	}
	return d, nil
}
