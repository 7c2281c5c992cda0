package engine

import (
	"context"
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"

	"crisis-engine/internal/events"
	"crisis-engine/internal/models"
	"crisis-engine/internal/review"
)

// RequestHumanReview queues an assessment for review. Asking twice returns
// the same pending record.
func (e *Engine) RequestHumanReview(ctx context.Context, assessmentID string, reviewer *string) (*models.HumanReviewRecord, error) {
	a, err := e.findAssessment(ctx, assessmentID)
	if err != nil {
		return nil, err
	}
	rec, _, err := e.reviews.RequestReview(ctx, a, reviewer)
	return rec, err
}

// RecordVerdict resolves a review record. Feedback is applied through
// OnVerdict.
func (e *Engine) RecordVerdict(ctx context.Context, recordID string, verdict models.Verdict, actual *models.RiskLevel, notes, reviewer *string) (*models.HumanReviewRecord, error) {
	return e.reviews.RecordVerdict(ctx, recordID, verdict, actual, notes, reviewer)
}

// PendingReviews lists open reviews, most severe first.
func (e *Engine) PendingReviews(ctx context.Context) ([]models.HumanReviewRecord, error) {
	return e.reviews.Pending(ctx)
}

// SubjectReviews lists every review of a subject.
func (e *Engine) SubjectReviews(ctx context.Context, subjectID string) ([]models.HumanReviewRecord, error) {
	return e.reviews.BySubject(ctx, subjectID)
}

// ReportFalsePositive marks an assessment as wrong. Assessments that
// required review get their review resolved as a false positive. Others
// have no review record, so the correction is applied directly.
// The returned record is nil in the second case.
func (e *Engine) ReportFalsePositive(ctx context.Context, assessmentID string, actual models.RiskLevel, notes, reviewer *string) (*models.HumanReviewRecord, error) {
	if !actual.Valid() {
		return nil, fmt.Errorf("%w: unknown risk level %q", review.ErrInvalidVerdict, actual)
	}
	a, err := e.findAssessment(ctx, assessmentID)
	if err != nil {
		return nil, err
	}

	if a.RequiresHumanReview {
		rec, _, err := e.reviews.RequestReview(ctx, a, reviewer)
		if err != nil {
			return nil, err
		}
		return e.reviews.RecordVerdict(ctx, rec.ID, models.VerdictFalsePositive, &actual, notes, reviewer)
	}

	e.tracker.RecordOutcome(a, &actual)
	e.falsePositive(ctx, a)
	return nil, nil
}

// OnVerdict feeds a resolved review back into the engine: ground truth to
// the performance tracker, and for false positives a recalibration of the
// factors that drove the assessment followed by a fresh cycle.
func (e *Engine) OnVerdict(ctx context.Context, rec *models.HumanReviewRecord) error {
	a, err := e.findAssessment(ctx, rec.AssessmentRef)
	if err != nil {
		if !errors.Is(err, ErrAssessmentNotFound) {
			return err
		}
		// Evicted and not persisted; only the tracker can still learn from it.
		a = &models.CrisisRiskAssessment{ID: rec.AssessmentRef, UserID: rec.SubjectID, RiskLevel: rec.RiskLevel}
	}

	if truth, ok := review.GroundTruth(rec); ok {
		e.tracker.RecordOutcome(a, &truth)
	}

	switch *rec.Verdict {
	case models.VerdictFalsePositive:
		e.falsePositive(ctx, a)
	case models.VerdictEscalate:
		e.bus.Publish(events.Event{
			Kind:       events.KindHighRiskDetected,
			SubjectID:  a.UserID,
			Timestamp:  e.now(),
			Assessment: a,
		})
	}
	return nil
}

// falsePositive lowers the weight of each factor that contributed to a
// and re-assesses the subject. Factors that did not contribute keep their
// weight, so a different kind of signal still counts in full.
func (e *Engine) falsePositive(ctx context.Context, a *models.CrisisRiskAssessment) {
	st := e.lockSubject(ctx, a.UserID)
	cal := st.calibration
	for _, f := range a.ContributingFactors {
		cal = cal.WithWeight(f, math.Max(cal.Weight(f)*e.opts.FalsePositiveDecay, e.weightFloor(f)))
	}
	cal.FalsePositives++
	cal.UpdatedAt = e.now()
	st.calibration = cal
	st.mu.Unlock()

	e.logger.Info("Calibration adjusted after false positive",
		zap.String("subject_id", a.UserID),
		zap.String("assessment_id", a.ID),
		zap.Float64("trend_weight", cal.TrendWeight),
		zap.Float64("pattern_weight", cal.PatternWeight),
		zap.Float64("text_weight", cal.TextWeight))

	if e.opts.Calibrations != nil {
		if err := e.opts.Calibrations.SaveCalibration(ctx, &cal); err != nil {
			e.logger.Error("Failed to save calibration", zap.String("subject_id", a.UserID), zap.Error(err))
		}
	}

	switch _, err := e.RunCycle(ctx, a.UserID); {
	case errors.Is(err, ErrInFlight):
		e.logger.Debug("Cycle already running, skipping re-assessment after false positive",
			zap.String("subject_id", a.UserID),
			zap.String("assessment_id", a.ID))
	case err != nil:
		e.logger.Warn("Re-assessment after false positive failed", zap.String("subject_id", a.UserID), zap.Error(err))
	}
}

// GetCalibration returns the subject's current calibration.
func (e *Engine) GetCalibration(ctx context.Context, subjectID string) models.SubjectCalibration {
	st := e.viewSubject(ctx, subjectID)
	if st == nil {
		return e.scorer.DefaultCalibration(subjectID)
	}
	defer st.mu.Unlock()
	return st.calibration
}

func (e *Engine) weightFloor(f models.Factor) float64 {
	return e.scorer.BaseWeight(f) * e.opts.MinWeightFraction
}
