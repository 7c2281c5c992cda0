// Package review queues assessments for human review and records verdicts.
package review

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"crisis-engine/internal/models"
)

var (
	ErrReviewNotFound    = errors.New("review record not found")
	ErrReviewResolved    = errors.New("review record already resolved")
	ErrReviewNotRequired = errors.New("assessment does not require human review")
	ErrInvalidVerdict    = errors.New("invalid verdict")
)

// Store persists review records.
type Store interface {
	Create(ctx context.Context, rec *models.HumanReviewRecord) error
	Get(ctx context.Context, id string) (*models.HumanReviewRecord, error)
	GetByAssessment(ctx context.Context, assessmentID string) (*models.HumanReviewRecord, error)
	Update(ctx context.Context, rec *models.HumanReviewRecord) error
	ListPending(ctx context.Context) ([]models.HumanReviewRecord, error)
	ListBySubject(ctx context.Context, subjectID string) ([]models.HumanReviewRecord, error)
}

// VerdictListener is told about every recorded verdict, after the record
// has been stored.
type VerdictListener interface {
	OnVerdict(ctx context.Context, rec *models.HumanReviewRecord) error
}

// Workstream is the review queue.
type Workstream struct {
	mu       sync.Mutex
	store    Store
	listener VerdictListener
	logger   *zap.Logger
	now      func() time.Time
}

func NewWorkstream(store Store, logger *zap.Logger) *Workstream {
	return &Workstream{
		store:  store,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetListener registers the verdict listener. It must be called before the
// workstream is used.
func (w *Workstream) SetListener(l VerdictListener) {
	w.listener = l
}

// RequestReview opens a review for a. Asking again for an assessment that
// already has a pending record returns that record with created=false.
func (w *Workstream) RequestReview(ctx context.Context, a *models.CrisisRiskAssessment, reviewer *string) (rec *models.HumanReviewRecord, created bool, err error) {
	if !a.RequiresHumanReview {
		return nil, false, fmt.Errorf("%w: assessment %s", ErrReviewNotRequired, a.ID)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	existing, err := w.store.GetByAssessment(ctx, a.ID)
	switch {
	case err == nil:
		if existing.Resolved() {
			return existing, false, fmt.Errorf("%w: assessment %s", ErrReviewResolved, a.ID)
		}
		if reviewer != nil && existing.Reviewer == nil {
			existing.Reviewer = reviewer
			if err := w.store.Update(ctx, existing); err != nil {
				return nil, false, fmt.Errorf("failed to assign reviewer: %w", err)
			}
		}
		return existing, false, nil
	case !errors.Is(err, ErrReviewNotFound):
		return nil, false, fmt.Errorf("failed to look up review: %w", err)
	}

	rec = &models.HumanReviewRecord{
		ID:            uuid.NewString(),
		AssessmentRef: a.ID,
		SubjectID:     a.UserID,
		RiskLevel:     a.RiskLevel,
		Reviewer:      reviewer,
		Status:        models.ReviewPending,
		RequestedAt:   w.now(),
	}
	if err := w.store.Create(ctx, rec); err != nil {
		return nil, false, fmt.Errorf("failed to create review: %w", err)
	}

	w.logger.Info("Human review requested",
		zap.String("review_id", rec.ID),
		zap.String("assessment_id", a.ID),
		zap.String("subject_id", a.UserID),
		zap.String("risk_level", string(a.RiskLevel)))
	return rec, true, nil
}

// RecordVerdict resolves a pending record. The record is terminal
// afterwards.
func (w *Workstream) RecordVerdict(ctx context.Context, recordID string, verdict models.Verdict, actual *models.RiskLevel, notes, reviewer *string) (*models.HumanReviewRecord, error) {
	if !verdict.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidVerdict, verdict)
	}
	if actual != nil && !actual.Valid() {
		return nil, fmt.Errorf("%w: unknown risk level %q", ErrInvalidVerdict, *actual)
	}

	w.mu.Lock()
	rec, err := w.store.Get(ctx, recordID)
	if err != nil {
		w.mu.Unlock()
		return nil, err
	}
	if rec.Resolved() {
		w.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrReviewResolved, recordID)
	}

	resolvedAt := w.now()
	rec.Status = models.ReviewResolved
	rec.Verdict = &verdict
	rec.ActualRiskLevel = actual
	rec.Notes = notes
	rec.ResolvedAt = &resolvedAt
	if reviewer != nil {
		rec.Reviewer = reviewer
	}
	if err := w.store.Update(ctx, rec); err != nil {
		w.mu.Unlock()
		return nil, fmt.Errorf("failed to record verdict: %w", err)
	}
	w.mu.Unlock()

	w.logger.Info("Review verdict recorded",
		zap.String("review_id", rec.ID),
		zap.String("assessment_id", rec.AssessmentRef),
		zap.String("verdict", string(verdict)))

	if w.listener != nil {
		if err := w.listener.OnVerdict(ctx, rec); err != nil {
			w.logger.Error("Verdict feedback failed", zap.String("review_id", rec.ID), zap.Error(err))
		}
	}
	return rec, nil
}

// Get returns one record.
func (w *Workstream) Get(ctx context.Context, id string) (*models.HumanReviewRecord, error) {
	return w.store.Get(ctx, id)
}

// ForAssessment returns the record opened for an assessment.
func (w *Workstream) ForAssessment(ctx context.Context, assessmentID string) (*models.HumanReviewRecord, error) {
	return w.store.GetByAssessment(ctx, assessmentID)
}

// Pending lists open reviews, most severe first, then oldest first.
func (w *Workstream) Pending(ctx context.Context) ([]models.HumanReviewRecord, error) {
	records, err := w.store.ListPending(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if a.RiskLevel.Rank() != b.RiskLevel.Rank() {
			return a.RiskLevel.Rank() > b.RiskLevel.Rank()
		}
		if !a.RequestedAt.Equal(b.RequestedAt) {
			return a.RequestedAt.Before(b.RequestedAt)
		}
		return a.ID < b.ID
	})
	return records, nil
}

// BySubject lists every record of a subject, oldest first.
func (w *Workstream) BySubject(ctx context.Context, subjectID string) ([]models.HumanReviewRecord, error) {
	records, err := w.store.ListBySubject(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].RequestedAt.Before(records[j].RequestedAt)
	})
	return records, nil
}

// GroundTruth is the risk level a resolved record vouches for.
// Without an explicit level, a confirmation keeps the predicted level, a
// false positive means low, and an escalation means at least high and at
// least one step above the prediction.
func GroundTruth(rec *models.HumanReviewRecord) (models.RiskLevel, bool) {
	if !rec.Resolved() || rec.Verdict == nil {
		return "", false
	}
	if rec.ActualRiskLevel != nil {
		return *rec.ActualRiskLevel, true
	}
	switch *rec.Verdict {
	case models.VerdictConfirmed:
		return rec.RiskLevel, true
	case models.VerdictFalsePositive:
		return models.RiskLow, true
	case models.VerdictEscalate:
		next := rec.RiskLevel.Rank() + 1
		if next >= len(models.RiskLevels) {
			next = len(models.RiskLevels) - 1
		}
		if next < models.RiskHigh.Rank() {
			next = models.RiskHigh.Rank()
		}
		return models.RiskLevels[next], true
	}
	return "", false
}
