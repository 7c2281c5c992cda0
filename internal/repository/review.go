package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"crisis-engine/internal/models"
	"crisis-engine/internal/review"
)

type reviewRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewReviewRepository returns a review.Store backed by the database.
func NewReviewRepository(db *sqlx.DB, logger *zap.Logger) review.Store {
	return &reviewRepository{db: db, logger: logger}
}

const reviewColumns = `id, assessment_id, subject_id, risk_level, reviewer, status, verdict,
	actual_risk_level, notes, requested_at, resolved_at`

func (r *reviewRepository) Create(ctx context.Context, rec *models.HumanReviewRecord) error {
	query := r.db.Rebind(`INSERT INTO review_records (` + reviewColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := r.db.ExecContext(ctx, query, rec.ID, rec.AssessmentRef, rec.SubjectID, rec.RiskLevel, rec.Reviewer,
		rec.Status, rec.Verdict, rec.ActualRiskLevel, rec.Notes, rec.RequestedAt.UTC(), utcPtr(rec.ResolvedAt))
	return err
}

func (r *reviewRepository) Get(ctx context.Context, id string) (*models.HumanReviewRecord, error) {
	return r.getOne(ctx, `SELECT `+reviewColumns+` FROM review_records WHERE id = ?`, id)
}

func (r *reviewRepository) GetByAssessment(ctx context.Context, assessmentID string) (*models.HumanReviewRecord, error) {
	return r.getOne(ctx, `SELECT `+reviewColumns+` FROM review_records WHERE assessment_id = ?`, assessmentID)
}

func (r *reviewRepository) Update(ctx context.Context, rec *models.HumanReviewRecord) error {
	query := r.db.Rebind(`UPDATE review_records
		SET reviewer = ?, status = ?, verdict = ?, actual_risk_level = ?, notes = ?, resolved_at = ?
		WHERE id = ?`)
	res, err := r.db.ExecContext(ctx, query, rec.Reviewer, rec.Status, rec.Verdict, rec.ActualRiskLevel,
		rec.Notes, utcPtr(rec.ResolvedAt), rec.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", review.ErrReviewNotFound, rec.ID)
	}
	return nil
}

func (r *reviewRepository) ListPending(ctx context.Context) ([]models.HumanReviewRecord, error) {
	return r.list(ctx, `SELECT `+reviewColumns+` FROM review_records WHERE status = ?`, models.ReviewPending)
}

func (r *reviewRepository) ListBySubject(ctx context.Context, subjectID string) ([]models.HumanReviewRecord, error) {
	return r.list(ctx, `SELECT `+reviewColumns+` FROM review_records WHERE subject_id = ?`, subjectID)
}

func (r *reviewRepository) getOne(ctx context.Context, query string, arg interface{}) (*models.HumanReviewRecord, error) {
	var rec models.HumanReviewRecord
	err := r.db.QueryRowxContext(ctx, r.db.Rebind(query), arg).StructScan(&rec)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, review.ErrReviewNotFound
		}
		return nil, err
	}
	normalizeReview(&rec)
	return &rec, nil
}

func (r *reviewRepository) list(ctx context.Context, query string, arg interface{}) ([]models.HumanReviewRecord, error) {
	var recs []models.HumanReviewRecord
	if err := r.db.SelectContext(ctx, &recs, r.db.Rebind(query), arg); err != nil {
		return nil, err
	}
	for i := range recs {
		normalizeReview(&recs[i])
	}
	return recs, nil
}

func normalizeReview(rec *models.HumanReviewRecord) {
	rec.RequestedAt = rec.RequestedAt.UTC()
	rec.ResolvedAt = utcPtr(rec.ResolvedAt)
}
