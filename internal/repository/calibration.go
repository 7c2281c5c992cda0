package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"crisis-engine/internal/models"
)

// CalibrationRepository persists per-subject component weights.
type CalibrationRepository interface {
	GetCalibration(ctx context.Context, subjectID string) (*models.SubjectCalibration, error)
	SaveCalibration(ctx context.Context, cal *models.SubjectCalibration) error
}

type calibrationRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

func NewCalibrationRepository(db *sqlx.DB, logger *zap.Logger) CalibrationRepository {
	return &calibrationRepository{db: db, logger: logger}
}

func (r *calibrationRepository) GetCalibration(ctx context.Context, subjectID string) (*models.SubjectCalibration, error) {
	var cal models.SubjectCalibration
	query := r.db.Rebind(`SELECT subject_id, trend_weight, pattern_weight, text_weight, false_positives, updated_at
		FROM calibrations WHERE subject_id = ?`)
	err := r.db.QueryRowxContext(ctx, query, subjectID).StructScan(&cal)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	cal.UpdatedAt = cal.UpdatedAt.UTC()
	return &cal, nil
}

func (r *calibrationRepository) SaveCalibration(ctx context.Context, cal *models.SubjectCalibration) error {
	query := r.db.Rebind(`INSERT INTO calibrations
		(subject_id, trend_weight, pattern_weight, text_weight, false_positives, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (subject_id) DO UPDATE SET
			trend_weight = excluded.trend_weight,
			pattern_weight = excluded.pattern_weight,
			text_weight = excluded.text_weight,
			false_positives = excluded.false_positives,
			updated_at = excluded.updated_at`)
	_, err := r.db.ExecContext(ctx, query, cal.SubjectID, cal.TrendWeight, cal.PatternWeight, cal.TextWeight,
		cal.FalsePositives, cal.UpdatedAt.UTC())
	return err
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
