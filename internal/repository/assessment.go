package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"crisis-engine/internal/models"
)

// AssessmentRepository is the append-only assessment audit trail.
type AssessmentRepository interface {
	SaveAssessment(ctx context.Context, a *models.CrisisRiskAssessment) error
	GetAssessment(ctx context.Context, id string) (*models.CrisisRiskAssessment, error)
	ListRecentAssessments(ctx context.Context, subjectID string, limit int) ([]models.CrisisRiskAssessment, error)
}

type assessmentRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

func NewAssessmentRepository(db *sqlx.DB, logger *zap.Logger) AssessmentRepository {
	return &assessmentRepository{db: db, logger: logger}
}

// assessmentRow carries the JSON encoded collections of an assessment.
type assessmentRow struct {
	models.CrisisRiskAssessment
	FactorsJSON    string `db:"contributing_factors"`
	ComponentsJSON string `db:"components"`
	DegradedJSON   string `db:"degraded"`
}

const assessmentColumns = `id, subject_id, assessed_at, risk_score, risk_level, confidence,
	contributing_factors, components, requires_human_review, model_version, degraded`

func (r *assessmentRepository) SaveAssessment(ctx context.Context, a *models.CrisisRiskAssessment) error {
	factors, err := json.Marshal(nonNilFactors(a.ContributingFactors))
	if err != nil {
		return fmt.Errorf("failed to marshal factors: %w", err)
	}
	components, err := json.Marshal(a.Components)
	if err != nil {
		return fmt.Errorf("failed to marshal components: %w", err)
	}
	degraded, err := json.Marshal(nonNilStrings(a.Degraded))
	if err != nil {
		return fmt.Errorf("failed to marshal degraded signals: %w", err)
	}

	query := r.db.Rebind(`INSERT INTO assessments (` + assessmentColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`)
	_, err = r.db.ExecContext(ctx, query, a.ID, a.UserID, a.Timestamp.UTC(), a.RiskScore, a.RiskLevel, a.Confidence,
		string(factors), string(components), a.RequiresHumanReview, a.ModelVersion, string(degraded))
	return err
}

func (r *assessmentRepository) GetAssessment(ctx context.Context, id string) (*models.CrisisRiskAssessment, error) {
	var row assessmentRow
	query := r.db.Rebind(`SELECT ` + assessmentColumns + ` FROM assessments WHERE id = ?`)
	err := r.db.QueryRowxContext(ctx, query, id).StructScan(&row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	a, err := row.decode()
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// ListRecentAssessments returns the newest limit assessments of a subject,
// oldest first.
func (r *assessmentRepository) ListRecentAssessments(ctx context.Context, subjectID string, limit int) ([]models.CrisisRiskAssessment, error) {
	var rows []assessmentRow
	query := r.db.Rebind(`SELECT ` + assessmentColumns + ` FROM assessments
		WHERE subject_id = ? ORDER BY assessed_at DESC, id DESC LIMIT ?`)
	if err := r.db.SelectContext(ctx, &rows, query, subjectID, limit); err != nil {
		return nil, err
	}

	out := make([]models.CrisisRiskAssessment, len(rows))
	for i, row := range rows {
		a, err := row.decode()
		if err != nil {
			return nil, err
		}
		out[len(rows)-1-i] = a
	}
	return out, nil
}

func (row assessmentRow) decode() (models.CrisisRiskAssessment, error) {
	a := row.CrisisRiskAssessment
	a.Timestamp = a.Timestamp.UTC()
	if err := json.Unmarshal([]byte(row.FactorsJSON), &a.ContributingFactors); err != nil {
		return a, fmt.Errorf("failed to decode factors of assessment %s: %w", a.ID, err)
	}
	if err := json.Unmarshal([]byte(row.ComponentsJSON), &a.Components); err != nil {
		return a, fmt.Errorf("failed to decode components of assessment %s: %w", a.ID, err)
	}
	if err := json.Unmarshal([]byte(row.DegradedJSON), &a.Degraded); err != nil {
		return a, fmt.Errorf("failed to decode degraded signals of assessment %s: %w", a.ID, err)
	}
	if len(a.Degraded) == 0 {
		a.Degraded = nil
	}
	return a, nil
}

func nonNilFactors(f []models.Factor) []models.Factor {
	if f == nil {
		return []models.Factor{}
	}
	return f
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
