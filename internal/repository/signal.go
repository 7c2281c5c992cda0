package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"crisis-engine/internal/models"
	"crisis-engine/internal/signals"
)

// TextCipher seals text entries at rest, one key per subject.
type TextCipher interface {
	EncryptText(subjectID, plaintext string) (string, error)
	DecryptText(subjectID, ciphertext string) (string, error)
}

// SignalRepository stores raw behavioral signals. It is the database
// backed signals.Source.
type SignalRepository interface {
	signals.Source
	CreateSubject(ctx context.Context, subjectID string) error
	AddSample(ctx context.Context, subjectID string, sample models.TimeSeriesSample) error
	AddTextEntry(ctx context.Context, subjectID, text string, recordedAt time.Time) error
	UpsertPattern(ctx context.Context, subjectID string, p models.BehavioralPattern) error
	AddSocialInteraction(ctx context.Context, subjectID string, si models.SocialInteraction) error
}

type signalRepository struct {
	db     *sqlx.DB
	cipher TextCipher
	logger *zap.Logger
	now    func() time.Time
}

func NewSignalRepository(db *sqlx.DB, cipher TextCipher, logger *zap.Logger) SignalRepository {
	return &signalRepository{
		db:     db,
		cipher: cipher,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (r *signalRepository) CreateSubject(ctx context.Context, subjectID string) error {
	query := r.db.Rebind(`INSERT INTO subjects (id, created_at) VALUES (?, ?) ON CONFLICT (id) DO NOTHING`)
	_, err := r.db.ExecContext(ctx, query, subjectID, r.now())
	return err
}

func (r *signalRepository) AddSample(ctx context.Context, subjectID string, s models.TimeSeriesSample) error {
	query := r.db.Rebind(`INSERT INTO signal_samples (subject_id, kind, value, recorded_at) VALUES (?, ?, ?, ?)`)
	_, err := r.db.ExecContext(ctx, query, subjectID, s.Kind, s.Value, s.Timestamp.UTC())
	return err
}

func (r *signalRepository) AddTextEntry(ctx context.Context, subjectID, text string, recordedAt time.Time) error {
	sealed, err := r.cipher.EncryptText(subjectID, text)
	if err != nil {
		return fmt.Errorf("failed to encrypt text entry: %w", err)
	}
	query := r.db.Rebind(`INSERT INTO text_entries (subject_id, ciphertext, recorded_at) VALUES (?, ?, ?)`)
	_, err = r.db.ExecContext(ctx, query, subjectID, sealed, recordedAt.UTC())
	return err
}

func (r *signalRepository) UpsertPattern(ctx context.Context, subjectID string, p models.BehavioralPattern) error {
	query := r.db.Rebind(`INSERT INTO behavioral_patterns
		(pattern_id, subject_id, type, frequency, severity, duration_days, last_occurrence, trend)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (pattern_id) DO UPDATE SET
			frequency = excluded.frequency,
			severity = excluded.severity,
			duration_days = excluded.duration_days,
			last_occurrence = excluded.last_occurrence,
			trend = excluded.trend`)
	_, err := r.db.ExecContext(ctx, query, p.PatternID, subjectID, p.Type, p.Frequency, p.Severity,
		p.DurationDays, p.LastOccurrence.UTC(), p.Trend)
	return err
}

func (r *signalRepository) AddSocialInteraction(ctx context.Context, subjectID string, si models.SocialInteraction) error {
	query := r.db.Rebind(`INSERT INTO social_interactions (subject_id, type, count, recorded_at) VALUES (?, ?, ?, ?)`)
	_, err := r.db.ExecContext(ctx, query, subjectID, si.Type, si.Count, si.Timestamp.UTC())
	return err
}

func (r *signalRepository) FetchMoodHistory(ctx context.Context, subjectID string, windowHours int) (models.TimeSeries, error) {
	return r.fetchSeries(ctx, subjectID, models.KindMood, windowHours)
}

func (r *signalRepository) FetchSleepData(ctx context.Context, subjectID string, windowHours int) (models.TimeSeries, error) {
	return r.fetchSeries(ctx, subjectID, models.KindSleepHours, windowHours)
}

func (r *signalRepository) FetchActivityData(ctx context.Context, subjectID string, windowHours int) (models.TimeSeries, error) {
	return r.fetchSeries(ctx, subjectID, models.KindSteps, windowHours)
}

func (r *signalRepository) FetchTextEntries(ctx context.Context, subjectID string, windowHours int) ([]string, error) {
	if err := r.ensureSubject(ctx, subjectID); err != nil {
		return nil, err
	}

	var sealed []string
	query := r.db.Rebind(`SELECT ciphertext FROM text_entries
		WHERE subject_id = ? AND recorded_at >= ? ORDER BY recorded_at, id`)
	if err := r.db.SelectContext(ctx, &sealed, query, subjectID, r.since(windowHours)); err != nil {
		return nil, err
	}

	texts := make([]string, 0, len(sealed))
	for _, s := range sealed {
		text, err := r.cipher.DecryptText(subjectID, s)
		if err != nil {
			// One unreadable entry must not hide the rest.
			r.logger.Warn("Failed to decrypt text entry", zap.String("subject_id", subjectID), zap.Error(err))
			continue
		}
		texts = append(texts, text)
	}
	return texts, nil
}

func (r *signalRepository) FetchBehavioralPatterns(ctx context.Context, subjectID string) ([]models.BehavioralPattern, error) {
	if err := r.ensureSubject(ctx, subjectID); err != nil {
		return nil, err
	}

	var patterns []models.BehavioralPattern
	query := r.db.Rebind(`SELECT pattern_id, type, frequency, severity, duration_days, last_occurrence, trend
		FROM behavioral_patterns WHERE subject_id = ? ORDER BY pattern_id`)
	if err := r.db.SelectContext(ctx, &patterns, query, subjectID); err != nil {
		return nil, err
	}
	for i := range patterns {
		patterns[i].LastOccurrence = patterns[i].LastOccurrence.UTC()
	}
	return patterns, nil
}

func (r *signalRepository) FetchSocialInteractions(ctx context.Context, subjectID string, windowHours int) ([]models.SocialInteraction, error) {
	if err := r.ensureSubject(ctx, subjectID); err != nil {
		return nil, err
	}

	var out []models.SocialInteraction
	query := r.db.Rebind(`SELECT type, count, recorded_at FROM social_interactions
		WHERE subject_id = ? AND recorded_at >= ? ORDER BY recorded_at, id`)
	if err := r.db.SelectContext(ctx, &out, query, subjectID, r.since(windowHours)); err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Timestamp = out[i].Timestamp.UTC()
	}
	return out, nil
}

func (r *signalRepository) fetchSeries(ctx context.Context, subjectID string, kind models.SampleKind, windowHours int) (models.TimeSeries, error) {
	if err := r.ensureSubject(ctx, subjectID); err != nil {
		return nil, err
	}

	var series models.TimeSeries
	query := r.db.Rebind(`SELECT kind, value, recorded_at FROM signal_samples
		WHERE subject_id = ? AND kind = ? AND recorded_at >= ? ORDER BY recorded_at, id`)
	if err := r.db.SelectContext(ctx, &series, query, subjectID, kind, r.since(windowHours)); err != nil {
		return nil, err
	}
	for i := range series {
		series[i].Timestamp = series[i].Timestamp.UTC()
	}
	return series, nil
}

func (r *signalRepository) ensureSubject(ctx context.Context, subjectID string) error {
	var n int
	query := r.db.Rebind(`SELECT COUNT(*) FROM subjects WHERE id = ?`)
	if err := r.db.GetContext(ctx, &n, query, subjectID); err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", signals.ErrSubjectNotFound, subjectID)
	}
	return nil
}

func (r *signalRepository) since(windowHours int) time.Time {
	return r.now().Add(-time.Duration(windowHours) * time.Hour)
}
