package repository

import (
	"context"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"crisis-engine/internal/crypto"
	"crisis-engine/internal/models"
	"crisis-engine/internal/review"
	"crisis-engine/internal/signals"
)

func newTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := NewDB("sqlite", ":memory:", zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, MigrateDB(db, ""))
	t.Cleanup(func() { db.Close() })
	return db
}

func newKeyManager(t *testing.T) *crypto.KeyManager {
	t.Helper()
	master, err := crypto.GenerateKey()
	require.NoError(t, err)
	km, err := crypto.NewKeyManagerFromKey(master)
	require.NoError(t, err)
	return km
}

func TestMigrateDB_Idempotent(t *testing.T) {
	db := newTestDB(t)
	assert.NoError(t, MigrateDB(db, ""))
}

func TestNewDB_RejectsUnknownType(t *testing.T) {
	_, err := NewDB("mysql", "whatever", zap.NewNop())
	assert.Error(t, err)
}

func TestSignalRepository_FetchesWithinWindow(t *testing.T) {
	ctx := context.Background()
	repo := NewSignalRepository(newTestDB(t), newKeyManager(t), zap.NewNop())
	now := time.Now().UTC()

	require.NoError(t, repo.CreateSubject(ctx, "s-1"))
	require.NoError(t, repo.CreateSubject(ctx, "s-1"))
	for i, v := range []float64{6, 5, 4} {
		require.NoError(t, repo.AddSample(ctx, "s-1", models.TimeSeriesSample{
			Kind: models.KindMood, Value: v, Timestamp: now.Add(time.Duration(i-3) * time.Hour),
		}))
	}
	require.NoError(t, repo.AddSample(ctx, "s-1", models.TimeSeriesSample{
		Kind: models.KindMood, Value: 9, Timestamp: now.Add(-200 * time.Hour),
	}))
	require.NoError(t, repo.AddSample(ctx, "s-1", models.TimeSeriesSample{
		Kind: models.KindSleepHours, Value: 4.5, Timestamp: now.Add(-time.Hour),
	}))

	mood, err := repo.FetchMoodHistory(ctx, "s-1", 168)
	require.NoError(t, err)
	require.Len(t, mood, 3)
	assert.Equal(t, []float64{6, 5, 4}, []float64{mood[0].Value, mood[1].Value, mood[2].Value})
	assert.Equal(t, models.KindMood, mood[0].Kind)

	sleep, err := repo.FetchSleepData(ctx, "s-1", 168)
	require.NoError(t, err)
	require.Len(t, sleep, 1)

	activity, err := repo.FetchActivityData(ctx, "s-1", 168)
	require.NoError(t, err)
	assert.Empty(t, activity)
}

func TestSignalRepository_UnknownSubject(t *testing.T) {
	repo := NewSignalRepository(newTestDB(t), newKeyManager(t), zap.NewNop())

	_, err := repo.FetchMoodHistory(context.Background(), "ghost", 168)
	assert.ErrorIs(t, err, signals.ErrSubjectNotFound)
	_, err = repo.FetchBehavioralPatterns(context.Background(), "ghost")
	assert.ErrorIs(t, err, signals.ErrSubjectNotFound)
}

func TestSignalRepository_TextEntriesEncryptedAtRest(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := NewSignalRepository(db, newKeyManager(t), zap.NewNop())
	now := time.Now().UTC()

	require.NoError(t, repo.CreateSubject(ctx, "s-1"))
	require.NoError(t, repo.AddTextEntry(ctx, "s-1", "i feel hopeless", now.Add(-2*time.Hour)))
	require.NoError(t, repo.AddTextEntry(ctx, "s-1", "slept badly", now.Add(-time.Hour)))

	var stored []string
	require.NoError(t, db.Select(&stored, `SELECT ciphertext FROM text_entries`))
	require.Len(t, stored, 2)
	assert.NotContains(t, stored, "i feel hopeless")

	texts, err := repo.FetchTextEntries(ctx, "s-1", 168)
	require.NoError(t, err)
	assert.Equal(t, []string{"i feel hopeless", "slept badly"}, texts)
}

func TestSignalRepository_UndecryptableEntrySkipped(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := NewSignalRepository(db, newKeyManager(t), zap.NewNop())

	require.NoError(t, repo.CreateSubject(ctx, "s-1"))
	require.NoError(t, repo.AddTextEntry(ctx, "s-1", "still here", time.Now().UTC()))
	_, err := db.Exec(`INSERT INTO text_entries (subject_id, ciphertext, recorded_at) VALUES (?, ?, ?)`,
		"s-1", "garbage", time.Now().UTC())
	require.NoError(t, err)

	texts, err := repo.FetchTextEntries(ctx, "s-1", 168)
	require.NoError(t, err)
	assert.Equal(t, []string{"still here"}, texts)
}

func TestSignalRepository_PatternsAndSocial(t *testing.T) {
	ctx := context.Background()
	repo := NewSignalRepository(newTestDB(t), newKeyManager(t), zap.NewNop())
	now := time.Now().UTC()

	require.NoError(t, repo.CreateSubject(ctx, "s-1"))
	p := models.BehavioralPattern{
		PatternID: "p-1", Type: models.PatternSleepDisruption, Frequency: 3, Severity: 0.4,
		DurationDays: 5, LastOccurrence: now.Add(-time.Hour), Trend: models.TrendStable,
	}
	require.NoError(t, repo.UpsertPattern(ctx, "s-1", p))
	p.Severity = 0.7
	p.Trend = models.TrendWorsening
	require.NoError(t, repo.UpsertPattern(ctx, "s-1", p))

	patterns, err := repo.FetchBehavioralPatterns(ctx, "s-1")
	require.NoError(t, err)
	require.Len(t, patterns, 1)
	assert.Equal(t, 0.7, patterns[0].Severity)
	assert.Equal(t, models.TrendWorsening, patterns[0].Trend)
	assert.True(t, patterns[0].LastOccurrence.Equal(p.LastOccurrence))

	require.NoError(t, repo.AddSocialInteraction(ctx, "s-1", models.SocialInteraction{
		Type: "message", Count: 4, Timestamp: now.Add(-3 * time.Hour),
	}))
	social, err := repo.FetchSocialInteractions(ctx, "s-1", 168)
	require.NoError(t, err)
	require.Len(t, social, 1)
	assert.Equal(t, 4, social[0].Count)
}

func sampleAssessment(id, subject string, at time.Time) *models.CrisisRiskAssessment {
	return &models.CrisisRiskAssessment{
		ID:                  id,
		UserID:              subject,
		Timestamp:           at,
		RiskScore:           62.5,
		RiskLevel:           models.RiskHigh,
		Confidence:          0.85,
		ContributingFactors: []models.Factor{models.FactorText, models.FactorTrend},
		Components:          map[models.Factor]float64{models.FactorText: 40, models.FactorTrend: 22.5},
		RequiresHumanReview: true,
		ModelVersion:        "heuristic-fusion-v1",
	}
}

func TestAssessmentRepository_RoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := NewAssessmentRepository(newTestDB(t), zap.NewNop())
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	a := sampleAssessment("a-1", "s-1", at)
	a.Degraded = []string{models.SignalSleep}
	require.NoError(t, repo.SaveAssessment(ctx, a))
	// Saving twice is a no-op.
	require.NoError(t, repo.SaveAssessment(ctx, a))

	got, err := repo.GetAssessment(ctx, "a-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Timestamp.Equal(at))
	got.Timestamp = a.Timestamp
	assert.Equal(t, *a, *got)

	missing, err := repo.GetAssessment(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestAssessmentRepository_ListRecentOldestFirst(t *testing.T) {
	ctx := context.Background()
	repo := NewAssessmentRepository(newTestDB(t), zap.NewNop())
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"a-1", "a-2", "a-3", "a-4"} {
		require.NoError(t, repo.SaveAssessment(ctx, sampleAssessment(id, "s-1", base.Add(time.Duration(i)*time.Hour))))
	}
	require.NoError(t, repo.SaveAssessment(ctx, sampleAssessment("b-1", "s-2", base)))

	recent, err := repo.ListRecentAssessments(ctx, "s-1", 3)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, "a-2", recent[0].ID)
	assert.Equal(t, "a-4", recent[2].ID)
	assert.Nil(t, recent[0].Degraded)
}

func TestReviewRepository_Lifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewReviewRepository(newTestDB(t), zap.NewNop())
	requested := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	rec := &models.HumanReviewRecord{
		ID: "r-1", AssessmentRef: "a-1", SubjectID: "s-1", RiskLevel: models.RiskCritical,
		Status: models.ReviewPending, RequestedAt: requested,
	}
	require.NoError(t, store.Create(ctx, rec))

	got, err := store.GetByAssessment(ctx, "a-1")
	require.NoError(t, err)
	assert.Equal(t, "r-1", got.ID)
	assert.Nil(t, got.Verdict)
	assert.Nil(t, got.ResolvedAt)

	pending, err := store.ListPending(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	verdict := models.VerdictFalsePositive
	actual := models.RiskLow
	reviewer := "dr-lee"
	resolved := requested.Add(time.Hour)
	got.Status = models.ReviewResolved
	got.Verdict = &verdict
	got.ActualRiskLevel = &actual
	got.Reviewer = &reviewer
	got.ResolvedAt = &resolved
	require.NoError(t, store.Update(ctx, got))

	after, err := store.Get(ctx, "r-1")
	require.NoError(t, err)
	assert.True(t, after.Resolved())
	require.NotNil(t, after.Verdict)
	assert.Equal(t, verdict, *after.Verdict)
	assert.Equal(t, actual, *after.ActualRiskLevel)
	assert.Equal(t, reviewer, *after.Reviewer)
	require.NotNil(t, after.ResolvedAt)
	assert.True(t, after.ResolvedAt.Equal(resolved))

	pending, err = store.ListPending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	bySubject, err := store.ListBySubject(ctx, "s-1")
	require.NoError(t, err)
	assert.Len(t, bySubject, 1)
}

func TestReviewRepository_NotFound(t *testing.T) {
	ctx := context.Background()
	store := NewReviewRepository(newTestDB(t), zap.NewNop())

	_, err := store.Get(ctx, "nope")
	assert.ErrorIs(t, err, review.ErrReviewNotFound)
	_, err = store.GetByAssessment(ctx, "nope")
	assert.ErrorIs(t, err, review.ErrReviewNotFound)
	err = store.Update(ctx, &models.HumanReviewRecord{ID: "nope", Status: models.ReviewResolved})
	assert.ErrorIs(t, err, review.ErrReviewNotFound)
}

func TestReviewRepository_BacksWorkstream(t *testing.T) {
	ctx := context.Background()
	ws := review.NewWorkstream(NewReviewRepository(newTestDB(t), zap.NewNop()), zap.NewNop())
	a := sampleAssessment("a-9", "s-9", time.Now().UTC())

	rec, created, err := ws.RequestReview(ctx, a, nil)
	require.NoError(t, err)
	assert.True(t, created)

	again, created, err := ws.RequestReview(ctx, a, nil)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, rec.ID, again.ID)

	_, err = ws.RecordVerdict(ctx, rec.ID, models.VerdictConfirmed, nil, nil, nil)
	require.NoError(t, err)

	_, _, err = ws.RequestReview(ctx, a, nil)
	assert.ErrorIs(t, err, review.ErrReviewResolved)
}

func TestCalibrationRepository_Upsert(t *testing.T) {
	ctx := context.Background()
	repo := NewCalibrationRepository(newTestDB(t), zap.NewNop())

	missing, err := repo.GetCalibration(ctx, "s-1")
	require.NoError(t, err)
	assert.Nil(t, missing)

	cal := &models.SubjectCalibration{
		SubjectID: "s-1", TrendWeight: 0.3, PatternWeight: 0.3, TextWeight: 0.3,
		UpdatedAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, repo.SaveCalibration(ctx, cal))
	cal.TextWeight = 0.24
	cal.FalsePositives = 1
	require.NoError(t, repo.SaveCalibration(ctx, cal))

	got, err := repo.GetCalibration(ctx, "s-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 0.24, got.TextWeight)
	assert.Equal(t, 1, got.FalsePositives)
	assert.True(t, got.UpdatedAt.Equal(cal.UpdatedAt))
}
