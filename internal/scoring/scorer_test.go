package scoring

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crisis-engine/internal/config"
	"crisis-engine/internal/models"
)

var collectedAt = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func newScorer() *Scorer {
	return NewScorer(config.Default().Scoring)
}

// series builds one sample per 12 hours ending at collectedAt.
func series(kind models.SampleKind, values ...float64) models.TimeSeries {
	out := make(models.TimeSeries, len(values))
	start := collectedAt.Add(-time.Duration(len(values)) * 12 * time.Hour)
	for i, v := range values {
		out[i] = models.TimeSeriesSample{Timestamp: start.Add(time.Duration(i) * 12 * time.Hour), Value: v, Kind: kind}
	}
	return out
}

func repeat(v float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func bundle(subject string) *models.SignalBundle {
	return &models.SignalBundle{
		SubjectID:    subject,
		WindowHours:  168,
		CollectedAt:  collectedAt,
		TextAnalysis: models.TextAnalysisResult{SeverityHint: models.SeverityNone},
	}
}

func decliningMoodBundle() *models.SignalBundle {
	b := bundle("subject-2")
	b.Mood = series(models.KindMood, append(repeat(7, 7), repeat(2, 7)...)...)
	b.Patterns = []models.BehavioralPattern{{
		PatternID:      "p-1",
		Type:           models.PatternSleepDisruption,
		Frequency:      4,
		Severity:       0.8,
		DurationDays:   6,
		LastOccurrence: collectedAt.Add(-24 * time.Hour),
		Trend:          models.TrendWorsening,
	}}
	return b
}

// TestScore_FlatMood checks a quiet subject stays low without review.
func TestScore_FlatMood(t *testing.T) {
	s := newScorer()
	b := bundle("subject-1")
	b.Mood = series(models.KindMood, repeat(5, 14)...)

	a, err := s.Score(b, s.DefaultCalibration("subject-1"))
	require.NoError(t, err)

	assert.Equal(t, models.RiskLow, a.RiskLevel)
	assert.Less(t, a.RiskScore, 25.0)
	assert.False(t, a.RequiresHumanReview)
	assert.Empty(t, a.ContributingFactors)
}

// TestScore_DecliningMoodWithWorseningPattern checks the combined scenario reaches high.
func TestScore_DecliningMoodWithWorseningPattern(t *testing.T) {
	s := newScorer()

	a, err := s.Score(decliningMoodBundle(), s.DefaultCalibration("subject-2"))
	require.NoError(t, err)

	assert.True(t, a.RiskLevel.AtLeast(models.RiskHigh), "got %s (%.2f)", a.RiskLevel, a.RiskScore)
	assert.True(t, a.RequiresHumanReview)
	assert.ElementsMatch(t, []models.Factor{models.FactorPattern, models.FactorTrend}, a.ContributingFactors)
	assert.Equal(t, "subject-2", a.UserID)
	assert.Equal(t, collectedAt, a.Timestamp)
}

func TestScore_Deterministic(t *testing.T) {
	s := newScorer()
	b := decliningMoodBundle()
	b.TextAnalysis = models.TextAnalysisResult{IndicatorsFound: []string{"hopeless"}, Confidence: 0.45, SeverityHint: models.SeverityHigh}
	b.SocialInteractions = []models.SocialInteraction{
		{Type: "message", Count: 10, Timestamp: collectedAt.Add(-6 * 24 * time.Hour)},
		{Type: "call", Count: 2, Timestamp: collectedAt.Add(-5 * 24 * time.Hour)},
		{Type: "message", Count: 1, Timestamp: collectedAt.Add(-24 * time.Hour)},
	}
	cal := s.DefaultCalibration("subject-2")

	first, err := s.Score(b, cal)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := s.Score(b, cal)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestLevelOf_Monotonic(t *testing.T) {
	s := newScorer()

	prev := s.LevelOf(0)
	for score := 0.0; score <= 100; score += 0.25 {
		level := s.LevelOf(score)
		assert.GreaterOrEqual(t, level.Rank(), prev.Rank(), "score %.2f", score)
		prev = level
	}

	assert.Equal(t, models.RiskLow, s.LevelOf(24.99))
	assert.Equal(t, models.RiskModerate, s.LevelOf(25))
	assert.Equal(t, models.RiskHigh, s.LevelOf(50))
	assert.Equal(t, models.RiskCritical, s.LevelOf(75))
	assert.Equal(t, models.RiskImminent, s.LevelOf(90))
}

// TestScore_ReviewGating checks the review flag over a spread of inputs.
func TestScore_ReviewGating(t *testing.T) {
	s := newScorer()
	hints := []models.SeverityHint{models.SeverityNone, models.SeverityLow, models.SeverityModerate, models.SeverityHigh, models.SeverityCritical}

	for _, hint := range hints {
		for _, severity := range []float64{0, 0.3, 0.6, 0.9} {
			for _, samples := range []int{0, 2, 14} {
				for _, degraded := range [][]string{nil, {models.SignalSleep}, {models.SignalSleep, models.SignalSocial}} {
					b := bundle("subject-3")
					b.Mood = series(models.KindMood, repeat(6, samples)...)
					b.Patterns = []models.BehavioralPattern{{PatternID: "p", Severity: severity, Trend: models.TrendStable}}
					b.TextAnalysis = models.TextAnalysisResult{Confidence: 0.6, SeverityHint: hint}
					b.Degraded = degraded

					a, err := s.Score(b, s.DefaultCalibration("subject-3"))
					require.NoError(t, err)

					want := a.RiskLevel.AtLeast(models.RiskHigh) || a.Confidence < 0.5
					assert.Equal(t, want, a.RequiresHumanReview)
					assert.GreaterOrEqual(t, a.RiskScore, 0.0)
					assert.LessOrEqual(t, a.RiskScore, 100.0)
					assert.Equal(t, s.LevelOf(a.RiskScore), a.RiskLevel)
				}
			}
		}
	}
}

func TestScore_CriticalTextAlone(t *testing.T) {
	s := newScorer()
	b := bundle("subject-4")
	b.Mood = series(models.KindMood, repeat(6, 14)...)
	b.TextAnalysis = models.TextAnalysisResult{IndicatorsFound: []string{"want to die"}, Confidence: 0.84, SeverityHint: models.SeverityCritical}

	a, err := s.Score(b, s.DefaultCalibration("subject-4"))
	require.NoError(t, err)

	assert.Equal(t, models.RiskCritical, a.RiskLevel)
	assert.Equal(t, []models.Factor{models.FactorText}, a.ContributingFactors)
	assert.True(t, a.RequiresHumanReview)
}

// TestScore_FalsePositiveScoping lowers the text weight and checks pattern
// and trend contributions are untouched.
func TestScore_FalsePositiveScoping(t *testing.T) {
	s := newScorer()
	b := decliningMoodBundle()
	base := s.DefaultCalibration("subject-2")
	lowered := base.WithWeight(models.FactorText, base.TextWeight*0.3)

	before, err := s.Score(b, base)
	require.NoError(t, err)
	after, err := s.Score(b, lowered)
	require.NoError(t, err)

	assert.Equal(t, before.Components[models.FactorPattern], after.Components[models.FactorPattern])
	assert.Equal(t, before.Components[models.FactorTrend], after.Components[models.FactorTrend])
	assert.Equal(t, before.RiskScore, after.RiskScore)
	assert.Equal(t, before.RiskLevel, after.RiskLevel)
}

func TestScore_LoweredTextWeightLowersTextFloor(t *testing.T) {
	s := newScorer()
	b := bundle("subject-5")
	b.Mood = series(models.KindMood, repeat(6, 14)...)
	b.TextAnalysis = models.TextAnalysisResult{Confidence: 0.6, SeverityHint: models.SeverityCritical}
	base := s.DefaultCalibration("subject-5")

	before, err := s.Score(b, base)
	require.NoError(t, err)
	after, err := s.Score(b, base.WithWeight(models.FactorText, base.TextWeight*0.8))
	require.NoError(t, err)

	assert.Less(t, after.Components[models.FactorText], before.Components[models.FactorText])
	assert.Greater(t, after.Components[models.FactorText], 0.0)
}

func TestScore_StalePatternIgnored(t *testing.T) {
	s := newScorer()
	b := bundle("subject-6")
	b.Mood = series(models.KindMood, repeat(6, 14)...)
	b.Patterns = []models.BehavioralPattern{{
		PatternID:      "old",
		Severity:       1,
		Trend:          models.TrendWorsening,
		LastOccurrence: collectedAt.Add(-30 * 24 * time.Hour),
	}}

	a, err := s.Score(b, s.DefaultCalibration("subject-6"))
	require.NoError(t, err)
	assert.Equal(t, 0.0, a.Components[models.FactorPattern])
}

func TestScore_ImprovingPatternDiscounted(t *testing.T) {
	s := newScorer()
	score := func(trend models.Trend) float64 {
		b := bundle("subject-7")
		b.Patterns = []models.BehavioralPattern{{PatternID: "p", Severity: 0.6, Trend: trend}}
		a, err := s.Score(b, s.DefaultCalibration("subject-7"))
		require.NoError(t, err)
		return a.Components[models.FactorPattern]
	}

	assert.Less(t, score(models.TrendImproving), score(models.TrendStable))
	assert.Less(t, score(models.TrendStable), score(models.TrendWorsening))
}

func TestScore_SocialWithdrawalCounts(t *testing.T) {
	s := newScorer()
	b := bundle("subject-8")
	for day := 6; day >= 0; day-- {
		count := 12
		if day < 3 {
			count = 1
		}
		b.SocialInteractions = append(b.SocialInteractions, models.SocialInteraction{
			Type:      "message",
			Count:     count,
			Timestamp: collectedAt.Add(-time.Duration(day) * 24 * time.Hour),
		})
	}

	a, err := s.Score(b, s.DefaultCalibration("subject-8"))
	require.NoError(t, err)
	assert.Greater(t, a.Components[models.FactorTrend], 0.0)
}

func TestScore_DegradedLowersConfidence(t *testing.T) {
	s := newScorer()
	b := bundle("subject-9")
	b.Mood = series(models.KindMood, repeat(5, 14)...)

	healthy, err := s.Score(b, s.DefaultCalibration("subject-9"))
	require.NoError(t, err)
	b.Degraded = []string{models.SignalSleep, models.SignalText, models.SignalSocial}
	degraded, err := s.Score(b, s.DefaultCalibration("subject-9"))
	require.NoError(t, err)

	assert.Less(t, degraded.Confidence, healthy.Confidence)
	assert.Less(t, degraded.Confidence, 0.5)
	assert.Equal(t, []string{models.SignalSleep, models.SignalText, models.SignalSocial}, degraded.Degraded)
	assert.True(t, degraded.RequiresHumanReview)
}

func TestScore_TiesBrokenByName(t *testing.T) {
	s := newScorer()
	b := bundle("subject-10")
	b.Mood = series(models.KindMood, append(repeat(7, 7), repeat(2, 7)...)...)
	b.Patterns = []models.BehavioralPattern{{PatternID: "p", Severity: 1, Trend: models.TrendStable}}

	a, err := s.Score(b, s.DefaultCalibration("subject-10"))
	require.NoError(t, err)
	assert.Equal(t, []models.Factor{models.FactorPattern, models.FactorTrend}, a.ContributingFactors)
}

func TestScore_InvalidBundle(t *testing.T) {
	s := newScorer()
	cal := s.DefaultCalibration("x")

	cases := map[string]func(b *models.SignalBundle){
		"empty subject":   func(b *models.SignalBundle) { b.SubjectID = "" },
		"no timestamp":    func(b *models.SignalBundle) { b.CollectedAt = time.Time{} },
		"nan sample":      func(b *models.SignalBundle) { b.Sleep = series(models.KindSleepHours, 7, math.NaN()) },
		"severity > 1":    func(b *models.SignalBundle) { b.Patterns = []models.BehavioralPattern{{PatternID: "p", Severity: 1.5}} },
		"text confidence": func(b *models.SignalBundle) { b.TextAnalysis.Confidence = -0.1 },
		"unknown hint":    func(b *models.SignalBundle) { b.TextAnalysis.SeverityHint = "extreme" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			b := bundle("x")
			mutate(b)
			_, err := s.Score(b, cal)
			assert.True(t, errors.Is(err, ErrInvalidBundle), "got %v", err)
		})
	}

	_, err := s.Score(nil, cal)
	assert.ErrorIs(t, err, ErrInvalidBundle)
}
