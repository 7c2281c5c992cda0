// Package scoring fuses a signal bundle into a crisis risk assessment.
//
// Score is pure: the same bundle and calibration always produce the same
// assessment, including its ID. Each factor contributes
// 100 * weight * component points, and weights are never renormalised
// against each other, so lowering one factor's weight cannot move
// another factor's contribution.
package scoring

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/google/uuid"

	"crisis-engine/internal/config"
	"crisis-engine/internal/models"
)

// ErrInvalidBundle is returned when a bundle cannot be scored.
var ErrInvalidBundle = errors.New("invalid signal bundle")

// Scorer holds the scoring parameters shared by every subject.
type Scorer struct {
	cfg config.Scoring
}

// NewScorer creates a scorer from the scoring configuration.
func NewScorer(cfg config.Scoring) *Scorer {
	return &Scorer{cfg: cfg}
}

// ModelVersion is stamped on every assessment.
func (s *Scorer) ModelVersion() string {
	return s.cfg.ModelVersion
}

// DefaultCalibration returns the uncalibrated weights for a subject.
func (s *Scorer) DefaultCalibration(subjectID string) models.SubjectCalibration {
	return models.SubjectCalibration{
		SubjectID:     subjectID,
		TrendWeight:   s.cfg.Weights.Trend,
		PatternWeight: s.cfg.Weights.Pattern,
		TextWeight:    s.cfg.Weights.Text,
	}
}

// BaseWeight is the configured default weight of factor f.
func (s *Scorer) BaseWeight(f models.Factor) float64 {
	switch f {
	case models.FactorTrend:
		return s.cfg.Weights.Trend
	case models.FactorPattern:
		return s.cfg.Weights.Pattern
	case models.FactorText:
		return s.cfg.Weights.Text
	}
	return 0
}

// LevelOf buckets a score. It is monotonic in score.
func (s *Scorer) LevelOf(score float64) models.RiskLevel {
	t := s.cfg.Thresholds
	switch {
	case score >= t.Imminent:
		return models.RiskImminent
	case score >= t.Critical:
		return models.RiskCritical
	case score >= t.High:
		return models.RiskHigh
	case score >= t.Moderate:
		return models.RiskModerate
	default:
		return models.RiskLow
	}
}

// RequiresReview reports whether an assessment with this level and
// confidence must be seen by a human.
func RequiresReview(level models.RiskLevel, confidence float64) bool {
	return level.AtLeast(models.RiskHigh) || confidence < 0.5
}

// Score fuses bundle into an assessment using the subject's calibration.
func (s *Scorer) Score(bundle *models.SignalBundle, cal models.SubjectCalibration) (*models.CrisisRiskAssessment, error) {
	if err := validate(bundle, cal); err != nil {
		return nil, err
	}

	components := map[models.Factor]float64{
		models.FactorTrend:   trendComponent(bundle),
		models.FactorPattern: patternComponent(bundle),
		models.FactorText:    textComponent(bundle.TextAnalysis),
	}

	contributions := make(map[models.Factor]float64, len(components))
	total := 0.0
	for _, f := range models.Factors {
		points := 100 * cal.Weight(f) * components[f]
		if f == models.FactorText {
			points = math.Max(points, s.textFloor(bundle.TextAnalysis.SeverityHint, cal))
		}
		points = round2(points)
		contributions[f] = points
		total += points
	}

	var factors []models.Factor
	for _, f := range models.Factors {
		if contributions[f] > 0 {
			factors = append(factors, f)
		}
	}
	sort.SliceStable(factors, func(i, j int) bool {
		return contributions[factors[i]] > contributions[factors[j]]
	})

	score := round2(clamp(total, 0, 100))
	level := s.LevelOf(score)
	confidence := s.confidence(bundle, len(factors))

	return &models.CrisisRiskAssessment{
		ID:                  assessmentID(bundle, s.cfg.ModelVersion, score),
		UserID:              bundle.SubjectID,
		Timestamp:           bundle.CollectedAt,
		RiskScore:           score,
		RiskLevel:           level,
		Confidence:          confidence,
		ContributingFactors: factors,
		Components:          contributions,
		RequiresHumanReview: RequiresReview(level, confidence),
		ModelVersion:        s.cfg.ModelVersion,
		Degraded:            append([]string(nil), bundle.Degraded...),
	}, nil
}

// textFloor keeps high and critical text from being averaged away by
// quiet time series. It scales with the subject's text weight so that
// false-positive feedback lowers it too.
func (s *Scorer) textFloor(hint models.SeverityHint, cal models.SubjectCalibration) float64 {
	var floor float64
	switch hint {
	case models.SeverityCritical:
		floor = s.cfg.CriticalTextFloor
	case models.SeverityHigh:
		floor = s.cfg.HighTextFloor
	default:
		return 0
	}
	if s.cfg.Weights.Text <= 0 {
		return 0
	}
	return floor * cal.TextWeight / s.cfg.Weights.Text
}

func (s *Scorer) confidence(bundle *models.SignalBundle, contributing int) float64 {
	c := 0.7
	if contributing >= 2 {
		c += 0.15
	}
	samples := len(bundle.Mood) + len(bundle.Sleep) + len(bundle.Activity)
	switch {
	case samples >= 2*s.cfg.MinSamples:
		c += 0.1
	case samples < s.cfg.MinSamples:
		c -= 0.25
	}
	c -= 0.15 * float64(len(bundle.Degraded))
	return round2(clamp(c, 0.05, 0.99))
}

func assessmentID(bundle *models.SignalBundle, version string, score float64) string {
	name := fmt.Sprintf("%s|%d|%s|%.2f", bundle.SubjectID, bundle.CollectedAt.UnixNano(), version, score)
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)).String()
}

func validate(bundle *models.SignalBundle, cal models.SubjectCalibration) error {
	if bundle == nil {
		return fmt.Errorf("%w: nil bundle", ErrInvalidBundle)
	}
	if bundle.SubjectID == "" {
		return fmt.Errorf("%w: missing subject", ErrInvalidBundle)
	}
	if bundle.CollectedAt.IsZero() {
		return fmt.Errorf("%w: missing collection time", ErrInvalidBundle)
	}
	for _, series := range []models.TimeSeries{bundle.Mood, bundle.Sleep, bundle.Activity} {
		for _, sample := range series {
			if !finite(sample.Value) {
				return fmt.Errorf("%w: non-finite %s sample at %s", ErrInvalidBundle, sample.Kind, sample.Timestamp)
			}
		}
	}
	for _, p := range bundle.Patterns {
		if !unit(p.Severity) {
			return fmt.Errorf("%w: pattern %s severity %v outside [0,1]", ErrInvalidBundle, p.PatternID, p.Severity)
		}
	}
	for _, si := range bundle.SocialInteractions {
		if si.Count < 0 {
			return fmt.Errorf("%w: negative %s interaction count", ErrInvalidBundle, si.Type)
		}
	}
	ta := bundle.TextAnalysis
	if !unit(ta.Confidence) {
		return fmt.Errorf("%w: text confidence %v outside [0,1]", ErrInvalidBundle, ta.Confidence)
	}
	if ta.SeverityHint != "" && ta.SeverityHint.Rank() < 0 {
		return fmt.Errorf("%w: unknown severity hint %q", ErrInvalidBundle, ta.SeverityHint)
	}
	for _, f := range models.Factors {
		if w := cal.Weight(f); !finite(w) || w < 0 {
			return fmt.Errorf("%w: %s weight %v", ErrInvalidBundle, f, w)
		}
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func unit(v float64) bool {
	return finite(v) && v >= 0 && v <= 1
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
