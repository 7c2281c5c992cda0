package models

import "time"

// ModelPerformance aggregates prediction quality across assessments.
// TotalPredictions only increases.
type ModelPerformance struct {
	Version          string    `json:"version"`
	Accuracy         float64   `json:"accuracy"`
	Precision        float64   `json:"precision"`
	Recall           float64   `json:"recall"`
	F1Score          float64   `json:"f1Score"`
	LastUpdated      time.Time `json:"lastUpdated"`
	TotalPredictions int64     `json:"totalPredictions"`
	LabeledOutcomes  int64     `json:"labeledOutcomes"`
}

// SubjectCalibration holds the per-subject component weights.
// Weights start at the configured defaults and only move through reviewer
// feedback.
type SubjectCalibration struct {
	SubjectID      string    `db:"subject_id" json:"subjectId"`
	TrendWeight    float64   `db:"trend_weight" json:"trendWeight"`
	PatternWeight  float64   `db:"pattern_weight" json:"patternWeight"`
	TextWeight     float64   `db:"text_weight" json:"textWeight"`
	FalsePositives int       `db:"false_positives" json:"falsePositives"`
	UpdatedAt      time.Time `db:"updated_at" json:"updatedAt"`
}

// Weight returns the weight of factor f.
func (c SubjectCalibration) Weight(f Factor) float64 {
	switch f {
	case FactorTrend:
		return c.TrendWeight
	case FactorPattern:
		return c.PatternWeight
	case FactorText:
		return c.TextWeight
	}
	return 0
}

// WithWeight returns a copy of c with factor f set to w.
func (c SubjectCalibration) WithWeight(f Factor, w float64) SubjectCalibration {
	switch f {
	case FactorTrend:
		c.TrendWeight = w
	case FactorPattern:
		c.PatternWeight = w
	case FactorText:
		c.TextWeight = w
	}
	return c
}
