// Package performance tracks how well assessments agree with reviewer
// verdicts.
package performance

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"crisis-engine/internal/models"
)

var (
	predictionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "crisis",
		Subsystem: "model",
		Name:      "predictions_total",
		Help:      "Assessments produced, by risk level",
	}, []string{"risk_level"})

	outcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "crisis",
		Subsystem: "model",
		Name:      "labeled_outcomes_total",
		Help:      "Reviewer-labeled outcomes, by confusion matrix cell",
	}, []string{"cell"})

	qualityGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "crisis",
		Subsystem: "model",
		Name:      "quality",
		Help:      "Model quality as of the last health check",
	}, []string{"version", "metric"})
)

// Counts is the binary confusion matrix behind the metrics. An assessment
// counts as positive when its level is high or above.
type Counts struct {
	TruePositives  int64 `json:"truePositives"`
	FalsePositives int64 `json:"falsePositives"`
	TrueNegatives  int64 `json:"trueNegatives"`
	FalseNegatives int64 `json:"falseNegatives"`
}

// Tracker aggregates prediction quality. Metrics are recomputed from the
// counts, so the same outcomes in any order give the same result.
type Tracker struct {
	mu          sync.Mutex
	version     string
	total       int64
	counts      Counts
	lastUpdated time.Time
	now         func() time.Time
}

func NewTracker(version string) *Tracker {
	return &Tracker{
		version: version,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// RecordOutcome registers a new prediction when groundTruth is nil, and a
// labeled outcome for an earlier prediction otherwise.
func (t *Tracker) RecordOutcome(a *models.CrisisRiskAssessment, groundTruth *models.RiskLevel) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.lastUpdated = t.now()
	if groundTruth == nil {
		t.total++
		predictionsTotal.WithLabelValues(string(a.RiskLevel)).Inc()
		return
	}

	predicted := a.RiskLevel.AtLeast(models.RiskHigh)
	actual := groundTruth.AtLeast(models.RiskHigh)
	var cell string
	switch {
	case predicted && actual:
		t.counts.TruePositives++
		cell = "tp"
	case predicted && !actual:
		t.counts.FalsePositives++
		cell = "fp"
	case !predicted && actual:
		t.counts.FalseNegatives++
		cell = "fn"
	default:
		t.counts.TrueNegatives++
		cell = "tn"
	}
	outcomesTotal.WithLabelValues(cell).Inc()
}

// GetPerformance returns the current metrics.
func (t *Tracker) GetPerformance() models.ModelPerformance {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshot()
}

// Counts returns the confusion matrix.
func (t *Tracker) Counts() Counts {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts
}

// HealthCheck snapshots the metrics and exports them as gauges.
func (t *Tracker) HealthCheck() models.ModelPerformance {
	t.mu.Lock()
	p := t.snapshot()
	t.mu.Unlock()

	qualityGauge.WithLabelValues(p.Version, "accuracy").Set(p.Accuracy)
	qualityGauge.WithLabelValues(p.Version, "precision").Set(p.Precision)
	qualityGauge.WithLabelValues(p.Version, "recall").Set(p.Recall)
	qualityGauge.WithLabelValues(p.Version, "f1").Set(p.F1Score)
	return p
}

func (t *Tracker) snapshot() models.ModelPerformance {
	c := t.counts
	labeled := c.TruePositives + c.FalsePositives + c.TrueNegatives + c.FalseNegatives
	p := models.ModelPerformance{
		Version:          t.version,
		LastUpdated:      t.lastUpdated,
		TotalPredictions: t.total,
		LabeledOutcomes:  labeled,
	}
	if labeled == 0 {
		return p
	}
	p.Accuracy = ratio(c.TruePositives+c.TrueNegatives, labeled)
	p.Precision = ratio(c.TruePositives, c.TruePositives+c.FalsePositives)
	p.Recall = ratio(c.TruePositives, c.TruePositives+c.FalseNegatives)
	if p.Precision+p.Recall > 0 {
		p.F1Score = 2 * p.Precision * p.Recall / (p.Precision + p.Recall)
	}
	return p
}

func ratio(num, den int64) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}
