package scoring

import (
	"math"
	"sort"
	"time"

	"crisis-engine/internal/models"
)

// seriesScale is the decline, in the series' own unit, that counts as a
// full-strength trend signal.
type seriesScale struct {
	weight float64
	scale  func(firstMean float64) float64
}

var (
	moodScale     = seriesScale{weight: 0.5, scale: func(float64) float64 { return 5 }}
	sleepScale    = seriesScale{weight: 0.2, scale: func(float64) float64 { return 3 }}
	activityScale = seriesScale{weight: 0.15, scale: func(float64) float64 { return 5000 }}
	// Social counts vary too much between people for an absolute scale.
	socialScale   = seriesScale{weight: 0.15, scale: func(first float64) float64 { return math.Max(first, 1) }}
)

// trendComponent compares the second half of each series with the first
// half. Only declines are concerning. Series with fewer than two samples
// do not take part.
func trendComponent(bundle *models.SignalBundle) float64 {
	var sum, weights float64
	add := func(values []float64, sc seriesScale) {
		if len(values) < 2 {
			return
		}
		half := len(values) / 2
		first, second := mean(values[:half]), mean(values[half:])
		concern := clamp((first-second)/sc.scale(first), 0, 1)
		sum += sc.weight * concern
		weights += sc.weight
	}

	add(seriesValues(bundle.Mood), moodScale)
	add(seriesValues(bundle.Sleep), sleepScale)
	add(seriesValues(bundle.Activity), activityScale)
	add(dailyCounts(bundle.SocialInteractions), socialScale)

	if weights == 0 {
		return 0
	}
	return sum / weights
}

var trendMultiplier = map[models.Trend]float64{
	models.TrendWorsening: 1.5,
	models.TrendStable:    1.0,
	models.TrendImproving: 0.7,
}

// patternComponent is the strongest active pattern, weighted by its trend.
// A pattern is active when it last occurred inside the window.
func patternComponent(bundle *models.SignalBundle) float64 {
	var windowStart time.Time
	if bundle.WindowHours > 0 {
		windowStart = bundle.CollectedAt.Add(-time.Duration(bundle.WindowHours) * time.Hour)
	}

	best := 0.0
	for _, p := range bundle.Patterns {
		if !p.LastOccurrence.IsZero() && p.LastOccurrence.Before(windowStart) {
			continue
		}
		multiplier, ok := trendMultiplier[p.Trend]
		if !ok {
			multiplier = 1.0
		}
		best = math.Max(best, p.Severity*multiplier)
	}
	return clamp(best, 0, 1)
}

var severityBase = map[models.SeverityHint]float64{
	models.SeverityNone:     0,
	models.SeverityLow:      0.25,
	models.SeverityModerate: 0.5,
	models.SeverityHigh:     0.75,
	models.SeverityCritical: 1,
}

func textComponent(ta models.TextAnalysisResult) float64 {
	return severityBase[ta.SeverityHint] * (0.5 + 0.5*ta.Confidence)
}

func seriesValues(series models.TimeSeries) []float64 {
	sorted := append(models.TimeSeries(nil), series...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})
	values := make([]float64, len(sorted))
	for i, s := range sorted {
		values[i] = s.Value
	}
	return values
}

// dailyCounts sums interactions per UTC day, oldest first.
func dailyCounts(interactions []models.SocialInteraction) []float64 {
	if len(interactions) == 0 {
		return nil
	}
	byDay := make(map[int64]float64)
	for _, si := range interactions {
		day := si.Timestamp.UTC().Truncate(24 * time.Hour).Unix()
		byDay[day] += float64(si.Count)
	}
	days := make([]int64, 0, len(byDay))
	for d := range byDay {
		days = append(days, d)
	}
	sort.Slice(days, func(i, j int) bool { return days[i] < days[j] })
	values := make([]float64, len(days))
	for i, d := range days {
		values[i] = byDay[d]
	}
	return values
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
