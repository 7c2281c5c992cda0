package models

import "time"

// SampleKind identifies what a TimeSeriesSample measures.
type SampleKind string

const (
	KindMood        SampleKind = "mood"         // self-reported, 1-10
	KindSleepHours  SampleKind = "sleep_hours"  // hours slept per night
	KindSteps       SampleKind = "steps"        // daily step count
	KindSocialCount SampleKind = "social_count" // interactions per bucket, derived from SocialInteraction
)

// TimeSeriesSample is a single timestamped measurement of one signal.
type TimeSeriesSample struct {
	Timestamp time.Time  `db:"recorded_at" json:"timestamp"`
	Value     float64    `db:"value" json:"value"`
	Kind      SampleKind `db:"kind" json:"kind"`
}

// TimeSeries is a sequence of samples ordered by timestamp.
type TimeSeries []TimeSeriesSample

// PatternType classifies a behavioral pattern detected upstream.
type PatternType string

const (
	PatternSleepDisruption  PatternType = "sleep_disruption"
	PatternSocialWithdrawal PatternType = "social_withdrawal"
	PatternMoodVolatility   PatternType = "mood_volatility"
	PatternActivityDecline  PatternType = "activity_decline"
	PatternAppetiteChange   PatternType = "appetite_change"
	PatternSubstanceUse     PatternType = "substance_use"
)

// Trend is the direction a pattern or a risk series is moving in.
type Trend string

const (
	TrendImproving Trend = "improving"
	TrendStable    Trend = "stable"
	TrendWorsening Trend = "worsening"
)

// BehavioralPattern is a recurring behavior detected by the signal store.
// The engine only reads it.
type BehavioralPattern struct {
	PatternID      string      `db:"pattern_id" json:"patternId"`
	Type           PatternType `db:"type" json:"type"`
	Frequency      int         `db:"frequency" json:"frequency"`
	Severity       float64     `db:"severity" json:"severity"` // 0..1
	DurationDays   int         `db:"duration_days" json:"durationDays"`
	LastOccurrence time.Time   `db:"last_occurrence" json:"lastOccurrence"`
	Trend          Trend       `db:"trend" json:"trend"`
}

// SocialInteraction is a count of interactions of one type in a bucket.
type SocialInteraction struct {
	Type      string    `db:"type" json:"type"` // "message", "call", "visit", ...
	Count     int       `db:"count" json:"count"`
	Timestamp time.Time `db:"recorded_at" json:"timestamp"`
}

// Signal names used when a fetch fails and the bundle is degraded.
const (
	SignalMood         = "mood"
	SignalSleep        = "sleep"
	SignalActivity     = "activity"
	SignalText         = "text"
	SignalPatterns     = "behavioral_patterns"
	SignalSocial       = "social"
	SignalTextAnalysis = "text_analysis"
)

// SignalBundle is everything known about one subject for one assessment
// cycle. It is built fresh per cycle and discarded after scoring.
type SignalBundle struct {
	SubjectID          string              `json:"subjectId"`
	WindowHours        int                 `json:"windowHours"`
	CollectedAt        time.Time           `json:"collectedAt"`
	Mood               TimeSeries          `json:"mood"`
	Sleep              TimeSeries          `json:"sleep"`
	Activity           TimeSeries          `json:"activity"`
	TextEntries        []string            `json:"-"`
	Patterns           []BehavioralPattern `json:"patterns"`
	SocialInteractions []SocialInteraction `json:"socialInteractions"`
	TextAnalysis       TextAnalysisResult  `json:"textAnalysis"`
	Degraded           []string            `json:"degraded,omitempty"` // signals that could not be fetched
}
