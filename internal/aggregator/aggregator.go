// Package aggregator assembles one SignalBundle per assessment cycle.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"crisis-engine/internal/models"
	"crisis-engine/internal/signals"
	"crisis-engine/internal/textanalysis"
)

// ErrInFlight is returned when an aggregation for the same subject is
// already running. No I/O is done.
var ErrInFlight = errors.New("aggregation already in flight")

var fetchFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "crisis",
	Subsystem: "signals",
	Name:      "fetch_failures_total",
	Help:      "Signal fetches that failed and left the bundle degraded",
}, []string{"signal"})

// signalOrder fixes the order of Degraded.
var signalOrder = []string{
	models.SignalMood,
	models.SignalSleep,
	models.SignalActivity,
	models.SignalText,
	models.SignalPatterns,
	models.SignalSocial,
}

// Aggregator fetches every signal of a subject concurrently. A failed
// fetch leaves that signal empty and marks the bundle degraded; only an
// unknown subject or the failure of every fetch is an error.
type Aggregator struct {
	source       signals.Source
	analyzer     textanalysis.Analyzer
	fetchTimeout time.Duration
	concurrency  int
	logger       *zap.Logger
	now          func() time.Time

	mu       sync.Mutex
	inFlight map[string]struct{}
}

func NewAggregator(source signals.Source, analyzer textanalysis.Analyzer, fetchTimeout time.Duration, concurrency int, logger *zap.Logger) *Aggregator {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Aggregator{
		source:       source,
		analyzer:     analyzer,
		fetchTimeout: fetchTimeout,
		concurrency:  concurrency,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
		inFlight:     make(map[string]struct{}),
	}
}

// InFlight reports whether an aggregation for subjectID is running.
func (a *Aggregator) InFlight(subjectID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.inFlight[subjectID]
	return ok
}

func (a *Aggregator) acquire(subjectID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.inFlight[subjectID]; ok {
		return false
	}
	a.inFlight[subjectID] = struct{}{}
	return true
}

func (a *Aggregator) release(subjectID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.inFlight, subjectID)
}

// Aggregate builds the bundle for subjectID over the last windowHours.
func (a *Aggregator) Aggregate(ctx context.Context, subjectID string, windowHours int) (*models.SignalBundle, error) {
	if !a.acquire(subjectID) {
		return nil, ErrInFlight
	}
	defer a.release(subjectID)

	bundle := &models.SignalBundle{
		SubjectID:   subjectID,
		WindowHours: windowHours,
		CollectedAt: a.now(),
		TextAnalysis: models.TextAnalysisResult{
			IndicatorsFound: []string{},
			SeverityHint:    models.SeverityNone,
		},
	}

	var (
		errMu    sync.Mutex
		failures = make(map[string]error)
	)
	fetch := func(g *errgroup.Group, signal string, fn func(ctx context.Context) error) {
		g.Go(func() error {
			fetchCtx, cancel := context.WithTimeout(ctx, a.fetchTimeout)
			defer cancel()
			if err := fn(fetchCtx); err != nil {
				errMu.Lock()
				failures[signal] = err
				errMu.Unlock()
			}
			return nil
		})
	}

	g := new(errgroup.Group)
	g.SetLimit(a.concurrency)
	fetch(g, models.SignalMood, func(ctx context.Context) (err error) {
		bundle.Mood, err = a.source.FetchMoodHistory(ctx, subjectID, windowHours)
		return err
	})
	fetch(g, models.SignalSleep, func(ctx context.Context) (err error) {
		bundle.Sleep, err = a.source.FetchSleepData(ctx, subjectID, windowHours)
		return err
	})
	fetch(g, models.SignalActivity, func(ctx context.Context) (err error) {
		bundle.Activity, err = a.source.FetchActivityData(ctx, subjectID, windowHours)
		return err
	})
	fetch(g, models.SignalText, func(ctx context.Context) (err error) {
		bundle.TextEntries, err = a.source.FetchTextEntries(ctx, subjectID, windowHours)
		return err
	})
	fetch(g, models.SignalPatterns, func(ctx context.Context) (err error) {
		bundle.Patterns, err = a.source.FetchBehavioralPatterns(ctx, subjectID)
		return err
	})
	fetch(g, models.SignalSocial, func(ctx context.Context) (err error) {
		bundle.SocialInteractions, err = a.source.FetchSocialInteractions(ctx, subjectID, windowHours)
		return err
	})
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var errs []error
	for _, signal := range signalOrder {
		err, failed := failures[signal]
		if !failed {
			continue
		}
		if errors.Is(err, signals.ErrSubjectNotFound) {
			return nil, fmt.Errorf("failed to aggregate signals for %s: %w", subjectID, err)
		}
		errs = append(errs, fmt.Errorf("%s: %w", signal, err))
		bundle.Degraded = append(bundle.Degraded, signal)
		fetchFailures.WithLabelValues(signal).Inc()
		a.logger.Warn("Signal fetch failed, continuing without it",
			zap.String("subject_id", subjectID),
			zap.String("signal", signal),
			zap.Error(err))
	}
	if len(errs) == len(signalOrder) {
		return nil, fmt.Errorf("all signal fetches failed for %s: %w", subjectID, errors.Join(errs...))
	}

	a.clearFailed(bundle, failures)

	if len(bundle.TextEntries) > 0 {
		analyzeCtx, cancel := context.WithTimeout(ctx, a.fetchTimeout)
		result, err := a.analyzer.Analyze(analyzeCtx, bundle.TextEntries)
		cancel()
		if err != nil {
			bundle.Degraded = append(bundle.Degraded, models.SignalTextAnalysis)
			fetchFailures.WithLabelValues(models.SignalTextAnalysis).Inc()
			a.logger.Warn("Text analysis failed, continuing without it",
				zap.String("subject_id", subjectID),
				zap.Error(err))
		} else {
			bundle.TextAnalysis = result
		}
	}

	a.logger.Debug("Signals aggregated",
		zap.String("subject_id", subjectID),
		zap.Int("mood_samples", len(bundle.Mood)),
		zap.Int("sleep_samples", len(bundle.Sleep)),
		zap.Int("activity_samples", len(bundle.Activity)),
		zap.Int("text_entries", len(bundle.TextEntries)),
		zap.Int("patterns", len(bundle.Patterns)),
		zap.Strings("degraded", bundle.Degraded))
	return bundle, nil
}

// clearFailed drops whatever a failed fetch may have half-returned.
func (a *Aggregator) clearFailed(bundle *models.SignalBundle, failures map[string]error) {
	for signal := range failures {
		switch signal {
		case models.SignalMood:
			bundle.Mood = nil
		case models.SignalSleep:
			bundle.Sleep = nil
		case models.SignalActivity:
			bundle.Activity = nil
		case models.SignalText:
			bundle.TextEntries = nil
		case models.SignalPatterns:
			bundle.Patterns = nil
		case models.SignalSocial:
			bundle.SocialInteractions = nil
		}
	}
}
