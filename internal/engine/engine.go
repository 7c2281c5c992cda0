// Package engine runs assessment cycles and owns all per-subject state:
// assessment history, calibration and escalation.
//
// A subject's state is only written by that subject's own cycle or by
// feedback about it, under the subject's mutex. At most one cycle per
// subject runs at a time; a second one fails fast with ErrInFlight.
// Subjects never share locks on the cycle path.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"crisis-engine/internal/aggregator"
	"crisis-engine/internal/escalation"
	"crisis-engine/internal/events"
	"crisis-engine/internal/models"
	"crisis-engine/internal/performance"
	"crisis-engine/internal/review"
	"crisis-engine/internal/scoring"
)

var (
	// ErrInFlight means a cycle for the subject is already running.
	ErrInFlight           = aggregator.ErrInFlight
	ErrNoAssessment       = errors.New("no assessment for subject")
	ErrAssessmentNotFound = errors.New("assessment not found")
	ErrInvalidPeriod      = errors.New("invalid trend period")
)

// AssessmentStore keeps the assessment audit trail. The engine only reads
// it to rebuild a subject's history after a restart.
type AssessmentStore interface {
	SaveAssessment(ctx context.Context, a *models.CrisisRiskAssessment) error
	GetAssessment(ctx context.Context, id string) (*models.CrisisRiskAssessment, error)
	ListRecentAssessments(ctx context.Context, subjectID string, limit int) ([]models.CrisisRiskAssessment, error)
}

// CalibrationStore persists per-subject calibration.
type CalibrationStore interface {
	GetCalibration(ctx context.Context, subjectID string) (*models.SubjectCalibration, error)
	SaveCalibration(ctx context.Context, cal *models.SubjectCalibration) error
}

// Options tunes an Engine. Stores are optional.
type Options struct {
	WindowHours        int
	HistoryCapacity    int
	ConfidenceBypass   float64
	FalsePositiveDecay float64
	MinWeightFraction  float64
	Assessments        AssessmentStore
	Calibrations       CalibrationStore
}

type subjectState struct {
	mu          sync.Mutex
	loaded      bool
	history     []*models.CrisisRiskAssessment // oldest first
	calibration models.SubjectCalibration
	machine     *escalation.Machine
}

// Engine is the crisis risk engine. Create one per process with New.
type Engine struct {
	aggregator *aggregator.Aggregator
	scorer     *scoring.Scorer
	reviews    *review.Workstream
	tracker    *performance.Tracker
	bus        *events.Bus
	opts       Options
	logger     *zap.Logger
	now        func() time.Time

	mu       sync.Mutex
	subjects map[string]*subjectState
	cycles   map[string]struct{} // subjects with a cycle running
}

// New wires an engine. It registers itself as the review workstream's
// verdict listener.
func New(
	agg *aggregator.Aggregator,
	scorer *scoring.Scorer,
	reviews *review.Workstream,
	tracker *performance.Tracker,
	bus *events.Bus,
	opts Options,
	logger *zap.Logger,
) *Engine {
	if opts.HistoryCapacity <= 0 {
		opts.HistoryCapacity = 100
	}
	e := &Engine{
		aggregator: agg,
		scorer:     scorer,
		reviews:    reviews,
		tracker:    tracker,
		bus:        bus,
		opts:       opts,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
		subjects:   make(map[string]*subjectState),
		cycles:     make(map[string]struct{}),
	}
	reviews.SetListener(e)
	return e
}

// RunCycle aggregates, scores and records one assessment for subjectID.
// A scoring failure leaves the previous assessment current. It returns
// ErrInFlight while another cycle for the subject is running.
func (e *Engine) RunCycle(ctx context.Context, subjectID string) (*models.CrisisRiskAssessment, error) {
	if !e.beginCycle(subjectID) {
		return nil, ErrInFlight
	}
	defer e.endCycle(subjectID)

	bundle, err := e.aggregator.Aggregate(ctx, subjectID, e.opts.WindowHours)
	if err != nil {
		if !errors.Is(err, ErrInFlight) {
			e.logger.Error("Failed to aggregate signals", zap.String("subject_id", subjectID), zap.Error(err))
		}
		return nil, err
	}

	st := e.lockSubject(ctx, subjectID)
	a, err := e.scorer.Score(bundle, st.calibration)
	if err != nil {
		st.mu.Unlock()
		e.logger.Error("Failed to score bundle", zap.String("subject_id", subjectID), zap.Error(err))
		return nil, fmt.Errorf("failed to score subject %s: %w", subjectID, err)
	}
	st.append(a, e.opts.HistoryCapacity)
	transition, moved := st.machine.Observe(a)
	st.mu.Unlock()

	if e.opts.Assessments != nil {
		if err := e.opts.Assessments.SaveAssessment(ctx, a); err != nil {
			e.logger.Error("Failed to save assessment", zap.String("assessment_id", a.ID), zap.Error(err))
		}
	}
	e.tracker.RecordOutcome(a, nil)

	e.logger.Info("Subject assessed",
		zap.String("subject_id", subjectID),
		zap.String("assessment_id", a.ID),
		zap.Float64("risk_score", a.RiskScore),
		zap.String("risk_level", string(a.RiskLevel)),
		zap.Float64("confidence", a.Confidence),
		zap.Bool("requires_human_review", a.RequiresHumanReview))

	e.publish(events.KindRiskAssessed, a)
	if moved {
		e.publishTransition(transition)
		if transition.To.IsHighRisk() {
			e.publish(events.KindHighRiskDetected, a)
		}
	}
	if a.RequiresHumanReview {
		if _, _, err := e.reviews.RequestReview(ctx, a, nil); err != nil {
			e.logger.Error("Failed to queue human review", zap.String("assessment_id", a.ID), zap.Error(err))
		}
		e.publish(events.KindHumanReviewRequired, a)
	}
	return a, nil
}

// HealthCheck snapshots model performance and publishes it.
func (e *Engine) HealthCheck() models.ModelPerformance {
	p := e.tracker.HealthCheck()
	e.bus.Publish(events.Event{Kind: events.KindHealthCheck, Timestamp: e.now(), Performance: &p})
	return p
}

// RunHealthChecks runs HealthCheck every interval until ctx is done.
func (e *Engine) RunHealthChecks(ctx context.Context, interval time.Duration) {
	e.logger.Info("Health checks started.", zap.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("Health checks stopped.")
			return
		case <-ticker.C:
			p := e.HealthCheck()
			e.logger.Info("Health check",
				zap.Int64("total_predictions", p.TotalPredictions),
				zap.Int64("labeled_outcomes", p.LabeledOutcomes),
				zap.Float64("f1", p.F1Score))
		}
	}
}

// GetPerformance returns the tracker's current metrics.
func (e *Engine) GetPerformance() models.ModelPerformance {
	return e.tracker.GetPerformance()
}

// Subjects lists every subject with at least one assessment.
func (e *Engine) Subjects() []string {
	e.mu.Lock()
	states := make(map[string]*subjectState, len(e.subjects))
	for id, st := range e.subjects {
		states[id] = st
	}
	e.mu.Unlock()

	var ids []string
	for id, st := range states {
		st.mu.Lock()
		if len(st.history) > 0 {
			ids = append(ids, id)
		}
		st.mu.Unlock()
	}
	sort.Strings(ids)
	return ids
}

func (e *Engine) beginCycle(subjectID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.cycles[subjectID]; ok {
		return false
	}
	e.cycles[subjectID] = struct{}{}
	return true
}

func (e *Engine) endCycle(subjectID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.cycles, subjectID)
}

func (e *Engine) newSubjectState(subjectID string) *subjectState {
	return &subjectState{
		calibration: e.scorer.DefaultCalibration(subjectID),
		machine:     escalation.NewMachine(subjectID, e.opts.ConfidenceBypass),
	}
}

// lockSubject returns the subject's state locked, creating it and loading
// it from the stores on first use.
func (e *Engine) lockSubject(ctx context.Context, subjectID string) *subjectState {
	e.mu.Lock()
	st, ok := e.subjects[subjectID]
	if !ok {
		st = e.newSubjectState(subjectID)
		e.subjects[subjectID] = st
	}
	e.mu.Unlock()

	return e.lockLoaded(ctx, subjectID, st)
}

// viewSubject is lockSubject for queries: a subject that is neither in
// memory nor in the stores is not created, and nil is returned.
func (e *Engine) viewSubject(ctx context.Context, subjectID string) *subjectState {
	e.mu.Lock()
	st, ok := e.subjects[subjectID]
	e.mu.Unlock()
	if ok {
		return e.lockLoaded(ctx, subjectID, st)
	}

	fresh := e.newSubjectState(subjectID)
	if !e.load(ctx, subjectID, fresh) {
		return nil
	}
	fresh.loaded = true

	e.mu.Lock()
	if st, ok = e.subjects[subjectID]; !ok {
		st = fresh
		e.subjects[subjectID] = st
	}
	e.mu.Unlock()

	return e.lockLoaded(ctx, subjectID, st)
}

func (e *Engine) lockLoaded(ctx context.Context, subjectID string, st *subjectState) *subjectState {
	st.mu.Lock()
	if !st.loaded {
		e.load(ctx, subjectID, st)
		st.loaded = true
	}
	return st
}

// load restores calibration and history, replaying the history through
// the escalation machine to rebuild the current state. It reports whether
// the stores knew the subject.
func (e *Engine) load(ctx context.Context, subjectID string, st *subjectState) bool {
	found := false
	if e.opts.Calibrations != nil {
		cal, err := e.opts.Calibrations.GetCalibration(ctx, subjectID)
		if err != nil {
			e.logger.Error("Failed to load calibration", zap.String("subject_id", subjectID), zap.Error(err))
		} else if cal != nil {
			st.calibration = *cal
			found = true
		}
	}
	if e.opts.Assessments != nil {
		stored, err := e.opts.Assessments.ListRecentAssessments(ctx, subjectID, e.opts.HistoryCapacity)
		if err != nil {
			e.logger.Error("Failed to load assessment history", zap.String("subject_id", subjectID), zap.Error(err))
			return found
		}
		for i := range stored {
			a := stored[i]
			st.append(&a, e.opts.HistoryCapacity)
			st.machine.Observe(&a)
		}
		found = found || len(stored) > 0
	}
	return found
}

// append inserts a in timestamp order and evicts the oldest entries past
// capacity.
func (st *subjectState) append(a *models.CrisisRiskAssessment, capacity int) {
	i := sort.Search(len(st.history), func(i int) bool {
		return st.history[i].Timestamp.After(a.Timestamp)
	})
	st.history = append(st.history, nil)
	copy(st.history[i+1:], st.history[i:])
	st.history[i] = a

	if over := len(st.history) - capacity; over > 0 {
		copy(st.history, st.history[over:])
		for j := len(st.history) - over; j < len(st.history); j++ {
			st.history[j] = nil
		}
		st.history = st.history[:capacity]
	}
}

func (st *subjectState) latest() *models.CrisisRiskAssessment {
	if len(st.history) == 0 {
		return nil
	}
	return st.history[len(st.history)-1]
}

// findAssessment looks in memory first, then in the audit trail.
func (e *Engine) findAssessment(ctx context.Context, id string) (*models.CrisisRiskAssessment, error) {
	e.mu.Lock()
	states := make([]*subjectState, 0, len(e.subjects))
	for _, st := range e.subjects {
		states = append(states, st)
	}
	e.mu.Unlock()

	for _, st := range states {
		st.mu.Lock()
		for _, a := range st.history {
			if a.ID == id {
				st.mu.Unlock()
				return a, nil
			}
		}
		st.mu.Unlock()
	}

	if e.opts.Assessments != nil {
		a, err := e.opts.Assessments.GetAssessment(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to look up assessment: %w", err)
		}
		if a != nil {
			return a, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrAssessmentNotFound, id)
}

func (e *Engine) publish(kind events.Kind, a *models.CrisisRiskAssessment) {
	e.bus.Publish(events.Event{
		Kind:       kind,
		SubjectID:  a.UserID,
		Timestamp:  a.Timestamp,
		Assessment: a,
	})
}

func (e *Engine) publishTransition(t *escalation.Transition) {
	e.logger.Info("Escalation state changed",
		zap.String("subject_id", t.SubjectID),
		zap.String("from", string(t.From)),
		zap.String("to", string(t.To)),
		zap.String("reason", string(t.Reason)))
	e.bus.Publish(events.Event{
		Kind:       events.KindEscalationChanged,
		SubjectID:  t.SubjectID,
		Timestamp:  t.At,
		Transition: t,
	})
}
