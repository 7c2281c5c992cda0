// Package scheduler re-assesses subjects on a timer.
package scheduler

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"crisis-engine/internal/aggregator"
	"crisis-engine/internal/models"
)

var (
	// ErrBusy is returned by TriggerNow while a cycle for the subject is
	// running. It is not a failure.
	ErrBusy   = errors.New("assessment cycle already running")
	ErrClosed = errors.New("scheduler closed")
)

// Runner runs one assessment cycle.
type Runner interface {
	RunCycle(ctx context.Context, subjectID string) (*models.CrisisRiskAssessment, error)
}

// Job describes a scheduled subject.
type Job struct {
	SubjectID string        `json:"subjectId"`
	Interval  time.Duration `json:"interval"`
	LastRun   time.Time     `json:"lastRun,omitempty"`
	LastError string        `json:"lastError,omitempty"`
	Running   bool          `json:"running"`
}

type job struct {
	interval time.Duration
	stop     chan struct{}
	lastRun  time.Time
	lastErr  error
}

// Scheduler runs at most one cycle per subject at a time. Ticks that land
// while a cycle is running are skipped. Stopping a subject cancels its
// timer but lets a running cycle finish.
type Scheduler struct {
	runner          Runner
	defaultInterval time.Duration
	minInterval     time.Duration
	logger          *zap.Logger
	ctx             context.Context
	cancel          context.CancelFunc

	mu      sync.Mutex
	jobs    map[string]*job
	running map[string]bool
	closed  bool
	wg      sync.WaitGroup
}

func New(runner Runner, defaultInterval, minInterval time.Duration, logger *zap.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		runner:          runner,
		defaultInterval: defaultInterval,
		minInterval:     minInterval,
		logger:          logger,
		ctx:             ctx,
		cancel:          cancel,
		jobs:            make(map[string]*job),
		running:         make(map[string]bool),
	}
}

// Start schedules subjectID every interval, replacing any existing
// schedule. A zero interval means the default; intervals below the
// minimum are raised to it. With runNow a cycle starts immediately.
// It returns the interval actually used.
func (s *Scheduler) Start(subjectID string, interval time.Duration, runNow bool) (time.Duration, error) {
	if interval <= 0 {
		interval = s.defaultInterval
	}
	if interval < s.minInterval {
		s.logger.Warn("Interval below minimum, clamping",
			zap.String("subject_id", subjectID),
			zap.Duration("requested", interval),
			zap.Duration("minimum", s.minInterval))
		interval = s.minInterval
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	if old, ok := s.jobs[subjectID]; ok {
		close(old.stop)
	}
	j := &job{interval: interval, stop: make(chan struct{})}
	s.jobs[subjectID] = j

	s.wg.Add(1)
	go s.loop(subjectID, j, runNow)

	s.logger.Info("Subject scheduled", zap.String("subject_id", subjectID), zap.Duration("interval", interval))
	return interval, nil
}

// Stop cancels the subject's timer. It reports whether a schedule existed
// and is safe to call repeatedly.
func (s *Scheduler) Stop(subjectID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[subjectID]
	if !ok {
		return false
	}
	close(j.stop)
	delete(s.jobs, subjectID)
	s.logger.Info("Subject unscheduled", zap.String("subject_id", subjectID))
	return true
}

// TriggerNow runs a cycle right away, or returns ErrBusy if one is
// already running for the subject.
func (s *Scheduler) TriggerNow(ctx context.Context, subjectID string) (*models.CrisisRiskAssessment, error) {
	return s.run(ctx, subjectID)
}

// Jobs lists scheduled subjects.
func (s *Scheduler) Jobs() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Job, 0, len(s.jobs))
	for id, j := range s.jobs {
		info := Job{SubjectID: id, Interval: j.interval, LastRun: j.lastRun, Running: s.running[id]}
		if j.lastErr != nil {
			info.LastError = j.lastErr.Error()
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].SubjectID < out[k].SubjectID })
	return out
}

// Close stops every schedule and waits for running cycles to finish.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for id, j := range s.jobs {
		close(j.stop)
		delete(s.jobs, id)
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.cancel()
	s.logger.Info("Scheduler stopped.")
}

func (s *Scheduler) loop(subjectID string, j *job, runNow bool) {
	defer s.wg.Done()

	if runNow {
		s.tick(subjectID, j)
	}

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-j.stop:
			return
		case <-ticker.C:
			select {
			case <-j.stop:
				return
			default:
			}
			s.tick(subjectID, j)
		}
	}
}

func (s *Scheduler) tick(subjectID string, j *job) {
	_, err := s.run(s.ctx, subjectID)
	if errors.Is(err, ErrBusy) {
		s.logger.Debug("Cycle still running, skipping tick", zap.String("subject_id", subjectID))
		return
	}

	s.mu.Lock()
	j.lastRun = time.Now().UTC()
	j.lastErr = err
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("Scheduled cycle failed", zap.String("subject_id", subjectID), zap.Error(err))
	}
}

func (s *Scheduler) run(ctx context.Context, subjectID string) (*models.CrisisRiskAssessment, error) {
	s.mu.Lock()
	if s.running[subjectID] {
		s.mu.Unlock()
		return nil, ErrBusy
	}
	s.running[subjectID] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.running, subjectID)
		s.mu.Unlock()
	}()

	a, err := s.runner.RunCycle(ctx, subjectID)
	if errors.Is(err, aggregator.ErrInFlight) {
		return nil, ErrBusy
	}
	return a, err
}
