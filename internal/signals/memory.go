package signals

import (
	"context"
	"sync"

	"crisis-engine/internal/models"
)

// MemorySource is an in-process Source. Subjects must be registered with
// Put before they can be fetched. Individual fetches can be made to fail
// with FailOn, which is how degraded cycles are exercised.
type MemorySource struct {
	mu       sync.RWMutex
	subjects map[string]*MemorySubject
	failures map[string]map[string]error // subject -> signal -> error
}

// MemorySubject holds the raw signals of one subject.
type MemorySubject struct {
	Mood     models.TimeSeries
	Sleep    models.TimeSeries
	Activity models.TimeSeries
	Texts    []string
	Patterns []models.BehavioralPattern
	Social   []models.SocialInteraction
}

func NewMemorySource() *MemorySource {
	return &MemorySource{
		subjects: make(map[string]*MemorySubject),
		failures: make(map[string]map[string]error),
	}
}

// Put registers or replaces the signals of a subject.
func (s *MemorySource) Put(subjectID string, subject MemorySubject) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subjects[subjectID] = &subject
}

// FailOn makes every fetch of signal for subjectID return err.
// A nil err clears the failure.
func (s *MemorySource) FailOn(subjectID, signal string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures[subjectID], signal)
		return
	}
	if s.failures[subjectID] == nil {
		s.failures[subjectID] = make(map[string]error)
	}
	s.failures[subjectID][signal] = err
}

func (s *MemorySource) lookup(ctx context.Context, subjectID, signal string) (*MemorySubject, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.failures[subjectID][signal]; err != nil {
		return nil, err
	}
	subject, ok := s.subjects[subjectID]
	if !ok {
		return nil, ErrSubjectNotFound
	}
	return subject, nil
}

func (s *MemorySource) FetchMoodHistory(ctx context.Context, subjectID string, windowHours int) (models.TimeSeries, error) {
	subject, err := s.lookup(ctx, subjectID, models.SignalMood)
	if err != nil {
		return nil, err
	}
	return append(models.TimeSeries(nil), subject.Mood...), nil
}

func (s *MemorySource) FetchSleepData(ctx context.Context, subjectID string, windowHours int) (models.TimeSeries, error) {
	subject, err := s.lookup(ctx, subjectID, models.SignalSleep)
	if err != nil {
		return nil, err
	}
	return append(models.TimeSeries(nil), subject.Sleep...), nil
}

func (s *MemorySource) FetchActivityData(ctx context.Context, subjectID string, windowHours int) (models.TimeSeries, error) {
	subject, err := s.lookup(ctx, subjectID, models.SignalActivity)
	if err != nil {
		return nil, err
	}
	return append(models.TimeSeries(nil), subject.Activity...), nil
}

func (s *MemorySource) FetchTextEntries(ctx context.Context, subjectID string, windowHours int) ([]string, error) {
	subject, err := s.lookup(ctx, subjectID, models.SignalText)
	if err != nil {
		return nil, err
	}
	return append([]string(nil), subject.Texts...), nil
}

func (s *MemorySource) FetchBehavioralPatterns(ctx context.Context, subjectID string) ([]models.BehavioralPattern, error) {
	subject, err := s.lookup(ctx, subjectID, models.SignalPatterns)
	if err != nil {
		return nil, err
	}
	return append([]models.BehavioralPattern(nil), subject.Patterns...), nil
}

func (s *MemorySource) FetchSocialInteractions(ctx context.Context, subjectID string, windowHours int) ([]models.SocialInteraction, error) {
	subject, err := s.lookup(ctx, subjectID, models.SignalSocial)
	if err != nil {
		return nil, err
	}
	return append([]models.SocialInteraction(nil), subject.Social...), nil
}
