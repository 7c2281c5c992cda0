package review

import (
	"context"
	"sync"

	"crisis-engine/internal/models"
)

// MemoryStore keeps review records in process.
type MemoryStore struct {
	mu           sync.RWMutex
	records      map[string]models.HumanReviewRecord
	byAssessment map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:      make(map[string]models.HumanReviewRecord),
		byAssessment: make(map[string]string),
	}
}

func (s *MemoryStore) Create(_ context.Context, rec *models.HumanReviewRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.ID] = *rec
	s.byAssessment[rec.AssessmentRef] = rec.ID
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*models.HumanReviewRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, ErrReviewNotFound
	}
	return &rec, nil
}

func (s *MemoryStore) GetByAssessment(ctx context.Context, assessmentID string) (*models.HumanReviewRecord, error) {
	s.mu.RLock()
	id, ok := s.byAssessment[assessmentID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrReviewNotFound
	}
	return s.Get(ctx, id)
}

func (s *MemoryStore) Update(_ context.Context, rec *models.HumanReviewRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.ID]; !ok {
		return ErrReviewNotFound
	}
	s.records[rec.ID] = *rec
	return nil
}

func (s *MemoryStore) ListPending(_ context.Context) ([]models.HumanReviewRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.HumanReviewRecord
	for _, rec := range s.records {
		if !rec.Resolved() {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListBySubject(_ context.Context, subjectID string) ([]models.HumanReviewRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.HumanReviewRecord
	for _, rec := range s.records {
		if rec.SubjectID == subjectID {
			out = append(out, rec)
		}
	}
	return out, nil
}
