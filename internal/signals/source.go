// Package signals defines the boundary between the engine and wherever
// behavioral signals are stored.
package signals

import (
	"context"
	"errors"

	"crisis-engine/internal/models"
)

// ErrSubjectNotFound is returned by a Source when the subject is unknown.
// It is the only fetch failure that aborts an assessment cycle.
var ErrSubjectNotFound = errors.New("subject not found")

// Source fetches time-windowed signals for one subject.
type Source interface {
	FetchMoodHistory(ctx context.Context, subjectID string, windowHours int) (models.TimeSeries, error)
	FetchSleepData(ctx context.Context, subjectID string, windowHours int) (models.TimeSeries, error)
	FetchActivityData(ctx context.Context, subjectID string, windowHours int) (models.TimeSeries, error)
	FetchTextEntries(ctx context.Context, subjectID string, windowHours int) ([]string, error)
	FetchBehavioralPatterns(ctx context.Context, subjectID string) ([]models.BehavioralPattern, error)
	FetchSocialInteractions(ctx context.Context, subjectID string, windowHours int) ([]models.SocialInteraction, error)
}
