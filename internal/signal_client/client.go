package signal_client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"crisis-engine/internal/models"
	"crisis-engine/internal/signals"
)

// Client fetches signals from a remote signal store over HTTP.
//
// Endpoints, all under baseURL:
//
//	GET /subjects/{id}/mood?window_hours=N      {"samples": [...]}
//	GET /subjects/{id}/sleep?window_hours=N     {"samples": [...]}
//	GET /subjects/{id}/activity?window_hours=N  {"samples": [...]}
//	GET /subjects/{id}/texts?window_hours=N     {"entries": [...]}
//	GET /subjects/{id}/patterns                 {"patterns": [...]}
//	GET /subjects/{id}/social?window_hours=N    {"interactions": [...]}
//
// A 404 means the subject is unknown.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a new signal store client. Per-fetch deadlines come
// from the caller's context; timeout is only a backstop.
func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

func (c *Client) FetchMoodHistory(ctx context.Context, subjectID string, windowHours int) (models.TimeSeries, error) {
	return c.fetchSeries(ctx, subjectID, "mood", windowHours)
}

func (c *Client) FetchSleepData(ctx context.Context, subjectID string, windowHours int) (models.TimeSeries, error) {
	return c.fetchSeries(ctx, subjectID, "sleep", windowHours)
}

func (c *Client) FetchActivityData(ctx context.Context, subjectID string, windowHours int) (models.TimeSeries, error) {
	return c.fetchSeries(ctx, subjectID, "activity", windowHours)
}

func (c *Client) FetchTextEntries(ctx context.Context, subjectID string, windowHours int) ([]string, error) {
	var response struct {
		Entries []string `json:"entries"`
	}
	if err := c.get(ctx, subjectID, "texts", windowHours, &response); err != nil {
		return nil, err
	}
	return response.Entries, nil
}

func (c *Client) FetchBehavioralPatterns(ctx context.Context, subjectID string) ([]models.BehavioralPattern, error) {
	var response struct {
		Patterns []models.BehavioralPattern `json:"patterns"`
	}
	if err := c.get(ctx, subjectID, "patterns", 0, &response); err != nil {
		return nil, err
	}
	return response.Patterns, nil
}

func (c *Client) FetchSocialInteractions(ctx context.Context, subjectID string, windowHours int) ([]models.SocialInteraction, error) {
	var response struct {
		Interactions []models.SocialInteraction `json:"interactions"`
	}
	if err := c.get(ctx, subjectID, "social", windowHours, &response); err != nil {
		return nil, err
	}
	return response.Interactions, nil
}

func (c *Client) fetchSeries(ctx context.Context, subjectID, signal string, windowHours int) (models.TimeSeries, error) {
	var response struct {
		Samples models.TimeSeries `json:"samples"`
	}
	if err := c.get(ctx, subjectID, signal, windowHours, &response); err != nil {
		return nil, err
	}
	return response.Samples, nil
}

func (c *Client) get(ctx context.Context, subjectID, signal string, windowHours int, out interface{}) error {
	endpoint := fmt.Sprintf("%s/subjects/%s/%s", c.baseURL, url.PathEscape(subjectID), signal)
	if windowHours > 0 {
		endpoint += "?window_hours=" + strconv.Itoa(windowHours)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("Failed to make request to signal store",
			zap.String("signal", signal), zap.String("subject_id", subjectID), zap.Error(err))
		return fmt.Errorf("failed to make request to signal store: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", signals.ErrSubjectNotFound, subjectID)
	default:
		c.logger.Error("Signal store returned non-OK status",
			zap.String("signal", signal), zap.Int("status", resp.StatusCode))
		return fmt.Errorf("signal store returned status: %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode signal store response: %w", err)
	}
	return nil
}
