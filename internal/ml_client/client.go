package ml_client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"time"

	"crisis-engine/internal/models"
)

// Client is a client for the text classification service. It satisfies
// textanalysis.Analyzer.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// ClassifyRequest is a batch of text entries to classify.
type ClassifyRequest struct {
	Texts []string `json:"texts"`
}

// EntryResult is the classification of one text entry.
type EntryResult struct {
	Index      int      `json:"index"`
	Indicators []string `json:"indicators"`
	Severity   string   `json:"severity"` // none, low, moderate, high, critical
	Confidence float64  `json:"confidence"`
}

// ClassifyResponse is the batch classification result.
type ClassifyResponse struct {
	Results          []EntryResult `json:"results"`
	ModelVersion     string        `json:"model_version"`
	ProcessingTimeMs float64       `json:"processing_time_ms"`
}

// HealthResponse represents health check response
type HealthResponse struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
	Device      string `json:"device"`
	Message     string `json:"message"`
}

// NewClient creates a new classification service client
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Analyze classifies texts and folds the per-entry results into one
// TextAnalysisResult.
func (c *Client) Analyze(ctx context.Context, texts []string) (models.TextAnalysisResult, error) {
	if len(texts) == 0 {
		return models.TextAnalysisResult{IndicatorsFound: []string{}, SeverityHint: models.SeverityNone}, nil
	}
	resp, err := c.ClassifyBatch(ctx, texts)
	if err != nil {
		return models.TextAnalysisResult{}, err
	}
	return fold(resp.Results)
}

// ClassifyBatch classifies multiple text entries in one request
func (c *Client) ClassifyBatch(ctx context.Context, texts []string) (*ClassifyResponse, error) {
	jsonData, err := json.Marshal(ClassifyRequest{Texts: texts})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/classify/batch", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ML service returned status %d: %s", resp.StatusCode, string(body))
	}

	var result ClassifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &result, nil
}

// HealthCheck checks if the ML service is healthy
func (c *Client) HealthCheck(ctx context.Context) (*HealthResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/health", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ML service returned status %d: %s", resp.StatusCode, string(body))
	}

	var result HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &result, nil
}

// fold combines entry results: indicators are unioned, the highest
// severity wins and confidences combine as independent evidence.
func fold(results []EntryResult) (models.TextAnalysisResult, error) {
	seen := make(map[string]struct{})
	severity := models.SeverityNone
	miss := 1.0
	for _, r := range results {
		hint := models.SeverityHint(r.Severity)
		if hint.Rank() < 0 {
			return models.TextAnalysisResult{}, fmt.Errorf("ML service returned unknown severity %q", r.Severity)
		}
		if r.Confidence < 0 || r.Confidence > 1 || math.IsNaN(r.Confidence) {
			return models.TextAnalysisResult{}, fmt.Errorf("ML service returned confidence %v out of range", r.Confidence)
		}
		if hint == models.SeverityNone {
			continue
		}
		if hint.Rank() > severity.Rank() {
			severity = hint
		}
		miss *= 1 - r.Confidence
		for _, ind := range r.Indicators {
			seen[ind] = struct{}{}
		}
	}

	indicators := make([]string, 0, len(seen))
	for ind := range seen {
		indicators = append(indicators, ind)
	}
	sort.Strings(indicators)

	return models.TextAnalysisResult{
		IndicatorsFound: indicators,
		Confidence:      1 - miss,
		SeverityHint:    severity,
	}, nil
}
