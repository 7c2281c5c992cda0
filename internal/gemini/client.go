package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/api/option"

	"crisis-engine/internal/models"
)

// generator produces raw model output for a prompt.
type generator interface {
	generate(ctx context.Context, prompt string) (string, error)
}

type genaiGenerator struct {
	model *genai.GenerativeModel
}

func (g genaiGenerator) generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("gemini API error: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("empty response from gemini")
	}
	textPart, ok := resp.Candidates[0].Content.Parts[0].(genai.Text)
	if !ok {
		return "", fmt.Errorf("unexpected response type from gemini")
	}
	return string(textPart), nil
}

// Client classifies text entries with Gemini. It satisfies
// textanalysis.Analyzer.
type Client struct {
	client     *genai.Client
	gen        generator
	limiter    *rate.Limiter
	logger     *zap.Logger
	modelName  string
	maxRetries int
	retryDelay time.Duration
}

// Config for Gemini client
type Config struct {
	APIKey            string
	ModelName         string // Default: "gemini-2.0-flash-exp"
	MaxRetries        int
	RetryDelay        time.Duration
	RequestsPerMinute int
}

func (cfg *Config) applyDefaults() {
	if cfg.ModelName == "" {
		cfg.ModelName = "gemini-2.0-flash-exp"
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = 2 * time.Second
	}
	if cfg.RequestsPerMinute == 0 {
		cfg.RequestsPerMinute = 8
	}
}

// NewClient creates a new Gemini client
func NewClient(ctx context.Context, cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	cfg.applyDefaults()

	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	model := client.GenerativeModel(cfg.ModelName)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(SystemInstruction)},
	}
	model.ResponseMIMEType = "application/json"
	model.GenerationConfig = genai.GenerationConfig{
		Temperature:     genai.Ptr[float32](0.1),
		TopP:            genai.Ptr[float32](0.9),
		TopK:            genai.Ptr[int32](40),
		MaxOutputTokens: genai.Ptr[int32](500),
	}

	logger.Info("Gemini client initialized",
		zap.String("model", cfg.ModelName),
		zap.Int("max_retries", cfg.MaxRetries),
		zap.Int("requests_per_minute", cfg.RequestsPerMinute))

	c := newClient(genaiGenerator{model: model}, cfg, logger)
	c.client = client
	return c, nil
}

func newClient(gen generator, cfg Config, logger *zap.Logger) *Client {
	cfg.applyDefaults()
	return &Client{
		gen:        gen,
		limiter:    rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1),
		logger:     logger,
		modelName:  cfg.ModelName,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
	}
}

// Close closes the Gemini client
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}

type classification struct {
	Indicators []string `json:"indicators"`
	Severity   string   `json:"severity"`
	Confidence float64  `json:"confidence"`
}

// Analyze classifies all texts in one request, retrying transient and
// malformed responses.
func (c *Client) Analyze(ctx context.Context, texts []string) (models.TextAnalysisResult, error) {
	if len(texts) == 0 {
		return models.TextAnalysisResult{IndicatorsFound: []string{}, SeverityHint: models.SeverityNone}, nil
	}
	prompt := BuildPrompt(texts)

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			c.logger.Warn("Retrying Gemini request",
				zap.Int("attempt", attempt+1),
				zap.Int("max_retries", c.maxRetries))
			select {
			case <-ctx.Done():
				return models.TextAnalysisResult{}, ctx.Err()
			case <-time.After(c.retryDelay):
			}
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return models.TextAnalysisResult{}, fmt.Errorf("rate limiter: %w", err)
		}

		raw, err := c.gen.generate(ctx, prompt)
		if err != nil {
			lastErr = err
			c.logger.Error("Gemini API error", zap.Error(err), zap.Int("attempt", attempt+1))
			continue
		}

		result, err := parseClassification(raw)
		if err != nil {
			lastErr = err
			c.logger.Error("Failed to parse JSON response", zap.Error(err), zap.Int("attempt", attempt+1))
			continue
		}

		c.logger.Debug("Successfully classified text entries",
			zap.String("severity", string(result.SeverityHint)),
			zap.Int("entries", len(texts)),
			zap.Int("attempt", attempt+1))
		return result, nil
	}

	return models.TextAnalysisResult{}, fmt.Errorf("failed after %d attempts: %w", c.maxRetries, lastErr)
}

// GetModelInfo returns model information
func (c *Client) GetModelInfo() map[string]interface{} {
	return map[string]interface{}{
		"provider":    "gemini",
		"model":       c.modelName,
		"max_retries": c.maxRetries,
		"retry_delay": c.retryDelay.String(),
	}
}

func parseClassification(raw string) (models.TextAnalysisResult, error) {
	// Strip markdown code fences if present.
	clean := strings.TrimSpace(raw)
	clean = strings.TrimPrefix(clean, "```json")
	clean = strings.TrimPrefix(clean, "```")
	clean = strings.TrimSuffix(clean, "```")
	clean = strings.TrimSpace(clean)

	var cl classification
	if err := json.Unmarshal([]byte(clean), &cl); err != nil {
		return models.TextAnalysisResult{}, fmt.Errorf("failed to parse gemini response: %w", err)
	}

	hint := models.SeverityHint(strings.ToLower(cl.Severity))
	if hint.Rank() < 0 {
		return models.TextAnalysisResult{}, fmt.Errorf("invalid severity: %q", cl.Severity)
	}
	if cl.Confidence < 0 || cl.Confidence > 1 {
		return models.TextAnalysisResult{}, fmt.Errorf("invalid confidence: %v", cl.Confidence)
	}

	seen := make(map[string]struct{}, len(cl.Indicators))
	indicators := make([]string, 0, len(cl.Indicators))
	for _, ind := range cl.Indicators {
		ind = strings.ToLower(strings.TrimSpace(ind))
		if ind == "" {
			continue
		}
		if _, dup := seen[ind]; dup {
			continue
		}
		seen[ind] = struct{}{}
		indicators = append(indicators, ind)
	}
	sort.Strings(indicators)

	confidence := cl.Confidence
	if hint == models.SeverityNone {
		confidence = 0
	}
	return models.TextAnalysisResult{
		IndicatorsFound: indicators,
		Confidence:      confidence,
		SeverityHint:    hint,
	}, nil
}
