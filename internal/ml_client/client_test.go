package ml_client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crisis-engine/internal/models"
)

func newClassifier(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL)
}

func TestAnalyze_FoldsEntryResults(t *testing.T) {
	c := newClassifier(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/classify/batch", r.URL.Path)
		var req ClassifyRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Len(t, req.Texts, 3)
		json.NewEncoder(w).Encode(ClassifyResponse{Results: []EntryResult{
			{Index: 0, Indicators: []string{"hopeless"}, Severity: "moderate", Confidence: 0.5},
			{Index: 1, Indicators: []string{"no way out", "hopeless"}, Severity: "high", Confidence: 0.5},
			{Index: 2, Severity: "none", Confidence: 0.9},
		}})
	})

	res, err := c.Analyze(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, models.SeverityHigh, res.SeverityHint)
	assert.Equal(t, []string{"hopeless", "no way out"}, res.IndicatorsFound)
	assert.InDelta(t, 0.75, res.Confidence, 1e-9)
}

func TestAnalyze_NoTextsSkipsService(t *testing.T) {
	c := newClassifier(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("service must not be called")
	})

	res, err := c.Analyze(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, models.SeverityNone, res.SeverityHint)
	assert.Empty(t, res.IndicatorsFound)
}

func TestAnalyze_Errors(t *testing.T) {
	failing := newClassifier(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("model loading"))
	})
	_, err := failing.Analyze(context.Background(), []string{"x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")

	unknown := newClassifier(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"results":[{"index":0,"severity":"apocalyptic","confidence":0.4}]}`))
	})
	_, err = unknown.Analyze(context.Background(), []string{"x"})
	assert.Error(t, err)
}

func TestHealthCheck(t *testing.T) {
	c := newClassifier(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"ok","model_loaded":true}`))
	})
	h, err := c.HealthCheck(context.Background())
	require.NoError(t, err)
	assert.True(t, h.ModelLoaded)
}
