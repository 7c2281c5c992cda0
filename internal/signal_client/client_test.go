package signal_client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"crisis-engine/internal/models"
	"crisis-engine/internal/signals"
)

var _ signals.Source = (*Client)(nil)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/subjects/s-1/mood", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "168", r.URL.Query().Get("window_hours"))
		w.Write([]byte(`{"samples":[{"timestamp":"2026-03-01T00:00:00Z","value":4,"kind":"mood"},{"timestamp":"2026-03-02T00:00:00Z","value":3,"kind":"mood"}]}`))
	})
	mux.HandleFunc("/subjects/s-1/texts", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"entries":["feeling low"]}`))
	})
	mux.HandleFunc("/subjects/s-1/patterns", func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.URL.RawQuery)
		w.Write([]byte(`{"patterns":[{"patternId":"p-1","type":"sleep_disruption","frequency":3,"severity":0.5,"durationDays":4,"lastOccurrence":"2026-03-02T00:00:00Z","trend":"worsening"}]}`))
	})
	mux.HandleFunc("/subjects/s-1/social", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"interactions":[{"type":"call","count":2,"timestamp":"2026-03-01T00:00:00Z"}]}`))
	})
	mux.HandleFunc("/subjects/s-1/sleep", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	mux.HandleFunc("/subjects/s-1/activity", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_Fetches(t *testing.T) {
	srv := newTestServer(t)
	c := NewClient(srv.URL, 5*time.Second, zap.NewNop())
	ctx := context.Background()

	mood, err := c.FetchMoodHistory(ctx, "s-1", 168)
	require.NoError(t, err)
	require.Len(t, mood, 2)
	assert.Equal(t, 3.0, mood[1].Value)
	assert.Equal(t, models.KindMood, mood[0].Kind)

	texts, err := c.FetchTextEntries(ctx, "s-1", 168)
	require.NoError(t, err)
	assert.Equal(t, []string{"feeling low"}, texts)

	patterns, err := c.FetchBehavioralPatterns(ctx, "s-1")
	require.NoError(t, err)
	require.Len(t, patterns, 1)
	assert.Equal(t, models.PatternSleepDisruption, patterns[0].Type)
	assert.Equal(t, models.TrendWorsening, patterns[0].Trend)

	social, err := c.FetchSocialInteractions(ctx, "s-1", 168)
	require.NoError(t, err)
	require.Len(t, social, 1)
	assert.Equal(t, 2, social[0].Count)
}

func TestClient_Errors(t *testing.T) {
	srv := newTestServer(t)
	c := NewClient(srv.URL, 5*time.Second, zap.NewNop())
	ctx := context.Background()

	_, err := c.FetchMoodHistory(ctx, "ghost", 168)
	assert.ErrorIs(t, err, signals.ErrSubjectNotFound)

	_, err = c.FetchSleepData(ctx, "s-1", 168)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	assert.NotErrorIs(t, err, signals.ErrSubjectNotFound)

	_, err = c.FetchActivityData(ctx, "s-1", 168)
	assert.Error(t, err)
}

func TestClient_RespectsContext(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(block)

	c := NewClient(srv.URL, 5*time.Second, zap.NewNop())
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.FetchMoodHistory(ctx, "s-1", 168)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
