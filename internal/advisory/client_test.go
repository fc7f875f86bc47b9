package advisory

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EdgarTomas2001/FinGPT-Ollama/internal/config"
	"github.com/EdgarTomas2001/FinGPT-Ollama/internal/errs"
	"github.com/EdgarTomas2001/FinGPT-Ollama/internal/logging"
	"github.com/EdgarTomas2001/FinGPT-Ollama/internal/models"
)

func newTestClient(baseURL string, modelList ...string) *Client {
	cfg := config.AdvisoryConfig{BaseURL: baseURL, Models: modelList, Timeout: 2 * time.Second}
	return NewClient(cfg, logging.NewStandardLogger("error", "development"))
}

func TestInfer_ParsesModelAnswer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/generate", r.URL.Path)

		var req generateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "fingpt", req.Model)
		assert.False(t, req.Stream)
		assert.Contains(t, req.Prompt, "EURUSD")

		_ = json.NewEncoder(w).Encode(generateResponse{
			Model:    req.Model,
			Response: "BUY\nConfidence: 0.82\nTrend and momentum aligned.",
			Done:     true,
		})
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, "fingpt")
	signal, err := c.Infer(context.Background(), "Analyze EURUSD")
	require.NoError(t, err)

	assert.Equal(t, models.ActionBuy, signal.Action)
	assert.InDelta(t, 0.82, signal.Confidence, 1e-9)
	assert.Equal(t, "fingpt", signal.Model)
}

func TestInfer_FallsBackToNextModel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req generateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		if req.Model == "primary" {
			http.Error(w, "model not loaded", http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(generateResponse{
			Model:    req.Model,
			Response: "SELL\nConfidence: 0.7",
		})
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, "primary", "backup")
	signal, err := c.Infer(context.Background(), "prompt")
	require.NoError(t, err)

	assert.Equal(t, models.ActionSell, signal.Action)
	assert.Equal(t, "backup", signal.Model)
}

func TestInfer_AllModelsFailing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, "a", "b")
	_, err := c.Infer(context.Background(), "prompt")
	require.Error(t, err)
	assert.Equal(t, errs.KindConnection, errs.KindOf(err))
}

func TestInfer_UnparseableAnswerFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(generateResponse{Response: "the market is fascinating"})
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, "only")
	_, err := c.Infer(context.Background(), "prompt")
	require.Error(t, err)
}
