package advisory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/EdgarTomas2001/FinGPT-Ollama/internal/config"
	"github.com/EdgarTomas2001/FinGPT-Ollama/internal/errs"
	"github.com/EdgarTomas2001/FinGPT-Ollama/internal/logging"
	"github.com/EdgarTomas2001/FinGPT-Ollama/internal/models"
)

// Provider returns an advisory vote for an assembled market context.
type Provider interface {
	Infer(ctx context.Context, prompt string) (*models.AdvisorySignal, error)
}

// Client talks to an Ollama-compatible generate endpoint, trying each
// configured model in order before giving up.
type Client struct {
	httpClient *http.Client
	baseURL    string
	models     []string
	logger     logging.Logger
}

// NewClient creates an advisory client from configuration.
func NewClient(cfg config.AdvisoryConfig, logger logging.Logger) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		models:     cfg.Models,
		logger:     logger.WithComponent("advisory"),
	}
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// Infer queries the fallback list in order and parses the first usable
// answer. All models failing surfaces as a connection error; the caller's
// resilience layer turns that into a degraded decision.
func (c *Client) Infer(ctx context.Context, prompt string) (*models.AdvisorySignal, error) {
	var lastErr error
	for _, model := range c.models {
		signal, err := c.generate(ctx, model, prompt)
		if err == nil {
			return signal, nil
		}
		lastErr = err
		c.logger.WithFields(map[string]interface{}{
			"model": model,
			"error": err.Error(),
		}).Warn("advisory model failed, trying next")

		if ctx.Err() != nil {
			break
		}
	}
	return nil, errs.Wrap(errs.KindConnection, "all advisory models failed", lastErr)
}

func (c *Client) generate(ctx context.Context, model, prompt string) (*models.AdvisorySignal, error) {
	body, err := json.Marshal(generateRequest{Model: model, Prompt: prompt, Stream: false})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("advisory returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var gr generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		return nil, fmt.Errorf("decoding advisory response: %w", err)
	}

	signal, ok := ParseRecommendation(gr.Response)
	if !ok {
		return nil, fmt.Errorf("model %s gave no actionable recommendation", model)
	}
	signal.Model = model
	signal.Timestamp = time.Now()
	return signal, nil
}
