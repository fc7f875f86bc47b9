// Package broker is the HTTP client for the brokerage bridge service, the
// sidecar that fronts the trading terminal. It implements both the order
// surface (execution.Broker) and the market data feed (market.Feed).
package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/EdgarTomas2001/FinGPT-Ollama/internal/config"
	"github.com/EdgarTomas2001/FinGPT-Ollama/internal/errs"
	"github.com/EdgarTomas2001/FinGPT-Ollama/internal/logging"
	"github.com/EdgarTomas2001/FinGPT-Ollama/internal/market"
	"github.com/EdgarTomas2001/FinGPT-Ollama/internal/models"
)

// Client talks to the bridge over its REST API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	logger     logging.Logger
}

// NewClient creates a bridge client.
func NewClient(cfg config.BrokerConfig, logger logging.Logger) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		logger:     logger.WithComponent("broker"),
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

// Retcodes the terminal reports for conditions that clear on their own.
//
//	10004 requote, 10021 prices changed, 10025 trade context busy
var transientRetcodes = map[int]bool{10004: true, 10021: true, 10025: true}

func (c *Client) makeRequest(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	var reqBody io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return errs.Wrap(errs.KindValidation, "encode request body", err)
		}
		reqBody = bytes.NewBuffer(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return errs.Wrap(errs.KindValidation, "build request", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errs.Wrap(errs.KindConnection, "bridge unreachable", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.logger.WithError(err).Warn("failed to close response body")
		}
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return errs.Wrap(errs.KindConnection, "read response body", err)
	}

	if resp.StatusCode >= 400 {
		return c.classifyHTTPError(resp.StatusCode, respBody)
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return errs.Wrap(errs.KindConnection, "decode response", err)
		}
	}
	return nil
}

// classifyHTTPError maps bridge errors onto the taxonomy. Busy-terminal
// conditions are transient so the caller's retry can absorb them.
func (c *Client) classifyHTTPError(status int, body []byte) error {
	var er errorResponse
	msg := strings.TrimSpace(string(body))
	if err := json.Unmarshal(body, &er); err == nil && er.Error != "" {
		msg = er.Error
	}

	switch {
	case transientRetcodes[er.Code] || strings.Contains(strings.ToLower(msg), "trade context busy"):
		return errs.Newf(errs.KindTransient, "bridge busy (%d): %s", status, msg)
	case status >= 500:
		return errs.Newf(errs.KindConnection, "bridge error (%d): %s", status, msg)
	case status == http.StatusUnprocessableEntity || status == http.StatusConflict:
		return errs.Newf(errs.KindTrading, "order refused (%d): %s", status, msg)
	default:
		return errs.Newf(errs.KindValidation, "bridge rejected request (%d): %s", status, msg)
	}
}

// Health checks bridge liveness.
func (c *Client) Health(ctx context.Context) error {
	return c.makeRequest(ctx, http.MethodGet, "/health", nil, nil)
}

type candlePayload struct {
	Time   int64   `json:"time"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// Candles fetches recent bars for a symbol and timeframe.
func (c *Client) Candles(ctx context.Context, symbol, timeframe string, count int) ([]market.Candle, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("timeframe", timeframe)
	q.Set("count", strconv.Itoa(count))

	var payload struct {
		Candles []candlePayload `json:"candles"`
	}
	if err := c.makeRequest(ctx, http.MethodGet, "/api/candles?"+q.Encode(), nil, &payload); err != nil {
		return nil, err
	}

	candles := make([]market.Candle, len(payload.Candles))
	for i, cp := range payload.Candles {
		candles[i] = market.Candle{
			Time:   time.Unix(cp.Time, 0).UTC(),
			Open:   cp.Open,
			High:   cp.High,
			Low:    cp.Low,
			Close:  cp.Close,
			Volume: cp.Volume,
		}
	}
	return candles, nil
}

// Quote fetches the current bid/ask for a symbol.
func (c *Client) Quote(ctx context.Context, symbol string) (market.Quote, error) {
	var payload struct {
		Bid decimal.Decimal `json:"bid"`
		Ask decimal.Decimal `json:"ask"`
	}
	path := "/api/quote?symbol=" + url.QueryEscape(symbol)
	if err := c.makeRequest(ctx, http.MethodGet, path, nil, &payload); err != nil {
		return market.Quote{}, err
	}
	return market.Quote{Bid: payload.Bid, Ask: payload.Ask}, nil
}

// Spec fetches the trading specification for a symbol.
func (c *Client) Spec(ctx context.Context, symbol string) (models.SymbolSpec, error) {
	var spec models.SymbolSpec
	path := "/api/symbols/" + url.PathEscape(symbol)
	if err := c.makeRequest(ctx, http.MethodGet, path, nil, &spec); err != nil {
		return models.SymbolSpec{}, err
	}
	if spec.Symbol == "" {
		spec.Symbol = symbol
	}
	return spec, nil
}

// Account fetches the account snapshot.
func (c *Client) Account(ctx context.Context) (*models.AccountState, error) {
	var state models.AccountState
	if err := c.makeRequest(ctx, http.MethodGet, "/api/account", nil, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// Positions fetches all open positions.
func (c *Client) Positions(ctx context.Context) ([]models.Position, error) {
	var payload struct {
		Positions []models.Position `json:"positions"`
	}
	if err := c.makeRequest(ctx, http.MethodGet, "/api/positions", nil, &payload); err != nil {
		return nil, err
	}
	return payload.Positions, nil
}

// SubmitOrder places a market order.
func (c *Client) SubmitOrder(ctx context.Context, req models.OrderRequest) (*models.OrderResult, error) {
	var result models.OrderResult
	if err := c.makeRequest(ctx, http.MethodPost, "/api/orders", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ModifyStops updates a position's stop-loss and take-profit.
func (c *Client) ModifyStops(ctx context.Context, ticket string, stopLoss, takeProfit decimal.Decimal) error {
	body := map[string]decimal.Decimal{
		"stop_loss":   stopLoss,
		"take_profit": takeProfit,
	}
	path := "/api/positions/" + url.PathEscape(ticket) + "/stops"
	return c.makeRequest(ctx, http.MethodPatch, path, body, nil)
}

// ClosePartial closes part of a position's volume.
func (c *Client) ClosePartial(ctx context.Context, ticket string, volume decimal.Decimal) error {
	body := map[string]decimal.Decimal{"volume": volume}
	path := "/api/positions/" + url.PathEscape(ticket) + "/close"
	return c.makeRequest(ctx, http.MethodPost, path, body, nil)
}
