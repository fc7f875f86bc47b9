package signal

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EdgarTomas2001/FinGPT-Ollama/internal/config"
	"github.com/EdgarTomas2001/FinGPT-Ollama/internal/errs"
	"github.com/EdgarTomas2001/FinGPT-Ollama/internal/logging"
	"github.com/EdgarTomas2001/FinGPT-Ollama/internal/models"
	"github.com/EdgarTomas2001/FinGPT-Ollama/internal/resilience"
)

type stubProvider struct {
	signal *models.AdvisorySignal
	err    error
	calls  int
}

func (p *stubProvider) Infer(ctx context.Context, prompt string) (*models.AdvisorySignal, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return p.signal, nil
}

func testSignalConfig() config.SignalConfig {
	return config.SignalConfig{
		RSIOversold:         30,
		RSIOverbought:       70,
		ConfidenceThreshold: 0.6,
		DegradedConfidence:  0.4,
		SRProximityPips:     5,
	}
}

func newTestAggregator(t *testing.T, provider *stubProvider) *Aggregator {
	t.Helper()
	cfg := &config.Config{
		Resilience: config.ResilienceConfig{
			Cache: config.CacheConfig{MaxSize: 16, TTL: time.Minute},
			Dependencies: map[string]config.DependencyConfig{
				DependencyAdvisory: {
					RateLimit: config.RateLimitConfig{MaxCalls: 100, Interval: time.Minute},
					Breaker:   config.BreakerConfig{FailureThreshold: 5, ResetTimeout: time.Minute},
					Retry:     config.RetryConfig{MaxRetries: 0, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 1},
					Timeout:   time.Second,
				},
			},
		},
	}
	logger := logging.NewStandardLogger("error", "development")
	layer := resilience.NewLayer(cfg, logger)
	return NewAggregator(layer, provider, testSignalConfig(), logger)
}

// bullishSnapshot passes every rule filter in the BUY direction.
func bullishSnapshot() *models.IndicatorSnapshot {
	return &models.IndicatorSnapshot{
		Symbol:        "EURUSD",
		Timeframe:     "M15",
		Trend:         models.TrendBullish,
		TrendStrength: 0.002,
		RSI:           55,
		MACDLine:      0.0004,
		MACDSignal:    0.0002,
		MACDHistogram: 0.0002,
		Support:       &models.Level{Price: decimal.NewFromFloat(1.0800), Strength: 2},
		Resistance:    &models.Level{Price: decimal.NewFromFloat(1.0920), Strength: 2},
		Bid:           decimal.NewFromFloat(1.0860),
		Ask:           decimal.NewFromFloat(1.0862),
		PipSize:       decimal.NewFromFloat(0.0001),
		Timestamp:     time.Now(),
	}
}

func TestEvaluate_FullAgreementBuys(t *testing.T) {
	provider := &stubProvider{signal: &models.AdvisorySignal{Action: models.ActionBuy, Confidence: 0.8, Model: "fingpt"}}
	a := newTestAggregator(t, provider)

	d := a.Evaluate(context.Background(), "EURUSD", bullishSnapshot())

	assert.Equal(t, models.ActionBuy, d.Action)
	assert.InDelta(t, 0.8, d.Confidence, 1e-9)
	assert.False(t, d.Degraded)
	require.Len(t, d.Votes, 5)
	assert.Equal(t, "trend", d.Votes[0].Stage)
	assert.Equal(t, "rsi", d.Votes[1].Stage)
	assert.Equal(t, "macd", d.Votes[2].Stage)
	assert.Equal(t, "support_resistance", d.Votes[3].Stage)
	assert.Equal(t, "advisory", d.Votes[4].Stage)
}

func TestEvaluate_NeutralTrendShortCircuits(t *testing.T) {
	provider := &stubProvider{signal: &models.AdvisorySignal{Action: models.ActionBuy, Confidence: 0.9}}
	a := newTestAggregator(t, provider)

	snap := bullishSnapshot()
	snap.Trend = models.TrendNeutral

	d := a.Evaluate(context.Background(), "EURUSD", snap)

	assert.Equal(t, models.ActionHold, d.Action)
	assert.Len(t, d.Votes, 1)
	assert.Zero(t, provider.calls, "advisory is never consulted after a rule veto")
}

func TestEvaluate_OverboughtVetoesBuy(t *testing.T) {
	provider := &stubProvider{}
	a := newTestAggregator(t, provider)

	snap := bullishSnapshot()
	snap.RSI = 75

	d := a.Evaluate(context.Background(), "EURUSD", snap)

	assert.Equal(t, models.ActionHold, d.Action)
	require.Len(t, d.Votes, 2)
	assert.Equal(t, models.ActionHold, d.Votes[1].Action)
	assert.Zero(t, provider.calls)
}

func TestEvaluate_OversoldVetoesSell(t *testing.T) {
	provider := &stubProvider{}
	a := newTestAggregator(t, provider)

	snap := bullishSnapshot()
	snap.Trend = models.TrendBearish
	snap.RSI = 25
	snap.MACDLine = -0.0004
	snap.MACDSignal = -0.0002

	d := a.Evaluate(context.Background(), "EURUSD", snap)

	assert.Equal(t, models.ActionHold, d.Action)
	assert.Zero(t, provider.calls)
}

func TestEvaluate_BearishMACDVetoesBuy(t *testing.T) {
	provider := &stubProvider{}
	a := newTestAggregator(t, provider)

	snap := bullishSnapshot()
	snap.MACDLine = 0.0001
	snap.MACDSignal = 0.0003

	d := a.Evaluate(context.Background(), "EURUSD", snap)

	assert.Equal(t, models.ActionHold, d.Action)
	require.Len(t, d.Votes, 3)
	assert.Equal(t, "macd", d.Votes[2].Stage)
}

func TestEvaluate_ResistanceTooCloseVetoesBuy(t *testing.T) {
	provider := &stubProvider{}
	a := newTestAggregator(t, provider)

	snap := bullishSnapshot()
	// Three pips of headroom against a five-pip minimum.
	snap.Resistance = &models.Level{Price: decimal.NewFromFloat(1.0865), Strength: 2}

	d := a.Evaluate(context.Background(), "EURUSD", snap)

	assert.Equal(t, models.ActionHold, d.Action)
	require.Len(t, d.Votes, 4)
	assert.Equal(t, "support_resistance", d.Votes[3].Stage)
}

func TestEvaluate_AdvisoryDisagreementHolds(t *testing.T) {
	provider := &stubProvider{signal: &models.AdvisorySignal{Action: models.ActionSell, Confidence: 0.9}}
	a := newTestAggregator(t, provider)

	d := a.Evaluate(context.Background(), "EURUSD", bullishSnapshot())

	assert.Equal(t, models.ActionHold, d.Action)
	assert.False(t, d.Degraded)
	assert.Len(t, d.Votes, 5)
}

func TestEvaluate_LowConfidenceHolds(t *testing.T) {
	provider := &stubProvider{signal: &models.AdvisorySignal{Action: models.ActionBuy, Confidence: 0.5}}
	a := newTestAggregator(t, provider)

	d := a.Evaluate(context.Background(), "EURUSD", bullishSnapshot())

	assert.Equal(t, models.ActionHold, d.Action)
}

func TestEvaluate_AdvisoryFailureDegrades(t *testing.T) {
	provider := &stubProvider{err: errs.New(errs.KindConnection, "ollama down")}
	a := newTestAggregator(t, provider)

	d := a.Evaluate(context.Background(), "EURUSD", bullishSnapshot())

	assert.Equal(t, models.ActionBuy, d.Action)
	assert.True(t, d.Degraded)
	assert.InDelta(t, 0.4, d.Confidence, 1e-9)
}

func TestEvaluate_AdvisoryResultCached(t *testing.T) {
	provider := &stubProvider{signal: &models.AdvisorySignal{Action: models.ActionBuy, Confidence: 0.8}}
	a := newTestAggregator(t, provider)

	snap := bullishSnapshot()
	a.Evaluate(context.Background(), "EURUSD", snap)
	a.Evaluate(context.Background(), "EURUSD", snap)

	assert.Equal(t, 1, provider.calls, "same symbol and timeframe reuses the cached vote")
}
