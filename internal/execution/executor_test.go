package execution

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

type fakeBroker struct {
	submitCalls   int
	lastRequest   models.OrderRequest
	submitFn      func(req models.OrderRequest) (*models.OrderResult, error)
	positionsFn   func() ([]models.Position, error)
	positionCalls int
}

func (b *fakeBroker) SubmitOrder(ctx context.Context, req models.OrderRequest) (*models.OrderResult, error) {
	b.submitCalls++
	b.lastRequest = req
	return b.submitFn(req)
}

func (b *fakeBroker) Positions(ctx context.Context) ([]models.Position, error) {
	b.positionCalls++
	if b.positionsFn != nil {
		return b.positionsFn()
	}
	return nil, nil
}

func (b *fakeBroker) ModifyStops(ctx context.Context, ticket string, sl, tp decimal.Decimal) error {
	return nil
}

func (b *fakeBroker) ClosePartial(ctx context.Context, ticket string, volume decimal.Decimal) error {
	return nil
}

func (b *fakeBroker) Account(ctx context.Context) (*models.AccountState, error) {
	return &models.AccountState{Equity: decimal.NewFromInt(10000)}, nil
}

func (b *fakeBroker) Spec(ctx context.Context, symbol string) (models.SymbolSpec, error) {
	return models.SymbolSpec{Symbol: symbol, PipSize: decimal.NewFromFloat(0.0001)}, nil
}

func newTestExecutor(t *testing.T, broker Broker) *Executor {
	t.Helper()
	cfg := &config.Config{
		Resilience: config.ResilienceConfig{
			Cache: config.CacheConfig{MaxSize: 16, TTL: time.Minute},
			Dependencies: map[string]config.DependencyConfig{
				DependencyBrokerage: {
					RateLimit: config.RateLimitConfig{MaxCalls: 100, Interval: time.Minute},
					Breaker:   config.BreakerConfig{FailureThreshold: 5, ResetTimeout: time.Minute},
					Retry:     config.RetryConfig{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 1},
					Timeout:   time.Second,
				},
			},
		},
	}
	logger := logging.NewStandardLogger("error", "development")
	return NewExecutor(broker, resilience.NewLayer(cfg, logger), logger)
}

func buyDecision() (*models.CompositeDecision, *models.RiskAssessment) {
	return &models.CompositeDecision{Symbol: "EURUSD", Action: models.ActionBuy, Confidence: 0.8},
		&models.RiskAssessment{
			Approved:   true,
			LotSize:    decimal.NewFromFloat(0.27),
			StopLoss:   decimal.NewFromFloat(1.0790),
			TakeProfit: decimal.NewFromFloat(1.0910),
		}
}

func TestSubmit_FillsOrder(t *testing.T) {
	broker := &fakeBroker{
		submitFn: func(req models.OrderRequest) (*models.OrderResult, error) {
			return &models.OrderResult{
				ClientID:     req.ClientID,
				Status:       models.OrderFilled,
				Ticket:       "T1",
				FilledVolume: req.Volume,
				Timestamp:    time.Now(),
			}, nil
		},
	}
	e := newTestExecutor(t, broker)

	decision, assessment := buyDecision()
	result, err := e.Submit(context.Background(), decision, assessment)
	require.NoError(t, err)

	assert.Equal(t, models.OrderFilled, result.Status)
	assert.Equal(t, "T1", result.Ticket)
	assert.Equal(t, 1, broker.submitCalls)
	assert.NotEmpty(t, broker.lastRequest.ClientID)
	assert.Equal(t, models.ActionBuy, broker.lastRequest.Side)
}

func TestSubmit_ClientIDsUniquePerOrder(t *testing.T) {
	seen := map[string]bool{}
	broker := &fakeBroker{
		submitFn: func(req models.OrderRequest) (*models.OrderResult, error) {
			assert.False(t, seen[req.ClientID], "client id reused: %s", req.ClientID)
			seen[req.ClientID] = true
			return &models.OrderResult{ClientID: req.ClientID, Status: models.OrderFilled, Ticket: req.ClientID}, nil
		},
	}
	e := newTestExecutor(t, broker)

	for i := 0; i < 5; i++ {
		decision, assessment := buyDecision()
		_, err := e.Submit(context.Background(), decision, assessment)
		require.NoError(t, err)
	}
	assert.Len(t, seen, 5)
}

func TestSubmit_UnapprovedAssessmentRejected(t *testing.T) {
	broker := &fakeBroker{}
	e := newTestExecutor(t, broker)

	decision, _ := buyDecision()
	_, err := e.Submit(context.Background(), decision, &models.RiskAssessment{Approved: false})
	require.Error(t, err)
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))
	assert.Zero(t, broker.submitCalls)
}

func TestSubmit_RejectionIsTradingErrorWithoutRetry(t *testing.T) {
	broker := &fakeBroker{
		submitFn: func(req models.OrderRequest) (*models.OrderResult, error) {
			return &models.OrderResult{ClientID: req.ClientID, Status: models.OrderRejected, Error: "not enough money"}, nil
		},
	}
	e := newTestExecutor(t, broker)

	decision, assessment := buyDecision()
	_, err := e.Submit(context.Background(), decision, assessment)
	require.Error(t, err)
	assert.Equal(t, errs.KindTrading, errs.KindOf(err))
	assert.Equal(t, 1, broker.submitCalls)
}

func TestSubmit_AmbiguousOutcomeReconciledBeforeRetry(t *testing.T) {
	broker := &fakeBroker{}
	broker.submitFn = func(req models.OrderRequest) (*models.OrderResult, error) {
		// The venue accepted the order but the response was lost.
		return nil, errs.New(errs.KindTransient, "submit timed out")
	}
	broker.positionsFn = func() ([]models.Position, error) {
		return []models.Position{{
			Ticket:   "T9",
			ClientID: broker.lastRequest.ClientID,
			Symbol:   "EURUSD",
			Volume:   decimal.NewFromFloat(0.27),
		}}, nil
	}
	e := newTestExecutor(t, broker)

	decision, assessment := buyDecision()
	result, err := e.Submit(context.Background(), decision, assessment)
	require.NoError(t, err)

	assert.Equal(t, models.OrderFilled, result.Status)
	assert.Equal(t, "T9", result.Ticket)
	assert.Equal(t, 1, broker.submitCalls, "a found position must suppress resubmission")
}

func TestSubmit_AmbiguousStatusResolvedFromPositions(t *testing.T) {
	broker := &fakeBroker{}
	broker.submitFn = func(req models.OrderRequest) (*models.OrderResult, error) {
		return &models.OrderResult{ClientID: req.ClientID, Status: models.OrderAmbiguous, Error: "bridge timeout"}, nil
	}
	broker.positionsFn = func() ([]models.Position, error) {
		return []models.Position{{
			Ticket:   "T7",
			ClientID: broker.lastRequest.ClientID,
			Symbol:   "EURUSD",
			Volume:   decimal.NewFromFloat(0.27),
		}}, nil
	}
	e := newTestExecutor(t, broker)

	decision, assessment := buyDecision()
	result, err := e.Submit(context.Background(), decision, assessment)
	require.NoError(t, err)

	assert.Equal(t, models.OrderFilled, result.Status)
	assert.Equal(t, "T7", result.Ticket)
	assert.Equal(t, 1, broker.submitCalls)
}

func TestSubmit_UnresolvedAmbiguousStatusRetries(t *testing.T) {
	broker := &fakeBroker{}
	broker.submitFn = func(req models.OrderRequest) (*models.OrderResult, error) {
		if broker.submitCalls < 2 {
			return &models.OrderResult{ClientID: req.ClientID, Status: models.OrderAmbiguous, Error: "bridge timeout"}, nil
		}
		return &models.OrderResult{ClientID: req.ClientID, Status: models.OrderFilled, Ticket: "T8"}, nil
	}
	e := newTestExecutor(t, broker)

	decision, assessment := buyDecision()
	result, err := e.Submit(context.Background(), decision, assessment)
	require.NoError(t, err)

	assert.Equal(t, "T8", result.Ticket)
	assert.Equal(t, 2, broker.submitCalls)
	assert.GreaterOrEqual(t, broker.positionCalls, 1, "reconciliation ran before the retry")
}

func TestSubmit_UnresolvedTransientFailureRetries(t *testing.T) {
	broker := &fakeBroker{}
	broker.submitFn = func(req models.OrderRequest) (*models.OrderResult, error) {
		if broker.submitCalls < 2 {
			return nil, errs.New(errs.KindTransient, "trade context busy")
		}
		return &models.OrderResult{ClientID: req.ClientID, Status: models.OrderFilled, Ticket: "T2"}, nil
	}
	broker.positionsFn = func() ([]models.Position, error) {
		return nil, nil
	}
	e := newTestExecutor(t, broker)

	decision, assessment := buyDecision()
	result, err := e.Submit(context.Background(), decision, assessment)
	require.NoError(t, err)

	assert.Equal(t, "T2", result.Ticket)
	assert.Equal(t, 2, broker.submitCalls)
	assert.GreaterOrEqual(t, broker.positionCalls, 1, "reconciliation ran before the retry")
}

func TestSpec_CachedAcrossCalls(t *testing.T) {
	broker := &fakeBroker{}
	e := newTestExecutor(t, broker)

	first, err := e.Spec(context.Background(), "EURUSD")
	require.NoError(t, err)
	second, err := e.Spec(context.Background(), "EURUSD")
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestSpec_PoisonedCacheEntryDropped(t *testing.T) {
	broker := &fakeBroker{}
	e := newTestExecutor(t, broker)

	// Seed the spec slot with a foreign payload.
	_, err := e.layer.Call(context.Background(), DependencyBrokerage, "spec:EURUSD",
		func(ctx context.Context) (interface{}, error) { return 42, nil })
	require.NoError(t, err)

	_, err = e.Spec(context.Background(), "EURUSD")
	require.Error(t, err)
	assert.True(t, errs.IsFatal(err))

	// The bad entry is gone; the next fetch reaches the broker.
	spec, err := e.Spec(context.Background(), "EURUSD")
	require.NoError(t, err)
	assert.Equal(t, "EURUSD", spec.Symbol)
}
