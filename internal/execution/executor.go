package execution

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/EdgarTomas2001/FinGPT-Ollama/internal/errs"
	"github.com/EdgarTomas2001/FinGPT-Ollama/internal/logging"
	"github.com/EdgarTomas2001/FinGPT-Ollama/internal/models"
	"github.com/EdgarTomas2001/FinGPT-Ollama/internal/resilience"
)

// DependencyBrokerage is the resilience layer id for brokerage calls.
const DependencyBrokerage = "brokerage"

// Broker is the order and account surface of the trading venue.
type Broker interface {
	SubmitOrder(ctx context.Context, req models.OrderRequest) (*models.OrderResult, error)
	Positions(ctx context.Context) ([]models.Position, error)
	ModifyStops(ctx context.Context, ticket string, stopLoss, takeProfit decimal.Decimal) error
	ClosePartial(ctx context.Context, ticket string, volume decimal.Decimal) error
	Account(ctx context.Context) (*models.AccountState, error)
	Spec(ctx context.Context, symbol string) (models.SymbolSpec, error)
}

// Executor submits orders exactly once. Every submission carries a client id
// unique to this session; when the broker's answer is lost, the id is what
// lets us find out whether the order went through before ever retrying.
type Executor struct {
	broker    Broker
	layer     *resilience.Layer
	logger    logging.Logger
	sessionID string
	seq       atomic.Uint64
}

// NewExecutor creates an executor with a fresh session id.
func NewExecutor(broker Broker, layer *resilience.Layer, logger logging.Logger) *Executor {
	return &Executor{
		broker:    broker,
		layer:     layer,
		logger:    logger.WithComponent("execution"),
		sessionID: strings.Split(uuid.NewString(), "-")[0],
	}
}

// nextClientID mints a client order id unique within the session.
func (e *Executor) nextClientID(symbol string) string {
	return fmt.Sprintf("%s-%d-%s", symbol, e.seq.Add(1), e.sessionID)
}

// Submit places one order that a passed risk assessment sized. Transient
// submit failures are reconciled against the broker's open positions before
// any retry: a position carrying our client id means the order filled and
// must not be sent again.
func (e *Executor) Submit(ctx context.Context, decision *models.CompositeDecision, assessment *models.RiskAssessment) (*models.OrderResult, error) {
	if !assessment.Approved {
		return nil, errs.New(errs.KindValidation, "submit called with unapproved assessment")
	}

	req := models.OrderRequest{
		ClientID:   e.nextClientID(decision.Symbol),
		Symbol:     decision.Symbol,
		Side:       decision.Action,
		Volume:     assessment.LotSize,
		StopLoss:   assessment.StopLoss,
		TakeProfit: assessment.TakeProfit,
		Comment:    fmt.Sprintf("auto %s conf=%.2f", decision.Action, decision.Confidence),
	}
	log := e.logger.WithSymbol(req.Symbol).WithFields(map[string]interface{}{
		"client_id": req.ClientID,
		"side":      req.Side,
		"volume":    req.Volume.String(),
	})
	log.Info("submitting order")

	out, err := e.layer.Call(ctx, DependencyBrokerage, "", func(ctx context.Context) (interface{}, error) {
		res, err := e.broker.SubmitOrder(ctx, req)
		if err != nil {
			// The order may have reached the venue even though the answer
			// did not reach us. Resolve before letting a retry resubmit.
			if filled := e.reconcile(ctx, req.ClientID); filled != nil {
				return filled, nil
			}
			return nil, err
		}
		if res.Status == models.OrderRejected {
			return nil, errs.Newf(errs.KindTrading, "order rejected: %s", res.Error)
		}
		// The bridge admitted it does not know what happened. A found
		// position settles it; otherwise retry under the same client id.
		if res.Status == models.OrderAmbiguous {
			if filled := e.reconcile(ctx, req.ClientID); filled != nil {
				return filled, nil
			}
			return nil, errs.Newf(errs.KindTransient, "order outcome unknown: %s", res.Error)
		}
		return res, nil
	})
	if err != nil {
		log.WithError(err).Error("order submission failed")
		return nil, err
	}

	result, ok := out.(*models.OrderResult)
	if !ok {
		return nil, errs.Newf(errs.KindFatal, "order result payload holds %T", out)
	}
	log.WithFields(map[string]interface{}{"ticket": result.Ticket}).Info("order filled")
	return result, nil
}

// reconcile looks for an open position created under clientID. It uses a
// short independent timeout so a dead venue cannot stall the worker.
func (e *Executor) reconcile(parent context.Context, clientID string) *models.OrderResult {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), 5*time.Second)
	defer cancel()

	positions, err := e.broker.Positions(ctx)
	if err != nil {
		return nil
	}
	for _, pos := range positions {
		if pos.ClientID == clientID {
			return &models.OrderResult{
				ClientID:     clientID,
				Status:       models.OrderFilled,
				Ticket:       pos.Ticket,
				FilledVolume: pos.Volume,
				Timestamp:    time.Now(),
			}
		}
	}
	return nil
}

// ModifyStops tightens a position's protective stop through the brokerage
// protection chain.
func (e *Executor) ModifyStops(ctx context.Context, ticket string, stopLoss, takeProfit decimal.Decimal) error {
	_, err := e.layer.Call(ctx, DependencyBrokerage, "", func(ctx context.Context) (interface{}, error) {
		return nil, e.broker.ModifyStops(ctx, ticket, stopLoss, takeProfit)
	})
	return err
}

// ClosePartial closes part of a position's volume.
func (e *Executor) ClosePartial(ctx context.Context, ticket string, volume decimal.Decimal) error {
	_, err := e.layer.Call(ctx, DependencyBrokerage, "", func(ctx context.Context) (interface{}, error) {
		return nil, e.broker.ClosePartial(ctx, ticket, volume)
	})
	return err
}

// Positions fetches open positions behind the protection chain.
func (e *Executor) Positions(ctx context.Context) ([]models.Position, error) {
	out, err := e.layer.Call(ctx, DependencyBrokerage, "", func(ctx context.Context) (interface{}, error) {
		return e.broker.Positions(ctx)
	})
	if err != nil {
		return nil, err
	}
	positions, ok := out.([]models.Position)
	if !ok {
		return nil, errs.Newf(errs.KindFatal, "positions payload holds %T", out)
	}
	return positions, nil
}

// Account fetches the account snapshot behind the protection chain.
func (e *Executor) Account(ctx context.Context) (*models.AccountState, error) {
	out, err := e.layer.Call(ctx, DependencyBrokerage, "", func(ctx context.Context) (interface{}, error) {
		return e.broker.Account(ctx)
	})
	if err != nil {
		return nil, err
	}
	account, ok := out.(*models.AccountState)
	if !ok {
		return nil, errs.Newf(errs.KindFatal, "account payload holds %T", out)
	}
	return account, nil
}

// Spec fetches the trading specification for a symbol, cached by the layer.
func (e *Executor) Spec(ctx context.Context, symbol string) (*models.SymbolSpec, error) {
	key := "spec:" + symbol
	out, err := e.layer.Call(ctx, DependencyBrokerage, key, func(ctx context.Context) (interface{}, error) {
		spec, err := e.broker.Spec(ctx, symbol)
		if err != nil {
			return nil, err
		}
		return &spec, nil
	})
	if err != nil {
		return nil, err
	}
	spec, ok := out.(*models.SymbolSpec)
	if !ok {
		// A poisoned cache entry must not survive its discovery.
		e.layer.Invalidate(DependencyBrokerage, key)
		return nil, errs.Newf(errs.KindFatal, "corrupted cache entry %q holds %T", key, out)
	}
	return spec, nil
}
