package signal

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/EdgarTomas2001/FinGPT-Ollama/internal/advisory"
	"github.com/EdgarTomas2001/FinGPT-Ollama/internal/config"
	"github.com/EdgarTomas2001/FinGPT-Ollama/internal/logging"
	"github.com/EdgarTomas2001/FinGPT-Ollama/internal/models"
	"github.com/EdgarTomas2001/FinGPT-Ollama/internal/resilience"
)

// DependencyAdvisory is the resilience-layer id guarding advisory calls.
const DependencyAdvisory = "advisory"

// Aggregator combines the rule-filter pipeline with the advisory vote into
// one CompositeDecision per symbol per cycle.
type Aggregator struct {
	layer    *resilience.Layer
	provider advisory.Provider
	cfg      config.SignalConfig
	logger   logging.Logger
}

// NewAggregator creates a signal aggregator.
func NewAggregator(layer *resilience.Layer, provider advisory.Provider, cfg config.SignalConfig, logger logging.Logger) *Aggregator {
	return &Aggregator{
		layer:    layer,
		provider: provider,
		cfg:      cfg,
		logger:   logger.WithComponent("signal"),
	}
}

// Evaluate runs the filters strictly in order: trend, RSI, MACD,
// support/resistance. Any HOLD short-circuits the pipeline and skips the
// advisory call entirely. When all filters agree on a direction the
// advisory provider must confirm it with sufficient confidence; any
// disagreement resolves conservatively to HOLD. An unavailable provider
// yields the rule direction with fixed reduced confidence and degraded=true.
func (a *Aggregator) Evaluate(ctx context.Context, symbol string, snap *models.IndicatorSnapshot) *models.CompositeDecision {
	decision := &models.CompositeDecision{
		Symbol:    symbol,
		Action:    models.ActionHold,
		CreatedAt: time.Now(),
	}

	direction := trendFilter(snap)
	decision.Votes = append(decision.Votes, models.StageVote{
		Stage:  "trend",
		Action: direction,
		Detail: fmt.Sprintf("%s strength=%.5f", snap.Trend, snap.TrendStrength),
	})
	if direction == models.ActionHold {
		return decision
	}

	for _, stage := range []struct {
		name string
		eval func(*models.IndicatorSnapshot, models.Action) (models.Action, string)
	}{
		{"rsi", a.rsiFilter},
		{"macd", macdFilter},
		{"support_resistance", a.srFilter},
	} {
		action, detail := stage.eval(snap, direction)
		decision.Votes = append(decision.Votes, models.StageVote{Stage: stage.name, Action: action, Detail: detail})
		if action == models.ActionHold {
			return decision
		}
		direction = action
	}

	return a.confirmWithAdvisory(ctx, decision, snap, direction)
}

// confirmWithAdvisory runs the advisory stage through the resilience layer
// and applies the composite rule.
func (a *Aggregator) confirmWithAdvisory(ctx context.Context, decision *models.CompositeDecision, snap *models.IndicatorSnapshot, direction models.Action) *models.CompositeDecision {
	prompt := advisory.BuildPrompt(snap)
	cacheKey := snap.Symbol + ":" + snap.Timeframe

	v, err := a.layer.Call(ctx, DependencyAdvisory, cacheKey, func(callCtx context.Context) (interface{}, error) {
		return a.provider.Infer(callCtx, prompt)
	})

	if err != nil {
		// Degraded path: rule-only direction at fixed reduced confidence.
		a.logger.WithSymbol(snap.Symbol).WithError(err).Warn("advisory unavailable, falling back to rule-only decision")
		decision.Votes = append(decision.Votes, models.StageVote{
			Stage:  "advisory",
			Action: direction,
			Detail: "unavailable: " + err.Error(),
		})
		decision.Action = direction
		decision.Confidence = a.cfg.DegradedConfidence
		decision.Degraded = true
		return decision
	}

	vote := v.(*models.AdvisorySignal)
	decision.Votes = append(decision.Votes, models.StageVote{
		Stage:  "advisory",
		Action: vote.Action,
		Detail: fmt.Sprintf("model=%s confidence=%.2f", vote.Model, vote.Confidence),
	})

	if vote.Action != direction || vote.Confidence < a.cfg.ConfidenceThreshold {
		// Disagreement is never blended away.
		return decision
	}

	decision.Action = direction
	decision.Confidence = vote.Confidence
	return decision
}

// trendFilter opens the pipeline: a neutral higher-timeframe trend means no
// trade this cycle.
func trendFilter(snap *models.IndicatorSnapshot) models.Action {
	switch snap.Trend {
	case models.TrendBullish:
		return models.ActionBuy
	case models.TrendBearish:
		return models.ActionSell
	default:
		return models.ActionHold
	}
}

// rsiFilter vetoes entries against an exhausted move: no buying overbought,
// no selling oversold.
func (a *Aggregator) rsiFilter(snap *models.IndicatorSnapshot, direction models.Action) (models.Action, string) {
	detail := fmt.Sprintf("rsi=%.2f", snap.RSI)
	if direction == models.ActionBuy && snap.RSI >= a.cfg.RSIOverbought {
		return models.ActionHold, detail + " overbought"
	}
	if direction == models.ActionSell && snap.RSI <= a.cfg.RSIOversold {
		return models.ActionHold, detail + " oversold"
	}
	return direction, detail
}

// macdFilter requires MACD momentum to back the direction.
func macdFilter(snap *models.IndicatorSnapshot, direction models.Action) (models.Action, string) {
	detail := fmt.Sprintf("line=%.6f signal=%.6f hist=%.6f", snap.MACDLine, snap.MACDSignal, snap.MACDHistogram)
	if direction == models.ActionBuy && snap.MACDLine < snap.MACDSignal {
		return models.ActionHold, detail + " bearish"
	}
	if direction == models.ActionSell && snap.MACDLine > snap.MACDSignal {
		return models.ActionHold, detail + " bullish"
	}
	return direction, detail
}

// srFilter rejects entries too close to the opposing level.
func (a *Aggregator) srFilter(snap *models.IndicatorSnapshot, direction models.Action) (models.Action, string) {
	if snap.PipSize.IsZero() {
		return direction, "no pip size"
	}

	proximity := snap.PipSize.Mul(decimal.NewFromFloat(a.cfg.SRProximityPips))

	if direction == models.ActionBuy && snap.Resistance != nil {
		gap := snap.Resistance.Price.Sub(snap.Ask)
		if gap.LessThan(proximity) {
			return models.ActionHold, fmt.Sprintf("resistance %s within %s", snap.Resistance.Price, gap)
		}
	}
	if direction == models.ActionSell && snap.Support != nil {
		gap := snap.Bid.Sub(snap.Support.Price)
		if gap.LessThan(proximity) {
			return models.ActionHold, fmt.Sprintf("support %s within %s", snap.Support.Price, gap)
		}
	}
	return direction, "clear"
}
