package risk

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/EdgarTomas2001/FinGPT-Ollama/internal/config"
	"github.com/EdgarTomas2001/FinGPT-Ollama/internal/logging"
	"github.com/EdgarTomas2001/FinGPT-Ollama/internal/models"
)

// SessionView is the read-only slice of scheduler session state the risk
// manager consults. The scheduler is the single writer.
type SessionView interface {
	Halted() bool
	DailyPnL() decimal.Decimal
	LastTradeAt(symbol string) (time.Time, bool)
}

// AssessmentInput carries everything one veto-and-sizing pass needs.
type AssessmentInput struct {
	Decision *models.CompositeDecision
	Snapshot *models.IndicatorSnapshot
	Account  models.AccountState
	Spec     models.SymbolSpec
	// OpenPositions is every open position across all symbols.
	OpenPositions []models.Position
	Session       SessionView
	Now           time.Time
}

// Manager applies veto rules and position sizing independent of where a
// decision came from.
type Manager struct {
	cfg    config.RiskConfig
	logger logging.Logger
	// classOf maps symbol to its correlation class name.
	classOf map[string]string
}

// NewManager creates a risk manager from configuration.
func NewManager(cfg config.RiskConfig, logger logging.Logger) *Manager {
	classOf := make(map[string]string)
	for class, symbols := range cfg.CorrelationClasses {
		for _, s := range symbols {
			classOf[s] = class
		}
	}
	return &Manager{
		cfg:     cfg,
		logger:  logger.WithComponent("risk"),
		classOf: classOf,
	}
}

// Assess runs the veto chain in fixed order; the first failing check wins
// and skips sizing entirely. An approved assessment carries lot size,
// stop-loss, take-profit and the partial-close ladder.
func (m *Manager) Assess(in AssessmentInput) *models.RiskAssessment {
	if reason := m.veto(in); reason != "" {
		m.logger.WithSymbol(in.Decision.Symbol).WithFields(map[string]interface{}{
			"reason": reason,
		}).Info("trade vetoed")
		return &models.RiskAssessment{Approved: false, VetoReason: reason}
	}
	return m.size(in)
}

// veto returns the first failing check's reason, or "".
func (m *Manager) veto(in AssessmentInput) string {
	symbol := in.Decision.Symbol

	if in.Session.Halted() {
		return "session halted"
	}

	maxLoss := decimal.NewFromFloat(m.cfg.MaxDailyLoss)
	if pnl := in.Session.DailyPnL(); pnl.LessThanOrEqual(maxLoss) {
		return fmt.Sprintf("daily loss limit reached (%s / %s)", pnl.StringFixed(2), maxLoss.StringFixed(2))
	}

	symbolCount := 0
	totalCount := 0
	classExposure := decimal.Zero
	class := m.classOf[symbol]
	for _, pos := range in.OpenPositions {
		totalCount++
		if pos.Symbol == symbol {
			symbolCount++
		}
		if class != "" && m.classOf[pos.Symbol] == class {
			classExposure = classExposure.Add(pos.Volume)
		}
	}
	if symbolCount >= m.cfg.MaxPositionsPerSymbol {
		return fmt.Sprintf("max positions per symbol reached (%d/%d)", symbolCount, m.cfg.MaxPositionsPerSymbol)
	}
	if class != "" && classExposure.GreaterThanOrEqual(decimal.NewFromFloat(m.cfg.CorrelationCap)) {
		return fmt.Sprintf("correlation class %q exposure %s at cap %.2f", class, classExposure.String(), m.cfg.CorrelationCap)
	}

	if m.cfg.MaxTotalPositions > 0 && totalCount >= m.cfg.MaxTotalPositions {
		return fmt.Sprintf("max total positions reached (%d/%d)", totalCount, m.cfg.MaxTotalPositions)
	}

	if last, ok := in.Session.LastTradeAt(symbol); ok && m.cfg.TradeSpacing > 0 {
		if elapsed := in.Now.Sub(last); elapsed < m.cfg.TradeSpacing {
			return fmt.Sprintf("trade spacing: %s since last trade, need %s", elapsed.Round(time.Second), m.cfg.TradeSpacing)
		}
	}

	return ""
}

// size computes stops from the snapshot's support/resistance picture, then
// risk-sizes the position against the stop distance.
func (m *Manager) size(in AssessmentInput) *models.RiskAssessment {
	entry := entryPrice(in.Snapshot, in.Decision.Action)
	stopLoss, takeProfit := m.placeStops(in.Snapshot, in.Decision.Action, entry)

	slDistance := entry.Sub(stopLoss).Abs()
	if slDistance.IsZero() || in.Spec.PipSize.IsZero() || in.Spec.PipValue.IsZero() {
		return &models.RiskAssessment{Approved: false, VetoReason: "cannot size: zero stop distance or symbol spec"}
	}
	slPips := slDistance.Div(in.Spec.PipSize)

	riskAmount := in.Account.Equity.Mul(decimal.NewFromFloat(m.cfg.RiskPercent)).Div(decimal.NewFromInt(100))
	rawLots := riskAmount.Div(slPips.Mul(in.Spec.PipValue))

	lots := floorToStep(rawLots, decimal.NewFromFloat(m.cfg.LotStep))

	minLot := decimal.NewFromFloat(m.cfg.MinLot)
	maxLot := decimal.NewFromFloat(m.cfg.MaxLot)
	if lots.LessThan(minLot) {
		// Clamping up to the minimum lot would overshoot the risk budget.
		return &models.RiskAssessment{
			Approved:   false,
			VetoReason: fmt.Sprintf("risk budget too small: %s lots below minimum %s", lots.String(), minLot.String()),
		}
	}
	if lots.GreaterThan(maxLot) {
		lots = maxLot
	}

	if m.cfg.FreeMarginBuffer > 0 && !in.Spec.MarginPerLot.IsZero() {
		required := lots.Mul(in.Spec.MarginPerLot)
		available := in.Account.FreeMargin.Mul(decimal.NewFromFloat(m.cfg.FreeMarginBuffer))
		if required.GreaterThan(available) {
			return &models.RiskAssessment{
				Approved:   false,
				VetoReason: fmt.Sprintf("insufficient margin: need %s, buffered free %s", required.StringFixed(2), available.StringFixed(2)),
			}
		}
	}

	ladder := make([]models.PartialCloseLevel, len(m.cfg.PartialClose))
	for i, level := range m.cfg.PartialClose {
		ladder[i] = models.PartialCloseLevel{TargetPips: level.TargetPips, Fraction: level.Fraction}
	}

	return &models.RiskAssessment{
		Approved:   true,
		LotSize:    lots,
		StopLoss:   stopLoss.Round(int32(in.Spec.Digits)),
		TakeProfit: takeProfit.Round(int32(in.Spec.Digits)),
		Ladder:     ladder,
	}
}

// placeStops puts the stop beyond the nearest opposing level with a
// ten-pip buffer, falling back to percent-of-price defaults, and the target
// short of the nearest favorable level.
func (m *Manager) placeStops(snap *models.IndicatorSnapshot, action models.Action, entry decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	buffer := snap.PipSize.Mul(decimal.NewFromInt(10))
	onePct := entry.Mul(decimal.NewFromFloat(0.01))
	twoPct := entry.Mul(decimal.NewFromFloat(0.02))

	if action == models.ActionBuy {
		stop := entry.Sub(onePct)
		if snap.Support != nil {
			if candidate := snap.Support.Price.Sub(buffer); candidate.GreaterThan(stop) {
				stop = candidate
			}
		}
		target := entry.Add(twoPct)
		if snap.Resistance != nil {
			if candidate := snap.Resistance.Price.Sub(buffer); candidate.LessThan(target) && candidate.GreaterThan(entry) {
				target = candidate
			}
		}
		return stop, target
	}

	stop := entry.Add(onePct)
	if snap.Resistance != nil {
		if candidate := snap.Resistance.Price.Add(buffer); candidate.LessThan(stop) {
			stop = candidate
		}
	}
	target := entry.Sub(twoPct)
	if snap.Support != nil {
		if candidate := snap.Support.Price.Add(buffer); candidate.GreaterThan(target) && candidate.LessThan(entry) {
			target = candidate
		}
	}
	return stop, target
}

func entryPrice(snap *models.IndicatorSnapshot, action models.Action) decimal.Decimal {
	if action == models.ActionBuy {
		return snap.Ask
	}
	return snap.Bid
}

// floorToStep rounds lots down to the nearest step multiple. Never rounds up.
func floorToStep(lots, step decimal.Decimal) decimal.Decimal {
	if step.IsZero() {
		return lots
	}
	return lots.Div(step).Floor().Mul(step)
}
