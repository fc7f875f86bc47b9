package risk

import (
	"github.com/shopspring/decimal"

	"github.com/EdgarTomas2001/FinGPT-Ollama/internal/models"
)

// PartialCloseOrder is one ladder level that became due for a position.
type PartialCloseOrder struct {
	LevelIndex int
	Volume     decimal.Decimal
}

// profitPips converts an open position's unrealized move into pips.
func profitPips(pos *models.Position, current decimal.Decimal, spec models.SymbolSpec) decimal.Decimal {
	var move decimal.Decimal
	if pos.Side == models.ActionBuy {
		move = current.Sub(pos.OpenPrice)
	} else {
		move = pos.OpenPrice.Sub(current)
	}
	return move.Div(spec.PipSize)
}

// TrailingStop returns the advanced stop for a position once its profit has
// cleared the activation threshold. The stop only ever tightens; a price
// pullback never moves it back. The second return is false when no update
// is due.
func (m *Manager) TrailingStop(pos *models.Position, current decimal.Decimal, spec models.SymbolSpec) (decimal.Decimal, bool) {
	start := decimal.NewFromFloat(m.cfg.TrailingStop.Start)
	if profitPips(pos, current, spec).LessThan(start) {
		return decimal.Zero, false
	}

	trail := spec.PipSize.Mul(decimal.NewFromFloat(m.cfg.TrailingStop.Step))
	var candidate decimal.Decimal
	if pos.Side == models.ActionBuy {
		candidate = current.Sub(trail)
		if !pos.StopLoss.IsZero() && candidate.LessThanOrEqual(pos.StopLoss) {
			return decimal.Zero, false
		}
	} else {
		candidate = current.Add(trail)
		if !pos.StopLoss.IsZero() && candidate.GreaterThanOrEqual(pos.StopLoss) {
			return decimal.Zero, false
		}
	}
	return candidate.Round(int32(spec.Digits)), true
}

// DuePartialCloses returns ladder levels whose profit targets the position
// has reached and that have not fired yet. Each returned level must be
// marked in fired by the caller after the close succeeds so it fires at
// most once per position. Volumes are fractions of the remaining open
// volume, floored to the lot step.
func (m *Manager) DuePartialCloses(pos *models.Position, current decimal.Decimal, spec models.SymbolSpec, fired map[int]bool) []PartialCloseOrder {
	profit := profitPips(pos, current, spec)
	step := decimal.NewFromFloat(m.cfg.LotStep)

	var due []PartialCloseOrder
	for i, level := range m.cfg.PartialClose {
		if fired[i] || profit.LessThan(decimal.NewFromFloat(level.TargetPips)) {
			continue
		}
		volume := floorToStep(pos.OpenVolume.Mul(decimal.NewFromFloat(level.Fraction)), step)
		if volume.IsZero() {
			continue
		}
		if volume.GreaterThan(pos.OpenVolume) {
			volume = pos.OpenVolume
		}
		due = append(due, PartialCloseOrder{LevelIndex: i, Volume: volume})
	}
	return due
}
