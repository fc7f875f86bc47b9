package market

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/cinar/indicator/v2/helper"
	"github.com/cinar/indicator/v2/momentum"
	"github.com/cinar/indicator/v2/trend"
	"github.com/shopspring/decimal"

	"github.com/EdgarTomas2001/FinGPT-Ollama/internal/config"
	"github.com/EdgarTomas2001/FinGPT-Ollama/internal/errs"
	"github.com/EdgarTomas2001/FinGPT-Ollama/internal/logging"
	"github.com/EdgarTomas2001/FinGPT-Ollama/internal/models"
)

// Candle is one OHLCV bar.
type Candle struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// Quote is the current bid/ask for a symbol.
type Quote struct {
	Bid decimal.Decimal
	Ask decimal.Decimal
}

// Feed supplies raw market data. Implemented by the brokerage bridge.
type Feed interface {
	Candles(ctx context.Context, symbol, timeframe string, count int) ([]Candle, error)
	Quote(ctx context.Context, symbol string) (Quote, error)
	Spec(ctx context.Context, symbol string) (models.SymbolSpec, error)
}

// SnapshotProvider produces the per-cycle technical picture for a symbol.
type SnapshotProvider interface {
	Fetch(ctx context.Context, symbol, timeframe string) (*models.IndicatorSnapshot, error)
}

const (
	emaFastPeriod = 20
	emaSlowPeriod = 50
	rsiPeriod     = 14
	macdFast      = 12
	macdSlow      = 26
	macdSignal    = 9
	// trendFlatBand is the EMA spread below which the trend reads neutral.
	trendFlatBand = 0.0005
	srLookback    = 60
	// srGroupTolerance merges swing levels within this relative distance.
	srGroupTolerance = 0.001
)

// IndicatorService computes IndicatorSnapshots from a candle feed.
type IndicatorService struct {
	feed   Feed
	cfg    config.MarketConfig
	logger logging.Logger
}

// NewIndicatorService creates a snapshot provider over the given feed.
func NewIndicatorService(feed Feed, cfg config.MarketConfig, logger logging.Logger) *IndicatorService {
	return &IndicatorService{
		feed:   feed,
		cfg:    cfg,
		logger: logger.WithComponent("market"),
	}
}

// Fetch builds the snapshot for one symbol. The candle count must cover the
// slowest indicator period or the fetch fails with a connection error.
func (s *IndicatorService) Fetch(ctx context.Context, symbol, timeframe string) (*models.IndicatorSnapshot, error) {
	candles, err := s.feed.Candles(ctx, symbol, timeframe, s.cfg.CandleCount)
	if err != nil {
		return nil, errs.Wrap(errs.KindConnection, "candle fetch failed", err)
	}
	if len(candles) < emaSlowPeriod+1 {
		return nil, errs.Newf(errs.KindConnection, "insufficient candles for %s: got %d, need %d",
			symbol, len(candles), emaSlowPeriod+1)
	}

	quote, err := s.feed.Quote(ctx, symbol)
	if err != nil {
		return nil, errs.Wrap(errs.KindConnection, "quote fetch failed", err)
	}

	spec, err := s.feed.Spec(ctx, symbol)
	if err != nil {
		return nil, errs.Wrap(errs.KindConnection, "symbol spec fetch failed", err)
	}

	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}

	snap := &models.IndicatorSnapshot{
		Symbol:    symbol,
		Timeframe: timeframe,
		Bid:       quote.Bid,
		Ask:       quote.Ask,
		PipSize:   spec.PipSize,
		Timestamp: time.Now(),
	}

	snap.Trend, snap.TrendStrength = computeTrend(closes)
	snap.RSI = computeRSI(closes)
	snap.MACDLine, snap.MACDSignal, snap.MACDHistogram = computeMACD(closes)

	mid := quote.Bid.Add(quote.Ask).Div(decimal.NewFromInt(2))
	midF, _ := mid.Float64()
	snap.Support, snap.Resistance = nearestLevels(candles, midF, spec)

	return snap, nil
}

// computeTrend labels the trend from the fast/slow EMA spread.
func computeTrend(closes []float64) (models.TrendDirection, float64) {
	fast := lastOf(helper.ChanToSlice(trend.NewEmaWithPeriod[float64](emaFastPeriod).Compute(helper.SliceToChan(closes))))
	slow := lastOf(helper.ChanToSlice(trend.NewEmaWithPeriod[float64](emaSlowPeriod).Compute(helper.SliceToChan(closes))))
	if slow == 0 {
		return models.TrendNeutral, 0
	}

	spread := (fast - slow) / slow
	strength := math.Abs(spread)
	switch {
	case spread > trendFlatBand:
		return models.TrendBullish, strength
	case spread < -trendFlatBand:
		return models.TrendBearish, strength
	default:
		return models.TrendNeutral, strength
	}
}

func computeRSI(closes []float64) float64 {
	return lastOf(helper.ChanToSlice(momentum.NewRsiWithPeriod[float64](rsiPeriod).Compute(helper.SliceToChan(closes))))
}

func computeMACD(closes []float64) (line, signal, histogram float64) {
	macdCh, signalCh := trend.NewMacdWithPeriod[float64](macdFast, macdSlow, macdSignal).Compute(helper.SliceToChan(closes))
	line = lastOf(helper.ChanToSlice(macdCh))
	signal = lastOf(helper.ChanToSlice(signalCh))
	return line, signal, line - signal
}

// nearestLevels finds the closest grouped swing level below (support) and
// above (resistance) the current price.
func nearestLevels(candles []Candle, price float64, spec models.SymbolSpec) (*models.Level, *models.Level) {
	start := len(candles) - srLookback
	if start < 2 {
		start = 2
	}

	var swings []float64
	for i := start; i < len(candles)-2; i++ {
		// Swing high: higher than two neighbors on each side.
		if candles[i].High > candles[i-1].High && candles[i].High > candles[i-2].High &&
			candles[i].High > candles[i+1].High && candles[i].High > candles[i+2].High {
			swings = append(swings, candles[i].High)
		}
		// Swing low.
		if candles[i].Low < candles[i-1].Low && candles[i].Low < candles[i-2].Low &&
			candles[i].Low < candles[i+1].Low && candles[i].Low < candles[i+2].Low {
			swings = append(swings, candles[i].Low)
		}
	}
	if len(swings) == 0 {
		return nil, nil
	}

	sort.Float64s(swings)
	grouped := groupLevels(swings, price*srGroupTolerance)

	var support, resistance *models.Level
	for _, g := range grouped {
		level := &models.Level{
			Price:    decimal.NewFromFloat(g.price).Round(int32(spec.Digits)),
			Strength: g.touches,
		}
		if g.price < price {
			// Levels are sorted ascending, so the last one below wins.
			support = level
		} else if resistance == nil {
			resistance = level
		}
	}
	return support, resistance
}

type levelGroup struct {
	price   float64
	touches int
}

// groupLevels merges sorted prices within tolerance, averaging each cluster.
func groupLevels(sorted []float64, tolerance float64) []levelGroup {
	var groups []levelGroup
	clusterStart := 0
	for i := 1; i <= len(sorted); i++ {
		if i == len(sorted) || sorted[i]-sorted[clusterStart] > tolerance {
			cluster := sorted[clusterStart:i]
			sum := 0.0
			for _, p := range cluster {
				sum += p
			}
			groups = append(groups, levelGroup{price: sum / float64(len(cluster)), touches: len(cluster)})
			clusterStart = i
		}
	}
	return groups
}

func lastOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return values[len(values)-1]
}
